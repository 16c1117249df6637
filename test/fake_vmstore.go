package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Device info as served by the appliance
type DeviceInfo struct {
	CurrentCapacityGiB float64 `json:"currentCapacityGiB"`
	FilesystemID       string  `json:"filesystemId"`
	ModelName          string  `json:"modelName"`
	OSVersion          string  `json:"osVersion"`
	ProductID          string  `json:"productId"`
	SerialNumber       string  `json:"serialNumber"`
}

// Stats summary as served by the appliance
type StatsSummary struct {
	SpaceTotalGiB                   float64 `json:"spaceTotalGiB"`
	SpaceRemainingPhysicalGiB       float64 `json:"spaceRemainingPhysicalGiB"`
	SpaceSavingsFactor              float64 `json:"spaceSavingsFactor"`
	VMsCount                        int     `json:"vmsCount"`
	SpaceUsedSnapshotsHypervisorGiB float64 `json:"spaceUsedSnapshotsHypervisorGiB"`
	SpaceUsedSnapshotsTintriGiB     float64 `json:"spaceUsedSnapshotsTintriGiB"`
}

type fakeVMstore struct {
	user     string
	password string
	failRate float64

	mu       sync.Mutex
	uploads  int
	sessions map[string]string
}

func main() {
	listen := flag.String("listen", "127.0.0.1:8443", "address of the fake appliance and ingestion endpoint")
	user := flag.String("username", "admin", "accepted appliance user name")
	password := flag.String("password", "password", "accepted appliance password")
	failRate := flag.Float64("fail-rate", 0, "share of logins answered with 401")
	broker := flag.String("mqtt-broker", "", "MQTT broker to watch for published stats")
	prefix := flag.String("mqtt-topic-prefix", "vmstats", "MQTT topic prefix to watch")
	flag.Parse()

	f := &fakeVMstore{
		user:     *user,
		password: *password,
		failRate: *failRate,
		sessions: map[string]string{},
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Printf("listen on %s failed: %v\n", *listen, err)
		os.Exit(1)
	}
	ts := httptest.NewUnstartedServer(f.handler())
	ts.Listener.Close()
	ts.Listener = ln
	ts.StartTLS()
	defer ts.Close()

	fmt.Printf("fake appliance and ingestion endpoint on %s\n", ts.URL)
	fmt.Printf("try: vmstats-trans --server-names %s --user-name %s --password %s --hec-uri %s --hec-token test\n",
		*listen, *user, *password, ts.URL)

	if *broker != "" {
		client, err := watchMQTT(*broker, *prefix)
		if err != nil {
			fmt.Printf("connect to MQTT broker failed: %v\n", err)
			os.Exit(1)
		}
		defer client.Disconnect(250)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	fmt.Println("shutting down")
}

func (f *fakeVMstore) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v310/session/login", f.login)
	mux.HandleFunc("/api/v310/appliance/default/info", f.withSession(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deviceInfo(r.Host))
	}))
	mux.HandleFunc("/api/v310/datastore/default/statsSummary", f.withSession(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, statsSummary())
	}))
	mux.HandleFunc("/services/collector", f.collect)
	return mux
}

func (f *fakeVMstore) login(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if creds.Username != f.user || creds.Password != f.password || rand.Float64() < f.failRate {
		fmt.Printf("login from %s rejected\n", r.RemoteAddr)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	id := fmt.Sprintf("%016x", rand.Int63())
	f.mu.Lock()
	f.sessions[id] = r.Host
	f.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: id})
	fmt.Printf("login for %s accepted\n", r.Host)
}

func (f *fakeVMstore) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("JSESSIONID")
		if err == nil {
			f.mu.Lock()
			_, ok := f.sessions[cookie.Value]
			f.mu.Unlock()
			if ok {
				next(w, r)
				return
			}
		}
		w.WriteHeader(http.StatusUnauthorized)
	}
}

func (f *fakeVMstore) collect(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Splunk ") {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"text":"Token is required","code":2}`)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.uploads++
	n := f.uploads
	f.mu.Unlock()

	fmt.Printf("upload #%d (%s, %d bytes, encoding %q):\n%s\n", n, r.Header.Get("X-Splunk-Request-Channel"),
		len(body), r.Header.Get("Content-Encoding"), body)
	_, _ = io.WriteString(w, `{"text":"Success","code":0}`)
}

func deviceInfo(host string) DeviceInfo {
	return DeviceInfo{
		CurrentCapacityGiB: 10240,
		FilesystemID:       "fs-" + host,
		ModelName:          "T7080",
		OSVersion:          "4.6.2.1",
		ProductID:          "vmstore",
		SerialNumber:       fmt.Sprintf("SN%06d", rand.Intn(1000000)),
	}
}

func statsSummary() StatsSummary {
	total := 10240.0
	return StatsSummary{
		SpaceTotalGiB:                   total,
		SpaceRemainingPhysicalGiB:       float64(int(total*(0.2+rand.Float64()*0.6)*10)) / 10,
		SpaceSavingsFactor:              float64(int((1+rand.Float64()*3)*100)) / 100,
		VMsCount:                        50 + rand.Intn(200),
		SpaceUsedSnapshotsHypervisorGiB: float64(int(rand.Float64()*500*10)) / 10,
		SpaceUsedSnapshotsTintriGiB:     float64(int(rand.Float64()*800*10)) / 10,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Printf("encode response failed: %v\n", err)
	}
}

// watchMQTT prints every stats document published under prefix.
func watchMQTT(broker, prefix string) (paho.Client, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("vmstats-watch-%d", time.Now().Unix()))
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		fmt.Printf("MQTT connection lost: %v\n", err)
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	topic := strings.TrimSuffix(prefix, "/") + "/#"
	token := client.Subscribe(topic, 0, func(_ paho.Client, msg paho.Message) {
		fmt.Printf("MQTT %s: %s\n", msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		client.Disconnect(250)
		return nil, err
	}
	fmt.Printf("watching MQTT topic %s on %s\n", topic, broker)
	return client, nil
}
