package hec

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/eddielth/vmstats-trans/transformer"
	"github.com/google/uuid"
)

const (
	collectorPath = "/services/collector"

	// DefaultAuthScheme prefixes the token in the Authorization header.
	DefaultAuthScheme = "Splunk"

	defaultTimeout = 30 * time.Second
	userAgentID    = "vmstats-trans/1.0"
)

// Uploader sends records to an HTTP Event Collector in a single request.
type Uploader struct {
	http       *http.Client
	endpoint   string
	token      string
	authScheme string
	channel    string
	gzip       bool
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithAuthScheme replaces the Authorization scheme, Splunk by default.
func WithAuthScheme(scheme string) Option {
	return func(u *Uploader) {
		if scheme != "" {
			u.authScheme = scheme
		}
	}
}

// WithGzip enables gzip compression of the payload.
func WithGzip(enabled bool) Option {
	return func(u *Uploader) {
		u.gzip = enabled
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(u *Uploader) {
		u.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(u *Uploader) {
		u.http = hc
	}
}

// NewUploader creates an uploader for endpoint, e.g. https://hec.example.com:8088.
// Certificate validation is disabled.
func NewUploader(endpoint, token string, opts ...Option) *Uploader {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	u := &Uploader{
		http:       &http.Client{Transport: transport, Timeout: defaultTimeout},
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		token:      token,
		authScheme: DefaultAuthScheme,
		channel:    uuid.New().String(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Channel returns the request channel identifier sent with every upload.
func (u *Uploader) Channel() string {
	return u.channel
}

// Encode concatenates the JSON encoding of each record without separator.
func Encode(records []transformer.Envelope) ([]byte, error) {
	var buf bytes.Buffer
	for i := range records {
		b, err := json.Marshal(&records[i])
		if err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func userAgent() string {
	return userAgentID + ";" + runtime.Version() + ";" + runtime.GOOS + ";arch " + runtime.GOARCH
}

// Upload posts every record in one request and returns the HTTP status
// code. No request is made for an empty slice and 0 is returned. The
// response body is discarded and nothing is retried.
func (u *Uploader) Upload(ctx context.Context, records []transformer.Envelope) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	payload, err := Encode(records)
	if err != nil {
		return 0, err
	}
	if u.gzip {
		if payload, err = compress(payload); err != nil {
			return 0, fmt.Errorf("error while compressing body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint+collectorPath, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", u.authScheme+" "+u.token)
	req.Header.Set("User-Agent", userAgent())
	req.Header.Set("X-Splunk-Request-Channel", u.channel)
	if u.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	res, err := u.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("upload to %s: %w", u.endpoint, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	return res.StatusCode, nil
}
