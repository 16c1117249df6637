package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eddielth/vmstats-trans/logger"
	"github.com/eddielth/vmstats-trans/transformer"
)

// DefaultTopicPrefix is used when Config.TopicPrefix is empty.
const DefaultTopicPrefix = "vmstats"

// Config configures the MQTT publisher.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retained    bool
}

// Client publishes transformed stats to {prefix}/{device}.
type Client struct {
	client mqtt.Client
	config Config
	log    *logger.Logger
}

// NewClient creates an MQTT publisher. Call Connect before storing.
func NewClient(config Config, log *logger.Logger) (*Client, error) {
	if config.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address cannot be empty")
	}
	if config.QoS > 2 {
		return nil, fmt.Errorf("invalid MQTT QoS %d", config.QoS)
	}
	if config.TopicPrefix == "" {
		config.TopicPrefix = DefaultTopicPrefix
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)

	if config.ClientID == "" {
		config.ClientID = fmt.Sprintf("vmstats-trans-%d", time.Now().Unix())
	}
	opts.SetClientID(config.ClientID)

	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Error("MQTT connection lost: %v", err)
	})

	return &Client{
		client: mqtt.NewClient(opts),
		config: config,
		log:    log,
	}, nil
}

// Connect connects to the MQTT broker
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connection to MQTT broker timed out")
	}

	if err := token.Error(); err != nil {
		return err
	}

	c.log.Info("successfully connected to MQTT broker: %s", c.config.Broker)
	return nil
}

// Name implements storage.StorageBackend.
func (c *Client) Name() string {
	return "mqtt"
}

// Store publishes res.Fields as JSON to the device's topic.
func (c *Client) Store(ctx context.Context, res transformer.Result) error {
	payload, err := json.Marshal(res.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	topic := Topic(c.config.TopicPrefix, res.Stats.Name)
	token := c.client.Publish(topic, c.config.QoS, c.config.Retained, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("publish to topic %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to topic %s: %w", topic, err)
	}

	c.log.Debug("published stats to topic %s", topic)
	return nil
}

// Close disconnects from the MQTT broker
func (c *Client) Close() error {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
		c.log.Info("disconnected from MQTT broker")
	}
	return nil
}

// Topic returns the topic stats of device are published to.
// Characters with a special meaning in MQTT topics are replaced.
func Topic(prefix, device string) string {
	device = strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(device)
	return strings.TrimSuffix(prefix, "/") + "/" + device
}

var topicPattern = regexp.MustCompile(`^(.+)/([^/]+)$`)

// DeviceFromTopic extracts the device name from a topic built by Topic.
// It returns "" when topic does not start with prefix.
func DeviceFromTopic(prefix, topic string) string {
	matches := topicPattern.FindStringSubmatch(topic)
	if len(matches) != 3 || matches[1] != strings.TrimSuffix(prefix, "/") {
		return ""
	}
	return matches[2]
}
