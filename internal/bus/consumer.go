package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"yardguard/internal/metrics"
)

// Handlers contains callback functions for the camera bus message kinds.
type Handlers struct {
	// OnMotion fires once per accepted motion trigger (state ON, deduped).
	OnMotion func(cameraID string, at time.Time)
	// OnRecording fires when a finished recording is announced.
	OnRecording func(cameraID, url string, at time.Time)
	// OnSnapshot fires for snapshot-available notices. The pipeline pulls
	// stills itself, so this is informational.
	OnSnapshot func(cameraID string)
}

// ConsumerConfig holds the MQTT connection parameters.
type ConsumerConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string // e.g. "yard/cameras" -> yard/cameras/{camera}/{kind}
}

// Consumer subscribes to the camera vendor's MQTT topics and demultiplexes
// them into (camera_id, kind, payload) callbacks. The transport itself is the
// vendor's business; nothing past this package sees an MQTT type.
type Consumer struct {
	client   mqtt.Client
	cfg      ConsumerConfig
	handlers Handlers
	dedup    *SignalDedup
}

func NewConsumer(cfg ConsumerConfig, handlers Handlers, dedup *SignalDedup) (*Consumer, error) {
	c := &Consumer{cfg: cfg, handlers: handlers, dedup: dedup}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[WARN] Bus: connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Printf("Bus: connected to %s", cfg.Broker)
	})

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}
	return c, nil
}

// Subscribe attaches to all camera topics under the prefix.
func (c *Consumer) Subscribe() error {
	subs := map[string]mqtt.MessageHandler{
		c.cfg.TopicPrefix + "/+/motion":    c.handleMotion,
		c.cfg.TopicPrefix + "/+/recording": c.handleRecording,
		c.cfg.TopicPrefix + "/+/snapshot":  c.handleSnapshot,
	}
	for topic, handler := range subs {
		if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
		}
		log.Printf("Bus: subscribed to %s", topic)
	}
	return nil
}

func (c *Consumer) Close() {
	c.client.Disconnect(250)
}

// handleMotion processes motion state transitions. Only the OFF->ON edge
// dispatches; OFF messages and TTL-window repeats are dropped here.
func (c *Consumer) handleMotion(_ mqtt.Client, msg mqtt.Message) {
	cameraID := extractCameraID(msg.Topic())
	if cameraID == "" {
		log.Printf("[WARN] Bus: could not extract camera id from topic %s", msg.Topic())
		return
	}

	var payload struct {
		State     string `json:"state"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		log.Printf("[WARN] Bus (%s): bad motion payload: %v", cameraID, err)
		return
	}
	if !strings.EqualFold(payload.State, "on") {
		return
	}
	if c.dedup != nil && c.dedup.IsDuplicate("motion|"+cameraID) {
		metrics.RecordIgnoredSignal("bus_dedup")
		return
	}

	at := parseTimestamp(payload.Timestamp)
	log.Printf("Bus (%s): motion ON", cameraID)
	if c.handlers.OnMotion != nil {
		c.handlers.OnMotion(cameraID, at)
	}
}

func (c *Consumer) handleRecording(_ mqtt.Client, msg mqtt.Message) {
	cameraID := extractCameraID(msg.Topic())
	if cameraID == "" {
		log.Printf("[WARN] Bus: could not extract camera id from topic %s", msg.Topic())
		return
	}

	var payload struct {
		URL       string `json:"url"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		log.Printf("[WARN] Bus (%s): bad recording payload: %v", cameraID, err)
		return
	}
	if payload.URL == "" {
		log.Printf("[WARN] Bus (%s): recording notice without URL", cameraID)
		return
	}

	log.Printf("Bus (%s): recording available", cameraID)
	if c.handlers.OnRecording != nil {
		c.handlers.OnRecording(cameraID, payload.URL, parseTimestamp(payload.Timestamp))
	}
}

func (c *Consumer) handleSnapshot(_ mqtt.Client, msg mqtt.Message) {
	cameraID := extractCameraID(msg.Topic())
	if cameraID == "" {
		return
	}
	if c.handlers.OnSnapshot != nil {
		c.handlers.OnSnapshot(cameraID)
	}
}

// extractCameraID pulls the camera segment out of prefix/{camera}/{kind}.
func extractCameraID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

func parseTimestamp(s string) time.Time {
	if s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return time.Now()
}
