package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/laserscan/internal/monitoring"
	"github.com/banshee-data/laserscan/internal/scanner"
)

// ErrMQTTNotConnected is returned when publishing without a broker link.
var ErrMQTTNotConnected = errors.New("MQTT client not connected")

const (
	defaultPrefix   = "laserscan"
	defaultClientID = "laserscan"
	publishTimeout  = 2 * time.Second
)

// MQTTConfig selects the broker. Empty Username and Password fall back to
// MQTT_USERNAME and MQTT_PASSWORD from the environment.
type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// DialMQTT connects to the broker, retrying in the background after the
// first attempt.
func DialMQTT(cfg MQTTConfig) (mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: no broker configured")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}
	opts.SetClientID(clientID)

	username := cfg.Username
	if username == "" {
		username = os.Getenv("MQTT_USERNAME")
	}
	if username != "" {
		opts.SetUsername(username)
		password := cfg.Password
		if password == "" {
			password = os.Getenv("MQTT_PASSWORD")
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		monitoring.Logf("mqtt: connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		monitoring.Logf("mqtt: connected to %s", cfg.Broker)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	return client, nil
}

// MQTTSink publishes batches to <prefix>/batch and session changes,
// retained, to <prefix>/session.
type MQTTSink struct {
	client mqtt.Client
	prefix string
}

// NewMQTTSink wraps a connected client. An empty prefix selects
// "laserscan".
func NewMQTTSink(client mqtt.Client, prefix string) *MQTTSink {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &MQTTSink{client: client, prefix: prefix}
}

func (m *MQTTSink) Name() string { return "mqtt" }

// BatchMessage is the JSON payload of one batch. Points are
// [x, y, z, r, g, b] in millimetres and 8-bit colour.
type BatchMessage struct {
	Session string       `json:"session"`
	Seq     uint64       `json:"seq"`
	Theta   float64      `json:"theta"`
	Step    float64      `json:"step"`
	Points  [][6]float64 `json:"points"`
}

// NewBatchMessage flattens a result for publishing.
func NewBatchMessage(r scanner.Result) BatchMessage {
	msg := BatchMessage{
		Session: r.Session,
		Seq:     r.Seq,
		Theta:   r.Theta,
		Step:    r.Step,
		Points:  make([][6]float64, len(r.Points)),
	}
	for i, p := range r.Points {
		msg.Points[i] = [6]float64{p.X, p.Y, p.Z}
		if i < len(r.Colors) {
			c := r.Colors[i]
			msg.Points[i][3], msg.Points[i][4], msg.Points[i][5] = float64(c.R), float64(c.G), float64(c.B)
		}
	}
	return msg
}

// Publish sends one batch at QoS 0.
func (m *MQTTSink) Publish(ctx context.Context, r scanner.Result) error {
	payload, err := json.Marshal(NewBatchMessage(r))
	if err != nil {
		return fmt.Errorf("marshaling batch: %w", err)
	}
	return m.send(ctx, m.prefix+"/batch", 0, false, payload)
}

// SessionMessage announces a scan starting or ending.
type SessionMessage struct {
	Session  string  `json:"session"`
	State    string  `json:"state"`
	Points   int     `json:"points"`
	Theta    float64 `json:"theta"`
	Error    string  `json:"error,omitempty"`
	Unixtime int64   `json:"timestamp"`
}

// OnStart announces a new session.
func (m *MQTTSink) OnStart(s scanner.Session) {
	m.announce(SessionMessage{Session: s.ID, State: "running", Unixtime: s.Started.Unix()})
}

// OnStop announces the end of a session.
func (m *MQTTSink) OnStop(s scanner.Session) {
	msg := SessionMessage{Session: s.ID, State: "stopped", Points: s.Points, Theta: s.Theta, Unixtime: s.Finished.Unix()}
	if s.Err != nil {
		msg.Error = s.Err.Error()
	}
	m.announce(msg)
}

func (m *MQTTSink) announce(msg SessionMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		monitoring.Logf("mqtt: marshaling session: %v", err)
		return
	}
	if err := m.send(context.Background(), m.prefix+"/session", 1, true, payload); err != nil {
		monitoring.Logf("mqtt: %v", err)
	}
}

func (m *MQTTSink) send(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
	if m.client == nil || !m.client.IsConnected() {
		return ErrMQTTNotConnected
	}
	token := m.client.Publish(topic, qos, retain, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("publishing to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}
