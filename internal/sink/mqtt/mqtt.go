// Package mqtt publishes observations to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/salography/fast-alpr/internal/model"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Option configures an MQTT sink.
type Option func(*Sink)

// WithQoS sets the publish QoS level. Default: 0.
func WithQoS(qos byte) Option {
	return func(s *Sink) { s.qos = qos }
}

// WithClientID sets the MQTT client id. Default: "fast-alpr".
func WithClientID(id string) Option {
	return func(s *Sink) { s.clientID = id }
}

// Sink publishes each observation as JSON to <topic>/<source>. The
// client auto-reconnects after broker outages; publishes while
// disconnected fail fast and are reported to the caller.
type Sink struct {
	broker   string
	topic    string
	clientID string
	qos      byte

	client paho.Client

	connected atomic.Bool
	published atomic.Uint64
	errors    atomic.Uint64
}

// New connects to the broker and returns the sink.
func New(broker, topic string, opts ...Option) (*Sink, error) {
	s := &Sink{broker: broker, topic: topic, clientID: "fast-alpr"}
	for _, opt := range opts {
		opt(s)
	}

	co := paho.NewClientOptions()
	co.AddBroker(broker)
	co.SetClientID(s.clientID)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(2 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.OnConnect = func(paho.Client) {
		s.connected.Store(true)
		slog.Info("mqtt sink: connected", "broker", broker, "client_id", s.clientID)
	}
	co.OnConnectionLost = func(_ paho.Client, err error) {
		s.connected.Store(false)
		slog.Warn("mqtt sink: connection lost, auto-reconnecting",
			"error", err, "broker", broker)
	}

	s.client = paho.NewClient(co)
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt sink: connect to %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt sink: connect to %s: %w", broker, err)
	}
	s.connected.Store(true)
	return s, nil
}

// Write publishes the observation. The topic gains the observation's
// source as a subtopic when present.
func (s *Sink) Write(_ context.Context, obs model.Observation) error {
	if !s.connected.Load() {
		s.errors.Add(1)
		return fmt.Errorf("mqtt sink: not connected")
	}

	payload, err := json.Marshal(obs)
	if err != nil {
		s.errors.Add(1)
		return fmt.Errorf("mqtt sink: marshal: %w", err)
	}

	topic := s.topicFor(obs)
	token := s.client.Publish(topic, s.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		s.errors.Add(1)
		return fmt.Errorf("mqtt sink: publish timeout")
	}
	if err := token.Error(); err != nil {
		s.errors.Add(1)
		return fmt.Errorf("mqtt sink: publish: %w", err)
	}

	s.published.Add(1)
	slog.Debug("mqtt sink: observation published",
		"topic", topic, "plate", obs.Plate, "size", len(payload))
	return nil
}

func (s *Sink) topicFor(obs model.Observation) string {
	if obs.Source == "" {
		return s.topic
	}
	return s.topic + "/" + obs.Source
}

// Close disconnects from the broker.
func (s *Sink) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
		slog.Info("mqtt sink: disconnected", "published", s.published.Load())
	}
	s.connected.Store(false)
	return nil
}

// Stats reports publish counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Connected: s.connected.Load(),
		Published: s.published.Load(),
		Errors:    s.errors.Load(),
	}
}

// Stats contains publish counters for the sink.
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}
