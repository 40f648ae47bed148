// Package publish sends converted thermocouple readings to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"

	"github.com/mikesmitty/max31855"
)

// Config describes the broker connection.
type Config struct {
	// Broker is a URL such as tcp://localhost:1883.
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic is the prefix; states go to <Topic>/state and availability to
	// <Topic>/status.
	Topic string
}

// Faults mirrors max31855.FaultFlags in the published document.
type Faults struct {
	OpenCircuit   bool `json:"open_circuit"`
	ShortToGround bool `json:"short_to_ground"`
	ShortToVCC    bool `json:"short_to_vcc"`
}

// State is the JSON document published for every reading.
type State struct {
	Thermocouple float64  `json:"thermocouple"`
	Internal     *float64 `json:"internal"`
	Unit         string   `json:"unit"`
	Fault        bool     `json:"fault"`
	// Faults is null when the reasons are unavailable.
	Faults    *Faults   `json:"faults"`
	Timestamp time.Time `json:"timestamp"`
}

// NewState builds the document for res.
func NewState(res max31855.Result, at time.Time) State {
	s := State{
		Thermocouple: res.Thermocouple,
		Unit:         res.Unit.String(),
		Fault:        res.Fault,
		Timestamp:    at,
	}
	if res.HasInternal {
		internal := res.Internal
		s.Internal = &internal
	}
	if f, ok := res.FaultReasons(); ok {
		s.Faults = &Faults{
			OpenCircuit:   f.OpenCircuit,
			ShortToGround: f.ShortToGround,
			ShortToVCC:    f.ShortToVCC,
		}
	}
	return s
}

type Publisher struct {
	client paho.Client
	topic  string
	log    logr.Logger
}

// New connects to the broker described by cfg.
func New(ctx context.Context, cfg Config, log logr.Logger) (*Publisher, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("publish: empty topic")
	}
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetWill(cfg.Topic+"/status", "offline", 1, true)
	opts.SetOnConnectHandler(func(c paho.Client) {
		log.Info("Connected to MQTT broker", "broker", cfg.Broker)
		c.Publish(cfg.Topic+"/status", 1, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Error(err, "Lost connection to MQTT broker", "broker", cfg.Broker)
	})

	p := NewWithClient(paho.NewClient(opts), cfg.Topic, log)
	if err := wait(ctx, p.client.Connect()); err != nil {
		return nil, fmt.Errorf("publish: connect %s: %w", cfg.Broker, err)
	}
	return p, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(c paho.Client, topic string, log logr.Logger) *Publisher {
	return &Publisher{client: c, topic: topic, log: log}
}

// Publish sends res to <topic>/state.
func (p *Publisher) Publish(ctx context.Context, res max31855.Result) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("publish: client is not connected")
	}
	if math.IsNaN(res.Thermocouple) || math.IsInf(res.Thermocouple, 0) {
		return fmt.Errorf("publish: invalid thermocouple value %v", res.Thermocouple)
	}
	b, err := json.Marshal(NewState(res, time.Now()))
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	topic := p.topic + "/state"
	p.log.V(1).Info("Publishing", "topic", topic, "payload", string(b))
	if err := wait(ctx, p.client.Publish(topic, 0, false, b)); err != nil {
		return fmt.Errorf("publish: %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

func wait(ctx context.Context, t paho.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
