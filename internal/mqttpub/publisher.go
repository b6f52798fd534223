package mqttpub

import (
	"encoding/json"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"gps-arbiter/internal/position"
)

// Config selects the broker and topic for position publishing.
type Config struct {
	Broker   string
	ClientID string
	Topic    string
}

// Publisher mirrors the feed's transitions onto an MQTT topic. Messages are
// retained so late subscribers immediately see the current state.
type Publisher struct {
	client mqtt.Client
	topic  string
}

func New(cfg Config) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "gps-arbiter"
	}
	if cfg.Topic == "" {
		cfg.Topic = "gps/position"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("mqtt connected broker=%s topic=%s", cfg.Broker, cfg.Topic)

	return &Publisher{client: client, topic: cfg.Topic}, nil
}

type message struct {
	Available bool          `json:"available"`
	Position  *position.Fix `json:"position,omitempty"`
}

func (p *Publisher) PositionAvailable(fix position.Fix) {
	p.publish(message{Available: true, Position: &fix})
}

func (p *Publisher) PositionLost() {
	p.publish(message{Available: false})
}

func (p *Publisher) publish(m message) {
	if p == nil || p.client == nil {
		return
	}
	b, err := json.Marshal(m)
	if err != nil {
		log.Printf("mqtt marshal failed: %v", err)
		return
	}
	token := p.client.Publish(p.topic, 0, true, b)
	token.Wait()
	if token.Error() != nil {
		log.Printf("mqtt publish error: %v", token.Error())
	}
}

func (p *Publisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Disconnect(250)
}
