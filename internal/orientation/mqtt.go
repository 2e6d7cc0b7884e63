package orientation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"compass-ng/internal/heading"
	"compass-ng/internal/session"
)

type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	// ConnectTimeout bounds the initial broker connection.
	ConnectTimeout time.Duration
}

// MQTTSource subscribes to orientation samples published as JSON
// ({"compass_heading":..,"alpha":..,"screen_angle":..}) on an MQTT topic,
// e.g. by a phone bridge or an IMU producer.
type MQTTSource struct {
	cfg MQTTConfig

	mu     sync.Mutex
	client mqtt.Client
	fan    fanout
}

func NewMQTTSource(cfg MQTTConfig) (*MQTTSource, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("orientation: mqtt broker is empty")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("orientation: mqtt topic is empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "compass-ng"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &MQTTSource{cfg: cfg}, nil
}

// Subscribe connects on first use and registers onSample until Unsubscribe
// or ctx ends. The MQTT subscription is shared by all subscribers and
// dropped with the last one.
func (s *MQTTSource) Subscribe(ctx context.Context, onSample func(heading.Sample)) (session.Subscription, error) {
	if s == nil {
		return nil, fmt.Errorf("orientation: mqtt source is nil")
	}
	if ctx == nil {
		return nil, fmt.Errorf("orientation: ctx is nil")
	}
	if onSample == nil {
		return nil, fmt.Errorf("orientation: onSample is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		if err := s.connectLocked(); err != nil {
			return nil, err
		}
	}
	id := s.fan.add(onSample)
	return bindContext(ctx, func() { s.unsubscribe(id) }), nil
}

func (s *MQTTSource) connectLocked() error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(s.cfg.ConnectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		return fmt.Errorf("orientation: mqtt connect %s: %w", s.cfg.Broker, session.ErrSensorUnavailable)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("orientation: mqtt connect %s: %w", s.cfg.Broker, err)
	}
	log.Printf("orientation: connected to MQTT broker at %s", s.cfg.Broker)

	subTok := client.Subscribe(s.cfg.Topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		s.handlePayload(msg.Payload())
	})
	subTok.Wait()
	if err := subTok.Error(); err != nil {
		client.Disconnect(250)
		return fmt.Errorf("orientation: mqtt subscribe %s: %w", s.cfg.Topic, err)
	}
	log.Printf("orientation: subscribed to %s", s.cfg.Topic)
	s.client = client
	return nil
}

func (s *MQTTSource) handlePayload(payload []byte) {
	sample, err := DecodeSample(payload)
	if err != nil {
		log.Printf("orientation: sample unmarshal error: %v", err)
		return
	}
	s.fan.publish(sample)
}

func (s *MQTTSource) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fan.remove(id) > 0 || s.client == nil {
		return
	}
	s.client.Unsubscribe(s.cfg.Topic).Wait()
	s.client.Disconnect(250)
	s.client = nil
	log.Printf("orientation: disconnected from %s", s.cfg.Broker)
}

// DecodeSample parses one JSON orientation sample.
func DecodeSample(payload []byte) (heading.Sample, error) {
	var sample heading.Sample
	if err := json.Unmarshal(payload, &sample); err != nil {
		return heading.Sample{}, err
	}
	return sample, nil
}
