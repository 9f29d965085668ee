// Package emitter publishes committed detection results to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Tutortoise/pose-demo-service/models"
	"github.com/Tutortoise/pose-demo-service/session"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

var ErrNotConnected = errors.New("mqtt not connected")

type Config struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
}

// Message is the JSON document published for each committed frame.
type Message struct {
	FlowID     string             `json:"flow_id"`
	ImageID    string             `json:"image_id"`
	Generation uint64             `json:"generation"`
	Model      models.ModelConfig `json:"model"`
	Poses      []models.Pose      `json:"poses"`
	Timestamp  time.Time          `json:"timestamp"`
}

type MQTTPublisher struct {
	cfg    Config
	Client mqtt.Client

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

func NewMQTTPublisher(cfg Config) *MQTTPublisher {
	return &MQTTPublisher{cfg: cfg}
}

// Connect dials the broker and keeps reconnecting in the background after a drop.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(p.cfg.Broker))
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		p.setConnected(true)
		log.WithFields(log.Fields{"broker": p.cfg.Broker, "client_id": p.cfg.ClientID}).Info("mqtt connection established")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.setConnected(false)
		log.WithField("broker", p.cfg.Broker).Warnf("mqtt connection lost, will auto-reconnect: %v", err)
	}

	p.Client = mqtt.NewClient(opts)
	log.WithField("broker", p.cfg.Broker).Info("connecting to mqtt broker")

	token := p.Client.Connect()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt connection: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	p.setConnected(true)
	return nil
}

// Publish sends f to the configured topic.
func (p *MQTTPublisher) Publish(f session.Frame) error {
	payload, err := BuildPayload(f, time.Now())
	if err != nil {
		p.countError()
		return err
	}
	return p.send(payload)
}

// Hook returns a commit callback that publishes in the background. The payload is built before the
// callback returns so later disposal of the frame cannot race with encoding.
func (p *MQTTPublisher) Hook() func(session.Frame) {
	return func(f session.Frame) {
		payload, err := BuildPayload(f, time.Now())
		if err != nil {
			p.countError()
			log.Warnf("encode frame %s: %v", f.FlowID, err)
			return
		}
		go func() {
			if err := p.send(payload); err != nil {
				log.WithField("flow", f.FlowID).Warnf("publish result: %v", err)
			}
		}()
	}
}

func (p *MQTTPublisher) send(payload []byte) error {
	if !p.isConnected() {
		p.countError()
		return ErrNotConnected
	}

	token := p.Client.Publish(p.cfg.Topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		p.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	log.WithFields(log.Fields{"topic": p.cfg.Topic, "size": len(payload)}).Debug("result published")
	return nil
}

func (p *MQTTPublisher) Disconnect() {
	if p.Client != nil && p.Client.IsConnected() {
		p.Client.Disconnect(250)
		log.Info("mqtt disconnected")
	}
	p.setConnected(false)
}

func (p *MQTTPublisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{Connected: p.connected, Published: p.published, Errors: p.errors}
}

// BuildPayload encodes f as a Message stamped with now.
func BuildPayload(f session.Frame, now time.Time) ([]byte, error) {
	msg := Message{
		FlowID:     f.FlowID,
		ImageID:    f.ImageID,
		Generation: f.Generation,
		Model:      f.Model,
		Poses:      []models.Pose{},
		Timestamp:  now.UTC(),
	}
	if f.Result != nil && f.Result.Poses != nil {
		msg.Poses = f.Result.Poses
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return payload, nil
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *MQTTPublisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
