package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/soundbird/internal/conf"
	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/logger"
)

const (
	connectTimeout    = 30 * time.Second
	publishTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// ErrNotConnected is returned when publishing before Connect succeeded.
var ErrNotConnected = errors.NewStd("not connected to MQTT broker")

// pahoClient is the part of the paho client the publisher uses.
type pahoClient interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes recording events to one MQTT topic.
type MQTTPublisher struct {
	settings conf.MQTTSettings
	clientID string
	log      logger.Logger

	mu     sync.Mutex
	client pahoClient
}

// NewMQTTPublisher returns a publisher for settings. Connect must be called
// before publishing.
func NewMQTTPublisher(settings *conf.MQTTSettings, clientID string, log logger.Logger) *MQTTPublisher {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &MQTTPublisher{
		settings: *settings,
		clientID: clientID,
		log:      log.Module("notify"),
	}
}

// Connect resolves the broker host and connects to it.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	u, err := url.Parse(p.settings.Broker)
	if err != nil {
		return p.publishError(fmt.Errorf("invalid broker URL: %w", err), "parse-broker")
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return p.publishError(fmt.Errorf("failed to resolve hostname %s: %w", host, err), "resolve-broker")
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.settings.Broker)
	opts.SetClientID(p.clientID)
	opts.SetUsername(p.settings.Username)
	opts.SetPassword(p.settings.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		p.log.Info("connected to MQTT broker", logger.String("broker", p.settings.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.log.Warn("connection to MQTT broker lost",
			logger.String("broker", p.settings.Broker),
			logger.Error(err))
	})

	client := mqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect(), connectTimeout); err != nil {
		return p.publishError(fmt.Errorf("connection error: %w", err), "connect")
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()
	return nil
}

// PublishRecording sends ev as JSON to the configured topic.
func (p *MQTTPublisher) PublishRecording(ctx context.Context, ev RecordingEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return p.publishError(err, "marshal-event")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil || !p.client.IsConnected() {
		return p.publishError(ErrNotConnected, "publish")
	}

	token := p.client.Publish(p.settings.Topic, 0, p.settings.Retain, payload)
	if err := waitToken(ctx, token, publishTimeout); err != nil {
		return p.publishError(err, "publish")
	}

	p.log.Debug("published recording event",
		logger.String("topic", p.settings.Topic),
		logger.Uint("recording_id", ev.RecordingID),
		logger.Int("payload_bytes", len(payload)))
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(disconnectQuiesce)
	}
	p.client = nil
}

// waitToken waits for token to complete, ctx to end, or timeout to pass.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %v", timeout)
	}
}

func (p *MQTTPublisher) publishError(err error, operation string) error {
	return errors.New(err).
		Component("notify").
		Category(errors.CategoryMQTTPublish).
		Context("operation", operation).
		Context("broker", p.settings.Broker).
		Build()
}
