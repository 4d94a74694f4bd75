package location

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/arrival-alarm/internal/geo"
)

// DefaultTopic matches every OwnTracks user and device
const DefaultTopic = "owntracks/+/+"

// ownTracksMessage is the OwnTracks JSON payload; only location fields are read
type ownTracksMessage struct {
	Type      string   `json:"_type"`
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lon"`
	Accuracy  float64  `json:"acc"`
	Timestamp int64    `json:"tst"`
}

// MQTTConfig configures the broker connection
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	// DeviceID filters on the last topic segment; empty accepts all devices
	DeviceID       string
	MaxAge         time.Duration
	ConnectTimeout time.Duration
}

// MQTTProvider subscribes to OwnTracks location messages on an MQTT broker
type MQTTProvider struct {
	cfg MQTTConfig
	now func() time.Time
}

// NewMQTTProvider creates a provider; the broker is contacted on Subscribe
func NewMQTTProvider(cfg MQTTConfig) *MQTTProvider {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &MQTTProvider{
		cfg: cfg,
		now: time.Now,
	}
}

// Subscribe connects and subscribes. The client never reconnects: a lost
// connection is reported once as ErrUnavailable.
func (p *MQTTProvider) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	var lostOnce sync.Once
	opts := mqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(p.cfg.ClientID).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(p.cfg.ConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			lostOnce.Do(func() {
				log.Error().Err(err).Str("broker", p.cfg.Broker).Msg("MQTT connection lost")
				h.HandleError(fmt.Errorf("%w: mqtt connection lost: %w", ErrUnavailable, err))
			})
		})

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if err := waitToken(ctx, token, p.cfg.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("%w: mqtt connect: %w", ErrUnavailable, err)
	}

	token = client.Subscribe(p.cfg.Topic, 1, p.messageHandler(h))
	if err := waitToken(ctx, token, p.cfg.ConnectTimeout); err != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("%w: mqtt subscribe: %w", ErrUnavailable, err)
	}

	log.Info().
		Str("broker", p.cfg.Broker).
		Str("topic", p.cfg.Topic).
		Str("device_id", p.cfg.DeviceID).
		Msg("Subscribed to OwnTracks locations")

	return subscriptionFunc(func() {
		// Silence the lost handler for the disconnect we initiate
		lostOnce.Do(func() {})
		client.Unsubscribe(p.cfg.Topic).WaitTimeout(time.Second)
		client.Disconnect(250)
	}), nil
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("timed out after %s", timeout)
	}
}

// messageHandler decodes OwnTracks messages into samples
func (p *MQTTProvider) messageHandler(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		sample, ok := p.decode(msg.Topic(), msg.Payload())
		if ok {
			h.HandleSample(sample)
		}
	}
}

// decode turns a payload into a sample, dropping non-location, foreign,
// stale and malformed messages
func (p *MQTTProvider) decode(topic string, payload []byte) (Sample, bool) {
	parts := strings.Split(topic, "/")
	device := parts[len(parts)-1]
	if p.cfg.DeviceID != "" && device != p.cfg.DeviceID {
		return Sample{}, false
	}

	var raw ownTracksMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Invalid OwnTracks message")
		return Sample{}, false
	}
	if raw.Type != "location" {
		return Sample{}, false
	}
	if raw.Latitude == nil || raw.Longitude == nil {
		log.Warn().Str("topic", topic).Msg("OwnTracks location without coordinates")
		return Sample{}, false
	}

	sample := Sample{
		Coordinate: geo.Coordinate{Lat: *raw.Latitude, Lng: *raw.Longitude},
		Accuracy:   raw.Accuracy,
		DeviceID:   strings.Join(parts[1:], "/"),
	}
	if raw.Timestamp > 0 {
		sample.Timestamp = time.Unix(raw.Timestamp, 0).UTC()
	}

	if err := sample.Coordinate.Validate(); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Invalid OwnTracks coordinates")
		return Sample{}, false
	}
	if stale(sample, p.cfg.MaxAge, p.now()) {
		log.Debug().Time("reported_at", sample.Timestamp).Msg("Skipping stale location")
		return Sample{}, false
	}

	return sample, true
}
