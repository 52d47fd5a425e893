package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mkulina/housing-pricing/config"
)

const (
	EventPredictionCreated = "prediction.created"
	EventPredictionDeleted = "prediction.deleted"

	// LiveChannel is the redis pub/sub channel carrying prediction events.
	LiveChannel = "pricing:predictions"
)

type PredictionEvent struct {
	Type         string        `json:"type"`
	PredictionID int64         `json:"prediction_id"`
	Prediction   *HistoryEntry `json:"prediction,omitempty"`
	OccurredAt   string        `json:"occurred_at"`
}

func newEvent(kind string, id int64, entry *HistoryEntry) PredictionEvent {
	return PredictionEvent{
		Type:         kind,
		PredictionID: id,
		Prediction:   entry,
		OccurredAt:   FormatTimestamp(time.Now()),
	}
}

// EventPublisher delivers prediction events to one sink.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event PredictionEvent) error
}

// RedisEvents publishes events on a redis pub/sub channel.
type RedisEvents struct {
	cache   *CacheService
	channel string
}

func NewRedisEvents(cache *CacheService, channel string) *RedisEvents {
	return &RedisEvents{cache: cache, channel: channel}
}

func (r *RedisEvents) PublishEvent(ctx context.Context, event PredictionEvent) error {
	return r.cache.Publish(ctx, r.channel, event)
}

// MQTTPublisher publishes events under <topic>/<created|deleted>.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	logger *zap.Logger
}

func NewMQTTPublisher(cfg config.MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID("housing-pricing-" + time.Now().Format("20060102150405"))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.URL))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, eris.Errorf("mqtt: connect to %s timed out", cfg.URL)
	}
	if err := token.Error(); err != nil {
		return nil, eris.Wrapf(err, "mqtt: connect to %s", cfg.URL)
	}

	return &MQTTPublisher{client: client, topic: strings.TrimSuffix(cfg.Topic, "/"), logger: logger}, nil
}

// EventTopic maps an event type to its MQTT topic.
func EventTopic(base, eventType string) string {
	return base + "/" + strings.TrimPrefix(eventType, "prediction.")
}

func (p *MQTTPublisher) PublishEvent(ctx context.Context, event PredictionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "mqtt: marshal event")
	}

	token := p.client.Publish(EventTopic(p.topic, event.Type), 1, false, payload)
	select {
	case <-token.Done():
		return eris.Wrap(token.Error(), "mqtt: publish")
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "mqtt: publish")
	}
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
