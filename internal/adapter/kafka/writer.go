package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/quake-risk-service/internal/domain"
)

// AlertPublisher fans fresh significant-earthquake alerts out to a Kafka
// topic. It implements alerts.Publisher.
type AlertPublisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewAlertPublisher creates a producer for the alerts topic.
func NewAlertPublisher(brokers []string, topic string, logger *slog.Logger) *AlertPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &AlertPublisher{writer: w, logger: logger}
}

// PublishAlerts writes every alert in one WriteMessages call. Messages are
// keyed by event id so repeated fetches of the same event land on the same
// partition.
func (p *AlertPublisher) PublishAlerts(ctx context.Context, alerts []domain.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(alerts))
	for i := range alerts {
		msg, err := serializeAlert(alerts[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d alerts: %w", len(msgs), err)
	}
	p.logger.Debug("alerts published", "topic", p.writer.Topic, "count", len(msgs))
	return nil
}

func (p *AlertPublisher) Close() error {
	return p.writer.Close()
}

// alertKey is the event id, or a content hash when the catalog did not
// supply one.
func alertKey(a domain.Alert) string {
	if a.EventID != "" {
		return a.EventID
	}
	lat, lon, depth, mag := a.Latitude, a.Longitude, a.Depth, a.Magnitude
	return domain.GenerateID(a.Time, &lat, &lon, &depth, &mag)
}

func serializeAlert(a domain.Alert) (kafkago.Message, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(alertKey(a)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "risk_level", Value: []byte(domain.ClassifyRisk(a.Magnitude).String())},
			{Key: "magnitude", Value: []byte(strconv.FormatFloat(a.Magnitude, 'f', 1, 64))},
			{Key: "event_time", Value: []byte(a.Time.UTC().Format(time.RFC3339))},
		},
	}, nil
}
