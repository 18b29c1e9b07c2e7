package bus

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"cipulse-backend/internal/storage"
)

// Publisher delivers fired alert events over NATS. Subjects are
// "alerts.fired.<metric>" so consumers can subscribe per metric.
type Publisher struct {
	Conn *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

type alertMessage struct {
	Scope       string          `json:"scope"`
	Metric      string          `json:"metric"`
	Value       float64         `json:"value"`
	Threshold   float64         `json:"threshold"`
	Destination string          `json:"destination,omitempty"`
	FiredAt     time.Time       `json:"firedAt"`
	Details     json.RawMessage `json:"details,omitempty"`
}

// PublishAlert implements alerts.Notifier.
func (p *Publisher) PublishAlert(event storage.AlertEvent, rule storage.AlertRule) error {
	data, err := json.Marshal(alertMessage{
		Scope:       event.Scope,
		Metric:      event.Metric,
		Value:       event.Value,
		Threshold:   rule.Threshold,
		Destination: rule.Destination,
		FiredAt:     event.FiredAt,
		Details:     event.Details,
	})
	if err != nil {
		return err
	}
	return p.Conn.Publish("alerts.fired."+event.Metric, data)
}
