// Package notify dispatches escalation notifications over RabbitMQ.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bennet0/bennet/internal/escalation"
)

// Publisher delivers escalation notifications to a durable queue consumed
// by the HR notification worker. Delivery is best-effort from the caller's
// point of view: the escalation record is the source of truth either way.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// message is the wire shape consumed by the notification worker.
type message struct {
	TenantSchema   string    `json:"tenant_schema"`
	EscalationID   string    `json:"escalation_id"`
	ConversationID string    `json:"conversation_id"`
	EmployeeID     string    `json:"employee_id"`
	Question       string    `json:"question"`
	Reason         string    `json:"reason"`
	ContactInfo    string    `json:"contact_info,omitempty"`
	OpenedAt       time.Time `json:"opened_at"`
}

// NewPublisher connects and declares the queue topology: the main queue
// dead-letters to .dlq, and .retry dead-letters back to the main queue so
// the worker can schedule redeliveries with a per-message TTL.
func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	declare := func(name string, args amqp.Table) error {
		_, err := ch.QueueDeclare(name, true, false, false, false, args)
		return err
	}

	err = declare(queue+".dlq", nil)
	if err == nil {
		err = declare(queue+".retry", amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": queue,
		})
	}
	if err == nil {
		err = declare(queue, amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": queue + ".dlq",
		})
	}
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declaring queues: %w", err)
	}

	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

// Notify publishes the escalation to the notification queue.
func (p *Publisher) Notify(ctx context.Context, schema string, rec escalation.Record) error {
	body, err := json.Marshal(message{
		TenantSchema:   schema,
		EscalationID:   rec.ID.String(),
		ConversationID: rec.ConversationID.String(),
		EmployeeID:     rec.EmployeeID,
		Question:       rec.Question,
		Reason:         rec.Reason,
		ContactInfo:    rec.ContactInfo,
		OpenedAt:       rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.ch.PublishWithContext(pubCtx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
