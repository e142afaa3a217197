package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"yardguard/internal/data"
)

// Publisher pushes resolved motion events to NATS for the dashboard and the
// training-data curation jobs. The core only publishes; nothing here blocks
// the detection pipeline beyond the bounded retry loop.
type Publisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

func NewPublisher(conn *nats.Conn, subject string, maxRetries int) *Publisher {
	return &Publisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
	}
}

func (p *Publisher) PublishResolved(ev *data.MotionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	var publishErr error
	for i := 0; i <= p.maxRetries; i++ {
		publishErr = p.conn.Publish(p.subject, payload)
		if publishErr == nil {
			return nil
		}

		// Backoff
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, publishErr)
}
