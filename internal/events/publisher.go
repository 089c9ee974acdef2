// Package events publishes job lifecycle events to a Pub/Sub topic for
// downstream consumers (billing, analytics). Publishing is fire-and-forget:
// a lost event never fails a pipeline step.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"

	"github.com/kvitly/backend/internal/logging"
)

// Event types emitted on terminal job transitions.
const (
	JobProcessed  = "job.processed"
	JobFailed     = "job.failed"
	JobRejected   = "job.rejected"
	InvoiceIssued = "invoice.issued"
)

type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	TenantID  int64     `json:"tenantId"`
	JobID     string    `json:"jobId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher wraps one topic. A nil Publisher is valid and publishes
// nothing, so callers never branch on whether events are configured.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New connects to the topic, creating it when absent. Returns nil (and no
// error) when topicID is empty: events disabled.
func New(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	if topicID == "" {
		return nil, nil
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("events: create pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("events: check topic %s: %w", topicID, err)
	}
	if !exists {
		if topic, err = client.CreateTopic(ctx, topicID); err != nil {
			client.Close()
			return nil, fmt.Errorf("events: create topic %s: %w", topicID, err)
		}
	}
	return &Publisher{client: client, topic: topic}, nil
}

// Publish emits one event without blocking the caller on the publish
// result. Failures are logged and swallowed.
func (p *Publisher) Publish(ctx context.Context, eventType string, tenantID int64, jobID string) {
	if p == nil {
		return
	}

	ev := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TenantID:  tenantID,
		JobID:     jobID,
		Timestamp: time.Now().UTC(),
	}
	body, err := json.Marshal(ev)
	if err != nil {
		logging.FromContext(ctx).Warnw("event marshal failed", "type", eventType, "error", err)
		return
	}

	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:       body,
		Attributes: map[string]string{"type": eventType},
	})
	log := logging.FromContext(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := res.Get(ctx); err != nil {
			log.Warnw("event publish failed", "type", eventType, "event_id", ev.ID, "error", err)
		}
	}()
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.topic.Stop()
	return p.client.Close()
}
