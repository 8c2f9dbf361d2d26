package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/Lugzan151892/gradiorai-backend/internal/models"
)

// Event types carried on the hub.
const (
	EventChunk  = "chunk"
	EventSaved  = "data"
	EventResult = "result"
)

// StreamEvent is the transient payload fanned out to observers. Events are
// never persisted or replayed; a subscriber attached after a publish will not
// see it. Every event carries the interview id so observers can tell
// concurrent interviews apart.
type StreamEvent struct {
	Type        string            `json:"type"`
	InterviewID string            `json:"interview_id"`
	Text        string            `json:"text,omitempty"`
	Interview   *models.Interview `json:"interview,omitempty"`
}

const streamTopic = "interview.stream"

// Hub is the single process-wide publish point for stream events. Publishing
// is fire-and-forget multicast: every attached subscriber receives every
// event, and events published while nobody listens are dropped.
type Hub struct {
	pubsub *gochannel.GoChannel
	logger *zap.Logger
}

// NewHub builds the hub on an in-process watermill pub/sub.
func NewHub(logger *zap.Logger) *Hub {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, watermill.NopLogger{})
	return &Hub{pubsub: pubsub, logger: logger}
}

// Publish sends the event to all current subscribers.
func (h *Hub) Publish(ev StreamEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("marshal stream event", zap.Error(err))
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	if err := h.pubsub.Publish(streamTopic, msg); err != nil {
		h.logger.Warn("publish stream event", zap.Error(err))
	}
}

// Subscribe attaches an observer. The returned channel delivers every event
// published after the call, until ctx is cancelled or the hub closes.
func (h *Hub) Subscribe(ctx context.Context) (<-chan StreamEvent, error) {
	msgs, err := h.pubsub.Subscribe(ctx, streamTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribe stream: %w", err)
	}
	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev StreamEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				h.logger.Warn("decode stream event", zap.Error(err))
				msg.Ack()
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				msg.Ack()
				return
			}
			msg.Ack()
		}
	}()
	return out, nil
}

// Close shuts the hub down, closing all subscriber channels.
func (h *Hub) Close() error {
	return h.pubsub.Close()
}
