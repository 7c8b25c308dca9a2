package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/patientflow/internal/domain/flow"
	"github.com/ehr/patientflow/internal/platform/websocket"
)

// MessageSnapshot is the websocket message type carrying a full queue.
const MessageSnapshot = "queue.snapshot"

// Snapshot is the payload pushed to live boards.
type Snapshot struct {
	Pool    string  `json:"pool"`
	Entries []Entry `json:"entries"`
}

// Board keeps websocket subscribers of queue:<pool> topics current. It is a
// flow.Publisher: every status change recomputes the affected pool.
type Board struct {
	svc    *Service
	hub    *websocket.Hub
	logger zerolog.Logger
}

func NewBoard(svc *Service, hub *websocket.Hub, logger zerolog.Logger) *Board {
	b := &Board{svc: svc, hub: hub, logger: logger.With().Str("component", "queue_board").Logger()}
	hub.OnSubscribe(func(c *websocket.Client, topic string) {
		pool, _ := websocket.PoolOf(topic)
		msg, err := b.message(context.Background(), pool)
		if err != nil {
			b.logger.Warn().Err(err).Str("pool", pool).Msg("initial snapshot")
			return
		}
		hub.SendTo(c, msg)
	})
	return b
}

func (b *Board) Publish(ctx context.Context, evt flow.StatusChanged) error {
	if !b.hub.HasSubscribers(websocket.Topic(evt.Pool)) {
		return nil
	}
	msg, err := b.message(ctx, evt.Pool)
	if err != nil {
		return err
	}
	b.hub.Broadcast(msg)
	return nil
}

func (b *Board) message(ctx context.Context, pool string) (websocket.Message, error) {
	entries, err := b.svc.OrderedQueue(ctx, pool)
	if err != nil {
		return websocket.Message{}, err
	}
	data, err := json.Marshal(Snapshot{Pool: pool, Entries: entries})
	if err != nil {
		return websocket.Message{}, err
	}
	return websocket.Message{
		Type:      MessageSnapshot,
		Topic:     websocket.Topic(pool),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}
