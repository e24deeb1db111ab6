// Package bus is the per-chat broadcast layer: a registry of bounded-history
// topics, one per chat, optionally bridged across server nodes via Redis
// pub/sub so a chat spanning two instances still fans out everywhere.
//
// The bus carries live notifications only. It is lossy for slow or absent
// consumers; missed-message recovery is a persistence/query concern.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Cunha-Renato/yapping-server/internal/proto"
)

const (
	channelPrefix = "yapping.chat."

	// mirrorBuffer bounds events queued for cross-node mirroring. The
	// mirror is best effort; a full queue drops.
	mirrorBuffer = 256
)

// remoteEvent is the cross-node mirror of a local publish.
type remoteEvent struct {
	Node         string             `json:"node"`
	ChatID       uuid.UUID          `json:"chat_id"`
	Notification proto.Notification `json:"notification"`
}

// Bus is the registry of chat topics.
type Bus struct {
	log *zap.Logger

	mu     sync.Mutex
	topics map[uuid.UUID]*Topic

	// rdb is optional; nil runs the bus in single-node mode.
	rdb    *redis.Client
	node   string
	mirror chan remoteEvent
}

// New creates a bus. rdb may be nil.
func New(log *zap.Logger, rdb *redis.Client) *Bus {
	return &Bus{
		log:    log,
		topics: make(map[uuid.UUID]*Topic),
		rdb:    rdb,
		node:   uuid.NewString(),
		mirror: make(chan remoteEvent, mirrorBuffer),
	}
}

// EnsureTopic creates the topic for a chat if absent. Idempotent: repeated
// calls return the same topic.
func (b *Bus) EnsureTopic(chatID uuid.UUID) *Topic {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[chatID]
	if !ok {
		t = newTopic()
		b.topics[chatID] = t
	}
	return t
}

// Topic returns the topic for a chat, if one exists.
func (b *Bus) Topic(chatID uuid.UUID) (*Topic, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[chatID]
	return t, ok
}

// Publish appends a notification to the chat's topic, creating it if
// needed, and queues the event for cross-node mirroring. Never blocks: the
// mirror is flushed by Run, so a slow broker cannot stall a caller holding
// routing locks.
func (b *Bus) Publish(ctx context.Context, chatID uuid.UUID, n proto.Notification) {
	b.EnsureTopic(chatID).publish(n)
	busPublishes.Inc()

	if b.rdb == nil {
		return
	}
	select {
	case b.mirror <- remoteEvent{Node: b.node, ChatID: chatID, Notification: n}:
	default:
		b.log.Warn("mirror queue full, dropping event", zap.String("chat", chatID.String()))
	}
}

// Run flushes queued mirror events to Redis and re-injects the other nodes'
// mirrored events into local topics. Blocks until ctx is done. No-op
// without Redis.
func (b *Bus) Run(ctx context.Context) error {
	if b.rdb == nil {
		<-ctx.Done()
		return nil
	}

	pubsub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-b.mirror:
			payload, err := json.Marshal(ev)
			if err != nil {
				b.log.Error("marshal bus event", zap.Error(err))
				continue
			}
			if err := b.rdb.Publish(ctx, channelPrefix+ev.ChatID.String(), payload).Err(); err != nil {
				b.log.Warn("mirror publish failed", zap.String("chat", ev.ChatID.String()), zap.Error(err))
			}
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("bus subscription closed")
			}
			b.handleRemote(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (b *Bus) handleRemote(channel string, payload []byte) {
	var ev remoteEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		b.log.Warn("drop malformed bus event", zap.String("channel", channel), zap.Error(err))
		return
	}
	if ev.Node == b.node {
		return // our own mirror coming back around
	}
	if ev.ChatID == uuid.Nil {
		id, err := uuid.Parse(strings.TrimPrefix(channel, channelPrefix))
		if err != nil {
			return
		}
		ev.ChatID = id
	}
	b.EnsureTopic(ev.ChatID).publish(ev.Notification)
}
