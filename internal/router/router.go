// Package router owns the online-user directory and each online user's chat
// subscriptions, and dispatches notifications to the right mailboxes.
//
// All routing state lives behind the router's mutex and is mutated only by
// the router's own methods; connections interact with it strictly through
// those methods and the send-only mailbox handles they registered. The
// bridge loop started by Run copies topic events into subscriber mailboxes
// each cycle.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Cunha-Renato/yapping-server/internal/bus"
	"github.com/Cunha-Renato/yapping-server/internal/proto"
)

// DefaultBridgeInterval is how often topic events are bridged into
// mailboxes.
const DefaultBridgeInterval = 25 * time.Millisecond

// Router routes notifications to online users.
type Router struct {
	log *zap.Logger
	bus *bus.Bus

	mu        sync.Mutex
	directory map[uuid.UUID]*Mailbox
	subs      map[uuid.UUID]map[uuid.UUID]*bus.Cursor

	bridgeInterval time.Duration
}

// New creates a router over the given bus.
func New(log *zap.Logger, b *bus.Bus) *Router {
	return &Router{
		log:            log,
		bus:            b,
		directory:      make(map[uuid.UUID]*Mailbox),
		subs:           make(map[uuid.UUID]map[uuid.UUID]*bus.Cursor),
		bridgeInterval: DefaultBridgeInterval,
	}
}

// RegisterOnline inserts or replaces the directory entry for user and
// subscribes them to every chat they are a member of. A second login for
// the same user replaces the previous mailbox rather than duplicating the
// entry.
func (r *Router) RegisterOnline(user uuid.UUID, chats []uuid.UUID, mb *Mailbox) {
	if user == uuid.Nil || mb == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.directory[user] = mb
	r.subs[user] = make(map[uuid.UUID]*bus.Cursor, len(chats))
	for _, chatID := range chats {
		r.subs[user][chatID] = r.bus.EnsureTopic(chatID).Subscribe()
	}
	onlineUsers.Set(float64(len(r.directory)))
	r.log.Info("user online", zap.String("user", user.String()), zap.Int("chats", len(chats)))
}

// Offline removes the user's directory entry and all subscriptions.
// Unknown users are a no-op.
func (r *Router) Offline(user uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.directory[user]; !ok {
		return
	}
	delete(r.directory, user)
	delete(r.subs, user)
	onlineUsers.Set(float64(len(r.directory)))
	r.log.Info("user offline", zap.String("user", user.String()))
}

// Refresh pushes a profile-refresh signal to the user's mailbox, if online.
// The signal is delivered to nobody else.
func (r *Router) Refresh(user uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mb, ok := r.directory[user]
	if !ok {
		return
	}
	n := proto.NewNotification(proto.NoteRefreshUser)
	n.To = user
	r.push(mb, n)
}

// Route applies the routing rule for the notification's kind. Kinds without
// a rule are no-ops: their delivery is not this subsystem's concern.
func (r *Router) Route(ctx context.Context, n proto.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch n.Kind {
	case proto.NoteNewChat:
		if n.Chat == nil {
			return
		}
		r.bus.EnsureTopic(n.Chat.ID)
		for _, member := range n.Chat.Members {
			mb, online := r.directory[member]
			if !online {
				continue
			}
			if _, subscribed := r.subs[member][n.Chat.ID]; !subscribed {
				r.subs[member][n.Chat.ID] = r.bus.EnsureTopic(n.Chat.ID).Subscribe()
			}
			r.push(mb, n)
		}

	case proto.NoteNewMessage:
		// Fan-out happens in the bridge step; no direct pushes here.
		r.bus.Publish(ctx, n.ChatID, n)

	case proto.NoteFriendReq, proto.NoteFriendOK:
		if mb, online := r.directory[n.To]; online {
			r.push(mb, n)
		}

	default:
		// MESSAGE_READ and friends stay local to their sender.
	}
}

func (r *Router) push(mb *Mailbox, n proto.Notification) {
	if mb.TrySend(n) {
		routedNotifications.Inc()
	} else {
		r.log.Warn("mailbox full, dropping notification",
			zap.String("kind", string(n.Kind)), zap.String("id", n.ID.String()))
	}
}

// Online reports whether the user currently has a directory entry.
func (r *Router) Online(user uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.directory[user]
	return ok
}

// Subscriptions reports how many chat topics the user is subscribed to.
func (r *Router) Subscriptions(user uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[user])
}

// Bridge copies newly published topic events into the mailboxes of their
// subscribers, once. This is the one place doing O(users x subscriptions)
// work per cycle; fine at this fleet size.
func (r *Router) Bridge() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for user, cursors := range r.subs {
		mb := r.directory[user]
		if mb == nil {
			continue
		}
		for _, cursor := range cursors {
			for _, n := range cursor.Drain() {
				r.push(mb, n)
			}
		}
	}
}

// Run drives the bridge step until ctx is done.
func (r *Router) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.bridgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Bridge()
		}
	}
}
