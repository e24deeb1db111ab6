// Package session implements the per-connection actor: it multiplexes one
// connection's inbound requests and outbound notifications, owns the
// connection's authentication state, and drives the router.
//
// The actor is driven by two concurrent tasks, the transport read loop and
// the periodic tick. A single mutex guards each dispatch or tick in full;
// it is never held across a wait on another task.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Cunha-Renato/yapping-server/internal/delivery"
	"github.com/Cunha-Renato/yapping-server/internal/proto"
	"github.com/Cunha-Renato/yapping-server/internal/router"
)

// ErrNotLoggedIn gates identity-bound operations.
var ErrNotLoggedIn = errors.New("user is not logged in")

// Conn writes envelopes to the underlying transport.
type Conn interface {
	WriteEnvelope(proto.Envelope) error
}

// Router is the command surface the actor drives.
type Router interface {
	RegisterOnline(user uuid.UUID, chats []uuid.UUID, mb *router.Mailbox)
	Offline(user uuid.UUID)
	Refresh(user uuid.UUID)
	Route(ctx context.Context, n proto.Notification)
}

// Authenticator binds a connection to a user identity.
type Authenticator interface {
	Login(ctx context.Context, creds proto.Credentials) (proto.User, string, error)
	SignUp(ctx context.Context, creds proto.Credentials) (proto.User, string, error)
	Resume(ctx context.Context, token string) (proto.User, string, error)
}

// Store is the persistence collaborator the actor consumes.
type Store interface {
	FetchProfile(ctx context.Context, id uuid.UUID) (proto.User, error)
	FetchChat(ctx context.Context, id uuid.UUID) (proto.Chat, error)
	FetchUserChats(ctx context.Context, user uuid.UUID) ([]proto.Chat, error)
	UsersByTag(ctx context.Context, tags []string) ([]proto.User, error)
	UsersContainingTag(ctx context.Context, tag string) ([]proto.User, error)
	UsersByID(ctx context.Context, ids []uuid.UUID) ([]proto.User, error)
	AddFriend(ctx context.Context, a, b uuid.UUID) error
	RemoveFriend(ctx context.Context, a, b uuid.UUID) error
	ChangeTag(ctx context.Context, id uuid.UUID, tag string) error
	CreateChat(ctx context.Context, chat proto.Chat) error
	RemoveChat(ctx context.Context, id uuid.UUID) error
	InsertMessage(ctx context.Context, msg proto.Message) error
	ChatMessages(ctx context.Context, chatID uuid.UUID) ([]proto.Message, error)
	InsertNotification(ctx context.Context, recipient uuid.UUID, n proto.Notification) error
	InsertUniqueNotification(ctx context.Context, recipient uuid.UUID, n proto.Notification) error
	RemoveStanding(ctx context.Context, recipient uuid.UUID, kind proto.NotificationKind, sender uuid.UUID) error
	RemoveChatMarkers(ctx context.Context, recipient, chatID uuid.UUID) error
	UserNotifications(ctx context.Context, recipient uuid.UUID) ([]proto.Notification, error)
	FriendRequests(ctx context.Context, recipient uuid.UUID) ([]proto.Notification, error)
}

// Actor is one live connection's state machine.
type Actor struct {
	log *zap.Logger

	mu       sync.Mutex
	identity uuid.UUID
	token    string

	mailbox *router.Mailbox
	engine  *delivery.Engine

	conn   Conn
	router Router
	auth   Authenticator
	store  Store

	shutdownOnce sync.Once
}

// New creates an actor for a freshly accepted connection. Identity starts
// unset until a session request binds it.
func New(log *zap.Logger, conn Conn, rt Router, authn Authenticator, st Store, engineCfg delivery.Config) *Actor {
	return &Actor{
		log:     log,
		mailbox: router.NewMailbox(router.MailboxCapacity),
		engine:  delivery.New(engineCfg),
		conn:    conn,
		router:  rt,
		auth:    authn,
		store:   st,
	}
}

// Identity returns the bound user id, or uuid.Nil before login.
func (a *Actor) Identity() uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity
}

// ReceiveInbound decodes one transport frame and dispatches every envelope
// the delivery engine releases, in order. A malformed frame is logged and
// dropped; it does not kill the connection.
func (a *Actor) ReceiveInbound(ctx context.Context, frame []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	env, err := proto.Decode(frame)
	if err != nil {
		a.log.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	a.engine.Received(env)
	for _, ready := range a.engine.ReceivedWaiting() {
		if resp := a.dispatch(ctx, ready); resp != nil {
			a.send(*resp)
		}
	}
}

// Tick resends envelopes due for retry and drains the outbound mailbox.
// Called on a fixed interval, concurrently with ReceiveInbound.
func (a *Actor) Tick(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.engine.Update()
	for _, env := range a.engine.ToRetry() {
		// Verbatim resend; the engine already rescheduled it.
		if err := a.conn.WriteEnvelope(env); err != nil {
			a.log.Warn("retry write failed", zap.Error(err))
		}
	}

	for _, n := range a.mailbox.Drain() {
		n := n
		switch n.Kind {
		case proto.NoteRefreshUser:
			// Clients never see the refresh signal itself; they get the
			// profile it stands for.
			a.pushProfile(ctx)
		default:
			env := proto.NewEnvelope(proto.KindNotification)
			env.Notification = &n
			a.send(env)
		}
	}
}

// Shutdown tells the router this connection is gone. Safe to call more than
// once; only the first call acts.
func (a *Actor) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.mu.Lock()
		id := a.identity
		a.mu.Unlock()
		if id != uuid.Nil {
			a.router.Offline(id)
		}
	})
}

// send writes an envelope and records it with the delivery engine. The
// engine ignores responses: they are never retried because they are never
// acknowledged.
func (a *Actor) send(env proto.Envelope) {
	if err := a.conn.WriteEnvelope(env); err != nil {
		a.log.Warn("write failed", zap.String("kind", string(env.Kind)), zap.Error(err))
		return
	}
	a.engine.Sent(env)
}

// pushProfile re-fetches the caller's full profile and pushes it as a
// session update.
func (a *Actor) pushProfile(ctx context.Context) {
	user, err := a.store.FetchProfile(ctx, a.identity)
	if err != nil {
		a.log.Error("profile refresh failed", zap.Error(err))
		return
	}
	env := proto.NewEnvelope(proto.KindSession)
	env.Session = &proto.Session{Action: proto.SessionToken, Token: a.token, User: &user}
	a.send(env)
}

func (a *Actor) dispatch(ctx context.Context, env proto.Envelope) *proto.Envelope {
	switch env.Kind {
	case proto.KindSession:
		return a.dispatchSession(ctx, env)
	case proto.KindQuery:
		return a.dispatchQuery(ctx, env)
	case proto.KindNotification:
		return a.dispatchNotification(ctx, env)
	case proto.KindModification:
		return a.dispatchModification(ctx, env)
	default:
		// Responses were consumed by the delivery engine; anything else
		// has no handler and gets no reply.
		return nil
	}
}

func okResponse(id uuid.UUID) *proto.Envelope {
	return &proto.Envelope{ID: id, Kind: proto.KindResponse,
		Response: &proto.Response{Status: proto.StatusOK}}
}

func errResponse(id uuid.UUID, err error) *proto.Envelope {
	return &proto.Envelope{ID: id, Kind: proto.KindResponse,
		Response: &proto.Response{Status: proto.StatusErr, Error: err.Error()}}
}
