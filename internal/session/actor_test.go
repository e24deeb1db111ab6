package session

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Cunha-Renato/yapping-server/internal/delivery"
	"github.com/Cunha-Renato/yapping-server/internal/proto"
	"github.com/Cunha-Renato/yapping-server/internal/router"
)

// fakeConn records everything the actor writes.
type fakeConn struct {
	written []proto.Envelope
	failing bool
}

func (c *fakeConn) WriteEnvelope(env proto.Envelope) error {
	if c.failing {
		return errors.New("broken pipe")
	}
	c.written = append(c.written, env)
	return nil
}

func (c *fakeConn) lastResponse(t *testing.T) proto.Response {
	t.Helper()
	require.NotEmpty(t, c.written)
	env := c.written[len(c.written)-1]
	require.Equal(t, proto.KindResponse, env.Kind)
	return *env.Response
}

// fakeRouter records the commands it was driven with.
type fakeRouter struct {
	registered []uuid.UUID
	mailbox    *router.Mailbox
	offline    []uuid.UUID
	refreshed  []uuid.UUID
	routed     []proto.Notification
}

func (r *fakeRouter) RegisterOnline(user uuid.UUID, chats []uuid.UUID, mb *router.Mailbox) {
	r.registered = append(r.registered, user)
	r.mailbox = mb
}
func (r *fakeRouter) Offline(user uuid.UUID)  { r.offline = append(r.offline, user) }
func (r *fakeRouter) Refresh(user uuid.UUID)  { r.refreshed = append(r.refreshed, user) }
func (r *fakeRouter) Route(ctx context.Context, n proto.Notification) {
	r.routed = append(r.routed, n)
}

// fakeAuth accepts any credentials and hands out a fixed profile.
type fakeAuth struct {
	user proto.User
	err  error
}

func (a *fakeAuth) Login(ctx context.Context, creds proto.Credentials) (proto.User, string, error) {
	return a.user, "token-1", a.err
}
func (a *fakeAuth) SignUp(ctx context.Context, creds proto.Credentials) (proto.User, string, error) {
	return a.user, "token-1", a.err
}
func (a *fakeAuth) Resume(ctx context.Context, token string) (proto.User, string, error) {
	return a.user, "token-1", a.err
}

// fakeStore is an in-memory persistence collaborator with call accounting.
type fakeStore struct {
	profiles map[uuid.UUID]proto.User
	chats    map[uuid.UUID]proto.Chat
	messages []proto.Message
	// friendship edges, both directions
	friends map[uuid.UUID]map[uuid.UUID]bool
	// standing notifications per recipient
	standing map[uuid.UUID][]proto.Notification

	calls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles: make(map[uuid.UUID]proto.User),
		chats:    make(map[uuid.UUID]proto.Chat),
		friends:  make(map[uuid.UUID]map[uuid.UUID]bool),
		standing: make(map[uuid.UUID][]proto.Notification),
	}
}

func (s *fakeStore) FetchProfile(ctx context.Context, id uuid.UUID) (proto.User, error) {
	s.calls++
	u, ok := s.profiles[id]
	if !ok {
		return proto.User{}, errors.New("no such user")
	}
	u.Friends = nil
	for friend := range s.friends[id] {
		u.Friends = append(u.Friends, proto.User{ID: friend})
	}
	return u, nil
}

func (s *fakeStore) FetchChat(ctx context.Context, id uuid.UUID) (proto.Chat, error) {
	s.calls++
	c, ok := s.chats[id]
	if !ok {
		return proto.Chat{}, errors.New("no such chat")
	}
	return c, nil
}

func (s *fakeStore) FetchUserChats(ctx context.Context, user uuid.UUID) ([]proto.Chat, error) {
	s.calls++
	var out []proto.Chat
	for _, c := range s.chats {
		if c.HasMember(user) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) UsersByTag(ctx context.Context, tags []string) ([]proto.User, error) {
	s.calls++
	return nil, nil
}
func (s *fakeStore) UsersContainingTag(ctx context.Context, tag string) ([]proto.User, error) {
	s.calls++
	return nil, nil
}
func (s *fakeStore) UsersByID(ctx context.Context, ids []uuid.UUID) ([]proto.User, error) {
	s.calls++
	return nil, nil
}

func (s *fakeStore) AddFriend(ctx context.Context, a, b uuid.UUID) error {
	s.calls++
	if s.friends[a] == nil {
		s.friends[a] = make(map[uuid.UUID]bool)
	}
	if s.friends[b] == nil {
		s.friends[b] = make(map[uuid.UUID]bool)
	}
	s.friends[a][b] = true
	s.friends[b][a] = true
	return nil
}

func (s *fakeStore) RemoveFriend(ctx context.Context, a, b uuid.UUID) error {
	s.calls++
	delete(s.friends[a], b)
	delete(s.friends[b], a)
	return nil
}

func (s *fakeStore) ChangeTag(ctx context.Context, id uuid.UUID, tag string) error {
	s.calls++
	u := s.profiles[id]
	u.Tag = tag
	s.profiles[id] = u
	return nil
}

func (s *fakeStore) CreateChat(ctx context.Context, chat proto.Chat) error {
	s.calls++
	s.chats[chat.ID] = chat
	return nil
}

func (s *fakeStore) RemoveChat(ctx context.Context, id uuid.UUID) error {
	s.calls++
	delete(s.chats, id)
	return nil
}

func (s *fakeStore) InsertMessage(ctx context.Context, msg proto.Message) error {
	s.calls++
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeStore) ChatMessages(ctx context.Context, chatID uuid.UUID) ([]proto.Message, error) {
	s.calls++
	var out []proto.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) InsertNotification(ctx context.Context, recipient uuid.UUID, n proto.Notification) error {
	s.calls++
	s.standing[recipient] = append(s.standing[recipient], n)
	return nil
}

func (s *fakeStore) InsertUniqueNotification(ctx context.Context, recipient uuid.UUID, n proto.Notification) error {
	s.calls++
	for _, existing := range s.standing[recipient] {
		if existing.Kind == n.Kind && existing.From == n.From {
			return nil
		}
	}
	s.standing[recipient] = append(s.standing[recipient], n)
	return nil
}

func (s *fakeStore) RemoveStanding(ctx context.Context, recipient uuid.UUID, kind proto.NotificationKind, sender uuid.UUID) error {
	s.calls++
	kept := s.standing[recipient][:0]
	for _, n := range s.standing[recipient] {
		if !(n.Kind == kind && n.From == sender) {
			kept = append(kept, n)
		}
	}
	s.standing[recipient] = kept
	return nil
}

func (s *fakeStore) RemoveChatMarkers(ctx context.Context, recipient, chatID uuid.UUID) error {
	s.calls++
	kept := s.standing[recipient][:0]
	for _, n := range s.standing[recipient] {
		if !(n.Kind == proto.NoteMessage && n.ChatID == chatID) {
			kept = append(kept, n)
		}
	}
	s.standing[recipient] = kept
	return nil
}

func (s *fakeStore) UserNotifications(ctx context.Context, recipient uuid.UUID) ([]proto.Notification, error) {
	s.calls++
	return s.standing[recipient], nil
}

func (s *fakeStore) FriendRequests(ctx context.Context, recipient uuid.UUID) ([]proto.Notification, error) {
	s.calls++
	var out []proto.Notification
	for _, n := range s.standing[recipient] {
		if n.Kind == proto.NoteFriendReq {
			out = append(out, n)
		}
	}
	return out, nil
}

type fixture struct {
	actor  *Actor
	conn   *fakeConn
	router *fakeRouter
	store  *fakeStore
	auth   *fakeAuth
	user   proto.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		conn:   &fakeConn{},
		router: &fakeRouter{},
		store:  newFakeStore(),
	}
	f.user = proto.User{ID: uuid.New(), Tag: "alice", Email: "alice@example.com"}
	f.store.profiles[f.user.ID] = f.user
	f.auth = &fakeAuth{user: f.user}
	f.actor = New(zaptest.NewLogger(t), f.conn, f.router, f.auth, f.store, delivery.Config{})
	return f
}

func (f *fixture) receive(t *testing.T, env proto.Envelope) {
	t.Helper()
	frame, err := proto.Encode(env)
	require.NoError(t, err)
	f.actor.ReceiveInbound(context.Background(), frame)
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	env := proto.NewEnvelope(proto.KindSession)
	env.Session = &proto.Session{
		Action:      proto.SessionLogin,
		Credentials: &proto.Credentials{Email: "alice@example.com", Password: "pw"},
	}
	f.receive(t, env)
	require.Equal(t, f.user.ID, f.actor.Identity())
}

func queryEnvelope(kind proto.QueryKind) proto.Envelope {
	env := proto.NewEnvelope(proto.KindQuery)
	env.Query = &proto.Query{Kind: kind}
	return env
}

func notificationEnvelope(n proto.Notification) proto.Envelope {
	env := proto.NewEnvelope(proto.KindNotification)
	env.Notification = &n
	return env
}

func TestMalformedFrameDropped(t *testing.T) {
	f := newFixture(t)
	f.actor.ReceiveInbound(context.Background(), []byte("{not json"))

	assert.Empty(t, f.conn.written, "no response for an undecodable frame")

	// The connection survives: a valid login still works.
	f.login(t)
}

func TestLoginBindsIdentityAndRegistersOnline(t *testing.T) {
	f := newFixture(t)
	chat := proto.Chat{ID: uuid.New(), Tag: "pair", Members: []uuid.UUID{f.user.ID, uuid.New()}}
	f.store.chats[chat.ID] = chat

	f.login(t)

	resp := f.conn.lastResponse(t)
	assert.Equal(t, proto.StatusOKSession, resp.Status)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "token-1", resp.Session.Token)
	assert.Equal(t, f.user.ID, resp.Session.User.ID)

	require.Equal(t, []uuid.UUID{f.user.ID}, f.router.registered)
	require.NotNil(t, f.router.mailbox)
}

func TestFailedLoginLeavesIdentityUnset(t *testing.T) {
	f := newFixture(t)
	f.auth.err = errors.New("invalid credentials")

	env := proto.NewEnvelope(proto.KindSession)
	env.Session = &proto.Session{
		Action:      proto.SessionLogin,
		Credentials: &proto.Credentials{Email: "alice@example.com", Password: "wrong"},
	}
	f.receive(t, env)

	resp := f.conn.lastResponse(t)
	assert.Equal(t, proto.StatusErr, resp.Status)
	assert.Equal(t, uuid.Nil, f.actor.Identity())
	assert.Empty(t, f.router.registered)
}

func TestQueryRejectedBeforeLogin(t *testing.T) {
	f := newFixture(t)
	f.receive(t, queryEnvelope(proto.QueryUserChats))

	resp := f.conn.lastResponse(t)
	assert.Equal(t, proto.StatusErr, resp.Status)
	assert.Zero(t, f.store.calls, "no persistence side effects")
}

func TestNotificationRejectedBeforeLogin(t *testing.T) {
	f := newFixture(t)
	n := proto.NewNotification(proto.NoteFriendReq)
	n.From, n.To = uuid.New(), uuid.New()
	f.receive(t, notificationEnvelope(n))

	resp := f.conn.lastResponse(t)
	assert.Equal(t, proto.StatusErr, resp.Status)
	assert.Zero(t, f.store.calls)
	assert.Empty(t, f.router.routed)
}

func TestChatMessagesGatedOnMembership(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	private := proto.Chat{ID: uuid.New(), Tag: "others", Members: []uuid.UUID{uuid.New(), uuid.New()}}
	f.store.chats[private.ID] = private
	f.store.messages = append(f.store.messages, proto.Message{
		ID: uuid.New(), ChatID: private.ID, Content: "secret",
	})

	env := proto.NewEnvelope(proto.KindQuery)
	env.Query = &proto.Query{Kind: proto.QueryChatMessages, ChatID: private.ID}
	f.receive(t, env)

	resp := f.conn.lastResponse(t)
	assert.Equal(t, proto.StatusErr, resp.Status)
	assert.Nil(t, resp.Query)
}

func TestDuplicateEnvelopeDispatchedOnce(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	chat := proto.Chat{ID: uuid.New(), Tag: "pair", Members: []uuid.UUID{f.user.ID, uuid.New()}}
	f.store.chats[chat.ID] = chat

	n := proto.NewNotification(proto.NoteNewMessage)
	n.ChatID = chat.ID
	n.Message = &proto.Message{ID: uuid.New(), ChatID: chat.ID, SenderID: f.user.ID, Content: "hi"}
	env := notificationEnvelope(n)

	f.receive(t, env)
	f.receive(t, env)

	assert.Len(t, f.store.messages, 1, "replayed frame must not duplicate the message")
	assert.Len(t, f.router.routed, 1)
}

func TestNewMessagePersistsOnceAndFansOutMarkers(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	bob, carol := uuid.New(), uuid.New()
	chat := proto.Chat{ID: uuid.New(), Tag: "trio", Members: []uuid.UUID{f.user.ID, bob, carol}}
	f.store.chats[chat.ID] = chat

	n := proto.NewNotification(proto.NoteNewMessage)
	n.ChatID = chat.ID
	n.Message = &proto.Message{ID: uuid.New(), ChatID: chat.ID, SenderID: f.user.ID, Content: "hi"}
	f.receive(t, notificationEnvelope(n))

	require.Len(t, f.store.messages, 1)
	assert.Len(t, f.store.standing[bob], 1)
	assert.Len(t, f.store.standing[carol], 1)
	assert.Empty(t, f.store.standing[f.user.ID], "no marker for the sender")
	require.Len(t, f.router.routed, 1)
	assert.Equal(t, proto.NoteNewMessage, f.router.routed[0].Kind)
}

func TestNewMessageToForeignChatIgnored(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	chat := proto.Chat{ID: uuid.New(), Tag: "others", Members: []uuid.UUID{uuid.New()}}
	f.store.chats[chat.ID] = chat

	n := proto.NewNotification(proto.NoteNewMessage)
	n.ChatID = chat.ID
	n.Message = &proto.Message{ID: uuid.New(), ChatID: chat.ID, Content: "intrusion"}
	f.receive(t, notificationEnvelope(n))

	assert.Empty(t, f.store.messages)
	assert.Empty(t, f.router.routed)
	assert.Equal(t, proto.StatusOK, f.conn.lastResponse(t).Status)
}

func TestNewChatRequiresMutualFriends(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	friend, stranger := uuid.New(), uuid.New()
	f.store.AddFriend(context.Background(), f.user.ID, friend)

	withStranger := proto.Chat{ID: uuid.New(), Tag: "nope",
		Members: []uuid.UUID{f.user.ID, friend, stranger}}
	n := proto.NewNotification(proto.NoteNewChat)
	n.Chat = &withStranger
	f.receive(t, notificationEnvelope(n))

	_, created := f.store.chats[withStranger.ID]
	assert.False(t, created, "chat with a non-friend member is ignored")

	withFriend := proto.Chat{ID: uuid.New(), Tag: "yes",
		Members: []uuid.UUID{f.user.ID, friend}}
	n2 := proto.NewNotification(proto.NoteNewChat)
	n2.Chat = &withFriend
	f.receive(t, notificationEnvelope(n2))

	_, created = f.store.chats[withFriend.ID]
	assert.True(t, created)
	require.Len(t, f.router.routed, 1)
	assert.Equal(t, proto.NoteNewChat, f.router.routed[0].Kind)
}

func TestFriendRequestPersistedForOfflineRecipient(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	bob := uuid.New()
	n := proto.NewNotification(proto.NoteFriendReq)
	n.From, n.To = f.user.ID, bob
	f.receive(t, notificationEnvelope(n))
	// The same request sent twice leaves exactly one standing record.
	n2 := proto.NewNotification(proto.NoteFriendReq)
	n2.From, n2.To = f.user.ID, bob
	f.receive(t, notificationEnvelope(n2))

	require.Len(t, f.store.standing[bob], 1)
	requests, err := f.store.FriendRequests(context.Background(), bob)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, f.user.ID, requests[0].From)
}

func TestFriendRequestSpoofingIgnored(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	n := proto.NewNotification(proto.NoteFriendReq)
	n.From, n.To = uuid.New(), uuid.New() // caller is not the sender
	f.receive(t, notificationEnvelope(n))

	assert.Empty(t, f.store.standing[n.To])
	assert.Empty(t, f.router.routed)
}

func TestFriendAcceptedIdempotent(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	bob := uuid.New()
	f.store.profiles[bob] = proto.User{ID: bob, Tag: "bob"}

	n := proto.NewNotification(proto.NoteFriendOK)
	n.From, n.To = f.user.ID, bob
	f.receive(t, notificationEnvelope(n))
	// Delivered twice: the friendship edge must not duplicate.
	n2 := proto.NewNotification(proto.NoteFriendOK)
	n2.From, n2.To = f.user.ID, bob
	f.receive(t, notificationEnvelope(n2))

	require.Len(t, f.store.friends[f.user.ID], 1)
	require.Len(t, f.store.friends[bob], 1)
	assert.True(t, f.store.friends[f.user.ID][bob])
	assert.True(t, f.store.friends[bob][f.user.ID])
	assert.Len(t, f.router.routed, 2, "peers still see the live event each time")
}

func TestFriendAcceptedClearsStandingRequest(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	bob := uuid.New()
	f.store.profiles[bob] = proto.User{ID: bob, Tag: "bob"}
	request := proto.NewNotification(proto.NoteFriendReq)
	request.From, request.To = bob, f.user.ID
	f.store.standing[f.user.ID] = []proto.Notification{request}

	// The acceptance carries its own fresh id, not the stored request's.
	accept := proto.NewNotification(proto.NoteFriendOK)
	accept.From, accept.To = f.user.ID, bob
	f.receive(t, notificationEnvelope(accept))

	requests, err := f.store.FriendRequests(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, requests, "accepted request must not be re-delivered")
}

func TestFriendAcceptedRespondsOnceAndRefreshesBothSides(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	bob := uuid.New()
	f.store.profiles[bob] = proto.User{ID: bob, Tag: "bob"}
	f.conn.written = nil

	n := proto.NewNotification(proto.NoteFriendOK)
	n.From, n.To = f.user.ID, bob
	f.receive(t, notificationEnvelope(n))

	require.Len(t, f.conn.written, 1, "one outbound envelope per dispatched request")
	assert.Equal(t, proto.KindResponse, f.conn.written[0].Kind)
	assert.Equal(t, []uuid.UUID{f.user.ID, bob}, f.router.refreshed)
}

func TestLoginDeliversStandingNotifications(t *testing.T) {
	f := newFixture(t)

	marker := proto.NewNotification(proto.NoteMessage)
	marker.ChatID = uuid.New()
	request := proto.NewNotification(proto.NoteFriendReq)
	request.From, request.To = uuid.New(), f.user.ID
	f.store.standing[f.user.ID] = []proto.Notification{marker, request}

	f.login(t)
	f.conn.written = nil
	f.actor.Tick(context.Background())

	require.Len(t, f.conn.written, 2)
	assert.Equal(t, marker.ID, f.conn.written[0].Notification.ID)
	assert.Equal(t, request.ID, f.conn.written[1].Notification.ID)
}

func TestTickTurnsRefreshIntoProfilePush(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.conn.written = nil

	refresh := proto.NewNotification(proto.NoteRefreshUser)
	refresh.To = f.user.ID
	require.True(t, f.router.mailbox.TrySend(refresh))

	f.actor.Tick(context.Background())

	require.Len(t, f.conn.written, 1)
	env := f.conn.written[0]
	require.Equal(t, proto.KindSession, env.Kind, "clients never see the refresh signal itself")
	assert.Equal(t, f.user.ID, env.Session.User.ID)
}

func TestTickForwardsOrdinaryNotifications(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.conn.written = nil

	n := proto.NewNotification(proto.NoteNewMessage)
	n.ChatID = uuid.New()
	n.Message = &proto.Message{ID: uuid.New(), Content: "hi"}
	require.True(t, f.router.mailbox.TrySend(n))

	f.actor.Tick(context.Background())

	require.Len(t, f.conn.written, 1)
	env := f.conn.written[0]
	require.Equal(t, proto.KindNotification, env.Kind)
	assert.Equal(t, "hi", env.Notification.Message.Content)
}

func TestTickForwardsFriendAcceptedToRecipient(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.conn.written = nil

	n := proto.NewNotification(proto.NoteFriendOK)
	n.From, n.To = uuid.New(), f.user.ID
	require.True(t, f.router.mailbox.TrySend(n))

	f.actor.Tick(context.Background())

	require.Len(t, f.conn.written, 1)
	env := f.conn.written[0]
	require.Equal(t, proto.KindNotification, env.Kind,
		"the requester observes the acceptance event itself")
	assert.Equal(t, proto.NoteFriendOK, env.Notification.Kind)
	assert.Equal(t, n.ID, env.Notification.ID)
}

func TestRemoveFriendTearsDownSharedChats(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	bob := uuid.New()
	f.store.AddFriend(context.Background(), f.user.ID, bob)
	shared := proto.Chat{ID: uuid.New(), Tag: "shared", Members: []uuid.UUID{f.user.ID, bob}}
	other := proto.Chat{ID: uuid.New(), Tag: "other", Members: []uuid.UUID{f.user.ID, uuid.New()}}
	f.store.chats[shared.ID] = shared
	f.store.chats[other.ID] = other

	env := proto.NewEnvelope(proto.KindModification)
	env.Modification = &proto.Modification{Kind: proto.ModRemoveFriend, FriendID: bob}
	f.receive(t, env)

	assert.Empty(t, f.store.friends[f.user.ID])
	_, sharedLeft := f.store.chats[shared.ID]
	assert.False(t, sharedLeft, "shared chat removed")
	_, otherLeft := f.store.chats[other.ID]
	assert.True(t, otherLeft, "unrelated chat untouched")
	assert.Equal(t, []uuid.UUID{bob}, f.router.refreshed)
}

func TestChangeTagRefreshesFriends(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	bob := uuid.New()
	f.store.AddFriend(context.Background(), f.user.ID, bob)
	f.conn.written = nil

	env := proto.NewEnvelope(proto.KindModification)
	env.Modification = &proto.Modification{Kind: proto.ModUserTag, UserID: f.user.ID, NewTag: "alice2"}
	f.receive(t, env)

	assert.Equal(t, "alice2", f.store.profiles[f.user.ID].Tag)
	assert.Equal(t, []uuid.UUID{bob}, f.router.refreshed)

	// A session push with the new tag precedes the OK response.
	require.GreaterOrEqual(t, len(f.conn.written), 2)
	assert.Equal(t, proto.KindSession, f.conn.written[0].Kind)
}

func TestChangeOtherUsersTagRejected(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	env := proto.NewEnvelope(proto.KindModification)
	env.Modification = &proto.Modification{Kind: proto.ModUserTag, UserID: uuid.New(), NewTag: "mallory"}
	f.receive(t, env)

	assert.Equal(t, proto.StatusErr, f.conn.lastResponse(t).Status)
	assert.Equal(t, "alice", f.store.profiles[f.user.ID].Tag)
}

func TestShutdownPostsOfflineExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.actor.Shutdown()
	f.actor.Shutdown()

	assert.Equal(t, []uuid.UUID{f.user.ID}, f.router.offline)
}

func TestShutdownBeforeLoginIsSilent(t *testing.T) {
	f := newFixture(t)
	f.actor.Shutdown()
	assert.Empty(t, f.router.offline)
}

func TestMessageReadClearsMarkersOnly(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	chatID := uuid.New()
	marker := proto.NewNotification(proto.NoteMessage)
	marker.ChatID = chatID
	f.store.standing[f.user.ID] = []proto.Notification{marker}

	n := proto.NewNotification(proto.NoteMessageRead)
	n.ChatID = chatID
	f.receive(t, notificationEnvelope(n))

	assert.Empty(t, f.store.standing[f.user.ID])
	assert.Empty(t, f.router.routed, "read receipts stay local")
	assert.Equal(t, proto.StatusOK, f.conn.lastResponse(t).Status)
}
