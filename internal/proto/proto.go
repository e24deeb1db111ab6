// Package proto defines the wire protocol shared by the server and its
// clients: envelopes, their content variants and the binary codec.
//
// An Envelope is a correlation-tagged unit of communication. A Response
// envelope reuses the id of the envelope it answers; every other envelope
// carries a fresh id. Responses are never themselves answered.
package proto

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the content of an Envelope.
type Kind string

const (
	KindSession      Kind = "session"
	KindQuery        Kind = "query"
	KindModification Kind = "modification"
	KindNotification Kind = "notification"
	KindResponse     Kind = "response"
)

// ErrDecode marks a malformed wire envelope. A frame failing to decode is
// dropped without killing the connection.
var ErrDecode = errors.New("malformed envelope")

// Envelope is the unit of wire communication. Exactly one content field,
// matching Kind, is non-zero.
type Envelope struct {
	ID           uuid.UUID     `json:"id"`
	Kind         Kind          `json:"kind"`
	Session      *Session      `json:"session,omitempty"`
	Query        *Query        `json:"query,omitempty"`
	Modification *Modification `json:"modification,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
	Response     *Response     `json:"response,omitempty"`
}

// NewEnvelope wraps content in an envelope with a fresh correlation id.
func NewEnvelope(kind Kind) Envelope {
	return Envelope{ID: uuid.New(), Kind: kind}
}

func (e Envelope) validate() error {
	var ok bool
	switch e.Kind {
	case KindSession:
		ok = e.Session != nil
	case KindQuery:
		ok = e.Query != nil
	case KindModification:
		ok = e.Modification != nil
	case KindNotification:
		ok = e.Notification != nil
	case KindResponse:
		ok = e.Response != nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrDecode, e.Kind)
	}
	if !ok {
		return fmt.Errorf("%w: kind %q without matching content", ErrDecode, e.Kind)
	}
	if e.ID == uuid.Nil {
		return fmt.Errorf("%w: missing envelope id", ErrDecode)
	}
	return nil
}

// SessionAction discriminates Session payloads.
type SessionAction string

const (
	SessionLogin  SessionAction = "LOGIN"
	SessionSignUp SessionAction = "SIGN_UP"
	// SessionToken is dual purpose: client to server it carries a resume
	// token; server to client it carries the full profile plus the token.
	SessionToken SessionAction = "TOKEN"
)

// Session is the login/signup/resume payload and the server's profile push.
type Session struct {
	Action      SessionAction `json:"action"`
	Credentials *Credentials  `json:"credentials,omitempty"`
	Token       string        `json:"token,omitempty"`
	User        *User         `json:"user,omitempty"`
}

// Credentials carries signup or login input. Tag is only set on signup.
type Credentials struct {
	Tag      string `json:"tag,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// QueryKind discriminates Query payloads. The RESULT_* kinds appear only in
// responses.
type QueryKind string

const (
	QueryUsersByTag       QueryKind = "USERS_BY_TAG"
	QueryUsersContainsTag QueryKind = "USERS_CONTAINS_TAG"
	QueryUsersByID        QueryKind = "USERS_BY_UUID"
	QueryFriendRequests   QueryKind = "FRIEND_REQUESTS"
	QueryUserChats        QueryKind = "USER_CHATS"
	QueryChatMessages     QueryKind = "CHAT_MESSAGES"

	QueryResultUsers          QueryKind = "RESULT_USERS"
	QueryResultChats          QueryKind = "RESULT_CHATS"
	QueryResultMessages       QueryKind = "RESULT_MESSAGES"
	QueryResultFriendRequests QueryKind = "RESULT_FRIEND_REQUESTS"
)

// Query is a read-only request or its result payload.
type Query struct {
	Kind QueryKind `json:"kind"`

	Tags   []string    `json:"tags,omitempty"`
	IDs    []uuid.UUID `json:"ids,omitempty"`
	ChatID uuid.UUID   `json:"chat_id,omitempty"`

	Users    []User         `json:"users,omitempty"`
	Chats    []Chat         `json:"chats,omitempty"`
	Messages []Message      `json:"messages,omitempty"`
	Requests []Notification `json:"requests,omitempty"`
}

// ModificationKind discriminates Modification payloads.
type ModificationKind string

const (
	ModRemoveFriend ModificationKind = "REMOVE_FRIEND"
	ModUserTag      ModificationKind = "USER_TAG"
)

// Modification is a state-changing request that is not a notification.
type Modification struct {
	Kind     ModificationKind `json:"kind"`
	UserID   uuid.UUID        `json:"user_id,omitempty"`
	FriendID uuid.UUID        `json:"friend_id,omitempty"`
	NewTag   string           `json:"new_tag,omitempty"`
}

// NotificationKind discriminates Notification payloads. The set is closed;
// routing rules dispatch on it exhaustively and unknown kinds are no-ops.
type NotificationKind string

const (
	NoteNewChat     NotificationKind = "NEW_CHAT"
	NoteNewMessage  NotificationKind = "NEW_MESSAGE"
	NoteMessage     NotificationKind = "MESSAGE" // standing unread marker
	NoteMessageRead NotificationKind = "MESSAGE_READ"
	NoteFriendReq   NotificationKind = "FRIEND_REQUEST"
	NoteFriendOK    NotificationKind = "FRIEND_ACCEPTED"
	// NoteRefreshUser is internal: it tells the target's connection to
	// re-fetch and push the profile. It never appears on the wire.
	NoteRefreshUser NotificationKind = "REFRESH_USER"
)

// Notification is a domain event. Immutable once constructed; its ID is the
// dedup key wherever it is persisted.
type Notification struct {
	ID      uuid.UUID        `json:"id"`
	Kind    NotificationKind `json:"kind"`
	Chat    *Chat            `json:"chat,omitempty"`
	ChatID  uuid.UUID        `json:"chat_id,omitempty"`
	Message *Message         `json:"message,omitempty"`
	From    uuid.UUID        `json:"from,omitempty"`
	To      uuid.UUID        `json:"to,omitempty"`
}

// NewNotification constructs a notification with a fresh id.
func NewNotification(kind NotificationKind) Notification {
	return Notification{ID: uuid.New(), Kind: kind}
}

// ResponseStatus tags a Response.
type ResponseStatus string

const (
	StatusOK        ResponseStatus = "OK"
	StatusOKSession ResponseStatus = "OK_SESSION"
	StatusOKQuery   ResponseStatus = "OK_QUERY"
	StatusErr       ResponseStatus = "ERR"
)

// Response answers a prior envelope. Its enclosing envelope reuses the
// answered envelope's id.
type Response struct {
	Status  ResponseStatus `json:"status"`
	Error   string         `json:"error,omitempty"`
	Session *Session       `json:"session,omitempty"`
	Query   *Query         `json:"query,omitempty"`
}

// User is a profile as seen by clients. Friends are populated only on the
// owner's own profile; lookups return stripped entries.
type User struct {
	ID      uuid.UUID `json:"id"`
	Tag     string    `json:"tag"`
	Email   string    `json:"email,omitempty"`
	Friends []User    `json:"friends,omitempty"`
}

// Chat is a conversation. Membership is fixed at creation.
type Chat struct {
	ID      uuid.UUID   `json:"id"`
	Tag     string      `json:"tag"`
	Members []uuid.UUID `json:"members"`
}

// HasMember reports whether id is a member of the chat.
func (c Chat) HasMember(id uuid.UUID) bool {
	for _, m := range c.Members {
		if m == id {
			return true
		}
	}
	return false
}

// Message is one chat message.
type Message struct {
	ID        uuid.UUID `json:"id"`
	ChatID    uuid.UUID `json:"chat_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
