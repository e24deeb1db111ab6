package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Cunha-Renato/yapping-server/internal/proto"
)

// dispatchSession handles LOGIN, SIGN_UP and TOKEN resume. On success the
// identity is bound and the user registered online; on failure identity
// stays unset and the client gets an Err response.
func (a *Actor) dispatchSession(ctx context.Context, env proto.Envelope) *proto.Envelope {
	req := env.Session

	var (
		user  proto.User
		token string
		err   error
	)
	switch req.Action {
	case proto.SessionLogin:
		if req.Credentials == nil {
			return errResponse(env.ID, errors.New("missing credentials"))
		}
		user, token, err = a.auth.Login(ctx, *req.Credentials)
	case proto.SessionSignUp:
		if req.Credentials == nil {
			return errResponse(env.ID, errors.New("missing credentials"))
		}
		user, token, err = a.auth.SignUp(ctx, *req.Credentials)
	case proto.SessionToken:
		user, token, err = a.auth.Resume(ctx, req.Token)
	default:
		err = fmt.Errorf("unknown session action %q", req.Action)
	}
	if err != nil {
		return errResponse(env.ID, err)
	}

	a.identity = user.ID
	a.token = token

	chats, err := a.store.FetchUserChats(ctx, a.identity)
	if err != nil {
		a.log.Error("fetch chats on login failed", zap.Error(err))
		chats = nil
	}
	chatIDs := make([]uuid.UUID, 0, len(chats))
	for _, c := range chats {
		chatIDs = append(chatIDs, c.ID)
	}
	a.router.RegisterOnline(a.identity, chatIDs, a.mailbox)

	// Standing notifications (unread markers, pending friend requests) are
	// queued for delivery on the next tick, after the session response.
	standing, err := a.store.UserNotifications(ctx, a.identity)
	if err != nil {
		a.log.Error("fetch standing notifications failed", zap.Error(err))
	}
	for _, n := range standing {
		a.mailbox.TrySend(n)
	}

	return &proto.Envelope{ID: env.ID, Kind: proto.KindResponse, Response: &proto.Response{
		Status:  proto.StatusOKSession,
		Session: &proto.Session{Action: proto.SessionToken, Token: token, User: &user},
	}}
}

// dispatchQuery serves read-only lookups. Everything is identity-gated, and
// a chat's messages are only returned to members.
func (a *Actor) dispatchQuery(ctx context.Context, env proto.Envelope) *proto.Envelope {
	if a.identity == uuid.Nil {
		return errResponse(env.ID, ErrNotLoggedIn)
	}
	req := env.Query

	result := &proto.Query{}
	var err error
	switch req.Kind {
	case proto.QueryUsersByTag:
		result.Kind = proto.QueryResultUsers
		result.Users, err = a.store.UsersByTag(ctx, req.Tags)
	case proto.QueryUsersContainsTag:
		result.Kind = proto.QueryResultUsers
		if len(req.Tags) == 0 {
			err = errors.New("missing tag")
			break
		}
		result.Users, err = a.store.UsersContainingTag(ctx, req.Tags[0])
	case proto.QueryUsersByID:
		result.Kind = proto.QueryResultUsers
		result.Users, err = a.store.UsersByID(ctx, req.IDs)
	case proto.QueryFriendRequests:
		result.Kind = proto.QueryResultFriendRequests
		result.Requests, err = a.store.FriendRequests(ctx, a.identity)
	case proto.QueryUserChats:
		result.Kind = proto.QueryResultChats
		result.Chats, err = a.store.FetchUserChats(ctx, a.identity)
	case proto.QueryChatMessages:
		result.Kind = proto.QueryResultMessages
		var chat proto.Chat
		if chat, err = a.store.FetchChat(ctx, req.ChatID); err != nil {
			break
		}
		if !chat.HasMember(a.identity) {
			err = errors.New("user is not a member of the chat")
			break
		}
		result.Messages, err = a.store.ChatMessages(ctx, req.ChatID)
	default:
		err = fmt.Errorf("invalid query %q", req.Kind)
	}
	if err != nil {
		return errResponse(env.ID, err)
	}

	return &proto.Envelope{ID: env.ID, Kind: proto.KindResponse, Response: &proto.Response{
		Status: proto.StatusOKQuery,
		Query:  result,
	}}
}

// dispatchNotification persists a notification's side effects, then
// forwards it to the router so online peers see the live event. Forwarding
// happens even when persistence changed nothing, but never when the caller
// was not entitled to send the notification in the first place.
func (a *Actor) dispatchNotification(ctx context.Context, env proto.Envelope) *proto.Envelope {
	if a.identity == uuid.Nil {
		return errResponse(env.ID, ErrNotLoggedIn)
	}
	n := *env.Notification

	forward := false
	switch n.Kind {
	case proto.NoteNewChat:
		if n.Chat == nil {
			return errResponse(env.ID, errors.New("missing chat"))
		}
		// A chat may only be created by one of its members, between users
		// who are already mutually friends. Anything else is dropped
		// without complaint.
		ok, err := a.canCreateChat(ctx, *n.Chat)
		if err != nil {
			return errResponse(env.ID, err)
		}
		if ok {
			if err := a.store.CreateChat(ctx, *n.Chat); err != nil {
				return errResponse(env.ID, err)
			}
			forward = true
		}

	case proto.NoteNewMessage:
		if n.Message == nil {
			return errResponse(env.ID, errors.New("missing message"))
		}
		chat, err := a.store.FetchChat(ctx, n.ChatID)
		if err != nil {
			return errResponse(env.ID, err)
		}
		if chat.HasMember(a.identity) {
			if err := a.persistMessage(ctx, chat, *n.Message); err != nil {
				return errResponse(env.ID, err)
			}
			forward = true
		}

	case proto.NoteMessageRead:
		// Local to the caller: clears their unread markers, routed to
		// nobody.
		if err := a.store.RemoveChatMarkers(ctx, a.identity, n.ChatID); err != nil {
			a.log.Error("clear chat markers failed", zap.Error(err))
		}

	case proto.NoteFriendReq:
		if a.identity == n.From {
			if err := a.store.InsertUniqueNotification(ctx, n.To, n); err != nil {
				return errResponse(env.ID, err)
			}
			forward = true
		}

	case proto.NoteFriendOK:
		if a.identity == n.From {
			// The standing request this acceptance answers goes away, and
			// the edge is added symmetrically. Both writes are idempotent,
			// so a replayed acceptance is harmless. The request is keyed by
			// (recipient, kind, sender): the acceptance carries its own id,
			// not the stored request's.
			if err := a.store.RemoveStanding(ctx, a.identity, proto.NoteFriendReq, n.To); err != nil {
				a.log.Error("remove accepted request failed", zap.Error(err))
			}
			if err := a.store.AddFriend(ctx, a.identity, n.To); err != nil {
				return errResponse(env.ID, err)
			}
			// Both sides gained a friend; their profiles refresh on their
			// next tick, keeping this dispatch to one outbound response.
			a.router.Refresh(a.identity)
			a.router.Refresh(n.To)
			forward = true
		}

	default:
		// No persistence rule; still forwarded so peers can react.
		forward = true
	}

	if forward {
		a.router.Route(ctx, n)
	}
	return okResponse(env.ID)
}

// canCreateChat verifies the caller is a member and every other member is
// already the caller's friend.
func (a *Actor) canCreateChat(ctx context.Context, chat proto.Chat) (bool, error) {
	if !chat.HasMember(a.identity) {
		return false, nil
	}
	profile, err := a.store.FetchProfile(ctx, a.identity)
	if err != nil {
		return false, err
	}
	friends := make(map[uuid.UUID]struct{}, len(profile.Friends))
	for _, f := range profile.Friends {
		friends[f.ID] = struct{}{}
	}
	for _, member := range chat.Members {
		if member == a.identity {
			continue
		}
		if _, ok := friends[member]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// persistMessage stores the message once and fans a standing unread marker
// out to every other member.
func (a *Actor) persistMessage(ctx context.Context, chat proto.Chat, msg proto.Message) error {
	if err := a.store.InsertMessage(ctx, msg); err != nil {
		return err
	}
	for _, member := range chat.Members {
		if member == a.identity {
			continue
		}
		marker := proto.NewNotification(proto.NoteMessage)
		marker.ChatID = chat.ID
		if err := a.store.InsertNotification(ctx, member, marker); err != nil {
			return err
		}
	}
	return nil
}

// dispatchModification handles profile mutations and relationship removal.
func (a *Actor) dispatchModification(ctx context.Context, env proto.Envelope) *proto.Envelope {
	if a.identity == uuid.Nil {
		return errResponse(env.ID, ErrNotLoggedIn)
	}
	req := env.Modification

	switch req.Kind {
	case proto.ModRemoveFriend:
		if err := a.removeFriend(ctx, req.FriendID); err != nil {
			return errResponse(env.ID, err)
		}

	case proto.ModUserTag:
		if req.UserID != a.identity {
			return errResponse(env.ID, errors.New("cannot change another user's tag"))
		}
		if err := a.changeTag(ctx, req.NewTag); err != nil {
			return errResponse(env.ID, err)
		}

	default:
		return errResponse(env.ID, fmt.Errorf("invalid modification %q", req.Kind))
	}
	return okResponse(env.ID)
}

// removeFriend tears the relationship down symmetrically, removes any
// shared chats, and forces the ex-friend to refresh.
func (a *Actor) removeFriend(ctx context.Context, friendID uuid.UUID) error {
	if err := a.store.RemoveFriend(ctx, a.identity, friendID); err != nil {
		return err
	}
	chats, err := a.store.FetchUserChats(ctx, a.identity)
	if err != nil {
		return err
	}
	for _, chat := range chats {
		if chat.HasMember(friendID) {
			if err := a.store.RemoveChat(ctx, chat.ID); err != nil {
				return err
			}
		}
	}
	a.pushProfile(ctx)
	a.router.Refresh(friendID)
	return nil
}

// changeTag renames the caller and refreshes everyone who can see the tag.
func (a *Actor) changeTag(ctx context.Context, newTag string) error {
	if err := a.store.ChangeTag(ctx, a.identity, newTag); err != nil {
		return err
	}
	profile, err := a.store.FetchProfile(ctx, a.identity)
	if err != nil {
		return err
	}
	a.pushProfile(ctx)
	for _, friend := range profile.Friends {
		a.router.Refresh(friend.ID)
	}
	return nil
}
