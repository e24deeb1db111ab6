package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Cunha-Renato/yapping-server/internal/proto"
)

// InsertNotification persists a standing notification for a recipient.
func (s *Store) InsertNotification(ctx context.Context, recipient uuid.UUID, n proto.Notification) error {
	query := `
        INSERT INTO notifications (id, user_id, kind, sender_id, chat_id)
        VALUES ($1, $2, $3, $4, $5)
    `
	if _, err := s.db.ExecContext(ctx, query,
		n.ID, recipient, string(n.Kind), nullableID(n.From), nullableID(n.ChatID)); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// InsertUniqueNotification persists a standing notification unless the
// recipient already holds one of the same kind from the same sender. The
// existing record, and its id, survive.
func (s *Store) InsertUniqueNotification(ctx context.Context, recipient uuid.UUID, n proto.Notification) error {
	query := `
        INSERT INTO notifications (id, user_id, kind, sender_id, chat_id)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (user_id, kind, sender_id) DO NOTHING
    `
	if _, err := s.db.ExecContext(ctx, query,
		n.ID, recipient, string(n.Kind), nullableID(n.From), nullableID(n.ChatID)); err != nil {
		return fmt.Errorf("insert unique notification: %w", err)
	}
	return nil
}

// RemoveStanding deletes the recipient's standing notification of one kind
// from one sender. This is how an accepted friend request is cleared: the
// acceptance carries a fresh id, so the record is addressed by its key.
func (s *Store) RemoveStanding(ctx context.Context, recipient uuid.UUID, kind proto.NotificationKind, sender uuid.UUID) error {
	query := "DELETE FROM notifications WHERE user_id = $1 AND kind = $2 AND sender_id = $3"
	if _, err := s.db.ExecContext(ctx, query,
		recipient, string(kind), sender); err != nil {
		return fmt.Errorf("remove standing notification: %w", err)
	}
	return nil
}

// RemoveChatMarkers deletes the recipient's unread-message markers for one
// chat.
func (s *Store) RemoveChatMarkers(ctx context.Context, recipient, chatID uuid.UUID) error {
	query := "DELETE FROM notifications WHERE user_id = $1 AND kind = $2 AND chat_id = $3"
	if _, err := s.db.ExecContext(ctx, query,
		recipient, string(proto.NoteMessage), chatID); err != nil {
		return fmt.Errorf("remove chat markers: %w", err)
	}
	return nil
}

// UserNotifications returns every standing notification for a recipient,
// oldest first.
func (s *Store) UserNotifications(ctx context.Context, recipient uuid.UUID) ([]proto.Notification, error) {
	return s.notifications(ctx,
		"SELECT id, kind, sender_id, chat_id FROM notifications WHERE user_id = $1 ORDER BY created_at",
		recipient)
}

// FriendRequests returns the recipient's pending friend requests.
func (s *Store) FriendRequests(ctx context.Context, recipient uuid.UUID) ([]proto.Notification, error) {
	return s.notifications(ctx,
		"SELECT id, kind, sender_id, chat_id FROM notifications WHERE user_id = $1 AND kind = $2 ORDER BY created_at",
		recipient, string(proto.NoteFriendReq))
}

func (s *Store) notifications(ctx context.Context, query string, args ...any) ([]proto.Notification, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []proto.Notification
	for rows.Next() {
		var (
			n      proto.Notification
			kind   string
			sender uuid.NullUUID
			chat   uuid.NullUUID
		)
		if err := rows.Scan(&n.ID, &kind, &sender, &chat); err != nil {
			return nil, err
		}
		n.Kind = proto.NotificationKind(kind)
		if sender.Valid {
			n.From = sender.UUID
		}
		if chat.Valid {
			n.ChatID = chat.UUID
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func nullableID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
