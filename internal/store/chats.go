package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Cunha-Renato/yapping-server/internal/proto"
)

// CreateChat inserts a chat and its member set in one transaction.
// Membership is fixed at creation.
func (s *Store) CreateChat(ctx context.Context, chat proto.Chat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO chats (id, tag) VALUES ($1, $2)", chat.ID, chat.Tag); err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	for _, member := range chat.Members {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)",
			chat.ID, member); err != nil {
			return fmt.Errorf("create chat member: %w", err)
		}
	}
	return tx.Commit()
}

// FetchChat returns a chat with its members.
func (s *Store) FetchChat(ctx context.Context, id uuid.UUID) (proto.Chat, error) {
	var chat proto.Chat
	err := s.db.QueryRowContext(ctx,
		"SELECT id, tag FROM chats WHERE id = $1", id).Scan(&chat.ID, &chat.Tag)
	if errors.Is(err, sql.ErrNoRows) {
		return proto.Chat{}, ErrNotFound
	}
	if err != nil {
		return proto.Chat{}, err
	}

	chat.Members, err = s.chatMembers(ctx, id)
	if err != nil {
		return proto.Chat{}, err
	}
	return chat, nil
}

func (s *Store) chatMembers(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM chat_members WHERE chat_id = $1 ORDER BY user_id", chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []uuid.UUID
	for rows.Next() {
		var m uuid.UUID
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// FetchUserChats returns every chat the user is a member of, members
// included.
func (s *Store) FetchUserChats(ctx context.Context, user uuid.UUID) ([]proto.Chat, error) {
	query := `
        SELECT c.id, c.tag
        FROM chats c
        JOIN chat_members m ON m.chat_id = c.id
        WHERE m.user_id = $1
        ORDER BY c.created_at
    `
	rows, err := s.db.QueryContext(ctx, query, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []proto.Chat
	for rows.Next() {
		var c proto.Chat
		if err := rows.Scan(&c.ID, &c.Tag); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range chats {
		if chats[i].Members, err = s.chatMembers(ctx, chats[i].ID); err != nil {
			return nil, err
		}
	}
	return chats, nil
}

// RemoveChat deletes a chat; members and messages cascade.
func (s *Store) RemoveChat(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id = $1", id); err != nil {
		return fmt.Errorf("remove chat: %w", err)
	}
	return nil
}

// InsertMessage persists one chat message.
func (s *Store) InsertMessage(ctx context.Context, msg proto.Message) error {
	query := "INSERT INTO messages (id, chat_id, sender_id, content) VALUES ($1, $2, $3, $4)"
	if _, err := s.db.ExecContext(ctx, query, msg.ID, msg.ChatID, msg.SenderID, msg.Content); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ChatMessages returns a chat's messages in send order.
func (s *Store) ChatMessages(ctx context.Context, chatID uuid.UUID) ([]proto.Message, error) {
	query := `
        SELECT id, chat_id, sender_id, content, created_at
        FROM messages
        WHERE chat_id = $1
        ORDER BY created_at
    `
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []proto.Message
	for rows.Next() {
		var m proto.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
