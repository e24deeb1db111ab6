package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Cunha-Renato/yapping-server/internal/proto"
)

// CreateUser inserts a new account with an already-hashed password.
func (s *Store) CreateUser(ctx context.Context, u proto.User, passwordHash string) error {
	query := "INSERT INTO users (id, tag, email, password) VALUES ($1, $2, $3, $4)"
	if _, err := s.db.ExecContext(ctx, query, u.ID, u.Tag, u.Email, passwordHash); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UserByEmail returns the account and its password hash for credential
// checks.
func (s *Store) UserByEmail(ctx context.Context, email string) (proto.User, string, error) {
	var (
		u    proto.User
		hash string
	)
	query := "SELECT id, tag, email, password FROM users WHERE email = $1"
	err := s.db.QueryRowContext(ctx, query, email).Scan(&u.ID, &u.Tag, &u.Email, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return proto.User{}, "", ErrNotFound
	}
	if err != nil {
		return proto.User{}, "", err
	}
	return u, hash, nil
}

// FetchProfile returns the full profile, friends included. Friend entries
// are stripped to id and tag.
func (s *Store) FetchProfile(ctx context.Context, id uuid.UUID) (proto.User, error) {
	var u proto.User
	query := "SELECT id, tag, email FROM users WHERE id = $1"
	err := s.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Tag, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return proto.User{}, ErrNotFound
	}
	if err != nil {
		return proto.User{}, err
	}

	friends, err := s.friendsOf(ctx, id)
	if err != nil {
		return proto.User{}, err
	}
	u.Friends = friends
	return u, nil
}

func (s *Store) friendsOf(ctx context.Context, id uuid.UUID) ([]proto.User, error) {
	query := `
        SELECT u.id, u.tag
        FROM friends f
        JOIN users u ON u.id = f.friend_id
        WHERE f.user_id = $1
        ORDER BY u.tag
    `
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friends []proto.User
	for rows.Next() {
		var f proto.User
		if err := rows.Scan(&f.ID, &f.Tag); err != nil {
			return nil, err
		}
		friends = append(friends, f)
	}
	return friends, rows.Err()
}

// UsersByTag returns the users matching the given tags exactly. Tags that
// match nobody are skipped.
func (s *Store) UsersByTag(ctx context.Context, tags []string) ([]proto.User, error) {
	users := make([]proto.User, 0, len(tags))
	for _, tag := range tags {
		var u proto.User
		err := s.db.QueryRowContext(ctx,
			"SELECT id, tag FROM users WHERE tag = $1", tag).Scan(&u.ID, &u.Tag)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// UsersContainingTag returns users whose tag contains the substring,
// case-insensitive, capped to keep lookups cheap.
func (s *Store) UsersContainingTag(ctx context.Context, tag string) ([]proto.User, error) {
	query := "SELECT id, tag FROM users WHERE tag ILIKE $1 LIMIT 10"
	rows, err := s.db.QueryContext(ctx, query, "%"+tag+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []proto.User
	for rows.Next() {
		var u proto.User
		if err := rows.Scan(&u.ID, &u.Tag); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UsersByID returns stripped profiles for the given ids, skipping unknowns.
func (s *Store) UsersByID(ctx context.Context, ids []uuid.UUID) ([]proto.User, error) {
	users := make([]proto.User, 0, len(ids))
	for _, id := range ids {
		var u proto.User
		err := s.db.QueryRowContext(ctx,
			"SELECT id, tag FROM users WHERE id = $1", id).Scan(&u.ID, &u.Tag)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// AddFriend inserts the symmetric friendship pair. Idempotent: replaying
// the same acceptance does not duplicate the edge.
func (s *Store) AddFriend(ctx context.Context, a, b uuid.UUID) error {
	query := `
        INSERT INTO friends (user_id, friend_id)
        VALUES ($1, $2), ($2, $1)
        ON CONFLICT DO NOTHING
    `
	if _, err := s.db.ExecContext(ctx, query, a, b); err != nil {
		return fmt.Errorf("add friend: %w", err)
	}
	return nil
}

// RemoveFriend deletes both directions of the friendship.
func (s *Store) RemoveFriend(ctx context.Context, a, b uuid.UUID) error {
	query := `
        DELETE FROM friends
        WHERE (user_id = $1 AND friend_id = $2)
           OR (user_id = $2 AND friend_id = $1)
    `
	if _, err := s.db.ExecContext(ctx, query, a, b); err != nil {
		return fmt.Errorf("remove friend: %w", err)
	}
	return nil
}

// ChangeTag renames a user.
func (s *Store) ChangeTag(ctx context.Context, id uuid.UUID, tag string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET tag = $2 WHERE id = $1", id, tag)
	if err != nil {
		return fmt.Errorf("change tag: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
