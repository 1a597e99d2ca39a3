package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/store"
)

var _ store.Gateway = (*Gateway)(nil)

// Gateway implements store.Gateway against the api schema.
type Gateway struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewGateway wraps an existing pool.
func NewGateway(pool *pgxpool.Pool, logger zerolog.Logger) *Gateway {
	return &Gateway{pool: pool, logger: logger}
}

// Open creates a pool from cfg, optionally applies migrations, and returns
// the gateway. Close releases the pool.
func Open(ctx context.Context, cfg *PoolConfig, migrate bool, logger zerolog.Logger) (*Gateway, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if migrate {
		if err := runMigrations(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return NewGateway(pool, logger), nil
}

// Close releases the underlying pool.
func (g *Gateway) Close() {
	g.pool.Close()
}

// GetUser implements store.Gateway.
func (g *Gateway) GetUser(ctx context.Context, userID int64) (*store.User, error) {
	query := `SELECT id, name, email FROM api.users WHERE id = $1`

	var u store.User
	err := g.pool.QueryRow(ctx, query, userID).Scan(&u.ID, &u.Name, &u.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", mapPostgresError(err))
	}

	return &u, nil
}

// IsMember implements store.Gateway.
func (g *Gateway) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM api.room_members WHERE user_id = $1 AND room_id = $2
		)
	`

	var member bool
	if err := g.pool.QueryRow(ctx, query, userID, roomID).Scan(&member); err != nil {
		return false, fmt.Errorf("failed to check room membership: %w", mapPostgresError(err))
	}

	return member, nil
}

// InsertMessage implements store.Gateway.
func (g *Gateway) InsertMessage(ctx context.Context, roomID, userID int64, text string) (*store.Message, error) {
	query := `
		INSERT INTO api.chat_messages (room_id, user_id, message)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	msg := store.Message{RoomID: roomID, UserID: userID, Text: text}
	if err := g.pool.QueryRow(ctx, query, roomID, userID, text).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", mapPostgresError(err))
	}

	g.logger.Debug().
		Int64("message_id", msg.ID).
		Int64("room_id", roomID).
		Int64("user_id", userID).
		Msg("Inserted chat message")

	return &msg, nil
}

// RecentMessages implements store.Gateway.
func (g *Gateway) RecentMessages(ctx context.Context, roomID int64, limit int) ([]store.Message, error) {
	query := `
		SELECT id, room_id, user_id, user_name, message, created_at
		FROM (
			SELECT m.id, m.room_id, m.user_id, u.name AS user_name, m.message, m.created_at
			FROM api.chat_messages m
			JOIN api.users u ON u.id = m.user_id
			WHERE m.room_id = $1
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`

	rows, err := g.pool.Query(ctx, query, roomID, store.ClampHistoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query room history: %w", mapPostgresError(err))
	}

	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Message, error) {
		var m store.Message
		err := row.Scan(&m.ID, &m.RoomID, &m.UserID, &m.UserName, &m.Text, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read room history: %w", mapPostgresError(err))
	}

	return messages, nil
}
