package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mithas/cmd/internal/ids"
)

// PostgresLog is a MessageLog backed by PostgreSQL.
//
// Ownership model:
// - PostgresLog does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Message ids are ULIDs minted at append time, so lexicographic id order
// matches creation order without a sequence column.
type PostgresLog struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresLog constructs a Postgres-backed MessageLog.
func NewPostgresLog(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresLog, error) {
	if pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	cfg, err := applyPGOptions(opts)
	if err != nil {
		return nil, err
	}
	return &PostgresLog{pool: pool, schema: cfg.schema}, nil
}

// Close is a no-op because the pool is owned by the caller.
func (l *PostgresLog) Close() error { return nil }

const messageColumns = `id, conversation_id, sender_id, content, kind, media_url, is_read, created_at, updated_at`

// Append persists a new message.
func (l *PostgresLog) Append(ctx context.Context, in AppendInput) (Message, error) {
	if l == nil || l.pool == nil {
		return Message{}, errors.New("chat: nil log")
	}
	if in.ConversationID == "" || in.SenderID == "" {
		return Message{}, errors.New("chat: invalid append input")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	kind := in.Kind
	if kind == "" {
		kind = KindText
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Message{}, fmt.Errorf("mint message id: %w", err)
	}

	table := pgIdent(l.schema, "messages")

	if _, err := l.pool.Exec(ctx,
		`INSERT INTO `+table+` (
		     id, conversation_id, sender_id, content, kind, media_url, is_read, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $7)`,
		id, in.ConversationID, in.SenderID, in.Content, string(kind), in.MediaURL, now,
	); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	return Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Kind:           kind,
		MediaURL:       in.MediaURL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Get resolves a message id.
func (l *PostgresLog) Get(ctx context.Context, messageID string) (Message, error) {
	if l == nil || l.pool == nil {
		return Message{}, errors.New("chat: nil log")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	table := pgIdent(l.schema, "messages")

	var m Message
	err := l.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+table+` WHERE id = $1`,
		messageID,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Kind, &m.MediaURL, &m.IsRead, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// MarkRead flips the read flag. The sender may not read their own message.
func (l *PostgresLog) MarkRead(ctx context.Context, messageID, readerID string) (Message, error) {
	if l == nil || l.pool == nil {
		return Message{}, errors.New("chat: nil log")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	table := pgIdent(l.schema, "messages")

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var m Message
	err = tx.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+table+` WHERE id = $1 FOR UPDATE`,
		messageID,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Kind, &m.MediaURL, &m.IsRead, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		return Message{}, err
	}
	if m.SenderID == readerID {
		return Message{}, ErrForbidden
	}

	if !m.IsRead {
		now := time.Now().UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE `+table+` SET is_read = TRUE, updated_at = $2 WHERE id = $1`,
			messageID, now,
		); err != nil {
			return Message{}, err
		}
		m.IsRead = true
		m.UpdatedAt = now
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return m, nil
}

// List returns a history window ordered newest-first, optionally restricted
// to messages created strictly before a given instant.
func (l *PostgresLog) List(ctx context.Context, in ListInput) ([]Message, error) {
	if l == nil || l.pool == nil {
		return nil, errors.New("chat: nil log")
	}
	if in.ConversationID == "" {
		return nil, errors.New("chat: missing conversation id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	table := pgIdent(l.schema, "messages")

	var (
		rows pgx.Rows
		err  error
	)
	if in.Before == nil {
		rows, err = l.pool.Query(ctx,
			`SELECT `+messageColumns+`
			   FROM `+table+`
			  WHERE conversation_id = $1
			  ORDER BY created_at DESC, id DESC
			  LIMIT $2`,
			in.ConversationID, limit,
		)
	} else {
		rows, err = l.pool.Query(ctx,
			`SELECT `+messageColumns+`
			   FROM `+table+`
			  WHERE conversation_id = $1 AND created_at < $2
			  ORDER BY created_at DESC, id DESC
			  LIMIT $3`,
			in.ConversationID, in.Before.UTC(), limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Kind, &m.MediaURL, &m.IsRead, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UnreadCount counts unread messages in the conversation sent by the other
// party.
func (l *PostgresLog) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	if l == nil || l.pool == nil {
		return 0, errors.New("chat: nil log")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	table := pgIdent(l.schema, "messages")

	var n int64
	err := l.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+table+`
		  WHERE conversation_id = $1 AND sender_id <> $2 AND NOT is_read`,
		conversationID, userID,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
