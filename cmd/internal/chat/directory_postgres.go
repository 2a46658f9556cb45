package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory is a ConversationDirectory backed by PostgreSQL.
//
// Ownership model:
// - PostgresDirectory does NOT own the pgx pool. The caller must close it.
//
// Uniqueness of the unordered pair is enforced by the table's unique
// constraint on (participant_a, participant_b) together with canonical
// ordering, so concurrent FindOrCreate calls for the same pair converge on
// one row.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresDirectory constructs a Postgres-backed ConversationDirectory.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	if pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	cfg, err := applyPGOptions(opts)
	if err != nil {
		return nil, err
	}
	return &PostgresDirectory{pool: pool, schema: cfg.schema}, nil
}

const conversationColumns = `id, participant_a, participant_b, last_message_at, created_at`

// FindOrCreate returns the conversation for the unordered pair, creating it
// on first contact.
func (d *PostgresDirectory) FindOrCreate(ctx context.Context, participantA, participantB string) (Conversation, error) {
	if d == nil || d.pool == nil {
		return Conversation{}, errors.New("chat: nil directory")
	}
	lo, hi, err := CanonicalPair(participantA, participantB)
	if err != nil {
		return Conversation{}, err
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	table := pgIdent(d.schema, "conversations")

	// Losing the conflict race is fine: the SELECT below picks up the
	// winner's row.
	if _, err := d.pool.Exec(ctx,
		`INSERT INTO `+table+` (id, participant_a, participant_b, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (participant_a, participant_b) DO NOTHING`,
		uuid.NewString(), lo, hi, time.Now().UTC(),
	); err != nil {
		return Conversation{}, err
	}

	var c Conversation
	err = d.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+`
		   FROM `+table+`
		  WHERE participant_a = $1 AND participant_b = $2`,
		lo, hi,
	).Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.LastMessageAt, &c.CreatedAt)
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// Get resolves a conversation id.
func (d *PostgresDirectory) Get(ctx context.Context, conversationID string) (Conversation, error) {
	if d == nil || d.pool == nil {
		return Conversation{}, errors.New("chat: nil directory")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	table := pgIdent(d.schema, "conversations")

	var c Conversation
	err := d.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM `+table+` WHERE id = $1`,
		conversationID,
	).Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.LastMessageAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// IsParticipant reports whether userID belongs to the conversation. Unknown
// conversations report false without error.
func (d *PostgresDirectory) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if d == nil || d.pool == nil {
		return false, errors.New("chat: nil directory")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	table := pgIdent(d.schema, "conversations")

	var ok bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM `+table+`
		    WHERE id = $1 AND (participant_a = $2 OR participant_b = $2)
		 )`,
		conversationID, userID,
	).Scan(&ok)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// TouchLastMessage bumps last_message_at, never moving it backwards.
func (d *PostgresDirectory) TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error {
	if d == nil || d.pool == nil {
		return errors.New("chat: nil directory")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	table := pgIdent(d.schema, "conversations")

	// Zero affected rows means either an unknown conversation or a newer
	// timestamp already recorded; both are harmless here.
	_, err := d.pool.Exec(ctx,
		`UPDATE `+table+`
		    SET last_message_at = $2
		  WHERE id = $1
		    AND (last_message_at IS NULL OR last_message_at < $2)`,
		conversationID, at.UTC(),
	)
	return err
}

// ListByParticipant returns all conversations the user belongs to, most
// recent activity first.
func (d *PostgresDirectory) ListByParticipant(ctx context.Context, userID string) ([]Conversation, error) {
	if d == nil || d.pool == nil {
		return nil, errors.New("chat: nil directory")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	table := pgIdent(d.schema, "conversations")

	rows, err := d.pool.Query(ctx,
		`SELECT `+conversationColumns+`
		   FROM `+table+`
		  WHERE participant_a = $1 OR participant_b = $1
		  ORDER BY COALESCE(last_message_at, created_at) DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Conversation, 0, 16)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.LastMessageAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
