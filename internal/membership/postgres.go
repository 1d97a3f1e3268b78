package membership

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/model"
)

// PostgresRepository implements Repository on a pgx pool. Participant rows
// cascade-delete with their conversation; soft delete only stamps the
// tombstone column.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS participants (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	user_id         TEXT NOT NULL,
	role            TEXT NOT NULL DEFAULT 'member',
	active          BOOLEAN NOT NULL DEFAULT TRUE,
	joined_at       TIMESTAMPTZ NOT NULL,
	last_read_seq   BIGINT NOT NULL DEFAULT 0,
	last_read_at    TIMESTAMPTZ,
	PRIMARY KEY (conversation_id, user_id)
);

CREATE INDEX IF NOT EXISTS participants_user_idx ON participants (user_id) WHERE active;
`

// EnsureSchema creates the tables on startup when they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

func (r *PostgresRepository) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	query := `
		SELECT id, type, created_at, updated_at, deleted_at
		FROM conversations WHERE id = $1
	`
	var c model.Conversation
	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.Type, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepository) Participant(ctx context.Context, conversationID, userID string) (*model.Participant, error) {
	query := `
		SELECT conversation_id, user_id, role, active, joined_at, last_read_seq, COALESCE(last_read_at, 'epoch'::timestamptz)
		FROM participants WHERE conversation_id = $1 AND user_id = $2
	`
	var p model.Participant
	err := r.db.QueryRow(ctx, query, conversationID, userID).Scan(
		&p.ConversationID, &p.UserID, &p.Role, &p.Active, &p.JoinedAt, &p.LastReadSeq, &p.LastReadAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepository) ActiveParticipants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	query := `
		SELECT conversation_id, user_id, role, active, joined_at, last_read_seq, COALESCE(last_read_at, 'epoch'::timestamptz)
		FROM participants WHERE conversation_id = $1 AND active
		ORDER BY joined_at, user_id
	`
	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.Role, &p.Active, &p.JoinedAt, &p.LastReadSeq, &p.LastReadAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateConversation(ctx context.Context, conv *model.Conversation, participants []model.Participant) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO conversations (id, type, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		conv.ID, conv.Type, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return err
	}
	for _, p := range participants {
		_, err = tx.Exec(ctx,
			`INSERT INTO participants (conversation_id, user_id, role, active, joined_at) VALUES ($1, $2, $3, $4, $5)`,
			p.ConversationID, p.UserID, p.Role, p.Active, p.JoinedAt,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) FindDirect(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	query := `
		SELECT c.id, c.type, c.created_at, c.updated_at, c.deleted_at
		FROM conversations c
		JOIN participants pa ON pa.conversation_id = c.id AND pa.user_id = $1
		JOIN participants pb ON pb.conversation_id = c.id AND pb.user_id = $2
		WHERE c.type = 'DIRECT' AND c.deleted_at IS NULL
		LIMIT 1
	`
	var c model.Conversation
	err := r.db.QueryRow(ctx, query, userA, userB).Scan(&c.ID, &c.Type, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepository) UpsertParticipant(ctx context.Context, p *model.Participant) error {
	query := `
		INSERT INTO participants (conversation_id, user_id, role, active, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET active = EXCLUDED.active
	`
	_, err := r.db.Exec(ctx, query, p.ConversationID, p.UserID, p.Role, p.Active, p.JoinedAt)
	return err
}

func (r *PostgresRepository) SetActive(ctx context.Context, conversationID, userID string, active bool) error {
	_, err := r.db.Exec(ctx,
		`UPDATE participants SET active = $3 WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID, active,
	)
	return err
}

func (r *PostgresRepository) SetLastRead(ctx context.Context, conversationID, userID string, seq int64, at time.Time) error {
	// only move the frontier forward
	_, err := r.db.Exec(ctx, `
		UPDATE participants SET last_read_seq = $3, last_read_at = $4
		WHERE conversation_id = $1 AND user_id = $2 AND last_read_seq < $3
	`, conversationID, userID, seq, at)
	return err
}

func (r *PostgresRepository) ConversationsForUser(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT c.id FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1 AND p.active AND c.deleted_at IS NULL
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, conversationID string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE conversations SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		conversationID, at,
	)
	return err
}

func (r *PostgresRepository) ListConversationIDs(ctx context.Context, onlyActive bool) ([]string, error) {
	query := `SELECT id FROM conversations`
	if onlyActive {
		query += ` WHERE deleted_at IS NULL`
	}
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM conversations WHERE deleted_at IS NOT NULL AND deleted_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) HardDelete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	// participants cascade with the conversation row
	_, err := r.db.Exec(ctx, `DELETE FROM conversations WHERE id = ANY($1)`, ids)
	return err
}
