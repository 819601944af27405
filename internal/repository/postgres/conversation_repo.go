package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/nebula/internal/domain"
)

const conversationColumns = `c.id, c.name, c.is_group, c.avatar_url, c.created_by, c.created_at, c.updated_at`

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

func (r *ConversationRepo) Create(ctx context.Context, conv *domain.Conversation) error {
	query := `
		INSERT INTO conversations (id, name, is_group, avatar_url, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query,
		conv.ID, conv.Name, conv.IsGroup, conv.AvatarURL, conv.CreatedBy, conv.CreatedAt, conv.UpdatedAt,
	)
	return mapErr(err)
}

func (r *ConversationRepo) AddParticipants(ctx context.Context, participants []domain.Participant) error {
	batch := &pgx.Batch{}
	for _, p := range participants {
		batch.Queue(`
			INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at, last_read_at)
			VALUES ($1, $2, $3, $4, $5)`,
			p.ConversationID, p.UserID, p.Role, p.JoinedAt, p.LastReadAt,
		)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return mapErr(err)
	}
	return tx.Commit(ctx)
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	conv, err := scanConversation(r.pool.QueryRow(ctx, "SELECT "+conversationColumns+" FROM conversations c WHERE c.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return conv, err
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := row.Scan(&c.ID, &c.Name, &c.IsGroup, &c.AvatarURL, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.created_at`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

func (r *ConversationRepo) ListParticipants(ctx context.Context, conversationIDs []uuid.UUID) ([]domain.ParticipantProfile, error) {
	query := `
		SELECT p.conversation_id, p.user_id, p.role, p.joined_at, p.last_read_at,
			u.id, u.username, u.full_name, u.avatar_url, u.bio, u.is_online, u.last_seen, u.created_at, u.updated_at
		FROM conversation_participants p
		JOIN profiles u ON u.id = p.user_id
		WHERE p.conversation_id = ANY($1::uuid[])
		ORDER BY p.joined_at, u.username`

	rows, err := r.pool.Query(ctx, query, idStrings(conversationIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ParticipantProfile
	for rows.Next() {
		var pp domain.ParticipantProfile
		if err := rows.Scan(
			&pp.ConversationID, &pp.UserID, &pp.Role, &pp.JoinedAt, &pp.LastReadAt,
			&pp.Profile.ID, &pp.Profile.Username, &pp.Profile.FullName, &pp.Profile.AvatarURL, &pp.Profile.Bio,
			&pp.Profile.IsOnline, &pp.Profile.LastSeen, &pp.Profile.CreatedAt, &pp.Profile.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, pp)
	}
	return out, rows.Err()
}

func (r *ConversationRepo) FindDirect(ctx context.Context, userID, otherUserID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations c
		JOIN conversation_participants a ON a.conversation_id = c.id AND a.user_id = $1
		JOIN conversation_participants b ON b.conversation_id = c.id AND b.user_id = $2
		WHERE NOT c.is_group
		ORDER BY c.created_at
		LIMIT 1`
	conv, err := scanConversation(r.pool.QueryRow(ctx, query, userID, otherUserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return conv, err
}

func (r *ConversationRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE conversations SET updated_at = $2 WHERE id = $1`, id, at)
	return err
}

func (r *ConversationRepo) UpdateLastRead(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE conversation_participants SET last_read_at = $3 WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID, at,
	)
	return err
}

// Delete relies on ON DELETE CASCADE for participants, messages and receipts.
func (r *ConversationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return err
}
