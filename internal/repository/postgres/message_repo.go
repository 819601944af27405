package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/nebula/internal/domain"
)

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.content, m.message_type, m.media_url,
	m.reply_to, m.is_edited, m.is_deleted, m.created_at, m.updated_at`

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, message_type, media_url, reply_to,
			is_edited, is_deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.Type, msg.MediaURL, msg.ReplyTo,
		msg.IsEdited, msg.IsDeleted, msg.CreatedAt, msg.UpdatedAt,
	)
	return mapErr(err)
}

func scanMessage(row pgx.Row, extra ...any) (*domain.Message, error) {
	var m domain.Message
	dest := []any{
		&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type, &m.MediaURL,
		&m.ReplyTo, &m.IsEdited, &m.IsDeleted, &m.CreatedAt, &m.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &m, nil
}

// senderJoin selects the sender profile columns, nullable because the
// profile row may be gone.
const senderJoin = `
	u.id, u.username, u.full_name, u.avatar_url, u.bio, u.is_online, u.last_seen, u.created_at, u.updated_at
	FROM messages m
	LEFT JOIN profiles u ON u.id = m.sender_id`

type nullableProfile struct {
	ID        *uuid.UUID
	Username  *string
	FullName  *string
	AvatarURL *string
	Bio       *string
	IsOnline  *bool
	LastSeen  *time.Time
	CreatedAt *time.Time
	UpdatedAt *time.Time
}

func (n *nullableProfile) dest() []any {
	return []any{&n.ID, &n.Username, &n.FullName, &n.AvatarURL, &n.Bio, &n.IsOnline, &n.LastSeen, &n.CreatedAt, &n.UpdatedAt}
}

func (n *nullableProfile) profile() *domain.Profile {
	if n.ID == nil {
		return nil
	}
	p := &domain.Profile{ID: *n.ID, FullName: n.FullName, AvatarURL: n.AvatarURL, Bio: n.Bio}
	if n.Username != nil {
		p.Username = *n.Username
	}
	if n.IsOnline != nil {
		p.IsOnline = *n.IsOnline
	}
	if n.LastSeen != nil {
		p.LastSeen = *n.LastSeen
	}
	if n.CreatedAt != nil {
		p.CreatedAt = *n.CreatedAt
	}
	if n.UpdatedAt != nil {
		p.UpdatedAt = *n.UpdatedAt
	}
	return p
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.MessageWithSender, error) {
	var sender nullableProfile
	msg, err := scanMessage(r.pool.QueryRow(ctx, "SELECT "+messageColumns+","+senderJoin+" WHERE m.id = $1", id), sender.dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := &domain.MessageWithSender{Message: *msg, Sender: sender.profile()}
	reads, err := r.reads(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	out.Reads = reads[id]
	return out, nil
}

func (r *MessageRepo) List(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]domain.MessageWithSender, error) {
	query := fmt.Sprintf(`
		SELECT %s, %s
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC
		LIMIT %d OFFSET %d`, messageColumns, senderJoin, limit, offset)

	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.MessageWithSender
	var ids []uuid.UUID
	for rows.Next() {
		var sender nullableProfile
		msg, err := scanMessage(rows, sender.dest()...)
		if err != nil {
			return nil, err
		}
		messages = append(messages, domain.MessageWithSender{Message: *msg, Sender: sender.profile()})
		ids = append(ids, msg.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order (query returns DESC)
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	if len(ids) > 0 {
		reads, err := r.reads(ctx, ids)
		if err != nil {
			return nil, err
		}
		for i := range messages {
			messages[i].Reads = reads[messages[i].ID]
		}
	}
	return messages, nil
}

func (r *MessageRepo) reads(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]domain.MessageRead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT message_id, user_id, read_at FROM message_reads
		WHERE message_id = ANY($1::uuid[])
		ORDER BY read_at`, idStrings(messageIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]domain.MessageRead)
	for rows.Next() {
		var read domain.MessageRead
		if err := rows.Scan(&read.MessageID, &read.UserID, &read.ReadAt); err != nil {
			return nil, err
		}
		out[read.MessageID] = append(out[read.MessageID], read)
	}
	return out, rows.Err()
}

func (r *MessageRepo) LatestByConversation(ctx context.Context, conversationIDs []uuid.UUID) (map[uuid.UUID]domain.Message, error) {
	query := `
		SELECT DISTINCT ON (m.conversation_id) ` + messageColumns + `
		FROM messages m
		WHERE m.conversation_id = ANY($1::uuid[])
		ORDER BY m.conversation_id, m.created_at DESC`

	rows, err := r.pool.Query(ctx, query, idStrings(conversationIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]domain.Message)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out[msg.ConversationID] = *msg
	}
	return out, rows.Err()
}

func (r *MessageRepo) UnreadCounts(ctx context.Context, userID uuid.UUID, conversationIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	query := `
		SELECT m.conversation_id, count(*)
		FROM messages m
		JOIN conversation_participants p ON p.conversation_id = m.conversation_id AND p.user_id = $1
		WHERE m.conversation_id = ANY($2::uuid[])
			AND m.sender_id <> $1
			AND NOT m.is_deleted
			AND m.created_at > p.last_read_at
		GROUP BY m.conversation_id`

	rows, err := r.pool.Query(ctx, query, userID, idStrings(conversationIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (r *MessageRepo) UpdateContent(ctx context.Context, id uuid.UUID, content string, at time.Time) error {
	query := `UPDATE messages SET content = $2, is_edited = true, updated_at = $3 WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, content, at)
	return err
}

func (r *MessageRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE messages SET is_deleted = true, content = NULL, media_url = NULL, updated_at = $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, at)
	return err
}

func (r *MessageRepo) MarkRead(ctx context.Context, read *domain.MessageRead) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_reads (message_id, user_id, read_at) VALUES ($1, $2, $3)`,
		read.MessageID, read.UserID, read.ReadAt,
	)
	return mapErr(err)
}
