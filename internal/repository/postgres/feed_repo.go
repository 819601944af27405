package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/nebula/internal/domain"
)

type CallRepo struct {
	pool *pgxpool.Pool
}

func NewCallRepo(pool *pgxpool.Pool) *CallRepo {
	return &CallRepo{pool: pool}
}

const callColumns = `id, user_id, receiver_id, caller_name, caller_avatar_url, type, created_at`

func (r *CallRepo) Create(ctx context.Context, call *domain.CallLog) error {
	query := `
		INSERT INTO calls (id, user_id, receiver_id, caller_name, caller_avatar_url, type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query,
		call.ID, call.UserID, call.ReceiverID, call.CallerName, call.CallerAvatarURL, call.Type, call.CreatedAt,
	)
	return mapErr(err)
}

func scanCall(row pgx.Row) (*domain.CallLog, error) {
	var c domain.CallLog
	if err := row.Scan(&c.ID, &c.UserID, &c.ReceiverID, &c.CallerName, &c.CallerAvatarURL, &c.Type, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CallRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.CallLog, error) {
	call, err := scanCall(r.pool.QueryRow(ctx, "SELECT "+callColumns+" FROM calls WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return call, err
}

func (r *CallRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.CallLog, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+callColumns+" FROM calls WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []domain.CallLog
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *call)
	}
	return calls, rows.Err()
}

type SignalRepo struct {
	pool *pgxpool.Pool
}

func NewSignalRepo(pool *pgxpool.Pool) *SignalRepo {
	return &SignalRepo{pool: pool}
}

const signalSelect = `
	SELECT s.id, s.user_id, s.content, s.type, s.media_url, s.created_at,
		u.username, u.full_name, u.avatar_url
	FROM signals s
	LEFT JOIN profiles u ON u.id = s.user_id`

func (r *SignalRepo) Create(ctx context.Context, signal *domain.Signal) error {
	query := `
		INSERT INTO signals (id, user_id, content, type, media_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		signal.ID, signal.UserID, signal.Content, signal.Type, signal.MediaURL, signal.CreatedAt,
	)
	return mapErr(err)
}

func scanSignal(row pgx.Row) (*domain.Signal, error) {
	var s domain.Signal
	var username *string
	var author domain.SignalAuthor
	if err := row.Scan(
		&s.ID, &s.UserID, &s.Content, &s.Type, &s.MediaURL, &s.CreatedAt,
		&username, &author.FullName, &author.AvatarURL,
	); err != nil {
		return nil, err
	}
	if username != nil {
		author.Username = *username
		s.Author = &author
	}
	return &s, nil
}

func (r *SignalRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Signal, error) {
	sig, err := scanSignal(r.pool.QueryRow(ctx, signalSelect+" WHERE s.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sig, err
}

func (r *SignalRepo) ListRecent(ctx context.Context, limit int) ([]domain.Signal, error) {
	return r.list(ctx, fmt.Sprintf("%s ORDER BY s.created_at DESC LIMIT %d", signalSelect, limit))
}

func (r *SignalRepo) ListMediaByUser(ctx context.Context, userID uuid.UUID) ([]domain.Signal, error) {
	return r.list(ctx, signalSelect+" WHERE s.user_id = $1 AND s.media_url IS NOT NULL ORDER BY s.created_at DESC", userID)
}

func (r *SignalRepo) list(ctx context.Context, query string, args ...any) ([]domain.Signal, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, *sig)
	}
	return signals, rows.Err()
}
