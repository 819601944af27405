package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/nebula/internal/domain"
)

const profileColumns = `id, username, full_name, avatar_url, bio, is_online, last_seen, created_at, updated_at`

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func (r *AccountRepo) Create(ctx context.Context, account *domain.Account, profile *domain.Profile) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO profiles (id, username, full_name, avatar_url, bio, is_online, last_seen, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		profile.ID, profile.Username, profile.FullName, profile.AvatarURL, profile.Bio,
		profile.IsOnline, profile.LastSeen, profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return mapErr(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO auth_accounts (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`,
		account.ID, strings.ToLower(account.Email), account.PasswordHash, account.CreatedAt,
	)
	if err != nil {
		return mapErr(err)
	}

	return tx.Commit(ctx)
}

func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	var a domain.Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM auth_accounts WHERE email = $1`,
		strings.ToLower(email),
	).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &a, err
}

type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

func (r *ProfileRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	return r.scanProfile(ctx, "SELECT "+profileColumns+" FROM profiles WHERE id = $1", id)
}

func (r *ProfileRepo) GetByUsername(ctx context.Context, username string) (*domain.Profile, error) {
	return r.scanProfile(ctx, "SELECT "+profileColumns+" FROM profiles WHERE lower(username) = lower($1)", username)
}

func (r *ProfileRepo) scanProfile(ctx context.Context, query string, arg any) (*domain.Profile, error) {
	p, err := scanProfileRow(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func scanProfileRow(row pgx.Row) (*domain.Profile, error) {
	var p domain.Profile
	err := row.Scan(
		&p.ID, &p.Username, &p.FullName, &p.AvatarURL, &p.Bio,
		&p.IsOnline, &p.LastSeen, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProfileRepo) Search(ctx context.Context, query string, limit int) ([]domain.Profile, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM profiles
		WHERE username ILIKE $1 OR full_name ILIKE $1
		ORDER BY username
		LIMIT %d`, profileColumns, limit), pattern)
	if err != nil {
		return nil, err
	}
	return collectProfiles(rows)
}

func (r *ProfileRepo) ListOnline(ctx context.Context) ([]domain.Profile, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+profileColumns+" FROM profiles WHERE is_online ORDER BY username")
	if err != nil {
		return nil, err
	}
	return collectProfiles(rows)
}

func collectProfiles(rows pgx.Rows) ([]domain.Profile, error) {
	defer rows.Close()

	var profiles []domain.Profile
	for rows.Next() {
		p, err := scanProfileRow(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

func (r *ProfileRepo) Update(ctx context.Context, id uuid.UUID, update domain.ProfileUpdate, at time.Time) error {
	query := `
		UPDATE profiles SET
			username = COALESCE($2, username),
			full_name = COALESCE($3, full_name),
			avatar_url = COALESCE($4, avatar_url),
			bio = COALESCE($5, bio),
			updated_at = $6
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, update.Username, update.FullName, update.AvatarURL, update.Bio, at)
	return mapErr(err)
}

func (r *ProfileRepo) SetOnline(ctx context.Context, id uuid.UUID, online bool, lastSeen time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE profiles SET is_online = $2, last_seen = $3 WHERE id = $1`, id, online, lastSeen)
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
