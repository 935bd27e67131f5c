package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, username, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, user.ID, user.Username, user.Email, user.PasswordHash).Scan(&user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, fmt.Errorf("create user %s: %w", user.Username, ErrConflict)
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.getUser(ctx, `SELECT id, username, email, password_hash, created_at FROM users WHERE username=$1`, username)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.getUser(ctx, `SELECT id, username, email, password_hash, created_at FROM users WHERE id=$1`, userID)
}

func (s *PostgresStore) getUser(ctx context.Context, query, arg string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Progress returns every visited location of the user.
func (s *PostgresStore) Progress(ctx context.Context, userID string) (Progress, error) {
	return listProgress(ctx, s.db, userID)
}

// VersionedProgress returns the user's progress together with the progress
// version it reflects. Both are read from one snapshot.
func (s *PostgresStore) VersionedProgress(ctx context.Context, userID string) (Progress, int64, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return Progress{}, 0, fmt.Errorf("begin progress tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, err := progressVersion(ctx, tx, userID)
	if err != nil {
		return Progress{}, 0, err
	}
	progress, err := listProgress(ctx, tx, userID)
	if err != nil {
		return Progress{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return Progress{}, 0, fmt.Errorf("commit progress tx: %w", err)
	}
	return progress, version, nil
}

// ProgressVersion returns the counter bumped by every mark or unmark that
// changed the user's rows.
func (s *PostgresStore) ProgressVersion(ctx context.Context, userID string) (int64, error) {
	return progressVersion(ctx, s.db, userID)
}

func progressVersion(ctx context.Context, q queryer, userID string) (int64, error) {
	var version int64
	err := q.QueryRowContext(ctx, `SELECT progress_version FROM users WHERE id=$1`, userID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read progress version: %w", err)
	}
	return version, nil
}

func bumpProgressVersion(ctx context.Context, tx *sql.Tx, userID string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE users SET progress_version = progress_version + 1 WHERE id=$1`, userID); err != nil {
		return fmt.Errorf("bump progress version: %w", err)
	}
	return nil
}

func listProgress(ctx context.Context, q queryer, userID string) (Progress, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT name, level
		FROM visited_locations
		WHERE user_id=$1
		ORDER BY level, name
	`, userID)
	if err != nil {
		return Progress{}, fmt.Errorf("list visited locations: %w", err)
	}
	defer rows.Close()

	progress := EmptyProgress()
	for rows.Next() {
		var name string
		var level int
		if err := rows.Scan(&name, &level); err != nil {
			return Progress{}, fmt.Errorf("scan visited location: %w", err)
		}
		switch level {
		case LevelCountry:
			progress.Countries = append(progress.Countries, name)
		case LevelState:
			progress.States = append(progress.States, name)
		case LevelDistrict:
			progress.Districts = append(progress.Districts, name)
		}
	}
	if err := rows.Err(); err != nil {
		return Progress{}, fmt.Errorf("iterate visited locations: %w", err)
	}
	return progress, nil
}

// MarkVisited records m and the ancestors it implies in one transaction.
// Rows that already exist are left alone.
func (s *PostgresStore) MarkVisited(ctx context.Context, userID string, m Mark) (MarkResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MarkResult{}, fmt.Errorf("begin mark tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var result MarkResult
	if result.Created, err = insertVisit(ctx, tx, userID, m); err != nil {
		return MarkResult{}, err
	}
	for _, ancestor := range m.Ancestors() {
		created, err := insertVisit(ctx, tx, userID, ancestor)
		if err != nil {
			return MarkResult{}, err
		}
		if created {
			result.Bubbled++
		}
	}
	if result.Created || result.Bubbled > 0 {
		if err := bumpProgressVersion(ctx, tx, userID); err != nil {
			return MarkResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return MarkResult{}, fmt.Errorf("commit mark tx: %w", err)
	}
	return result, nil
}

func insertVisit(ctx context.Context, tx *sql.Tx, userID string, m Mark) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO visited_locations (user_id, name, level, parent, grandparent)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING
	`, userID, m.Name, m.Level, nullable(m.Parent), nullable(m.Grandparent))
	if err != nil {
		return false, fmt.Errorf("insert visited location %s: %w", m.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert visited location %s: %w", m.Name, err)
	}
	return n > 0, nil
}

// UnmarkVisited removes the location and everything below it: a country
// takes its states and districts along, a state its districts.
func (s *PostgresStore) UnmarkVisited(ctx context.Context, userID string, m Mark) (UnmarkResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UnmarkResult{}, fmt.Errorf("begin unmark tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	removed, err := execCount(ctx, tx, `DELETE FROM visited_locations WHERE user_id=$1 AND name=$2 AND level=$3`, userID, m.Name, m.Level)
	if err != nil {
		return UnmarkResult{}, fmt.Errorf("delete visited location %s: %w", m.Name, err)
	}
	result := UnmarkResult{Removed: removed > 0}

	var cascades []string
	switch m.Level {
	case LevelCountry:
		cascades = []string{
			`DELETE FROM visited_locations WHERE user_id=$1 AND level=2 AND grandparent=$2`,
			`DELETE FROM visited_locations WHERE user_id=$1 AND level=1 AND parent=$2`,
		}
	case LevelState:
		cascades = []string{`DELETE FROM visited_locations WHERE user_id=$1 AND level=2 AND parent=$2`}
	}
	for _, query := range cascades {
		n, err := execCount(ctx, tx, query, userID, m.Name)
		if err != nil {
			return UnmarkResult{}, fmt.Errorf("cascade unmark %s: %w", m.Name, err)
		}
		result.Cascaded += n
	}
	if result.Removed || result.Cascaded > 0 {
		if err := bumpProgressVersion(ctx, tx, userID); err != nil {
			return UnmarkResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return UnmarkResult{}, fmt.Errorf("commit unmark tx: %w", err)
	}
	return result, nil
}

func execCount(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullable(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
