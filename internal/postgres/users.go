package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/dbx"
)

// UserRepository implements authcore.UserStore.
type UserRepository struct {
	db *sql.DB
}

var _ authcore.UserStore = (*UserRepository)(nil)

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, username, password_hash, failed_login_attempts, locked_until,
		password_history, last_password_change, two_factor_enabled, created_at`

func (r *UserRepository) CreateUser(ctx context.Context, input authcore.CreateUserInput) (authcore.User, error) {
	query :=
		`INSERT INTO users (id, email, username, password_hash)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at
		 `

	u := authcore.User{
		ID:           uuid.NewString(),
		Email:        input.Email,
		Username:     input.Username,
		PasswordHash: input.PasswordHash,
	}
	err := r.db.QueryRowContext(ctx, query, u.ID, u.Email, u.Username, u.PasswordHash).Scan(&u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return authcore.User{}, authcore.ErrUserExists
		}
		return authcore.User{}, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (authcore.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		 WHERE email = $1
		 `
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (authcore.User, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return authcore.User{}, authcore.ErrUserNotFound
	}
	query := `SELECT ` + userColumns + ` FROM users
		 WHERE id = $1
		 `
	return scanUser(r.db.QueryRowContext(ctx, query, userID))
}

func scanUser(row *sql.Row) (authcore.User, error) {
	var (
		u           authcore.User
		lockedUntil sql.NullTime
		lastChange  sql.NullTime
		history     []string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.PasswordHash,
		&u.FailedLoginAttempts,
		&lockedUntil,
		pq.Array(&history),
		&lastChange,
		&u.TwoFactorEnabled,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authcore.User{}, authcore.ErrUserNotFound
		}
		return authcore.User{}, fmt.Errorf("db error: %w", err)
	}
	if lockedUntil.Valid {
		u.LockedUntil = lockedUntil.Time
	}
	if lastChange.Valid {
		u.LastPasswordChange = lastChange.Time
	}
	u.PasswordHistory = history
	return u, nil
}

// execOne runs a single-row update and maps "no row" onto ErrUserNotFound.
func execOne(ctx context.Context, db dbx.DBTX, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, userID, newHash string, history []string, changedAt time.Time) error {
	if history == nil {
		history = []string{}
	}
	return execOne(ctx, r.db,
		`UPDATE users
		 SET password_hash = $2, password_history = $3, last_password_change = $4
		 WHERE id = $1
		 `,
		userID, newHash, pq.Array(history), changedAt)
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	return execOne(ctx, r.db,
		`UPDATE users SET password_hash = $2
		 WHERE id = $1
		 `,
		userID, newHash)
}

// IncrementFailedLogins is a single atomic UPDATE ... RETURNING, so
// concurrent failures never lose a count.
func (r *UserRepository) IncrementFailedLogins(ctx context.Context, userID string) (int, error) {
	query :=
		`UPDATE users SET failed_login_attempts = failed_login_attempts + 1
		 WHERE id = $1
		 RETURNING failed_login_attempts
		 `

	var attempts int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, authcore.ErrUserNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return attempts, nil
}

func (r *UserRepository) SetLockedUntil(ctx context.Context, userID string, until time.Time) error {
	return execOne(ctx, r.db,
		`UPDATE users SET locked_until = $2
		 WHERE id = $1
		 `,
		userID, until)
}

func (r *UserRepository) ResetFailedLogins(ctx context.Context, userID string) error {
	return execOne(ctx, r.db,
		`UPDATE users SET failed_login_attempts = 0, locked_until = NULL
		 WHERE id = $1
		 `,
		userID)
}

func (r *UserRepository) GetTwoFactor(ctx context.Context, userID string) (*authcore.TwoFactorRecord, error) {
	query :=
		`SELECT secret, enabled, last_used_counter FROM user_two_factor
		 WHERE user_id = $1
		 `

	rec := &authcore.TwoFactorRecord{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&rec.Secret, &rec.Enabled, &rec.LastUsedCounter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

// SaveTwoFactorSecret replaces the pending secret and the backup codes in
// one transaction.
func (r *UserRepository) SaveTwoFactorSecret(ctx context.Context, userID, secret string, codeHashes []string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO user_two_factor (user_id, secret, enabled, last_used_counter)
			 VALUES ($1, $2, FALSE, 0)
			 ON CONFLICT (user_id) DO UPDATE
			 SET secret = EXCLUDED.secret, enabled = FALSE, last_used_counter = 0
			 `,
			userID, secret)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if len(codeHashes) == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO backup_codes (user_id, code_hash)
			 SELECT $1, unnest($2::text[])
			 `,
			userID, pq.Array(codeHashes))
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
}

func (r *UserRepository) EnableTwoFactor(ctx context.Context, userID string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, `UPDATE user_two_factor SET enabled = TRUE WHERE user_id = $1`, userID)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("db error: %w", err)
		} else if n == 0 {
			return authcore.ErrTwoFactorNotConfigured
		}
		return execOne(ctx, tx, `UPDATE users SET two_factor_enabled = TRUE WHERE id = $1`, userID)
	})
}

func (r *UserRepository) DisableTwoFactor(ctx context.Context, userID string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_two_factor WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return execOne(ctx, tx, `UPDATE users SET two_factor_enabled = FALSE WHERE id = $1`, userID)
	})
}

// AdvanceTwoFactorCounter is a compare-and-set on last_used_counter; two
// logins racing with the same code cannot both win.
func (r *UserRepository) AdvanceTwoFactorCounter(ctx context.Context, userID string, counter int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_two_factor SET last_used_counter = $2
		 WHERE user_id = $1 AND last_used_counter < $2
		 `,
		userID, counter)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *UserRepository) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE backup_codes SET used_at = NOW()
		 WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL
		 `,
		userID, codeHash)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}
