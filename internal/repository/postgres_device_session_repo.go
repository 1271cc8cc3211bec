package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authservice/internal/model"
)

// PostgresDeviceSessionRepo はPostgreSQLを使用したデバイスセッションリポジトリ。
type PostgresDeviceSessionRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresDeviceSessionRepo はPostgresDeviceSessionRepoを生成する。
func NewPostgresDeviceSessionRepo(db *sql.DB) *PostgresDeviceSessionRepo {
	return &PostgresDeviceSessionRepo{db: db, now: time.Now}
}

const deviceSessionColumns = `id, user_id, device_id, session_version, last_login_at, created_at, updated_at`

// GetOrCreate は(userID, deviceID)のセッションを取得し、存在しなければバージョン1で作成する。
// 同一キーへの同時ログインでも一意制約により1行に収束する。
func (r *PostgresDeviceSessionRepo) GetOrCreate(ctx context.Context, userID, deviceID string) (*model.DeviceSession, bool, error) {
	now := r.now().UTC()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO device_sessions (id, user_id, device_id, session_version, last_login_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5, $5)
		 ON CONFLICT (user_id, device_id) DO NOTHING`,
		uuid.New().String(), userID, deviceID, model.InitialSessionVersion, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert device session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	session := &model.DeviceSession{}
	err = r.db.QueryRowContext(ctx,
		`SELECT `+deviceSessionColumns+` FROM device_sessions WHERE user_id = $1 AND device_id = $2`,
		userID, deviceID,
	).Scan(&session.ID, &session.UserID, &session.DeviceID, &session.SessionVersion,
		&session.LastLoginAt, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find device session: %w", err)
	}

	return session, affected == 1, nil
}

// Touch はlast_login_atとupdated_atを現在時刻に更新する。
func (r *PostgresDeviceSessionRepo) Touch(ctx context.Context, session *model.DeviceSession) error {
	now := r.now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE device_sessions SET last_login_at = $1, updated_at = $1 WHERE id = $2`,
		now, session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch device session: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	session.LastLoginAt = now
	session.UpdatedAt = now
	return nil
}

// BumpVersion はセッションバージョンをインクリメントし、新しい値を返す。
// 読み取りと書き込みを1文で行うため、同時ログアウトでも更新が失われない。
func (r *PostgresDeviceSessionRepo) BumpVersion(ctx context.Context, userID, deviceID string) (int, error) {
	var version int
	err := r.db.QueryRowContext(ctx,
		`UPDATE device_sessions
		 SET session_version = session_version + 1, updated_at = $3
		 WHERE user_id = $1 AND device_id = $2
		 RETURNING session_version`,
		userID, deviceID, r.now().UTC(),
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to bump session version: %w", err)
	}
	return version, nil
}

// GetVersion は現在のセッションバージョンを返す。
func (r *PostgresDeviceSessionRepo) GetVersion(ctx context.Context, userID, deviceID string) (int, error) {
	var version int
	err := r.db.QueryRowContext(ctx,
		`SELECT session_version FROM device_sessions WHERE user_id = $1 AND device_id = $2`,
		userID, deviceID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get session version: %w", err)
	}
	return version, nil
}

// ListByUserID はユーザーの全デバイスセッションを最終ログイン降順で返す。
func (r *PostgresDeviceSessionRepo) ListByUserID(ctx context.Context, userID string) ([]*model.DeviceSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceSessionColumns+` FROM device_sessions
		 WHERE user_id = $1
		 ORDER BY last_login_at DESC, device_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list device sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.DeviceSession
	for rows.Next() {
		s := &model.DeviceSession{}
		if err := rows.Scan(&s.ID, &s.UserID, &s.DeviceID, &s.SessionVersion,
			&s.LastLoginAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device sessions: %w", err)
	}
	return sessions, nil
}

// BumpAllVersions はユーザーの全デバイスのセッションバージョンを1文でインクリメントする。
func (r *PostgresDeviceSessionRepo) BumpAllVersions(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE device_sessions
		 SET session_version = session_version + 1, updated_at = $2
		 WHERE user_id = $1`,
		userID, r.now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to bump all session versions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// DeleteIdle は最終ログインと最終更新がともにcutoffより前のセッションを削除する。
func (r *PostgresDeviceSessionRepo) DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM device_sessions WHERE last_login_at < $1 AND updated_at < $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete idle device sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ DeviceSessionRepository = (*PostgresDeviceSessionRepo)(nil)
