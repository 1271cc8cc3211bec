package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authservice/internal/model"
	"github.com/hitoshi/authservice/internal/repository"
)

// DeviceSessionRepo はSQLiteを使用したデバイスセッションリポジトリ。
type DeviceSessionRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewDeviceSessionRepo はDeviceSessionRepoを生成する。
func NewDeviceSessionRepo(db *sql.DB) *DeviceSessionRepo {
	return &DeviceSessionRepo{db: db, now: time.Now}
}

const deviceSessionColumns = `id, user_id, device_id, session_version, last_login_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDeviceSession(row scanner) (*model.DeviceSession, error) {
	s := &model.DeviceSession{}
	err := row.Scan(&s.ID, &s.UserID, &s.DeviceID, &s.SessionVersion,
		timestamp{&s.LastLoginAt}, timestamp{&s.CreatedAt}, timestamp{&s.UpdatedAt})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetOrCreate は(userID, deviceID)のセッションを取得し、存在しなければバージョン1で作成する。
func (r *DeviceSessionRepo) GetOrCreate(ctx context.Context, userID, deviceID string) (*model.DeviceSession, bool, error) {
	now := formatTime(r.now())
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO device_sessions (id, user_id, device_id, session_version, last_login_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, device_id) DO NOTHING`,
		uuid.New().String(), userID, deviceID, model.InitialSessionVersion, now, now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert device session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	session, err := scanDeviceSession(r.db.QueryRowContext(ctx,
		`SELECT `+deviceSessionColumns+` FROM device_sessions WHERE user_id = ? AND device_id = ?`,
		userID, deviceID,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to find device session: %w", err)
	}

	return session, affected == 1, nil
}

// Touch はlast_login_atとupdated_atを現在時刻に更新する。
func (r *DeviceSessionRepo) Touch(ctx context.Context, session *model.DeviceSession) error {
	now := r.now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE device_sessions SET last_login_at = ?, updated_at = ? WHERE id = ?`,
		formatTime(now), formatTime(now), session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch device session: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	session.LastLoginAt = now
	session.UpdatedAt = now
	return nil
}

// BumpVersion はセッションバージョンをインクリメントし、新しい値を返す。
func (r *DeviceSessionRepo) BumpVersion(ctx context.Context, userID, deviceID string) (int, error) {
	var version int
	err := r.db.QueryRowContext(ctx,
		`UPDATE device_sessions
		 SET session_version = session_version + 1, updated_at = ?
		 WHERE user_id = ? AND device_id = ?
		 RETURNING session_version`,
		formatTime(r.now()), userID, deviceID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, repository.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to bump session version: %w", err)
	}
	return version, nil
}

// GetVersion は現在のセッションバージョンを返す。
func (r *DeviceSessionRepo) GetVersion(ctx context.Context, userID, deviceID string) (int, error) {
	var version int
	err := r.db.QueryRowContext(ctx,
		`SELECT session_version FROM device_sessions WHERE user_id = ? AND device_id = ?`,
		userID, deviceID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, repository.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get session version: %w", err)
	}
	return version, nil
}

// ListByUserID はユーザーの全デバイスセッションを最終ログイン降順で返す。
func (r *DeviceSessionRepo) ListByUserID(ctx context.Context, userID string) ([]*model.DeviceSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceSessionColumns+` FROM device_sessions
		 WHERE user_id = ?
		 ORDER BY last_login_at DESC, device_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list device sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.DeviceSession
	for rows.Next() {
		s, err := scanDeviceSession(rows)
		if err != nil {
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
func (r *DeviceSessionRepo) BumpAllVersions(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE device_sessions
		 SET session_version = session_version + 1, updated_at = ?
		 WHERE user_id = ?`,
		formatTime(r.now()), userID,
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
// 時刻は固定幅のUTC文字列で保存しているため、文字列比較で前後を判定できる。
func (r *DeviceSessionRepo) DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	c := formatTime(cutoff)
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM device_sessions WHERE last_login_at < ? AND updated_at < ?`,
		c, c,
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
var _ repository.DeviceSessionRepository = (*DeviceSessionRepo)(nil)
