// Package sqlite はSQLite（modernc.org/sqlite）を使用したrepository実装を提供する。
// ローカル開発と単体テスト向けで、database.Openが返す単一コネクションのプールを前提とする。
package sqlite

import (
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// timestampLayout は時刻カラムへの書き込み形式。文字列比較で時系列順に並ぶ。
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// readLayouts は読み込み時に受け付ける時刻形式。
// CURRENT_TIMESTAMPのデフォルト値とドライバ既定の形式も含む。
var readLayouts = []string{
	timestampLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// timestamp はDATETIMEカラムをtime.Timeへ読み込むsql.Scanner。
// ドライバがtime.Timeへ変換済みの場合と文字列のまま返す場合の両方を扱う。
type timestamp struct {
	t *time.Time
}

func (ts timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*ts.t = v.UTC()
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	case nil:
		*ts.t = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (ts timestamp) parse(s string) error {
	for _, layout := range readLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*ts.t = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

// isUniqueViolation はerrがSQLiteの一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
