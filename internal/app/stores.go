package app

import (
	"database/sql"
	"fmt"

	"github.com/hitoshi/authservice/internal/database"
	"github.com/hitoshi/authservice/internal/repository"
	"github.com/hitoshi/authservice/internal/repository/sqlite"
)

// stores は接続先の方言に応じて選択したリポジトリをまとめる。
type stores struct {
	db       *sql.DB
	dialect  database.Dialect
	users    repository.UserRepository
	sessions repository.DeviceSessionRepository
}

// openStores はDB接続を開いて疎通を確認し、方言に対応するリポジトリを構築する。
func openStores(databaseURL string) (*stores, error) {
	dialect, err := database.DialectOf(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	st := &stores{db: db, dialect: dialect}
	switch dialect {
	case database.DialectSQLite:
		st.users = sqlite.NewUserRepo(db)
		st.sessions = sqlite.NewDeviceSessionRepo(db)
	default:
		st.users = repository.NewPostgresUserRepo(db)
		st.sessions = repository.NewPostgresDeviceSessionRepo(db)
	}
	return st, nil
}

func (s *stores) Close() error {
	return s.db.Close()
}
