// Package repositorytest はrepositoryパッケージのインターフェース実装に共通の振る舞いテストを提供する。
// PostgreSQL実装とSQLite実装の双方から同じテストを実行し、両者が同じ契約を満たすことを確認する。
package repositorytest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authservice/internal/model"
	"github.com/hitoshi/authservice/internal/repository"
)

// NewUser はテスト用の一意なユーザーを生成する。
func NewUser() *model.User {
	now := time.Now().UTC().Truncate(time.Second)
	id := uuid.New().String()
	return &model.User{
		ID:           id,
		Email:        id + "@example.com",
		PasswordHash: "$2a$10$abcdefghijklmnopqrstuv",
		DisplayName:  "Test User",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// CreateUser はテスト用ユーザーを作成して返す。
func CreateUser(t *testing.T, users repository.UserRepository) *model.User {
	t.Helper()
	u := NewUser()
	if err := users.Create(context.Background(), u); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return u
}

// TestUserRepository はUserRepositoryの契約を検証する。
func TestUserRepository(t *testing.T, users repository.UserRepository) {
	ctx := context.Background()

	t.Run("CreateとFindByEmail", func(t *testing.T) {
		u := CreateUser(t, users)

		got, err := users.FindByEmail(ctx, u.Email)
		if err != nil {
			t.Fatalf("FindByEmail returned error: %v", err)
		}
		if got == nil {
			t.Fatal("FindByEmail returned nil for existing user")
		}
		if got.ID != u.ID || got.PasswordHash != u.PasswordHash || got.DisplayName != u.DisplayName {
			t.Errorf("FindByEmail = %+v, want %+v", got, u)
		}
	})

	t.Run("FindByID", func(t *testing.T) {
		u := CreateUser(t, users)

		got, err := users.FindByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("FindByID returned error: %v", err)
		}
		if got == nil || got.Email != u.Email {
			t.Errorf("FindByID = %+v, want email %q", got, u.Email)
		}
	})

	t.Run("存在しないユーザーはnil", func(t *testing.T) {
		got, err := users.FindByEmail(ctx, "nobody-"+uuid.New().String()+"@example.com")
		if err != nil {
			t.Fatalf("FindByEmail returned error: %v", err)
		}
		if got != nil {
			t.Errorf("FindByEmail = %+v, want nil", got)
		}

		got, err = users.FindByID(ctx, uuid.New().String())
		if err != nil {
			t.Fatalf("FindByID returned error: %v", err)
		}
		if got != nil {
			t.Errorf("FindByID = %+v, want nil", got)
		}
	})

	t.Run("メールアドレス重複はErrEmailAlreadyExists", func(t *testing.T) {
		u := CreateUser(t, users)

		dup := NewUser()
		dup.Email = u.Email
		err := users.Create(ctx, dup)
		if !errors.Is(err, repository.ErrEmailAlreadyExists) {
			t.Errorf("Create duplicate error = %v, want ErrEmailAlreadyExists", err)
		}
	})
}

// TestDeviceSessionRepository はDeviceSessionRepositoryの契約を検証する。
func TestDeviceSessionRepository(t *testing.T, users repository.UserRepository, sessions repository.DeviceSessionRepository) {
	ctx := context.Background()

	t.Run("新規セッションはバージョン1で作成される", func(t *testing.T) {
		u := CreateUser(t, users)

		s, created, err := sessions.GetOrCreate(ctx, u.ID, "laptop-1")
		if err != nil {
			t.Fatalf("GetOrCreate returned error: %v", err)
		}
		if !created {
			t.Error("created = false, want true")
		}
		if s.SessionVersion != 1 {
			t.Errorf("SessionVersion = %d, want 1", s.SessionVersion)
		}
		if s.UserID != u.ID || s.DeviceID != "laptop-1" {
			t.Errorf("session key = (%q, %q), want (%q, %q)", s.UserID, s.DeviceID, u.ID, "laptop-1")
		}
	})

	t.Run("既存セッションは変更されずに返る", func(t *testing.T) {
		u := CreateUser(t, users)

		first, _, err := sessions.GetOrCreate(ctx, u.ID, "laptop-1")
		if err != nil {
			t.Fatalf("GetOrCreate returned error: %v", err)
		}
		if _, err := sessions.BumpVersion(ctx, u.ID, "laptop-1"); err != nil {
			t.Fatalf("BumpVersion returned error: %v", err)
		}

		again, created, err := sessions.GetOrCreate(ctx, u.ID, "laptop-1")
		if err != nil {
			t.Fatalf("GetOrCreate returned error: %v", err)
		}
		if created {
			t.Error("created = true for existing session")
		}
		if again.ID != first.ID {
			t.Errorf("ID = %q, want %q", again.ID, first.ID)
		}
		// ログインでバージョンが巻き戻ってはならない
		if again.SessionVersion != 2 {
			t.Errorf("SessionVersion = %d, want 2", again.SessionVersion)
		}
	})

	t.Run("Touchはバージョンを変えない", func(t *testing.T) {
		u := CreateUser(t, users)

		s, _, err := sessions.GetOrCreate(ctx, u.ID, "laptop-1")
		if err != nil {
			t.Fatalf("GetOrCreate returned error: %v", err)
		}
		before := s.LastLoginAt
		if err := sessions.Touch(ctx, s); err != nil {
			t.Fatalf("Touch returned error: %v", err)
		}
		if s.LastLoginAt.Before(before) {
			t.Errorf("LastLoginAt moved backwards: %v -> %v", before, s.LastLoginAt)
		}

		v, err := sessions.GetVersion(ctx, u.ID, "laptop-1")
		if err != nil {
			t.Fatalf("GetVersion returned error: %v", err)
		}
		if v != 1 {
			t.Errorf("version after Touch = %d, want 1", v)
		}
	})

	t.Run("BumpVersionの結果は直後のGetVersionで読める", func(t *testing.T) {
		u := CreateUser(t, users)
		if _, _, err := sessions.GetOrCreate(ctx, u.ID, "laptop-1"); err != nil {
			t.Fatalf("GetOrCreate returned error: %v", err)
		}

		for want := 2; want <= 4; want++ {
			got, err := sessions.BumpVersion(ctx, u.ID, "laptop-1")
			if err != nil {
				t.Fatalf("BumpVersion returned error: %v", err)
			}
			if got != want {
				t.Errorf("BumpVersion = %d, want %d", got, want)
			}
			read, err := sessions.GetVersion(ctx, u.ID, "laptop-1")
			if err != nil {
				t.Fatalf("GetVersion returned error: %v", err)
			}
			if read != got {
				t.Errorf("GetVersion = %d, want %d", read, got)
			}
		}
	})

	t.Run("存在しないセッションはErrNotFound", func(t *testing.T) {
		u := CreateUser(t, users)

		if _, err := sessions.GetVersion(ctx, u.ID, "unknown"); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("GetVersion error = %v, want ErrNotFound", err)
		}
		if _, err := sessions.BumpVersion(ctx, u.ID, "unknown"); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("BumpVersion error = %v, want ErrNotFound", err)
		}
	})

	t.Run("デバイス間でバージョンは独立している", func(t *testing.T) {
		u := CreateUser(t, users)
		for _, d := range []string{"laptop-1", "phone-1"} {
			if _, _, err := sessions.GetOrCreate(ctx, u.ID, d); err != nil {
				t.Fatalf("GetOrCreate(%s) returned error: %v", d, err)
			}
		}

		if _, err := sessions.BumpVersion(ctx, u.ID, "laptop-1"); err != nil {
			t.Fatalf("BumpVersion returned error: %v", err)
		}

		v, err := sessions.GetVersion(ctx, u.ID, "phone-1")
		if err != nil {
			t.Fatalf("GetVersion returned error: %v", err)
		}
		if v != 1 {
			t.Errorf("phone-1 version = %d, want 1", v)
		}
	})

	t.Run("同時BumpVersionで更新が失われない", func(t *testing.T) {
		u := CreateUser(t, users)
		if _, _, err := sessions.GetOrCreate(ctx, u.ID, "laptop-1"); err != nil {
			t.Fatalf("GetOrCreate returned error: %v", err)
		}

		const n = 20
		var wg sync.WaitGroup
		results := make([]int, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = sessions.BumpVersion(ctx, u.ID, "laptop-1")
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Fatalf("BumpVersion #%d returned error: %v", i, err)
			}
		}
		sort.Ints(results)
		for i, v := range results {
			if v != i+2 {
				t.Fatalf("BumpVersion results = %v, want distinct 2..%d", results, n+1)
			}
		}

		final, err := sessions.GetVersion(ctx, u.ID, "laptop-1")
		if err != nil {
			t.Fatalf("GetVersion returned error: %v", err)
		}
		if final != n+1 {
			t.Errorf("final version = %d, want %d", final, n+1)
		}
	})

	t.Run("ListByUserIDは本人のセッションのみ返す", func(t *testing.T) {
		u := CreateUser(t, users)
		other := CreateUser(t, users)
		for _, d := range []string{"laptop-1", "phone-1"} {
			if _, _, err := sessions.GetOrCreate(ctx, u.ID, d); err != nil {
				t.Fatalf("GetOrCreate returned error: %v", err)
			}
		}
		if _, _, err := sessions.GetOrCreate(ctx, other.ID, "tablet-1"); err != nil {
			t.Fatalf("GetOrCreate returned error: %v", err)
		}

		list, err := sessions.ListByUserID(ctx, u.ID)
		if err != nil {
			t.Fatalf("ListByUserID returned error: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("len(list) = %d, want 2", len(list))
		}
		for _, s := range list {
			if s.UserID != u.ID {
				t.Errorf("session for user %q leaked into list of %q", s.UserID, u.ID)
			}
		}
	})

	t.Run("BumpAllVersionsは本人の全デバイスだけを更新する", func(t *testing.T) {
		u := CreateUser(t, users)
		other := CreateUser(t, users)
		for _, d := range []string{"laptop-1", "phone-1"} {
			if _, _, err := sessions.GetOrCreate(ctx, u.ID, d); err != nil {
				t.Fatalf("GetOrCreate returned error: %v", err)
			}
		}
		if _, _, err := sessions.GetOrCreate(ctx, other.ID, "laptop-1"); err != nil {
			t.Fatalf("GetOrCreate returned error: %v", err)
		}

		n, err := sessions.BumpAllVersions(ctx, u.ID)
		if err != nil {
			t.Fatalf("BumpAllVersions returned error: %v", err)
		}
		if n != 2 {
			t.Errorf("BumpAllVersions affected = %d, want 2", n)
		}

		for _, d := range []string{"laptop-1", "phone-1"} {
			v, err := sessions.GetVersion(ctx, u.ID, d)
			if err != nil {
				t.Fatalf("GetVersion returned error: %v", err)
			}
			if v != 2 {
				t.Errorf("%s version = %d, want 2", d, v)
			}
		}
		v, err := sessions.GetVersion(ctx, other.ID, "laptop-1")
		if err != nil {
			t.Fatalf("GetVersion returned error: %v", err)
		}
		if v != 1 {
			t.Errorf("other user's version = %d, want 1", v)
		}
	})
	t.Run("DeleteIdleはcutoffより前のセッションだけを削除する", func(t *testing.T) {
		u := CreateUser(t, users)
		if _, _, err := sessions.GetOrCreate(ctx, u.ID, "old-laptop"); err != nil {
			t.Fatalf("GetOrCreate returned error: %v", err)
		}

		future := time.Now().Add(time.Hour)
		past := time.Now().Add(-time.Hour)

		n, err := sessions.DeleteIdle(ctx, past)
		if err != nil {
			t.Fatalf("DeleteIdle returned error: %v", err)
		}
		if n != 0 {
			t.Errorf("DeleteIdle(past) affected = %d, want 0", n)
		}
		if _, err := sessions.GetVersion(ctx, u.ID, "old-laptop"); err != nil {
			t.Fatalf("session should survive DeleteIdle(past): %v", err)
		}

		// 未来のcutoffなら作成済みセッションは対象になる
		if _, err := sessions.DeleteIdle(ctx, future); err != nil {
			t.Fatalf("DeleteIdle returned error: %v", err)
		}
		_, err = sessions.GetVersion(ctx, u.ID, "old-laptop")
		if !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("GetVersion after DeleteIdle error = %v, want ErrNotFound", err)
		}

		// 削除後のログインはバージョン1から始まる
		s, created, err := sessions.GetOrCreate(ctx, u.ID, "old-laptop")
		if err != nil {
			t.Fatalf("GetOrCreate returned error: %v", err)
		}
		if !created || s.SessionVersion != 1 {
			t.Errorf("recreated session = (created=%v, version=%d), want (true, 1)", created, s.SessionVersion)
		}
	})
}
