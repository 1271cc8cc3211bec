package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/hitoshi/authservice/internal/auth"
	"github.com/hitoshi/authservice/internal/config"
	"github.com/hitoshi/authservice/internal/security"
)

// errRevokeUsage はrevokeサブコマンドの引数不正を示す。
var errRevokeUsage = errors.New("usage: authservice revoke --email EMAIL (--device DEVICE_ID | --all)")

// parseRevokeFlags はrevokeサブコマンドのフラグを解析する。
// --emailは必須で、--deviceと--allのどちらか一方のみを指定する。
func parseRevokeFlags(args []string, out io.Writer) (auth.RevokeInput, error) {
	fs := pflag.NewFlagSet("revoke", pflag.ContinueOnError)
	fs.SetOutput(out)

	email := fs.String("email", "", "対象ユーザーのメールアドレス")
	device := fs.String("device", "", "無効化するデバイスID")
	all := fs.Bool("all", false, "ユーザーの全デバイスを無効化する")

	if err := fs.Parse(args); err != nil {
		return auth.RevokeInput{}, fmt.Errorf("%w: %w", errRevokeUsage, err)
	}
	if fs.NArg() > 0 {
		return auth.RevokeInput{}, fmt.Errorf("%w: unexpected arguments %v", errRevokeUsage, fs.Args())
	}
	if auth.NormalizeEmail(*email) == "" {
		return auth.RevokeInput{}, fmt.Errorf("%w: --email is required", errRevokeUsage)
	}
	if (*device == "") == !*all {
		return auth.RevokeInput{}, fmt.Errorf("%w: exactly one of --device or --all is required", errRevokeUsage)
	}

	return auth.RevokeInput{Email: *email, DeviceID: *device}, nil
}

// runRevoke はユーザーのデバイスセッションを強制的に無効化する。
// 対象デバイスに発行済みのトークンは次のリクエストから拒否される。
func runRevoke(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	in, err := parseRevokeFlags(args, out)
	if err != nil {
		return err
	}

	st, err := openStores(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	// 失効処理ではトークンを発行しないため、Issuerは不要
	svc := auth.NewService(st.users, st.sessions, security.NewPasswordHasher(cfg.BcryptCost), nil, nil)

	n, err := svc.Revoke(ctx, in)
	if err != nil {
		return fmt.Errorf("revoke failed: %w", err)
	}

	slog.Info("revoke completed", slog.Int64("sessions", n))
	fmt.Fprintf(out, "revoked %d session(s)\n", n)
	return nil
}
