// Command authservice はセッションバージョン方式のトークン認証APIサーバー。
//
// 使い方:
//
//	authservice [serve]                                   APIサーバーを起動する
//	authservice migrate                                   マイグレーションを適用する
//	authservice healthcheck                               /health を確認する（Docker用）
//	authservice revoke --email E (--device D | --all)     セッションを強制的に無効化する
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/authservice/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "authservice: %v\n", err)
		os.Exit(1)
	}
}
