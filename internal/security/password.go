// Package security はパスワードハッシュなどの認証基盤となるセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordTooLong はbcryptが扱えない長さ（72バイト超）のパスワードであることを示す。
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// PasswordHasher はbcryptによるパスワードのハッシュ化と照合を行う。
// 平文パスワードをログや永続化に含めてはならない。
type PasswordHasher struct {
	cost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewPasswordHasher は指定コストのPasswordHasherを生成する。
// コストが範囲外の場合はbcryptの許容範囲に丸め、0以下の場合はデフォルトコストを使用する。
func NewPasswordHasher(cost int) *PasswordHasher {
	switch {
	case cost <= 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &PasswordHasher{cost: cost}
}

// Cost は実際に使用するbcryptコストを返す。
func (h *PasswordHasher) Cost() int {
	return h.cost
}

// Hash はパスワードのbcryptハッシュを返す。
func (h *PasswordHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	}
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// Verify はパスワードが保存済みハッシュと一致するかを定数時間で照合する。
// ハッシュが不正な形式の場合も不一致として扱う。
func (h *PasswordHasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// VerifyDummy はユーザーが存在しない場合にも同等のbcrypt計算を行い、
// 応答時間からメールアドレスの登録有無を推測されないようにする。常にfalseを返す。
func (h *PasswordHasher) VerifyDummy(password string) bool {
	h.dummyOnce.Do(func() {
		h.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
	return false
}
