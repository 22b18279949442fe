package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"golang.org/x/crypto/bcrypt"
)

var pgErr = errors.New("pg error")

func TestRegisterAndLogin(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	createdAt := time.Now().Add(-time.Minute)
	updatedAt := time.Now().Add(-time.Minute)

	mock.ExpectQuery(`INSERT INTO runners`).
		WithArgs(pgxmock.AnyArg(), "runner@example.com", "runner", pgxmock.AnyArg(), "0xabc").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(createdAt, updatedAt))

	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService("test-secret", mock)
	runner, tokens, err := svc.Register(context.Background(), RegisterRequest{
		Email:         "runner@example.com",
		Username:      "runner",
		Password:      "password123",
		WalletAddress: "0xabc",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if runner.ID == "" || tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("expected runner and tokens")
	}

	passwordHash := runner.PasswordHash

	mock.ExpectQuery(`SELECT id, email, username, password_hash, wallet_address, created_at, updated_at`).
		WithArgs("runner@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "username", "password_hash", "wallet_address", "created_at", "updated_at"}).
			AddRow(runner.ID, runner.Email, runner.Username, passwordHash, runner.WalletAddress, createdAt, updatedAt))

	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), runner.ID, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	_, loginTokens, err := svc.Login(context.Background(), LoginRequest{Email: "runner@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if loginTokens.AccessToken == "" || loginTokens.RefreshToken == "" {
		t.Fatalf("expected login tokens")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestValidateRefreshToken(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), "runner-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService("test-secret", mock)
	tokens, err := svc.GenerateTokens(context.Background(), "runner-1")
	if err != nil {
		t.Fatalf("generate tokens: %v", err)
	}

	expiresAt := time.Now().Add(5 * time.Minute)
	mock.ExpectQuery(`SELECT user_id, expires_at`).
		WithArgs(tokens.RefreshToken).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "expires_at"}).AddRow("runner-1", expiresAt))

	userID, err := svc.ValidateRefreshToken(context.Background(), tokens.RefreshToken)
	if err != nil {
		t.Fatalf("validate refresh: %v", err)
	}
	if userID != "runner-1" {
		t.Fatalf("unexpected user_id: %s", userID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegisterMissingFields(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	svc := NewService("test-secret", mock)
	_, _, err = svc.Register(context.Background(), RegisterRequest{Email: "", Username: "u", Password: "p"})
	if err == nil {
		t.Fatalf("expected error for missing email")
	}
}

func TestLoginInvalidPassword(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	hash, _ := bcrypt.GenerateFromPassword([]byte("correct"), bcrypt.DefaultCost)

	mock.ExpectQuery(`SELECT id, email, username, password_hash, wallet_address, created_at, updated_at`).
		WithArgs("runner@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "username", "password_hash", "wallet_address", "created_at", "updated_at"}).
			AddRow("runner-1", "runner@example.com", "runner", string(hash), "", time.Now(), time.Now()))

	svc := NewService("test-secret", mock)
	_, _, err = svc.Login(context.Background(), LoginRequest{Email: "runner@example.com", Password: "wrong"})
	if err == nil {
		t.Fatalf("expected invalid credentials")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGenerateTokensSaveRefreshError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(pgxmock.AnyArg(), "runner-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgErr)

	svc := NewService("test-secret", mock)
	_, err = svc.GenerateTokens(context.Background(), "runner-1")
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestGenerateTokensSignError(t *testing.T) {
	oldSign := signTokenFn
	signTokenFn = func(_ *Service, _ string, _ time.Duration) (string, error) {
		return "", pgErr
	}
	defer func() { signTokenFn = oldSign }()

	svc := NewService("test-secret", nil)
	_, err := svc.GenerateTokens(context.Background(), "runner-1")
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestRegisterHashError(t *testing.T) {
	oldHash := hashPasswordFn
	hashPasswordFn = func(_ []byte, _ int) ([]byte, error) {
		return nil, pgErr
	}
	defer func() { hashPasswordFn = oldHash }()

	svc := NewService("test-secret", nil)
	_, _, err := svc.Register(context.Background(), RegisterRequest{Email: "e@x.com", Username: "u", Password: "p"})
	if err == nil {
		t.Fatalf("expected hash error")
	}
}

func TestValidateAccessToken(t *testing.T) {
	svc := NewService("test-secret", nil)
	token, err := svc.signToken("runner-9", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	userID, err := svc.ValidateAccessToken(token)
	if err != nil || userID != "runner-9" {
		t.Fatalf("unexpected validation result: %s %v", userID, err)
	}

	if _, err := svc.ValidateAccessToken("garbage"); err == nil {
		t.Fatalf("expected parse error")
	}
}
