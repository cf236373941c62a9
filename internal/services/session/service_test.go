package session

import (
	"testing"
	"time"

	"github.com/mailfold/relay/internal/config"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	restore := config.SetSessionSecret([]byte("test-session-secret"))
	t.Cleanup(restore)
	return NewService()
}

func TestIssueAndValidate(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.Issue("user-1", time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("Validate() UserID = %q, want %q", claims.UserID, "user-1")
	}
}

func TestValidateExpiredToken(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.Issue("user-1", -time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := svc.Validate(token); err == nil {
		t.Error("Validate() accepted an expired token")
	}
}

func TestValidateWrongSecret(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.Issue("user-1", time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	restore := config.SetSessionSecret([]byte("rotated-secret"))
	defer restore()

	if _, err := svc.Validate(token); err == nil {
		t.Error("Validate() accepted a token signed under a different secret")
	}
}

func TestValidateGarbage(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.Validate("not-a-jwt"); err == nil {
		t.Error("Validate() accepted a malformed token")
	}
}
