package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/accountd/internal/model"
)

func newTestIssuer(t *testing.T, now time.Time) *Issuer {
	t.Helper()
	iss, err := NewIssuer(Config{Secret: []byte("test-secret"), Issuer: "accountd"})
	if err != nil {
		t.Fatalf("NewIssuer returned error: %v", err)
	}
	iss.now = func() time.Time { return now }
	return iss
}

func testAccount() *model.Account {
	return &model.Account{ID: "acc-1", SerialNumber: "0042", RegistrationModule: model.ModuleBasic}
}

func TestIssuer_IssueAndVerify(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	iss := newTestIssuer(t, now)

	tok, err := iss.Issue(testAccount())
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if !tok.ExpiresAt.Equal(now.Add(DefaultTTL)) {
		t.Errorf("ExpiresAt = %v, want %v", tok.ExpiresAt, now.Add(DefaultTTL))
	}

	ref, err := iss.Verify(tok.Value)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if ref.AccountID != "acc-1" || ref.SerialNumber != "0042" {
		t.Errorf("AccountRef = %+v", ref)
	}
}

func TestIssuer_TokensHaveUniqueIDs(t *testing.T) {
	iss := newTestIssuer(t, time.Now())
	a, _ := iss.Issue(testAccount())
	b, _ := iss.Issue(testAccount())
	if a.Value == b.Value {
		t.Error("two tokens issued in the same second must differ")
	}
}

func TestIssuer_VerifyExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	iss := newTestIssuer(t, now)
	tok, _ := iss.Issue(testAccount())

	iss.now = func() time.Time { return now.Add(DefaultTTL + time.Minute) }
	if _, err := iss.Verify(tok.Value); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify error = %v, want ErrTokenExpired", err)
	}
}

func TestIssuer_VerifyRejectsTampering(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(t, now)
	tok, _ := iss.Issue(testAccount())

	other, _ := NewIssuer(Config{Secret: []byte("other-secret"), Issuer: "accountd"})
	otherTok, _ := other.Issue(testAccount())

	foreignIssuer, _ := NewIssuer(Config{Secret: []byte("test-secret"), Issuer: "someone-else"})
	foreignTok, _ := foreignIssuer.Issue(testAccount())

	noneTok, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "acc-1",
		"iss": "accountd",
		"exp": now.Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	parts := strings.Split(tok.Value, ".")
	truncated := parts[0] + "." + parts[1] + ".AAAA"

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", otherTok.Value},
		{"wrong issuer", foreignTok.Value},
		{"alg none", noneTok},
		{"bad signature", truncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := iss.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestNewIssuer_RequiresSecret(t *testing.T) {
	if _, err := NewIssuer(Config{}); err == nil {
		t.Error("expected error for empty secret")
	}
}
