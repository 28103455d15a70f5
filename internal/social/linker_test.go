package social

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/accountd/internal/model"
	"github.com/hitoshi/accountd/internal/security"
)

// mockURLGuard はテスト用のURL検証モック。
type mockURLGuard struct {
	validateFn func(rawURL string) error
}

func (m *mockURLGuard) ValidateURL(rawURL string) error {
	return m.validateFn(rawURL)
}

func newTestLinker() *Linker {
	l := NewLinker(security.NewURLGuard())
	l.now = func() time.Time { return time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC) }
	return l
}

func TestLinker_KeepsProviderID(t *testing.T) {
	id, err := newTestLinker().Link("github", Claims{ProviderID: "12345"})
	if err != nil {
		t.Fatalf("Link returned error: %v", err)
	}
	if id.ExternalID != "12345" || id.Synthesized {
		t.Errorf("Identity = %+v", id)
	}
	if id.Profile["providerIdSynthesized"] != false {
		t.Errorf("providerIdSynthesized = %v, want false", id.Profile["providerIdSynthesized"])
	}
	if id.Provider != model.SocialProviderGitHub {
		t.Errorf("Provider = %q", id.Provider)
	}
}

func TestLinker_SynthesizesUniqueIDs(t *testing.T) {
	l := newTestLinker()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := l.Link("google", Claims{})
		if err != nil {
			t.Fatalf("Link returned error: %v", err)
		}
		if !id.Synthesized || !strings.HasPrefix(id.ExternalID, "google_") {
			t.Fatalf("ExternalID = %q, want google_ prefix", id.ExternalID)
		}
		if id.Profile["providerIdSynthesized"] != true || id.Profile["providerId"] != id.ExternalID {
			t.Fatalf("Profile metadata = %v", id.Profile)
		}
		if seen[id.ExternalID] {
			t.Fatalf("synthesized id %q collided", id.ExternalID)
		}
		seen[id.ExternalID] = true
	}
}

func TestLinker_RejectsUnsupportedProvider(t *testing.T) {
	for _, p := range []string{"manual", "twitter", ""} {
		_, err := newTestLinker().Link(p, Claims{ProviderID: "x"})
		if !model.HasCode(err, model.ErrCodeInvalidField) {
			t.Errorf("Link(%q) error = %v, want INVALID_FIELD", p, err)
		}
	}
}

func TestLinker_NormalizesProviderCase(t *testing.T) {
	id, err := newTestLinker().Link(" LinkedIn ", Claims{ProviderID: "li-1"})
	if err != nil {
		t.Fatalf("Link returned error: %v", err)
	}
	if id.Provider != model.SocialProviderLinkedIn {
		t.Errorf("Provider = %q, want linkedin", id.Provider)
	}
}

func TestLinker_ValidatesProfilePicture(t *testing.T) {
	_, err := newTestLinker().Link("facebook", Claims{ProviderID: "fb", ProfilePicture: "http://169.254.169.254/x"})
	if !model.HasCode(err, model.ErrCodeInvalidField) {
		t.Errorf("Link error = %v, want INVALID_FIELD", err)
	}

	l := NewLinker(&mockURLGuard{validateFn: func(string) error { return errors.New("nope") }})
	if _, err := l.Link("facebook", Claims{ProviderID: "fb"}); err != nil {
		t.Errorf("empty picture must not be validated, got %v", err)
	}
}

func TestLinker_StoresRawClaimsOpaquely(t *testing.T) {
	raw := map[string]any{
		"login":     "octocat",
		"followers": float64(10),
		"nested":    map[string]any{"k": "v"},
	}
	id, err := newTestLinker().Link("github", Claims{ProviderID: "1", Raw: raw})
	if err != nil {
		t.Fatalf("Link returned error: %v", err)
	}
	if id.Profile["login"] != "octocat" || id.Profile["followers"] != float64(10) {
		t.Errorf("Profile = %v", id.Profile)
	}
	if id.Profile["provider"] != "github" || id.Profile["providerId"] != "1" {
		t.Errorf("Profile metadata = %v", id.Profile)
	}
	if id.Profile["connectedAt"] != "2026-04-01T00:00:00Z" {
		t.Errorf("connectedAt = %v", id.Profile["connectedAt"])
	}
	if _, ok := raw["provider"]; ok {
		t.Error("caller's claims map must not be modified")
	}
}

func TestIdentity_Apply(t *testing.T) {
	tests := []struct {
		provider model.SocialProvider
		field    func(a *model.Account) string
	}{
		{model.SocialProviderGoogle, func(a *model.Account) string { return a.GoogleID }},
		{model.SocialProviderFacebook, func(a *model.Account) string { return a.FacebookID }},
		{model.SocialProviderGitHub, func(a *model.Account) string { return a.GitHubID }},
		{model.SocialProviderLinkedIn, func(a *model.Account) string { return a.LinkedInID }},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			id := &Identity{Provider: tt.provider, ExternalID: "ext-1", ProfilePicture: "https://example.com/p.png"}
			acc := &model.Account{}
			id.Apply(acc)

			if acc.SocialID != "ext-1" || tt.field(acc) != "ext-1" {
				t.Errorf("ids not applied: %+v", acc)
			}
			if !acc.IsEmailVerified {
				t.Error("IsEmailVerified should be true")
			}
			if acc.ProfilePicture != "https://example.com/p.png" {
				t.Errorf("ProfilePicture = %q", acc.ProfilePicture)
			}
		})
	}
}
