// Package social は外部IdPから受け取った属性情報をアカウントに紐付ける。
package social

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/accountd/internal/model"
	"github.com/hitoshi/accountd/internal/security"
	"github.com/oklog/ulid/v2"
)

// Claims は外部IdPから受け取った属性情報。
// Raw はIdPの応答をそのまま保持し、解釈せずにプロフィールとして保存する。
type Claims struct {
	ProviderID     string
	Email          string
	ProfilePicture string
	Raw            map[string]any
}

// Identity は正規化済みの外部IdP連携情報。
type Identity struct {
	Provider       model.SocialProvider
	ExternalID     string
	Synthesized    bool // IdPがIDを返さなかったため合成した
	ProfilePicture string
	Profile        map[string]any
}

// Linker は外部IdPの属性情報を検証し、アカウントに適用できる形に正規化する。
type Linker struct {
	urls security.URLGuardService
	now  func() time.Time
}

// NewLinker はLinkerを生成する。
func NewLinker(urls security.URLGuardService) *Linker {
	return &Linker{urls: urls, now: time.Now}
}

// Link はプロバイダーと属性情報からIdentityを生成する。
// プロバイダーは google, facebook, github, linkedin のいずれかでなければならない。
// ProviderID が空の場合は "<provider>_<ULID>" 形式のIDを合成する。
func (l *Linker) Link(provider string, claims Claims) (*Identity, error) {
	p := model.SocialProvider(strings.ToLower(strings.TrimSpace(provider)))
	if !p.IsExternal() {
		return nil, model.NewInvalidFieldError("socialProvider", fmt.Sprintf("unsupported provider %q", provider))
	}

	id := &Identity{
		Provider:   p,
		ExternalID: strings.TrimSpace(claims.ProviderID),
	}
	if id.ExternalID == "" {
		id.ExternalID = fmt.Sprintf("%s_%s", p, ulid.Make().String())
		id.Synthesized = true
		slog.Info("synthesized social id",
			slog.String("provider", string(p)),
			slog.String("social_id", id.ExternalID),
		)
	}

	if pic := strings.TrimSpace(claims.ProfilePicture); pic != "" {
		if err := l.urls.ValidateURL(pic); err != nil {
			return nil, model.NewInvalidFieldError("profilePicture", err.Error())
		}
		id.ProfilePicture = pic
	}

	id.Profile = make(map[string]any, len(claims.Raw)+4)
	for k, v := range claims.Raw {
		id.Profile[k] = v
	}
	id.Profile["provider"] = string(p)
	id.Profile["providerId"] = id.ExternalID
	id.Profile["providerIdSynthesized"] = id.Synthesized
	id.Profile["connectedAt"] = l.now().UTC().Format(time.RFC3339)

	return id, nil
}

// Apply は連携情報をアカウントに書き込む。
// IdPが確認済みのメールアドレスとして扱うため IsEmailVerified を立てる。
func (id *Identity) Apply(a *model.Account) {
	a.SocialProvider = id.Provider
	a.SocialID = id.ExternalID
	switch id.Provider {
	case model.SocialProviderGoogle:
		a.GoogleID = id.ExternalID
	case model.SocialProviderFacebook:
		a.FacebookID = id.ExternalID
	case model.SocialProviderGitHub:
		a.GitHubID = id.ExternalID
	case model.SocialProviderLinkedIn:
		a.LinkedInID = id.ExternalID
	}
	if id.ProfilePicture != "" {
		a.ProfilePicture = id.ProfilePicture
	}
	a.SocialProfile = id.Profile
	a.IsEmailVerified = true
}
