package mcauth

import (
	"time"

	"golang.org/x/oauth2"
)

// DefaultScope is the scope requested from the identity provider when the
// caller does not supply one.
const DefaultScope = "XboxLive.signin offline_access"

// DeviceCodeGrant is the device-code/user-code pair issued by the identity
// provider.
type DeviceCodeGrant struct {
	UserCode        string `json:"user_code"`
	DeviceCode      string `json:"device_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int64  `json:"expires_in"`
	Interval        int64  `json:"interval"`
	Message         string `json:"message"`

	// IssuedAt is set by the requester when the grant is received.
	IssuedAt time.Time `json:"-"`
}

// PollInterval is the wait before each token poll: the advertised interval
// plus one second of slack against slow_down responses.
func (g *DeviceCodeGrant) PollInterval() time.Duration {
	return time.Duration(g.Interval+1) * time.Second
}

// ExpiresAt reports when the grant stops being usable. The zero time means
// the grant carries no lifetime.
func (g *DeviceCodeGrant) ExpiresAt() time.Time {
	if g.ExpiresIn <= 0 || g.IssuedAt.IsZero() {
		return time.Time{}
	}
	return g.IssuedAt.Add(time.Duration(g.ExpiresIn) * time.Second)
}

// TokenSet is the OAuth token response returned once the user approves.
type TokenSet struct {
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
	ExtExpiresIn int64  `json:"ext_expires_in"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`

	ReceivedAt time.Time `json:"-"`
}

// Token converts the set into an oauth2 token.
func (t *TokenSet) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
	}
	if t.ExpiresIn > 0 && !t.ReceivedAt.IsZero() {
		tok.Expiry = t.ReceivedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return tok
}

// IdentityToken is returned by both the Xbox Live user authentication and the
// XSTS authorization. The service uses PascalCase field names.
type IdentityToken struct {
	IssueInstant  time.Time                      `json:"IssueInstant"`
	NotAfter      time.Time                      `json:"NotAfter"`
	Token         string                         `json:"Token"`
	DisplayClaims map[string][]map[string]string `json:"DisplayClaims"`
}

// ServiceCredential is the game-services access token, the terminal artifact
// of a flow.
type ServiceCredential struct {
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	AccessToken string   `json:"access_token"`
	ExpiresIn   int64    `json:"expires_in"`
	TokenType   string   `json:"token_type"`

	ReceivedAt time.Time `json:"-"`
}

// HasRole reports whether role is among the credential roles.
func (c *ServiceCredential) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (c *ServiceCredential) AuthorizationHeader() string {
	return "Bearer " + c.AccessToken
}

// Token converts the credential into an oauth2 bearer token.
func (c *ServiceCredential) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken: c.AccessToken,
		TokenType:   c.TokenType,
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if c.ExpiresIn > 0 && !c.ReceivedAt.IsZero() {
		tok.Expiry = c.ReceivedAt.Add(time.Duration(c.ExpiresIn) * time.Second)
	}
	return tok
}

// TokenSource returns a static source for use with oauth2.NewClient.
func (c *ServiceCredential) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(c.Token())
}
