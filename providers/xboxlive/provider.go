package xboxlive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/vatsimnerd/mcauth"
	"github.com/vatsimnerd/mcauth/internal/transport"
)

const (
	DefaultUserAuthenticateURL = "https://user.auth.xboxlive.com/user/authenticate"
	DefaultXSTSAuthorizeURL    = "https://xsts.auth.xboxlive.com/xsts/authorize"
	// DefaultRelyingParty scopes security tokens to Minecraft services.
	DefaultRelyingParty = "rp://api.minecraftservices.com/"

	userRelyingParty = "http://auth.xboxlive.com"
	siteName         = "user.auth.xboxlive.com"
	sandboxID        = "RETAIL"
	tokenType        = "JWT"

	opUserAuthenticate = "user_authenticate"
	opXSTSAuthorize    = "xsts_authorize"
)

var (
	log = logrus.WithField("module", "provider.xboxlive")
)

type userAuthProperties struct {
	AuthMethod string `json:"AuthMethod"`
	SiteName   string `json:"SiteName"`
	RpsTicket  string `json:"RpsTicket"`
}

type userAuthRequest struct {
	Properties   userAuthProperties `json:"Properties"`
	RelyingParty string             `json:"RelyingParty"`
	TokenType    string             `json:"TokenType"`
}

type xstsProperties struct {
	SandboxID  string   `json:"SandboxId"`
	UserTokens []string `json:"UserTokens"`
}

type xstsRequest struct {
	Properties   xstsProperties `json:"Properties"`
	RelyingParty string         `json:"RelyingParty"`
	TokenType    string         `json:"TokenType"`
}

// errorResponse is the body XSTS sends with a 401.
type errorResponse struct {
	Identity string `json:"Identity"`
	XErr     int64  `json:"XErr"`
	Message  string `json:"Message"`
	Redirect string `json:"Redirect"`
}

var xerrReasons = map[int64]string{
	2148916227: "account is banned from Xbox",
	2148916229: "account is restricted and needs guardian permission",
	2148916233: "account has no Xbox profile",
	2148916234: "Xbox terms of service have not been accepted",
	2148916235: "Xbox Live is not available in the account's country",
	2148916236: "account needs adult verification",
	2148916237: "account needs adult verification",
	2148916238: "child account must be added to a family",
}

// Provider implements mcauth.XboxAuthenticator.
type Provider struct {
	client          *transport.Client
	authenticateURL string
	authorizeURL    string
	relyingParty    string
}

type Option func(*Provider)

func WithUserAuthenticateURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.authenticateURL = url
		}
	}
}

func WithXSTSAuthorizeURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.authorizeURL = url
		}
	}
}

// WithRelyingParty sets the service the security token is issued for.
func WithRelyingParty(rp string) Option {
	return func(p *Provider) {
		if rp != "" {
			p.relyingParty = rp
		}
	}
}

func New(client *transport.Client, opts ...Option) *Provider {
	if client == nil {
		client = transport.New(nil)
	}
	p := &Provider{
		client:          client,
		authenticateURL: DefaultUserAuthenticateURL,
		authorizeURL:    DefaultXSTSAuthorizeURL,
		relyingParty:    DefaultRelyingParty,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LoginWithAccessToken trades the Microsoft access token for an Xbox Live
// user token.
func (p *Provider) LoginWithAccessToken(ctx context.Context, tokens *mcauth.TokenSet) (*mcauth.IdentityToken, error) {
	if tokens == nil || tokens.AccessToken == "" {
		return nil, &mcauth.DecodeError{Op: opUserAuthenticate, Err: errors.New("access token is empty")}
	}
	req := userAuthRequest{
		Properties: userAuthProperties{
			AuthMethod: "RPS",
			SiteName:   siteName,
			RpsTicket:  "d=" + tokens.AccessToken,
		},
		RelyingParty: userRelyingParty,
		TokenType:    tokenType,
	}
	return p.exchange(ctx, opUserAuthenticate, p.authenticateURL, req)
}

// AuthorizeForService trades a user token for a security token scoped to
// the configured relying party.
func (p *Provider) AuthorizeForService(ctx context.Context, identity *mcauth.IdentityToken) (*mcauth.IdentityToken, error) {
	if identity == nil || identity.Token == "" {
		return nil, &mcauth.DecodeError{Op: opXSTSAuthorize, Err: errors.New("user token is empty")}
	}
	req := xstsRequest{
		Properties: xstsProperties{
			SandboxID:  sandboxID,
			UserTokens: []string{identity.Token},
		},
		RelyingParty: p.relyingParty,
		TokenType:    tokenType,
	}
	return p.exchange(ctx, opXSTSAuthorize, p.authorizeURL, req)
}

func (p *Provider) exchange(ctx context.Context, op, url string, body any) (*mcauth.IdentityToken, error) {
	resp, err := p.client.PostJSON(ctx, op, url, body, map[string]string{
		"x-xbl-contract-version": "1",
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		serr := &mcauth.UnexpectedStatusError{Op: op, StatusCode: resp.StatusCode, Detail: explain(resp.Body)}
		log.WithError(serr).Debug("error response from xbox live")
		return nil, serr
	}

	var token mcauth.IdentityToken
	if err := transport.DecodeJSON(op, resp.Body, &token); err != nil {
		return nil, err
	}
	if token.Token == "" {
		return nil, &mcauth.DecodeError{Op: op, Err: errors.New("response lacks Token")}
	}
	log.WithFields(logrus.Fields{"op": op, "not_after": token.NotAfter}).Debug("xbox live token issued")
	return &token, nil
}

// explain turns an XErr body into a readable reason. Unknown bodies give "".
func explain(body []byte) string {
	var eresp errorResponse
	if len(body) == 0 || json.Unmarshal(body, &eresp) != nil || eresp.XErr == 0 {
		return ""
	}
	if reason, ok := xerrReasons[eresp.XErr]; ok {
		return fmt.Sprintf("XErr %d: %s", eresp.XErr, reason)
	}
	if eresp.Message != "" {
		return fmt.Sprintf("XErr %d: %s", eresp.XErr, eresp.Message)
	}
	return fmt.Sprintf("XErr %d", eresp.XErr)
}
