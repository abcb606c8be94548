package minecraft

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/vatsimnerd/mcauth"
	"github.com/vatsimnerd/mcauth/internal/transport"
)

const (
	DefaultLoginURL = "https://api.minecraftservices.com/authentication/login_with_xbox"

	opLoginWithXbox = "login_with_xbox"
)

var (
	log = logrus.WithField("module", "provider.minecraft")
)

type loginRequest struct {
	IdentityToken string `json:"identityToken"`
}

// Provider implements mcauth.ServiceAuthenticator for Minecraft services.
type Provider struct {
	client   *transport.Client
	loginURL string
	clock    clock.PassiveClock
}

type Option func(*Provider)

func WithLoginURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.loginURL = url
		}
	}
}

func WithClock(c clock.PassiveClock) Option {
	return func(p *Provider) {
		p.clock = c
	}
}

func New(client *transport.Client, opts ...Option) *Provider {
	if client == nil {
		client = transport.New(nil)
	}
	p := &Provider{
		client:   client,
		loginURL: DefaultLoginURL,
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IdentityHeader builds the XBL3.0 identity string from a user hash and a
// security token.
func IdentityHeader(userHash, securityToken string) string {
	return "XBL3.0 x=" + userHash + ";" + securityToken
}

// LoginWithXbox trades the security token for a service credential. The user
// hash comes from the identity token's claims; no request is sent when it
// cannot be found.
func (p *Provider) LoginWithXbox(ctx context.Context, security, identity *mcauth.IdentityToken) (*mcauth.ServiceCredential, error) {
	if security == nil || security.Token == "" {
		return nil, &mcauth.DecodeError{Op: opLoginWithXbox, Err: errors.New("security token is empty")}
	}
	userHash, err := identity.UserHash()
	if err != nil {
		log.WithError(err).Debug("cannot extract user hash")
		return nil, err
	}

	resp, err := p.client.PostJSON(ctx, opLoginWithXbox, p.loginURL, loginRequest{
		IdentityToken: IdentityHeader(userHash, security.Token),
	}, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &mcauth.UnexpectedStatusError{Op: opLoginWithXbox, StatusCode: resp.StatusCode}
	}

	var credential mcauth.ServiceCredential
	if err := transport.DecodeJSON(opLoginWithXbox, resp.Body, &credential); err != nil {
		return nil, err
	}
	if credential.AccessToken == "" {
		return nil, &mcauth.DecodeError{Op: opLoginWithXbox, Err: errors.New("response lacks access_token")}
	}
	credential.ReceivedAt = p.clock.Now()
	log.WithField("username", credential.Username).Debug("service credential issued")
	return &credential, nil
}
