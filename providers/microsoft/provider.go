package microsoft

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	ms "golang.org/x/oauth2/microsoft"
	"k8s.io/utils/clock"

	"github.com/vatsimnerd/mcauth"
	"github.com/vatsimnerd/mcauth/internal/transport"
	"github.com/vatsimnerd/mcauth/metrics"
)

const (
	// Tenant is the Azure AD tenant for personal Microsoft accounts.
	Tenant    = "consumers"
	grantType = "urn:ietf:params:oauth:grant-type:device_code"

	opRequestCode = "device_code"
	opPollToken   = "token"
)

var (
	log = logrus.WithField("module", "provider.microsoft")

	// errTransient marks authorization_pending, slow_down and any other 400
	// the poller keeps going through.
	errTransient = errors.New("authorization pending")
)

// Provider implements mcauth.DeviceAuthorizer against the Microsoft identity
// platform.
type Provider struct {
	endpoint oauth2.Endpoint
	client   *transport.Client
	clock    clock.Clock
}

type Option func(*Provider)

// WithEndpoint overrides the device-code and token URLs.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(p *Provider) {
		if endpoint.DeviceAuthURL != "" {
			p.endpoint.DeviceAuthURL = endpoint.DeviceAuthURL
		}
		if endpoint.TokenURL != "" {
			p.endpoint.TokenURL = endpoint.TokenURL
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(p *Provider) {
		p.clock = c
	}
}

func New(client *transport.Client, opts ...Option) *Provider {
	if client == nil {
		client = transport.New(nil)
	}
	p := &Provider{
		endpoint: ms.AzureADEndpoint(Tenant),
		client:   client,
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Endpoint() oauth2.Endpoint {
	return p.endpoint
}

// RequestCode asks for a device code. Failures are not retried.
func (p *Provider) RequestCode(ctx context.Context, clientID, scope string) (*mcauth.DeviceCodeGrant, error) {
	resp, err := p.client.Get(ctx, opRequestCode, p.endpoint.DeviceAuthURL, map[string]string{
		"client_id": clientID,
		"scope":     scope,
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err := extractError(resp)
		log.WithError(err).Debug("error response from oauth server")
		return nil, &mcauth.DecodeError{Op: opRequestCode, Err: err}
	}

	var grant mcauth.DeviceCodeGrant
	if err := transport.DecodeJSON(opRequestCode, resp.Body, &grant); err != nil {
		return nil, err
	}
	if grant.DeviceCode == "" || grant.UserCode == "" {
		return nil, &mcauth.DecodeError{Op: opRequestCode, Err: errors.New("response lacks device_code or user_code")}
	}
	grant.IssuedAt = p.clock.Now()

	log.WithFields(logrus.Fields{
		"verification_uri": grant.VerificationURI,
		"expires_in":       grant.ExpiresIn,
		"interval":         grant.Interval,
	}).Debug("device code issued")
	return &grant, nil
}

// WaitForLogin polls the token endpoint, waiting interval+1 seconds before
// every attempt, until the user approves or the grant ends. Polling stops
// once the grant lifetime would elapse before the next attempt.
func (p *Provider) WaitForLogin(ctx context.Context, clientID, scope string, grant *mcauth.DeviceCodeGrant) (*mcauth.TokenSet, error) {
	if grant == nil {
		return nil, &mcauth.DecodeError{Op: opPollToken, Err: errors.New("device code grant is nil")}
	}
	interval := grant.PollInterval()
	deadline := grant.ExpiresAt()

	for {
		if !deadline.IsZero() && p.clock.Now().Add(interval).After(deadline) {
			log.Debug("authorization session expired")
			return nil, &mcauth.TerminalAuthError{Reason: mcauth.RejectExpired, Local: true}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.clock.After(interval):
		}

		tokens, err := p.pollOnce(ctx, clientID, scope, grant.DeviceCode)
		if err == nil {
			return tokens, nil
		}
		if errors.Is(err, errTransient) {
			continue
		}
		return nil, err
	}
}

func (p *Provider) pollOnce(ctx context.Context, clientID, scope, deviceCode string) (*mcauth.TokenSet, error) {
	resp, err := p.client.PostForm(ctx, opPollToken, p.endpoint.TokenURL, map[string]string{
		"client_id":   clientID,
		"scope":       scope,
		"grant_type":  grantType,
		"device_code": deviceCode,
	})
	if err != nil {
		metrics.PollAttempts.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var tokens mcauth.TokenSet
		if err := transport.DecodeJSON(opPollToken, resp.Body, &tokens); err != nil {
			metrics.PollAttempts.WithLabelValues(metrics.OutcomeFailure).Inc()
			return nil, err
		}
		if tokens.AccessToken == "" {
			metrics.PollAttempts.WithLabelValues(metrics.OutcomeFailure).Inc()
			return nil, &mcauth.DecodeError{Op: opPollToken, Err: errors.New("response lacks access_token")}
		}
		tokens.ReceivedAt = p.clock.Now()
		metrics.PollAttempts.WithLabelValues(metrics.OutcomeSuccess).Inc()
		log.Debug("device code approved")
		return &tokens, nil

	case http.StatusBadRequest:
		var oerr mcauth.OAuthError
		if err := transport.DecodeJSON(opPollToken, resp.Body, &oerr); err != nil {
			metrics.PollAttempts.WithLabelValues(metrics.OutcomeFailure).Inc()
			return nil, err
		}
		if oerr.Code == "" {
			metrics.PollAttempts.WithLabelValues(metrics.OutcomeFailure).Inc()
			return nil, &mcauth.DecodeError{Op: opPollToken, Err: errors.New("error response lacks error code")}
		}
		switch reason := mcauth.Rejection(oerr.Code); reason {
		case mcauth.RejectDeclined, mcauth.RejectExpired, mcauth.RejectInvalidGrant:
			metrics.PollAttempts.WithLabelValues(metrics.OutcomeFailure).Inc()
			log.WithField("error", oerr.Code).Debug("device code flow rejected")
			return nil, &mcauth.TerminalAuthError{Reason: reason}
		}
		metrics.PollAttempts.WithLabelValues(metrics.OutcomePending).Inc()
		log.WithField("error", oerr.Code).Debug("authorization not complete yet")
		return nil, errTransient

	default:
		metrics.PollAttempts.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, &mcauth.UnexpectedStatusError{Op: opPollToken, StatusCode: resp.StatusCode}
	}
}

func extractError(resp *transport.Response) error {
	oerr := &mcauth.OAuthError{StatusCode: resp.StatusCode}
	if err := transport.DecodeJSON(opRequestCode, resp.Body, oerr); err != nil || oerr.Code == "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	}
	return oerr
}
