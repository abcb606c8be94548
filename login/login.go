// Package login assembles a mcauth.Flow from configuration, wiring the
// Microsoft, Xbox Live and Minecraft providers around one HTTP client.
package login

import (
	"net/http"

	"golang.org/x/oauth2"
	"k8s.io/utils/clock"

	"github.com/vatsimnerd/mcauth"
	"github.com/vatsimnerd/mcauth/config"
	"github.com/vatsimnerd/mcauth/internal/transport"
	"github.com/vatsimnerd/mcauth/providers/microsoft"
	"github.com/vatsimnerd/mcauth/providers/minecraft"
	"github.com/vatsimnerd/mcauth/providers/xboxlive"
)

type options struct {
	httpClient *http.Client
	clock      clock.Clock
	flowOpts   []mcauth.Option
}

type Option func(*options)

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithClock replaces the clock used for poll waits and token timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func WithFlowOptions(opts ...mcauth.Option) Option {
	return func(o *options) {
		o.flowOpts = append(o.flowOpts, opts...)
	}
}

// NewFlow builds a flow for cfg. cfg is expected to be validated.
func NewFlow(cfg config.Config, opts ...Option) *mcauth.Flow {
	o := options{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = transport.DefaultTimeout
		}
		o.httpClient = &http.Client{Timeout: timeout}
	}

	var topts []transport.Option
	if cfg.UserAgent != "" {
		topts = append(topts, transport.WithUserAgent(cfg.UserAgent))
	}
	client := transport.New(o.httpClient, topts...)

	devices := microsoft.New(client,
		microsoft.WithEndpoint(oauth2.Endpoint{
			DeviceAuthURL: cfg.Endpoints.DeviceCode,
			TokenURL:      cfg.Endpoints.Token,
		}),
		microsoft.WithClock(o.clock),
	)
	xbox := xboxlive.New(client,
		xboxlive.WithUserAuthenticateURL(cfg.Endpoints.UserAuthenticate),
		xboxlive.WithXSTSAuthorizeURL(cfg.Endpoints.XSTSAuthorize),
		xboxlive.WithRelyingParty(cfg.RelyingParty),
	)
	service := minecraft.New(client,
		minecraft.WithLoginURL(cfg.Endpoints.ServiceLogin),
		minecraft.WithClock(o.clock),
	)

	flowOpts := append([]mcauth.Option{mcauth.WithScope(cfg.Scope)}, o.flowOpts...)
	return mcauth.NewFlow(cfg.ClientID, devices, xbox, service, flowOpts...)
}
