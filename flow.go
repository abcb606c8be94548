package mcauth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vatsimnerd/mcauth/metrics"
)

var (
	log = logrus.WithField("module", "mcauth")
)

// State is the position of a Flow in the login pipeline.
type State int

const (
	StateInit State = iota
	StateHaveGrant
	StateHaveTokenSet
	StateHaveIdentityToken
	StateHaveSecurityToken
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateHaveGrant:
		return "have-grant"
	case StateHaveTokenSet:
		return "have-token-set"
	case StateHaveIdentityToken:
		return "have-identity-token"
	case StateHaveSecurityToken:
		return "have-security-token"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Step names one operation of the pipeline.
type Step int

const (
	StepRequestCode Step = iota
	StepWaitForLogin
	StepLoginWithAccessToken
	StepAuthorizeForService
	StepLoginWithXbox
)

func (s Step) String() string {
	switch s {
	case StepRequestCode:
		return "request-code"
	case StepWaitForLogin:
		return "wait-for-login"
	case StepLoginWithAccessToken:
		return "login-with-access-token"
	case StepAuthorizeForService:
		return "authorize-for-service"
	case StepLoginWithXbox:
		return "login-with-xbox"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// requires is the state a step must start from. Steps and states are laid
// out so that step N consumes state N.
func (s Step) requires() State {
	return State(s)
}

// Each stage holds exactly the payload available at its state.
type stage interface {
	state() State
}

type initStage struct{}

type grantStage struct {
	grant *DeviceCodeGrant
}

type tokenSetStage struct {
	grantStage
	tokens *TokenSet
}

type identityStage struct {
	tokenSetStage
	identity *IdentityToken
}

type securityStage struct {
	identityStage
	security *IdentityToken
}

type doneStage struct {
	securityStage
	credential *ServiceCredential
}

func (initStage) state() State     { return StateInit }
func (grantStage) state() State    { return StateHaveGrant }
func (tokenSetStage) state() State { return StateHaveTokenSet }
func (identityStage) state() State { return StateHaveIdentityToken }
func (securityStage) state() State { return StateHaveSecurityToken }
func (doneStage) state() State     { return StateDone }

// Flow is a single login attempt. It is not safe for concurrent use; hosts
// running many logins create one Flow per user.
type Flow struct {
	clientID string
	scope    string
	id       string

	devices DeviceAuthorizer
	xbox    XboxAuthenticator
	service ServiceAuthenticator

	stage stage
	err   error
	log   *logrus.Entry
}

type Option func(*Flow)

// WithScope overrides DefaultScope.
func WithScope(scope string) Option {
	return func(f *Flow) {
		if scope != "" {
			f.scope = scope
		}
	}
}

// WithSessionID sets the identifier attached to log lines instead of a
// random one.
func WithSessionID(id string) Option {
	return func(f *Flow) {
		if id != "" {
			f.id = id
		}
	}
}

func NewFlow(clientID string, devices DeviceAuthorizer, xbox XboxAuthenticator, service ServiceAuthenticator, opts ...Option) *Flow {
	f := &Flow{
		clientID: clientID,
		scope:    DefaultScope,
		id:       uuid.NewString(),
		devices:  devices,
		xbox:     xbox,
		service:  service,
		stage:    initStage{},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = log.WithField("session", f.id)
	return f
}

func (f *Flow) ClientID() string  { return f.clientID }
func (f *Flow) SessionID() string { return f.id }
func (f *Flow) State() State      { return f.stage.state() }

// Err returns the error that ended the flow, if any.
func (f *Flow) Err() error {
	return f.err
}

// Reset discards all progress so the flow can start again from the
// device-code request.
func (f *Flow) Reset() {
	f.stage = initStage{}
	f.err = nil
	f.id = uuid.NewString()
	f.log = log.WithField("session", f.id)
}

func (f *Flow) Grant() (*DeviceCodeGrant, bool) {
	switch st := f.stage.(type) {
	case grantStage:
		return st.grant, true
	case tokenSetStage:
		return st.grant, true
	case identityStage:
		return st.grant, true
	case securityStage:
		return st.grant, true
	case doneStage:
		return st.grant, true
	}
	return nil, false
}

func (f *Flow) TokenSet() (*TokenSet, bool) {
	switch st := f.stage.(type) {
	case tokenSetStage:
		return st.tokens, true
	case identityStage:
		return st.tokens, true
	case securityStage:
		return st.tokens, true
	case doneStage:
		return st.tokens, true
	}
	return nil, false
}

func (f *Flow) IdentityToken() (*IdentityToken, bool) {
	switch st := f.stage.(type) {
	case identityStage:
		return st.identity, true
	case securityStage:
		return st.identity, true
	case doneStage:
		return st.identity, true
	}
	return nil, false
}

func (f *Flow) SecurityToken() (*IdentityToken, bool) {
	switch st := f.stage.(type) {
	case securityStage:
		return st.security, true
	case doneStage:
		return st.security, true
	}
	return nil, false
}

func (f *Flow) Credential() (*ServiceCredential, bool) {
	if st, ok := f.stage.(doneStage); ok {
		return st.credential, true
	}
	return nil, false
}

// RequestCode obtains a device code for the flow's client.
func (f *Flow) RequestCode(ctx context.Context) (*DeviceCodeGrant, error) {
	if err := f.check(StepRequestCode); err != nil {
		return nil, err
	}
	grant, err := f.devices.RequestCode(ctx, f.clientID, f.scope)
	if err != nil {
		return nil, f.fail(ctx, StepRequestCode, err)
	}
	f.advance(StepRequestCode, grantStage{grant: grant})
	return grant, nil
}

// WaitForLogin polls until the user approves the device code or the provider
// ends the grant.
func (f *Flow) WaitForLogin(ctx context.Context) (*TokenSet, error) {
	if err := f.check(StepWaitForLogin); err != nil {
		return nil, err
	}
	st := f.stage.(grantStage)
	tokens, err := f.devices.WaitForLogin(ctx, f.clientID, f.scope, st.grant)
	if err != nil {
		return nil, f.fail(ctx, StepWaitForLogin, err)
	}
	f.advance(StepWaitForLogin, tokenSetStage{grantStage: st, tokens: tokens})
	return tokens, nil
}

func (f *Flow) LoginWithAccessToken(ctx context.Context) (*IdentityToken, error) {
	if err := f.check(StepLoginWithAccessToken); err != nil {
		return nil, err
	}
	st := f.stage.(tokenSetStage)
	identity, err := f.xbox.LoginWithAccessToken(ctx, st.tokens)
	if err != nil {
		return nil, f.fail(ctx, StepLoginWithAccessToken, err)
	}
	f.advance(StepLoginWithAccessToken, identityStage{tokenSetStage: st, identity: identity})
	return identity, nil
}

func (f *Flow) AuthorizeForService(ctx context.Context) (*IdentityToken, error) {
	if err := f.check(StepAuthorizeForService); err != nil {
		return nil, err
	}
	st := f.stage.(identityStage)
	security, err := f.xbox.AuthorizeForService(ctx, st.identity)
	if err != nil {
		return nil, f.fail(ctx, StepAuthorizeForService, err)
	}
	f.advance(StepAuthorizeForService, securityStage{identityStage: st, security: security})
	return security, nil
}

func (f *Flow) LoginWithXbox(ctx context.Context) (*ServiceCredential, error) {
	if err := f.check(StepLoginWithXbox); err != nil {
		return nil, err
	}
	st := f.stage.(securityStage)
	credential, err := f.service.LoginWithXbox(ctx, st.security, st.identity)
	if err != nil {
		return nil, f.fail(ctx, StepLoginWithXbox, err)
	}
	f.advance(StepLoginWithXbox, doneStage{securityStage: st, credential: credential})
	return credential, nil
}

// Login runs the remaining steps in order. display is called once with the
// grant so the caller can show the user code; it may be nil. A flow stopped
// by context cancellation resumes from where it stopped.
func (f *Flow) Login(ctx context.Context, display func(*DeviceCodeGrant)) (*ServiceCredential, error) {
	for {
		var err error
		switch f.State() {
		case StateInit:
			var grant *DeviceCodeGrant
			if grant, err = f.RequestCode(ctx); err == nil && display != nil {
				display(grant)
			}
		case StateHaveGrant:
			_, err = f.WaitForLogin(ctx)
		case StateHaveTokenSet:
			_, err = f.LoginWithAccessToken(ctx)
		case StateHaveIdentityToken:
			_, err = f.AuthorizeForService(ctx)
		case StateHaveSecurityToken:
			_, err = f.LoginWithXbox(ctx)
		case StateDone:
			credential, _ := f.Credential()
			return credential, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (f *Flow) check(step Step) error {
	if f.err != nil {
		return &sessionFailedError{cause: f.err}
	}
	have, need := f.State(), step.requires()
	switch {
	case have < need:
		return &PrerequisiteMissingError{Step: step, Have: have}
	case have > need:
		return fmt.Errorf("%s: %w", step, ErrStepCompleted)
	}
	return nil
}

func (f *Flow) advance(step Step, next stage) {
	f.stage = next
	metrics.FlowSteps.WithLabelValues(step.String(), metrics.OutcomeSuccess).Inc()
	f.log.WithField("step", step.String()).Debugf("flow advanced to %s", next.state())
	if next.state() == StateDone {
		f.log.Info("login flow completed")
	}
}

// fail records a terminal error. Errors after the caller's context has ended
// are left unrecorded so the flow can be resumed. Client timeouts are not
// caller cancellation and are recorded.
func (f *Flow) fail(ctx context.Context, step Step, err error) error {
	l := f.log.WithField("step", step.String()).WithError(err)
	if ctx.Err() != nil {
		metrics.FlowSteps.WithLabelValues(step.String(), metrics.OutcomeCanceled).Inc()
		l.Debug("flow step canceled")
		return err
	}
	f.err = err
	metrics.FlowSteps.WithLabelValues(step.String(), metrics.OutcomeFailure).Inc()
	l.Warn("login flow failed")
	return err
}
