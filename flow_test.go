package mcauth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubDevices struct {
	requestErr error
	waitErr    error
	requests   int
	waits      int
	gotClient  string
	gotScope   string
	// cancel, when set, is called before waitErr is returned.
	cancel context.CancelFunc
}

func (s *stubDevices) RequestCode(_ context.Context, clientID, scope string) (*DeviceCodeGrant, error) {
	s.requests++
	s.gotClient, s.gotScope = clientID, scope
	if s.requestErr != nil {
		return nil, s.requestErr
	}
	return &DeviceCodeGrant{UserCode: "ABCD", DeviceCode: "dev", VerificationURI: "https://www.microsoft.com/link"}, nil
}

func (s *stubDevices) WaitForLogin(_ context.Context, _, _ string, grant *DeviceCodeGrant) (*TokenSet, error) {
	s.waits++
	if s.waitErr != nil {
		err := s.waitErr
		s.waitErr = nil
		if s.cancel != nil {
			s.cancel()
		}
		return nil, err
	}
	return &TokenSet{AccessToken: "ms-" + grant.DeviceCode}, nil
}

type stubXbox struct{}

func (stubXbox) LoginWithAccessToken(_ context.Context, tokens *TokenSet) (*IdentityToken, error) {
	return &IdentityToken{
		Token:         "user:" + tokens.AccessToken,
		DisplayClaims: map[string][]map[string]string{"xui": {{"uhs": "hash"}}},
	}, nil
}

func (stubXbox) AuthorizeForService(_ context.Context, identity *IdentityToken) (*IdentityToken, error) {
	return &IdentityToken{Token: "xsts:" + identity.Token}, nil
}

type stubService struct{}

func (stubService) LoginWithXbox(_ context.Context, security, identity *IdentityToken) (*ServiceCredential, error) {
	hash, err := identity.UserHash()
	if err != nil {
		return nil, err
	}
	return &ServiceCredential{Username: "steve", AccessToken: hash + "|" + security.Token}, nil
}

func newTestFlow(devices *stubDevices) *Flow {
	return NewFlow("client", devices, stubXbox{}, stubService{}, WithSessionID("test-session"))
}

func TestFlowLogin(t *testing.T) {
	devices := &stubDevices{}
	flow := newTestFlow(devices)
	require.Equal(t, StateInit, flow.State())
	require.Equal(t, "test-session", flow.SessionID())

	var displayed *DeviceCodeGrant
	credential, err := flow.Login(context.Background(), func(g *DeviceCodeGrant) { displayed = g })
	require.NoError(t, err)
	require.Equal(t, "hash|xsts:user:ms-dev", credential.AccessToken)
	require.Equal(t, StateDone, flow.State())
	require.Equal(t, "client", devices.gotClient)
	require.Equal(t, DefaultScope, devices.gotScope)

	grant, ok := flow.Grant()
	require.True(t, ok)
	require.Same(t, grant, displayed)
	tokens, ok := flow.TokenSet()
	require.True(t, ok)
	require.Equal(t, "ms-dev", tokens.AccessToken)
	identity, ok := flow.IdentityToken()
	require.True(t, ok)
	require.Equal(t, "user:ms-dev", identity.Token)
	security, ok := flow.SecurityToken()
	require.True(t, ok)
	require.Equal(t, "xsts:user:ms-dev", security.Token)
	got, ok := flow.Credential()
	require.True(t, ok)
	require.Same(t, credential, got)

	again, err := flow.Login(context.Background(), nil)
	require.NoError(t, err)
	require.Same(t, credential, again)
	require.Equal(t, 1, devices.requests)
}

func TestFlowStepsInOrder(t *testing.T) {
	flow := newTestFlow(&stubDevices{})
	ctx := context.Background()

	_, err := flow.RequestCode(ctx)
	require.NoError(t, err)
	require.Equal(t, StateHaveGrant, flow.State())
	_, err = flow.WaitForLogin(ctx)
	require.NoError(t, err)
	require.Equal(t, StateHaveTokenSet, flow.State())
	_, err = flow.LoginWithAccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, StateHaveIdentityToken, flow.State())
	_, err = flow.AuthorizeForService(ctx)
	require.NoError(t, err)
	require.Equal(t, StateHaveSecurityToken, flow.State())
	_, err = flow.LoginWithXbox(ctx)
	require.NoError(t, err)
	require.Equal(t, StateDone, flow.State())
}

func TestFlowPrerequisiteMissing(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		step Step
		run  func(*Flow) error
	}{
		{name: "wait for login", step: StepWaitForLogin, run: func(f *Flow) error { _, err := f.WaitForLogin(ctx); return err }},
		{name: "login with access token", step: StepLoginWithAccessToken, run: func(f *Flow) error { _, err := f.LoginWithAccessToken(ctx); return err }},
		{name: "authorize for service", step: StepAuthorizeForService, run: func(f *Flow) error { _, err := f.AuthorizeForService(ctx); return err }},
		{name: "login with xbox", step: StepLoginWithXbox, run: func(f *Flow) error { _, err := f.LoginWithXbox(ctx); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := newTestFlow(&stubDevices{})
			err := tt.run(flow)
			require.ErrorIs(t, err, ErrPrerequisiteMissing)

			var perr *PrerequisiteMissingError
			require.True(t, errors.As(err, &perr))
			require.Equal(t, tt.step, perr.Step)
			require.Equal(t, StateInit, perr.Have)
			require.Equal(t, StateInit, flow.State())
			require.NoError(t, flow.Err())
		})
	}
}

func TestFlowSkippingAStep(t *testing.T) {
	flow := newTestFlow(&stubDevices{})
	_, err := flow.RequestCode(context.Background())
	require.NoError(t, err)

	_, err = flow.AuthorizeForService(context.Background())
	var perr *PrerequisiteMissingError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, StateHaveGrant, perr.Have)
	require.Contains(t, err.Error(), "requires have-identity-token")
}

func TestFlowStepCompleted(t *testing.T) {
	flow := newTestFlow(&stubDevices{})
	_, err := flow.RequestCode(context.Background())
	require.NoError(t, err)

	_, err = flow.RequestCode(context.Background())
	require.ErrorIs(t, err, ErrStepCompleted)
	require.Equal(t, StateHaveGrant, flow.State())
}

func TestFlowTerminalFailureKeepsPartialState(t *testing.T) {
	rejected := &TerminalAuthError{Reason: RejectDeclined}
	devices := &stubDevices{waitErr: rejected}
	flow := newTestFlow(devices)

	_, err := flow.Login(context.Background(), nil)
	require.ErrorIs(t, err, ErrAuthDeclined)
	require.Equal(t, StateHaveGrant, flow.State())
	require.Same(t, rejected, flow.Err())
	_, ok := flow.Grant()
	require.True(t, ok)

	_, err = flow.WaitForLogin(context.Background())
	require.ErrorIs(t, err, ErrSessionFailed)
	require.ErrorIs(t, err, ErrAuthDeclined)
	require.Equal(t, 1, devices.waits)

	flow.Reset()
	require.Equal(t, StateInit, flow.State())
	require.NoError(t, flow.Err())
	require.NotEqual(t, "test-session", flow.SessionID())
	_, ok = flow.Grant()
	require.False(t, ok)

	credential, err := flow.Login(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "steve", credential.Username)
	require.Equal(t, 2, devices.requests)
}

func TestFlowCancellationIsResumable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	devices := &stubDevices{waitErr: context.Canceled, cancel: cancel}
	flow := newTestFlow(devices)

	_, err := flow.Login(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateHaveGrant, flow.State())
	require.NoError(t, flow.Err())

	credential, err := flow.Login(context.Background(), func(*DeviceCodeGrant) {
		t.Fatal("grant displayed twice")
	})
	require.NoError(t, err)
	require.Equal(t, "steve", credential.Username)
	require.Equal(t, 1, devices.requests)
}

func TestFlowClientTimeoutIsTerminal(t *testing.T) {
	timeout := &TransportError{Op: "token", Err: context.DeadlineExceeded}
	devices := &stubDevices{waitErr: timeout}
	flow := newTestFlow(devices)

	_, err := flow.Login(context.Background(), nil)
	require.ErrorIs(t, err, ErrTransport)
	require.Equal(t, StateHaveGrant, flow.State())
	require.ErrorIs(t, flow.Err(), ErrTransport)

	_, err = flow.WaitForLogin(context.Background())
	require.ErrorIs(t, err, ErrSessionFailed)
	require.ErrorIs(t, err, ErrTransport)
	require.Equal(t, 1, devices.waits)
}

func TestFlowRequestCodeFailure(t *testing.T) {
	devices := &stubDevices{requestErr: &DecodeError{Op: "device_code", Err: errors.New("boom")}}
	flow := newTestFlow(devices)

	grant, err := flow.RequestCode(context.Background())
	require.Nil(t, grant)
	require.ErrorIs(t, err, ErrDecode)
	require.Equal(t, StateInit, flow.State())
	require.ErrorIs(t, flow.Err(), ErrDecode)
}

func TestWithScope(t *testing.T) {
	devices := &stubDevices{}
	flow := NewFlow("client", devices, stubXbox{}, stubService{}, WithScope("custom"))
	_, err := flow.RequestCode(context.Background())
	require.NoError(t, err)
	require.Equal(t, "custom", devices.gotScope)
}
