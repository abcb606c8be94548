package login

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/vatsimnerd/mcauth"
	"github.com/vatsimnerd/mcauth/config"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type steppingClock struct {
	*clocktesting.FakeClock
}

func (c *steppingClock) After(d time.Duration) <-chan time.Time {
	ch := c.FakeClock.After(d)
	c.FakeClock.Step(d)
	return ch
}

type fixture struct {
	mu            sync.Mutex
	tokenPolls    int
	pending       int
	tokenDelay    time.Duration
	identityToken string
	xstsRequest   map[string]any
}

func (f *fixture) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/devicecode", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("client_id") != "client" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user_code":        "ABCD-EFGH",
			"device_code":      "dev-code",
			"verification_uri": "https://www.microsoft.com/link",
			"expires_in":       900,
			"interval":         5,
			"message":          "enter ABCD-EFGH",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tokenPolls++
		poll := f.tokenPolls
		f.mu.Unlock()
		if f.tokenDelay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(f.tokenDelay):
			}
		}
		if poll <= f.pending {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token_type":     "Bearer",
			"scope":          "XboxLive.signin XboxLive.offline_access",
			"expires_in":     3600,
			"ext_expires_in": 3600,
			"access_token":   "ms-access",
			"refresh_token":  "ms-refresh",
		})
	})
	mux.HandleFunc("/user/authenticate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"IssueInstant": "2024-01-01T12:00:12Z",
			"NotAfter": "2024-01-15T12:00:12Z",
			"Token": "user-token",
			"DisplayClaims": {"xui": [{"uhs": "8245"}]}
		}`))
	})
	mux.HandleFunc("/xsts/authorize", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.xstsRequest = body
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{
			"IssueInstant": "2024-01-01T12:00:13Z",
			"NotAfter": "2024-01-02T04:00:13Z",
			"Token": "xsts-token",
			"DisplayClaims": {"xui": [{"uhs": "8245"}]}
		}`))
	})
	mux.HandleFunc("/authentication/login_with_xbox", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.identityToken = body["identityToken"]
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{
			"username": "0c7a2f3e-0000-4000-8000-5d1f2a3b4c5d",
			"roles": [],
			"access_token": "mc-access",
			"token_type": "Bearer",
			"expires_in": 86400
		}`))
	})
	return mux
}

func testConfig(srv *httptest.Server) config.Config {
	cfg := config.DefaultConfig()
	cfg.ClientID = "client"
	cfg.Endpoints = config.Endpoints{
		DeviceCode:       srv.URL + "/devicecode",
		Token:            srv.URL + "/token",
		UserAuthenticate: srv.URL + "/user/authenticate",
		XSTSAuthorize:    srv.URL + "/xsts/authorize",
		ServiceLogin:     srv.URL + "/authentication/login_with_xbox",
	}
	return cfg
}

func TestFlowAgainstFixtures(t *testing.T) {
	f := &fixture{pending: 2}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	clk := &steppingClock{FakeClock: clocktesting.NewFakeClock(epoch)}
	flow := NewFlow(testConfig(srv), WithHTTPClient(srv.Client()), WithClock(clk))

	var shown *mcauth.DeviceCodeGrant
	credential, err := flow.Login(context.Background(), func(g *mcauth.DeviceCodeGrant) { shown = g })
	require.NoError(t, err)

	require.Equal(t, "ABCD-EFGH", shown.UserCode)
	require.Equal(t, "https://www.microsoft.com/link", shown.VerificationURI)
	require.Equal(t, epoch.Add(18*time.Second), clk.Now())

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Equal(t, 3, f.tokenPolls)
	require.Equal(t, "XBL3.0 x=8245;xsts-token", f.identityToken)
	require.Equal(t, "rp://api.minecraftservices.com/", f.xstsRequest["RelyingParty"])

	require.Equal(t, &mcauth.ServiceCredential{
		Username:    "0c7a2f3e-0000-4000-8000-5d1f2a3b4c5d",
		Roles:       []string{},
		AccessToken: "mc-access",
		ExpiresIn:   86400,
		TokenType:   "Bearer",
		ReceivedAt:  epoch.Add(18 * time.Second),
	}, credential)
	require.Equal(t, mcauth.StateDone, flow.State())
}

func TestFlowInvalidClient(t *testing.T) {
	f := &fixture{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	cfg := testConfig(srv)
	cfg.ClientID = "invalid"
	flow := NewFlow(cfg, WithHTTPClient(srv.Client()))

	_, err := flow.Login(context.Background(), nil)
	require.ErrorIs(t, err, mcauth.ErrDecode)

	var oerr *mcauth.OAuthError
	require.True(t, errors.As(err, &oerr))
	require.Equal(t, "invalid_client", oerr.Code)
	require.Equal(t, mcauth.StateInit, flow.State())
}

func TestFlowClientTimeoutEndsSession(t *testing.T) {
	f := &fixture{tokenDelay: 2 * time.Second}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	hc := srv.Client()
	hc.Timeout = 50 * time.Millisecond
	clk := &steppingClock{FakeClock: clocktesting.NewFakeClock(epoch)}
	flow := NewFlow(testConfig(srv), WithHTTPClient(hc), WithClock(clk))

	_, err := flow.Login(context.Background(), nil)
	require.ErrorIs(t, err, mcauth.ErrTransport)
	require.Equal(t, mcauth.StateHaveGrant, flow.State())
	require.ErrorIs(t, flow.Err(), mcauth.ErrTransport)

	_, err = flow.WaitForLogin(context.Background())
	require.ErrorIs(t, err, mcauth.ErrSessionFailed)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Equal(t, 1, f.tokenPolls)
}

func TestNewFlowUsesConfiguredScope(t *testing.T) {
	var (
		mu    sync.Mutex
		scope string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		scope = r.URL.Query().Get("scope")
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := testConfig(srv)
	cfg.Scope = "XboxLive.signin"
	cfg.Endpoints.DeviceCode = srv.URL
	flow := NewFlow(cfg, WithHTTPClient(srv.Client()), WithFlowOptions(mcauth.WithSessionID("fixed")))

	_, err := flow.RequestCode(context.Background())
	require.Error(t, err)
	mu.Lock()
	require.Equal(t, "XboxLive.signin", scope)
	mu.Unlock()
	require.Equal(t, "fixed", flow.SessionID())
	require.Equal(t, "client", flow.ClientID())
}
