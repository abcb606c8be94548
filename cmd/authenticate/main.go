package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vatsimnerd/mcauth"
	"github.com/vatsimnerd/mcauth/config"
	"github.com/vatsimnerd/mcauth/login"
)

type options struct {
	configPath   string
	clientID     string
	scope        string
	relyingParty string
	timeout      time.Duration
	debug        bool
	asJSON       bool
}

type result struct {
	Username    string    `json:"username"`
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Expiry      time.Time `json:"expiry,omitempty"`
	Roles       []string  `json:"roles"`
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "authenticate",
		Short:         "Log in with a Microsoft account and obtain a Minecraft services token",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), out, *cfg, opts.asJSON)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", config.DefaultConfigPath(), "Path to config file")
	flags.StringVar(&opts.clientID, "client-id", "", "Azure application (client) id")
	flags.StringVar(&opts.scope, "scope", "", "OAuth scope to request")
	flags.StringVar(&opts.relyingParty, "relying-party", "", "Relying party of the security token")
	flags.DurationVar(&opts.timeout, "timeout", 0, "HTTP timeout per request")
	flags.BoolVarP(&opts.debug, "debug", "d", false, "debug mode")
	flags.BoolVar(&opts.asJSON, "json", false, "Print the credential as JSON")

	return cmd
}

// resolveConfig layers the config file, environment and flags, in that order.
// Only the implicit default path may be missing.
func resolveConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	explicit := cmd.Flags().Changed("config") || os.Getenv("MCAUTH_CONFIG") != ""
	cfg, err := config.Load(opts.configPath, !explicit)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if opts.clientID != "" {
		cfg.ClientID = opts.clientID
	}
	if opts.scope != "" {
		cfg.Scope = opts.scope
	}
	if opts.relyingParty != "" {
		cfg.RelyingParty = opts.relyingParty
	}
	if opts.timeout > 0 {
		cfg.Timeout = opts.timeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, out io.Writer, cfg config.Config, asJSON bool) error {
	flow := login.NewFlow(cfg)

	credential, err := flow.Login(ctx, func(grant *mcauth.DeviceCodeGrant) {
		if grant.Message != "" {
			logrus.WithField("session", flow.SessionID()).Info(grant.Message)
		}
		fmt.Fprintf(out, "Open this link in your browser %s and enter the following code: %s\n", grant.VerificationURI, grant.UserCode)
		fmt.Fprintln(out, "Waiting authentication...")
	})
	if err != nil {
		logrus.WithError(err).WithField("state", flow.State()).Debug("login failed")
		return fmt.Errorf("login failed: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result{
			Username:    credential.Username,
			AccessToken: credential.AccessToken,
			TokenType:   credential.TokenType,
			Expiry:      credential.Token().Expiry,
			Roles:       credential.Roles,
		})
	}

	fmt.Fprintln(out, "Logged in:")
	fmt.Fprintf(out, "Bearer token: %s\n", credential.AccessToken)
	fmt.Fprintf(out, "UUID: %s\n", credential.Username)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("authentication failed")
		stop()
		os.Exit(1)
	}
}
