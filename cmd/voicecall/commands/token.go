package commands

import (
	"context"

	voicecall "github.com/bt-bridge/livekit-voicecall"
	"github.com/bt-bridge/livekit-voicecall/shared"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Fetch credentials once and print them",
	Long: `Fetch one set of room credentials from the token endpoint and print
them with the decoded (unverified) access token claims.

Examples:
  voicecall token
  voicecall token -a agent-2 --proxy-url http://localhost:5001/proxy/tokens/generate`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().String("server-url", "", "LiveKit URL used when the token response has none")
}

type tokenReport struct {
	Credentials *voicecall.ConnectionCredentials `yaml:"credentials"`
	Claims      *voicecall.AccessClaims          `yaml:"claims,omitempty"`
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := shared.NewStdLogger(shared.ParseLevel(cfg.Log.Level)).With(zap.String("component", "token"))
	defer func() { _ = logger.Sync() }()

	fetcher, err := voicecall.NewTokenFetcher(
		logger,
		cfg.ProxyURL,
		voicecall.WithHTTPClient(newHTTPClient(cfg)),
		voicecall.WithDefaultAgentName(cfg.AgentName),
		voicecall.WithFallbackServerURL(cfg.FallbackServerURL),
	)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()
	creds, err := fetcher.FetchCredentials(ctx, cfg.AgentName)
	if err != nil {
		logger.Error("fetching token", err)
		return err
	}

	report := tokenReport{Credentials: creds}
	if claims, err := creds.Claims(); err == nil {
		report.Claims = claims
	} else {
		logger.Warn("access token is not a readable JWT", zap.Error(err))
	}
	printer, err := newStdoutPrinter()
	if err != nil {
		return err
	}
	return printYAML(printer, "🔑 Credentials", report)
}
