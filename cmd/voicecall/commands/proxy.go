package commands

import (
	"github.com/bt-bridge/livekit-voicecall/proxy"
	"github.com/bt-bridge/livekit-voicecall/shared"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run the local token proxy",
	Long: `Run the local token proxy.

POST /proxy/tokens/generate is forwarded to the upstream issuer with the
configured API key; GET /health answers {"status":"ok"}.

Examples:
  VOICECALL_PROXY_API_KEY=... voicecall proxy --listen :5001`,
	RunE: runProxy,
}

func init() {
	f := proxyCmd.Flags()
	f.String("listen", "", "listen address")
	f.String("upstream-url", "", "upstream token issuer URL")
	f.String("upstream-token", "", "API key sent upstream as X-API-Key")
}

func runProxy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := shared.NewStdLogger(shared.ParseLevel(cfg.Log.Level)).With(
		zap.String("version", shared.Version),
	)
	defer func() { _ = logger.Sync() }()

	srv, err := proxy.NewServer(logger, cfg.Proxy, cfg.RequestTimeout, proxy.WithDefaultAgentName(cfg.AgentName))
	if err != nil {
		logger.Error("creating proxy", err)
		return err
	}
	ctx, stop := signalContext(cmd)
	defer stop()
	if err := srv.ListenAndServe(ctx, cfg.Proxy.Listen); err != nil {
		logger.Error("serving proxy", err)
		return err
	}
	return nil
}
