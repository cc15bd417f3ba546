package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bt-bridge/livekit-voicecall/shared"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
)

const printerIndent = "│  "

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "voicecall",
	Short: "Voice calls with an AI agent over LiveKit",
	Long: `Voice calls with an AI agent over LiveKit.

Configuration is read from ./voicecall.yaml or ~/.voicecall/voicecall.yaml
(or --config), then VOICECALL_* environment variables, then flags.

Example config file (voicecall.yaml):
  proxy_url: http://localhost:5001/proxy/tokens/generate
  agent_name: agent-1
  log:
    file: voicecall.log
    level: debug`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       shared.Version,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (YAML)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	pf.String("proxy-url", "", "token endpoint")
	pf.StringP("agent-name", "a", "", "agent to request in the room")
	pf.Duration("timeout", 0, "token request timeout")
	pf.String("log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(callCmd, tokenCmd, proxyCmd)
}

func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func loadConfig(cmd *cobra.Command) (*shared.Config, error) {
	cfg, err := shared.LoadConfig(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newHTTPClient(cfg *shared.Config) *fasthttp.Client {
	return &fasthttp.Client{
		Name:         "voicecall/" + shared.Version,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}
}

func newStdoutPrinter() (*shared.Printer, error) {
	stdoutHook := shared.NewWriteCloser(os.Stdout)
	if stdoutHook == nil {
		return nil, fmt.Errorf("creating stdout hook")
	}
	return shared.NewPrinter(printerIndent, stdoutHook)
}

func printYAML(printer *shared.Printer, title string, v any) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s to yaml: %w", title, err)
	}
	if err := printer.Writeln(title+"\n", 0); err != nil {
		return err
	}
	return printer.Write(string(b), 1)
}
