package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	voicecall "github.com/bt-bridge/livekit-voicecall"
	"github.com/bt-bridge/livekit-voicecall/lkroom"
	"github.com/bt-bridge/livekit-voicecall/shared"
	"github.com/bt-bridge/livekit-voicecall/tools"
	"github.com/bt-bridge/livekit-voicecall/ui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Playback buffering for agent audio.
const (
	speakerOtoBufferMs    = 100
	speakerRingBufferSecs = 2
)

const shutdownGrace = 5 * time.Second

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Start an interactive voice call",
	Long: `Start an interactive voice call.

Type "start" (or s) to place the call and "end" (or e) to hang up. The
microphone is published once the room is joined; the agent's voice plays
on the default output device. Logs go to the configured log file.

Examples:
  voicecall call
  voicecall call -a support-agent --log-file /tmp/call.log`,
	RunE: runCall,
}

func init() {
	f := callCmd.Flags()
	f.String("agent-marker", "", "substring identifying the agent participant")
	f.String("server-url", "", "LiveKit URL used when the token response has none")
	f.String("log-file", "", "log file path")
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := shared.NewFileLogger(cfg.Log).With(
		zap.String("component", "cli"),
		zap.String("version", shared.Version),
	)
	defer func() { _ = logger.Sync() }()

	printer, err := newStdoutPrinter()
	if err != nil {
		logger.Error("creating printer", err)
		return err
	}
	if err := printYAML(printer, "📋 Call config", cfg); err != nil {
		logger.Error("printing call config", err)
	}
	_ = printer.Writeln("", 0)

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
	connector, err := lkroom.NewConnector(logger)
	if err != nil {
		return err
	}
	mic, err := tools.NewMicrophone(logger)
	if err != nil {
		return err
	}
	speaker, err := tools.NewSpeaker(logger, speakerOtoBufferMs, speakerRingBufferSecs)
	if err != nil {
		return err
	}
	controller, err := ui.NewController(logger, printer)
	if err != nil {
		return err
	}
	session, err := voicecall.NewCallSession(
		logger, fetcher, connector, mic, speaker, controller,
		voicecall.WithAgentName(cfg.AgentName),
		voicecall.WithAgentMarker(cfg.AgentMarker),
	)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	logger.Info("call client ready", zap.String("proxy", cfg.ProxyURL), zap.String("agent", cfg.AgentName))
	if err := controller.Run(ctx, session, os.Stdin); err != nil {
		logger.Error("reading commands", err)
		return fmt.Errorf("reading commands: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := session.WaitIdle(waitCtx); err != nil {
		logger.Warn("call did not end in time", zap.Stringer("state", session.State()))
		return nil
	}
	logger.Info("call client stopped")
	return nil
}
