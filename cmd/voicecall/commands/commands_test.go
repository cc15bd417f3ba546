package commands

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/bt-bridge/livekit-voicecall/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

// isolate keeps config discovery away from the developer's own files.
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func serveTokens(t *testing.T, handler fasthttp.RequestHandler) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	return "http://" + ln.Addr().String() + "/proxy/tokens/generate"
}

func TestFlagsReachConfig(t *testing.T) {
	isolate(t)
	require.NoError(t, tokenCmd.ParseFlags([]string{
		"--proxy-url", "http://127.0.0.1:9/proxy/tokens/generate",
		"-a", "agent-3",
		"--timeout", "3s",
		"--server-url", "wss://fallback.test",
	}))

	cfg, err := loadConfig(tokenCmd)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9/proxy/tokens/generate", cfg.ProxyURL)
	assert.Equal(t, "agent-3", cfg.AgentName)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "wss://fallback.test", cfg.FallbackServerURL)
}

func TestTokenCommand(t *testing.T) {
	isolate(t)
	var agent string
	endpoint := serveTokens(t, func(ctx *fasthttp.RequestCtx) {
		agent = string(ctx.QueryArgs().Peek("agent_name"))
		ctx.SetBodyString(`{"token":"t","livekit_url":"wss://x","room_name":"r"}`)
	})

	rootCmd.SetArgs([]string{"token", "--proxy-url", endpoint, "-a", "agent-5", "--timeout", "2s"})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Equal(t, "agent-5", agent)
}

func TestTokenCommandFailure(t *testing.T) {
	isolate(t)
	endpoint := serveTokens(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString("server error")
	})

	rootCmd.SetArgs([]string{"token", "--proxy-url", endpoint, "-a", "agent-1", "--timeout", "2s"})
	err := rootCmd.ExecuteContext(context.Background())
	assert.ErrorIs(t, err, shared.ErrTokenFetch)
	assert.Contains(t, err.Error(), "server error")
}

func TestInvalidConfigIsReported(t *testing.T) {
	isolate(t)
	rootCmd.SetArgs([]string{"token", "--proxy-url", "localhost:5001", "--timeout", "2s"})
	err := rootCmd.ExecuteContext(context.Background())
	assert.ErrorIs(t, err, shared.ErrInvalidConfig)
}
