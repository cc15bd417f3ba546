package proxy

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/bt-bridge/livekit-voicecall/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type doerFunc func(req *fasthttp.Request, resp *fasthttp.Response) error

func (f doerFunc) Do(req *fasthttp.Request, resp *fasthttp.Response) error { return f(req, resp) }

var testConfig = shared.ProxyConfig{
	UpstreamURL: "https://issuer.test/tokens/generate",
	APIKey:      "secret",
}

func newTestServer(t *testing.T, doer doerFunc) *Server {
	t.Helper()
	s, err := NewServer(shared.NewNopLogger(), testConfig, time.Second, WithHTTPClient(doer))
	require.NoError(t, err)
	return s
}

func do(s *Server, method, uri string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	ctx := new(fasthttp.RequestCtx)
	ctx.Init(&req, nil, nil)
	s.Handler(ctx)
	return ctx
}

func TestForwardsTokenRequest(t *testing.T) {
	var (
		uri, apiKey, contentType, body string
	)
	s := newTestServer(t, func(req *fasthttp.Request, resp *fasthttp.Response) error {
		uri = req.URI().String()
		apiKey = string(req.Header.Peek("X-API-Key"))
		contentType = string(req.Header.ContentType())
		body = string(req.Body())
		resp.SetStatusCode(fasthttp.StatusCreated)
		resp.SetBodyString(`{"token":"t","livekit_url":"wss://x","room_name":"r"}`)
		return nil
	})

	ctx := do(s, fasthttp.MethodPost, "http://localhost/proxy/tokens/generate?agent_name=agent-9")

	assert.Equal(t, "https://issuer.test/tokens/generate?agent_name=agent-9", uri)
	assert.Equal(t, "secret", apiKey)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "{}", body)
	assert.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"token":"t","livekit_url":"wss://x","room_name":"r"}`, string(ctx.Response.Body()))
	assert.Equal(t, "*", string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")))
}

func TestForwardsDefaultAgentName(t *testing.T) {
	var agent string
	s := newTestServer(t, func(req *fasthttp.Request, resp *fasthttp.Response) error {
		agent = string(req.URI().QueryArgs().Peek("agent_name"))
		resp.SetBodyString(`{}`)
		return nil
	})

	do(s, fasthttp.MethodPost, "http://localhost/proxy/tokens/generate")
	assert.Equal(t, shared.DefaultAgentName, agent)
}

func TestUpstreamErrorsBecome500(t *testing.T) {
	tests := []struct {
		name    string
		doer    doerFunc
		wantErr string
	}{
		{
			name: "transport failure",
			doer: func(req *fasthttp.Request, resp *fasthttp.Response) error {
				return errors.New("connection refused")
			},
			wantErr: "connection refused",
		},
		{
			name: "non-json body",
			doer: func(req *fasthttp.Request, resp *fasthttp.Response) error {
				resp.SetStatusCode(fasthttp.StatusBadGateway)
				resp.SetBodyString("<html>bad gateway</html>")
				return nil
			},
			wantErr: "non-JSON body with status 502",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := do(newTestServer(t, tt.doer), fasthttp.MethodPost, "http://localhost/proxy/tokens/generate")
			assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
			assert.Contains(t, string(ctx.Response.Body()), tt.wantErr)
		})
	}
}

func TestUpstreamStatusIsRelayed(t *testing.T) {
	s := newTestServer(t, func(req *fasthttp.Request, resp *fasthttp.Response) error {
		resp.SetStatusCode(fasthttp.StatusUnauthorized)
		resp.SetBodyString(`{"detail":"invalid api key"}`)
		return nil
	})

	ctx := do(s, fasthttp.MethodPost, "http://localhost/proxy/tokens/generate")
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"detail":"invalid api key"}`, string(ctx.Response.Body()))
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t, func(req *fasthttp.Request, resp *fasthttp.Response) error {
		t.Fatal("upstream must not be called")
		return nil
	})

	tests := []struct {
		method, path string
		status       int
		body         string
	}{
		{fasthttp.MethodGet, "/health", fasthttp.StatusOK, `{"status":"ok"}`},
		{fasthttp.MethodOptions, "/proxy/tokens/generate", fasthttp.StatusNoContent, ""},
		{fasthttp.MethodGet, "/proxy/tokens/generate", fasthttp.StatusMethodNotAllowed, `{"error":"method not allowed"}`},
		{fasthttp.MethodGet, "/nope", fasthttp.StatusNotFound, `{"error":"not found"}`},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			ctx := do(s, tt.method, "http://localhost"+tt.path)
			assert.Equal(t, tt.status, ctx.Response.StatusCode())
			if tt.body != "" {
				assert.JSONEq(t, tt.body, string(ctx.Response.Body()))
			}
			assert.Equal(t, corsAllowMethods, string(ctx.Response.Header.Peek("Access-Control-Allow-Methods")))
		})
	}
}

func TestNewServerRejectsBadUpstream(t *testing.T) {
	_, err := NewServer(shared.NewNopLogger(), shared.ProxyConfig{UpstreamURL: "not a url"}, time.Second)
	assert.ErrorIs(t, err, shared.ErrInvalidConfig)

	_, err = NewServer(nil, testConfig, time.Second)
	assert.ErrorIs(t, err, shared.ErrNoLogger)
}

func TestServeUntilCancelled(t *testing.T) {
	s := newTestServer(t, func(req *fasthttp.Request, resp *fasthttp.Response) error { return nil })
	ln := fasthttputil.NewInmemoryListener()
	ctx, cancel := context.WithCancel(context.Background())
	errC := make(chan error, 1)
	go func() { errC <- s.Serve(ctx, ln) }()

	client := &fasthttp.Client{Dial: func(addr string) (net.Conn, error) { return ln.Dial() }}
	status, body, err := client.Get(nil, "http://proxy.test/health")
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	cancel()
	select {
	case err := <-errC:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
