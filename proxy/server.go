// Package proxy is the local token endpoint the call client talks to. It
// forwards token requests to the upstream issuer with the API key attached,
// so the key never leaves this machine.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	voicecall "github.com/bt-bridge/livekit-voicecall"
	"github.com/bt-bridge/livekit-voicecall/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	TokensPath = "/proxy/tokens/generate"
	HealthPath = "/health"
)

const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Content-Type, X-API-Key"
)

type Server struct {
	logger       shared.LoggerAdapter
	upstream     *url.URL
	apiKey       string
	defaultAgent string
	client       voicecall.Doer
	srv          *fasthttp.Server
}

type Option func(s *Server)

func WithHTTPClient(client voicecall.Doer) Option {
	return func(s *Server) { s.client = client }
}

func WithDefaultAgentName(name string) Option {
	return func(s *Server) { s.defaultAgent = name }
}

func NewServer(logger shared.LoggerAdapter, cfg shared.ProxyConfig, timeout time.Duration, opts ...Option) (*Server, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	u, err := url.Parse(cfg.UpstreamURL)
	if err != nil || u.Host == "" {
		return nil, &shared.ConfigError{Field: "proxy.upstream_url", Value: cfg.UpstreamURL, Message: "must be an absolute URL"}
	}
	if cfg.APIKey == "" {
		logger.Warn("no upstream API key configured, forwarding requests without one")
	}
	s := &Server{
		logger:       logger.With(zap.String("component", "proxy")),
		upstream:     u,
		apiKey:       cfg.APIKey,
		defaultAgent: shared.DefaultAgentName,
		client: &fasthttp.Client{
			Name:         "voicecall-proxy/" + shared.Version,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = &fasthttp.Server{
		Name:    "voicecall-proxy",
		Handler: s.Handler,
	}
	return s, nil
}

func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	h := &ctx.Response.Header
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)

	if ctx.IsOptions() {
		ctx.SetStatusCode(fasthttp.StatusNoContent)
		return
	}
	switch path := string(ctx.Path()); {
	case path == TokensPath && ctx.IsPost():
		s.forwardToken(ctx)
	case path == HealthPath && ctx.IsGet():
		s.writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
	case path == TokensPath || path == HealthPath:
		s.writeJSON(ctx, fasthttp.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	default:
		s.writeJSON(ctx, fasthttp.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (s *Server) upstreamURI(agentName string) string {
	u := *s.upstream
	q := u.Query()
	q.Set("agent_name", agentName)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Server) forwardToken(ctx *fasthttp.RequestCtx) {
	agentName := string(ctx.QueryArgs().Peek("agent_name"))
	if agentName == "" {
		agentName = s.defaultAgent
	}
	uri := s.upstreamURI(agentName)
	log := s.logger.With(zap.String("agent", agentName), zap.String("remote", ctx.RemoteAddr().String()))
	log.Info("proxying token request", zap.String("upstream", s.upstream.Host))

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}
	req.SetBodyString("{}")

	if err := s.client.Do(req, resp); err != nil {
		log.Error("calling upstream", err)
		s.writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	status := resp.StatusCode()
	body := resp.Body()
	log.Info("upstream answered", zap.Int("status", status), zap.Int("bytes", len(body)))
	if !sonic.Valid(body) {
		err := fmt.Errorf("upstream returned a non-JSON body with status %d", status)
		log.Error("relaying upstream response", err, zap.ByteString("body", body))
		s.writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	b, err := sonic.Marshal(v)
	if err != nil {
		s.logger.Error("encoding response", err)
		ctx.Error(fasthttp.StatusMessage(fasthttp.StatusInternalServerError), fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(b)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errC := make(chan error, 1)
	go func() {
		errC <- s.srv.Serve(ln)
	}()
	s.logger.Info("proxy listening", zap.String("addr", ln.Addr().String()))
	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
		s.logger.Info("proxy shutting down")
		if err := s.srv.Shutdown(); err != nil {
			return fmt.Errorf("shutting down proxy: %w", err)
		}
		if err := <-errC; err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}
