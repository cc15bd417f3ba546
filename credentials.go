package voicecall

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/bt-bridge/livekit-voicecall/shared"
	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// ConnectionCredentials is what one call attempt needs to join a room.
type ConnectionCredentials struct {
	AccessToken string `json:"token" yaml:"token"`
	ServerURL   string `json:"livekit_url" yaml:"livekit_url"`
	RoomName    string `json:"room_name" yaml:"room_name"`
}

// AccessClaims is the subset of a LiveKit access token worth showing a human.
type AccessClaims struct {
	Identity  string    `yaml:"identity"`
	Room      string    `yaml:"room,omitempty"`
	ExpiresAt time.Time `yaml:"expires_at,omitempty"`
}

type livekitClaims struct {
	jwt.RegisteredClaims
	Video struct {
		Room     string `json:"room"`
		RoomJoin bool   `json:"roomJoin"`
	} `json:"video"`
}

// Claims decodes the token payload without verifying it; the client never
// holds the signing secret.
func (c *ConnectionCredentials) Claims() (*AccessClaims, error) {
	claims := new(livekitClaims)
	if _, _, err := jwt.NewParser().ParseUnverified(c.AccessToken, claims); err != nil {
		return nil, fmt.Errorf("decoding access token: %w", err)
	}
	out := &AccessClaims{
		Identity: claims.Subject,
		Room:     claims.Video.Room,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// CredentialsFetcher obtains fresh credentials for one call attempt.
type CredentialsFetcher interface {
	FetchCredentials(ctx context.Context, agentName string) (*ConnectionCredentials, error)
}

// Doer is satisfied by *fasthttp.Client.
type Doer interface {
	Do(req *fasthttp.Request, resp *fasthttp.Response) error
}

type TokenFetcher struct {
	logger    shared.LoggerAdapter
	endpoint  *url.URL
	client    Doer
	fallback  string
	agentName string
}

var _ CredentialsFetcher = (*TokenFetcher)(nil)

type TokenFetcherOption func(f *TokenFetcher)

// WithFallbackServerURL is used when the endpoint answers without livekit_url.
func WithFallbackServerURL(serverURL string) TokenFetcherOption {
	return func(f *TokenFetcher) { f.fallback = serverURL }
}

func WithHTTPClient(client Doer) TokenFetcherOption {
	return func(f *TokenFetcher) { f.client = client }
}

func WithDefaultAgentName(name string) TokenFetcherOption {
	return func(f *TokenFetcher) { f.agentName = name }
}

func NewTokenFetcher(logger shared.LoggerAdapter, endpoint string, opts ...TokenFetcherOption) (*TokenFetcher, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing token endpoint: %w", err)
	}
	f := &TokenFetcher{
		logger:    logger,
		endpoint:  u,
		client:    &fasthttp.Client{Name: "voicecall/" + shared.Version},
		agentName: shared.DefaultAgentName,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *TokenFetcher) requestURI(agentName string) string {
	u := *f.endpoint
	q := u.Query()
	q.Set("agent_name", agentName)
	u.RawQuery = q.Encode()
	return u.String()
}

func (f *TokenFetcher) FetchCredentials(ctx context.Context, agentName string) (*ConnectionCredentials, error) {
	if agentName == "" {
		agentName = f.agentName
	}
	uri := f.requestURI(agentName)
	f.logger.Debug("fetching token", zap.String("endpoint", uri))

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	release := func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")

	errC := make(chan error, 1)
	go func() {
		errC <- f.client.Do(req, resp)
	}()
	select {
	case <-ctx.Done():
		// The request may still be in flight; give the buffers back once it lands.
		go func() {
			<-errC
			release()
		}()
		return nil, &shared.TokenFetchError{Endpoint: uri, Cause: ctx.Err()}
	case err := <-errC:
		defer release()
		if err != nil {
			return nil, &shared.TokenFetchError{Endpoint: uri, Cause: err}
		}
	}

	status := resp.StatusCode()
	f.logger.Debug("token endpoint answered", zap.Int("status", status))
	if status < 200 || status > 299 {
		return nil, &shared.TokenFetchError{
			Endpoint:   uri,
			StatusCode: status,
			Body:       string(resp.Body()),
		}
	}

	creds := new(ConnectionCredentials)
	if err := sonic.Unmarshal(resp.Body(), creds); err != nil {
		return nil, &shared.TokenFetchError{Endpoint: uri, Cause: fmt.Errorf("decoding response: %w", err)}
	}
	if creds.AccessToken == "" {
		return nil, &shared.TokenFetchError{Endpoint: uri, Cause: fmt.Errorf("response carries no token")}
	}
	if creds.ServerURL == "" {
		if f.fallback == "" {
			return nil, &shared.TokenFetchError{Endpoint: uri, Cause: fmt.Errorf("response carries no livekit_url")}
		}
		creds.ServerURL = f.fallback
	}
	f.logger.Info(
		"token received",
		zap.String("room", creds.RoomName),
		zap.String("server", creds.ServerURL),
	)
	return creds, nil
}
