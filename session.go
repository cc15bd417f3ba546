package voicecall

import (
	"context"
	"strings"
	"sync"

	"github.com/bt-bridge/livekit-voicecall/shared"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Status lines shown to the user.
const (
	StatusRequestingToken  = "Requesting token..."
	StatusConnecting       = "Connecting..."
	StatusConnected        = "Connected. Waiting for AI agent..."
	StatusMicrophoneFailed = "Could not get microphone access."
	StatusAgentJoined      = "AI Agent has joined the call."
	StatusAgentSpeaking    = "AI is speaking..."
	StatusDisconnecting    = "Disconnecting..."
	StatusCallEnded        = "Call ended. Ready to connect."
	StatusCancelling       = "Cancelling..."
	StatusCancelled        = "Call cancelled. Ready to connect."
)

// CallSession owns one room connection at a time: Idle → Connecting →
// Connected → Disconnecting → Idle.
type CallSession struct {
	logger    shared.LoggerAdapter
	fetcher   CredentialsFetcher
	connector Connector
	mic       AudioSource
	renderer  Renderer
	ui        Presenter

	agentName   string
	agentMarker string

	mu            sync.Mutex
	fsm           stateMachine
	idle          chan struct{}
	log           shared.LoggerAdapter
	room          Room
	local         LocalAudio
	unsubscribe   func()
	cancelAttempt context.CancelFunc
	endRequested  bool
	callCtx       context.Context
	cancelCall    context.CancelFunc
}

type SessionOption func(s *CallSession)

func WithAgentName(name string) SessionOption {
	return func(s *CallSession) { s.agentName = name }
}

// WithAgentMarker sets the substring that identifies the agent participant.
func WithAgentMarker(marker string) SessionOption {
	return func(s *CallSession) { s.agentMarker = marker }
}

func NewCallSession(
	logger shared.LoggerAdapter,
	fetcher CredentialsFetcher,
	connector Connector,
	mic AudioSource,
	renderer Renderer,
	ui Presenter,
	opts ...SessionOption,
) (*CallSession, error) {
	switch {
	case logger == nil:
		return nil, shared.ErrNoLogger
	case fetcher == nil:
		return nil, shared.ErrNoFetcher
	case connector == nil:
		return nil, shared.ErrNoConnector
	case mic == nil:
		return nil, shared.ErrNoAudioSource
	case renderer == nil:
		return nil, shared.ErrNoRenderer
	case ui == nil:
		return nil, shared.ErrNoPresenter
	}
	idle := make(chan struct{})
	close(idle)
	s := &CallSession{
		logger:      logger,
		fetcher:     fetcher,
		connector:   connector,
		mic:         mic,
		renderer:    renderer,
		ui:          ui,
		agentName:   shared.DefaultAgentName,
		agentMarker: "agent",
		idle:        idle,
		log:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *CallSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.current
}

// WaitIdle blocks until the session is Idle or ctx is done.
func (s *CallSession) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *CallSession) setStateLocked(to State) error {
	from := s.fsm.current
	if err := s.fsm.transition(to); err != nil {
		s.log.Warn("rejected transition", zap.Error(err))
		return err
	}
	switch {
	case from == StateIdle:
		s.idle = make(chan struct{})
	case to == StateIdle:
		close(s.idle)
	}
	s.log.Trace("session state changed", zap.Stringer("prev", from), zap.Stringer("new", to))
	s.ui.SetState(to)
	return nil
}

// Start runs one call attempt and returns once the call is up or the attempt
// failed. It is a no-op returning ErrSessionAlreadyRunning unless Idle. A
// *shared.MicrophonePublishError means the call is up but receive-only.
func (s *CallSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.fsm.current != StateIdle {
		s.mu.Unlock()
		return shared.ErrSessionAlreadyRunning
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	log := s.logger.With(zap.String("attempt", uuid.NewString()))
	s.log = log
	s.cancelAttempt = cancel
	s.endRequested = false
	_ = s.setStateLocked(StateConnecting)
	s.ui.SetStatus(StatusRequestingToken)
	s.mu.Unlock()

	log.Info("starting call", zap.String("agent", s.agentName))
	creds, err := s.fetcher.FetchCredentials(attemptCtx, s.agentName)
	if err != nil {
		return s.abort("Token error", err)
	}
	if claims, err := creds.Claims(); err == nil {
		log.Info(
			"access token decoded",
			zap.String("identity", claims.Identity),
			zap.String("room", claims.Room),
			zap.Time("expires_at", claims.ExpiresAt),
		)
	} else {
		log.Debug("access token is not a readable JWT", zap.Error(err))
	}

	s.mu.Lock()
	if !s.endRequested {
		s.ui.SetStatus(StatusConnecting)
	}
	s.mu.Unlock()

	room, err := s.connector.Connect(attemptCtx, creds.ServerURL, creds.AccessToken)
	if err != nil {
		return s.abort("Error", &shared.ConnectionError{URL: creds.ServerURL, Cause: err})
	}
	return s.connected(room)
}

func (s *CallSession) abort(prefix string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAttempt = nil
	cancelled := s.endRequested
	s.endRequested = false
	_ = s.setStateLocked(StateIdle)
	if cancelled {
		s.log.Info("call attempt cancelled", zap.NamedError("cause", err))
		s.ui.SetStatus(StatusCancelled)
		return shared.ErrAttemptCancelled
	}
	s.log.Error("call attempt failed", err)
	s.ui.SetStatus(prefix + ": " + err.Error())
	return err
}

func (s *CallSession) connected(room Room) error {
	s.mu.Lock()
	log := s.log
	s.cancelAttempt = nil
	s.room = room
	s.callCtx, s.cancelCall = context.WithCancel(context.Background())
	callCtx := s.callCtx
	cancelled := s.endRequested
	s.endRequested = false
	if cancelled {
		_ = s.setStateLocked(StateDisconnecting)
		s.ui.SetStatus(StatusDisconnecting)
	} else {
		_ = s.setStateLocked(StateConnected)
		s.ui.SetStatus(StatusConnected)
	}
	s.mu.Unlock()
	log.Info("connected to room", zap.Bool("end_requested", cancelled))

	// Subscribe may replay buffered events, which take s.mu.
	unsubscribe := room.Subscribe(RoomHandlers{
		OnTrackSubscribed: func(track RemoteTrack) {
			s.handleTrackSubscribed(room, track)
		},
		OnParticipantConnected: func(identity string) {
			s.handleParticipantConnected(room, identity)
		},
		OnDisconnected: func(reason string) {
			s.handleDisconnected(room, reason)
		},
	})
	s.mu.Lock()
	if s.room != room {
		s.mu.Unlock()
		unsubscribe()
		return nil
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	if cancelled {
		room.Disconnect()
		return shared.ErrAttemptCancelled
	}
	return s.publishMicrophone(callCtx, log, room)
}

func (s *CallSession) publishMicrophone(ctx context.Context, log shared.LoggerAdapter, room Room) error {
	audio, err := s.mic.Capture(ctx)
	if err != nil {
		return s.microphoneFailed(log, room, &shared.MicrophonePublishError{Stage: "capture", Cause: err})
	}
	if err := room.PublishAudio(ctx, audio); err != nil {
		if cerr := audio.Close(); cerr != nil {
			log.Error("releasing microphone", cerr)
		}
		return s.microphoneFailed(log, room, &shared.MicrophonePublishError{Stage: "publish", Cause: err})
	}

	s.mu.Lock()
	if s.room != room {
		// Torn down while we were publishing.
		s.mu.Unlock()
		if err := audio.Close(); err != nil {
			log.Error("releasing microphone", err)
		}
		return nil
	}
	s.local = audio
	s.mu.Unlock()
	log.Info("microphone published")
	return nil
}

func (s *CallSession) microphoneFailed(log shared.LoggerAdapter, room Room, err error) error {
	log.Error("publishing microphone", err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == room && s.fsm.current == StateConnected {
		s.ui.SetStatus(StatusMicrophoneFailed)
	}
	return err
}

// End hangs up. While Connecting it cancels the attempt instead; when Idle or
// already Disconnecting it does nothing.
func (s *CallSession) End() {
	s.mu.Lock()
	switch s.fsm.current {
	case StateConnecting:
		cancel := s.cancelAttempt
		if !s.endRequested {
			s.endRequested = true
			s.ui.SetStatus(StatusCancelling)
			s.log.Info("end requested while connecting")
		}
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	case StateConnected:
		_ = s.setStateLocked(StateDisconnecting)
		s.ui.SetStatus(StatusDisconnecting)
		room := s.room
		s.mu.Unlock()
		room.Disconnect()
	default:
		s.mu.Unlock()
	}
}

func (s *CallSession) handleDisconnected(room Room, reason string) {
	s.mu.Lock()
	if s.room != room {
		s.mu.Unlock()
		return
	}
	log := s.log
	_ = s.setStateLocked(StateIdle)
	local, unsubscribe, cancelCall := s.local, s.unsubscribe, s.cancelCall
	s.room, s.local, s.unsubscribe, s.cancelCall, s.callCtx = nil, nil, nil, nil, nil
	s.ui.RemoveAgentAudio()
	s.ui.SetStatus(StatusCallEnded)
	s.mu.Unlock()

	log.Info("disconnected from room", zap.String("reason", reason))
	if cancelCall != nil {
		cancelCall()
	}
	if local != nil {
		if err := local.Close(); err != nil {
			log.Error("releasing microphone", err)
		}
	}
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *CallSession) handleTrackSubscribed(room Room, track RemoteTrack) {
	s.mu.Lock()
	log := s.log
	if s.room != room || s.fsm.current != StateConnected {
		s.mu.Unlock()
		return
	}
	ctx := s.callCtx
	s.mu.Unlock()

	log.Info(
		"track subscribed",
		zap.String("sid", track.SID()),
		zap.String("participant", track.Participant()),
		zap.String("kind", track.Kind().String()),
	)
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	out, err := s.renderer.Attach(ctx, track)
	if err != nil {
		log.Error("attaching remote audio", err, zap.String("sid", track.SID()))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room != room || s.fsm.current != StateConnected {
		if err := out.Close(); err != nil {
			log.Error("closing remote audio", err)
		}
		return
	}
	s.ui.SetStatus(StatusAgentSpeaking)
	s.ui.MountAudio(&AudioElement{
		TrackSID:    track.SID(),
		Participant: track.Participant(),
		AgentAudio:  true,
		Output:      out,
	})
}

func (s *CallSession) handleParticipantConnected(room Room, identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room != room {
		return
	}
	s.log.Info("participant connected", zap.String("identity", identity))
	if s.fsm.current == StateConnected && strings.Contains(identity, s.agentMarker) {
		s.ui.SetStatus(StatusAgentJoined)
	}
}
