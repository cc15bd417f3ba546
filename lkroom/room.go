// Package lkroom connects call sessions to LiveKit rooms through the LiveKit
// Go SDK.
package lkroom

import (
	"context"
	"errors"
	"fmt"
	"sync"

	voicecall "github.com/bt-bridge/livekit-voicecall"
	"github.com/bt-bridge/livekit-voicecall/shared"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const microphoneTrackName = "microphone"

const (
	reasonLeaveRequested = "leave requested"
	reasonRemote         = "disconnected by server"
)

// roomConn is the part of *lksdk.Room a room drives.
type roomConn interface {
	PublishTrack(track webrtc.TrackLocal, opts *lksdk.TrackPublicationOptions) (sid string, err error)
	UnpublishTrack(sid string) error
	Disconnect()
}

type sdkRoom struct {
	*lksdk.Room
}

func (r sdkRoom) PublishTrack(track webrtc.TrackLocal, opts *lksdk.TrackPublicationOptions) (string, error) {
	pub, err := r.LocalParticipant.PublishTrack(track, opts)
	if err != nil {
		return "", err
	}
	return pub.SID(), nil
}

func (r sdkRoom) UnpublishTrack(sid string) error {
	return r.LocalParticipant.UnpublishTrack(sid)
}

type dialFunc func(url, token string, cb *lksdk.RoomCallback, opts ...lksdk.ConnectOption) (*lksdk.Room, error)

type Connector struct {
	logger shared.LoggerAdapter
	dial   dialFunc
}

var _ voicecall.Connector = (*Connector)(nil)

func NewConnector(logger shared.LoggerAdapter) (*Connector, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	return &Connector{
		logger: logger.With(zap.String("component", "lkroom")),
		dial:   lksdk.ConnectToRoomWithToken,
	}, nil
}

// Connect joins the room with auto-subscribe on. The SDK call cannot be
// interrupted, so on cancellation a late room is disconnected in the
// background.
func (c *Connector) Connect(ctx context.Context, serverURL, token string) (voicecall.Room, error) {
	r := &room{
		logger: c.logger,
		events: new(dispatcher),
	}
	cb := r.callback()

	type result struct {
		room *lksdk.Room
		err  error
	}
	resC := make(chan result, 1)
	go func() {
		lk, err := c.dial(serverURL, token, cb, lksdk.WithAutoSubscribe(true))
		resC <- result{room: lk, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-resC; res.err == nil {
				c.logger.Info("disconnecting room that resolved after cancellation")
				res.room.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case res := <-resC:
		if res.err != nil {
			return nil, fmt.Errorf("joining room: %w", res.err)
		}
		r.conn = sdkRoom{Room: res.room}
		c.logger.Info("joined room", zap.String("room", res.room.Name()))
		return r, nil
	}
}

type room struct {
	logger shared.LoggerAdapter
	events *dispatcher
	conn   roomConn

	mu         sync.Mutex
	publishSID string
}

var _ voicecall.Room = (*room)(nil)

func (r *room) callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				r.events.trackSubscribed(newRemoteTrack(track, pub, rp))
			},
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			r.events.participantConnected(rp.Identity())
		},
		OnReconnecting: func() {
			r.logger.Warn("connection lost, reconnecting")
		},
		OnReconnected: func() {
			r.logger.Info("reconnected")
		},
		OnDisconnected: func() {
			r.events.disconnected(reasonRemote)
		},
	}
}

func (r *room) Subscribe(handlers voicecall.RoomHandlers) func() {
	return r.events.subscribe(handlers)
}

func (r *room) PublishAudio(ctx context.Context, audio voicecall.LocalAudio) error {
	if audio == nil {
		return errors.New("no audio to publish")
	}
	track, err := lksdk.NewLocalSampleTrack(audio.Codec())
	if err != nil {
		return fmt.Errorf("creating local audio track: %w", err)
	}
	sid, err := r.conn.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   microphoneTrackName,
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		return fmt.Errorf("publishing audio track: %w", err)
	}
	r.mu.Lock()
	r.publishSID = sid
	r.mu.Unlock()
	r.logger.Info("microphone track published", zap.String("sid", sid))

	go audio.Pump(ctx, sampleWriter{track: track})
	return nil
}

// Disconnect leaves the room and confirms through OnDisconnected itself; the
// SDK does not report a disconnect it was asked for.
func (r *room) Disconnect() {
	r.mu.Lock()
	sid := r.publishSID
	r.publishSID = ""
	r.mu.Unlock()
	if sid != "" {
		if err := r.conn.UnpublishTrack(sid); err != nil {
			r.logger.Warn("unpublishing microphone", zap.Error(err))
		}
	}
	r.conn.Disconnect()
	r.events.disconnected(reasonLeaveRequested)
}
