package lkroom

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	voicecall "github.com/bt-bridge/livekit-voicecall"
	"github.com/bt-bridge/livekit-voicecall/shared"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnector(t *testing.T, dial dialFunc) *Connector {
	t.Helper()
	c, err := NewConnector(shared.NewNopLogger())
	require.NoError(t, err)
	c.dial = dial
	return c
}

func TestNewConnectorRequiresLogger(t *testing.T) {
	_, err := NewConnector(nil)
	assert.ErrorIs(t, err, shared.ErrNoLogger)
}

func TestConnectPassesCredentials(t *testing.T) {
	joinErr := errors.New("could not establish signal connection")
	var gotURL, gotToken string
	var gotCallback *lksdk.RoomCallback
	c := newTestConnector(t, func(url, token string, cb *lksdk.RoomCallback, opts ...lksdk.ConnectOption) (*lksdk.Room, error) {
		gotURL, gotToken, gotCallback = url, token, cb
		return nil, joinErr
	})

	_, err := c.Connect(context.Background(), "wss://x", "t")
	assert.ErrorIs(t, err, joinErr)
	assert.Equal(t, "wss://x", gotURL)
	assert.Equal(t, "t", gotToken)
	require.NotNil(t, gotCallback)
	assert.NotNil(t, gotCallback.OnTrackSubscribed)
	assert.NotNil(t, gotCallback.OnParticipantConnected)
	assert.NotNil(t, gotCallback.OnDisconnected)
}

func TestConnectHonoursCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := newTestConnector(t, func(url, token string, cb *lksdk.RoomCallback, opts ...lksdk.ConnectOption) (*lksdk.Room, error) {
		<-release
		return nil, errors.New("gave up")
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := c.Connect(ctx, "wss://x", "t")
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeConn struct {
	mu          sync.Mutex
	published   []*lksdk.TrackPublicationOptions
	unpublished []string
	disconnects int
	publishErr  error
}

func (f *fakeConn) PublishTrack(track webrtc.TrackLocal, opts *lksdk.TrackPublicationOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return "", f.publishErr
	}
	f.published = append(f.published, opts)
	return "TR_mic", nil
}

func (f *fakeConn) UnpublishTrack(sid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unpublished = append(f.unpublished, sid)
	return nil
}

func (f *fakeConn) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

type fakeLocalAudio struct {
	pumped chan voicecall.SampleWriter
}

func (a *fakeLocalAudio) Codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

func (a *fakeLocalAudio) Pump(ctx context.Context, w voicecall.SampleWriter) { a.pumped <- w }

func (a *fakeLocalAudio) Close() error { return nil }

func newTestRoom(conn roomConn) *room {
	return &room{
		logger: shared.NewNopLogger(),
		events: new(dispatcher),
		conn:   conn,
	}
}

func TestPublishAudioStartsPump(t *testing.T) {
	conn := new(fakeConn)
	r := newTestRoom(conn)
	audio := &fakeLocalAudio{pumped: make(chan voicecall.SampleWriter, 1)}

	require.NoError(t, r.PublishAudio(context.Background(), audio))

	select {
	case w := <-audio.pumped:
		assert.IsType(t, sampleWriter{}, w)
	case <-time.After(time.Second):
		t.Fatal("audio was never pumped")
	}
	require.Len(t, conn.published, 1)
	assert.Equal(t, microphoneTrackName, conn.published[0].Name)
	assert.Equal(t, livekit.TrackSource_MICROPHONE, conn.published[0].Source)
}

func TestPublishAudioFailure(t *testing.T) {
	refused := errors.New("track rejected")
	r := newTestRoom(&fakeConn{publishErr: refused})
	audio := &fakeLocalAudio{pumped: make(chan voicecall.SampleWriter, 1)}

	assert.ErrorIs(t, r.PublishAudio(context.Background(), audio), refused)
	assert.Empty(t, audio.pumped)
	assert.Error(t, r.PublishAudio(context.Background(), nil))
}

func TestDisconnectConfirmsOnce(t *testing.T) {
	conn := new(fakeConn)
	r := newTestRoom(conn)
	rec := new(recorder)
	cancel := r.Subscribe(rec.handlers())
	defer cancel()

	audio := &fakeLocalAudio{pumped: make(chan voicecall.SampleWriter, 1)}
	require.NoError(t, r.PublishAudio(context.Background(), audio))

	r.Disconnect()
	r.Disconnect()
	// A late report from the SDK must not confirm a second time.
	r.callback().OnDisconnected()

	assert.Equal(t, []string{"disconnected:" + reasonLeaveRequested}, rec.list())
	assert.Equal(t, []string{"TR_mic"}, conn.unpublished)
	assert.Equal(t, 2, conn.disconnects)
}

func TestRemoteDisconnectIsForwarded(t *testing.T) {
	r := newTestRoom(new(fakeConn))
	rec := new(recorder)
	defer r.Subscribe(rec.handlers())()

	r.callback().OnDisconnected()
	r.Disconnect()

	assert.Equal(t, []string{"disconnected:" + reasonRemote}, rec.list())
}
