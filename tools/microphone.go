package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	voicecall "github.com/bt-bridge/livekit-voicecall"
	"github.com/bt-bridge/livekit-voicecall/shared"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

// Microphone captures the default input device with echo-friendly settings
// and encodes it to opus.
type Microphone struct {
	logger shared.LoggerAdapter
}

var _ voicecall.AudioSource = (*Microphone)(nil)

func NewMicrophone(logger shared.LoggerAdapter) (*Microphone, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	return &Microphone{logger: logger.With(zap.String("component", "microphone"))}, nil
}

func (m *Microphone) Capture(ctx context.Context) (voicecall.LocalAudio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("creating opus params: %w", err)
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
			c.SampleSize = prop.Int(16)
		},
		Codec: mediadevices.NewCodecSelector(
			mediadevices.WithAudioEncoders(&opusParams),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("opening microphone: %w", err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, errors.New("no audio track found in microphone stream")
	}
	for _, extra := range tracks[1:] {
		_ = extra.Close()
	}
	m.logger.Info("microphone opened", zap.String("track", tracks[0].ID()))
	return &micAudio{
		logger:        m.logger,
		track:         tracks[0],
		frameDuration: time.Duration(opusParams.Latency),
	}, nil
}

type micAudio struct {
	logger        shared.LoggerAdapter
	track         mediadevices.Track
	frameDuration time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (a *micAudio) Codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
}

// Pump copies encoded frames into w until ctx is done or the device is closed.
func (a *micAudio) Pump(ctx context.Context, w voicecall.SampleWriter) {
	reader, err := a.track.NewEncodedReader(webrtc.MimeTypeOpus)
	if err != nil {
		a.logger.Error("creating media track reader", err)
		return
	}
	defer func() { _ = reader.Close() }()
	for {
		if ctx.Err() != nil || a.closed.Load() {
			return
		}
		buf, release, err := reader.Read()
		if err != nil {
			if release != nil {
				release()
			}
			if errors.Is(err, io.EOF) || a.closed.Load() {
				return
			}
			a.logger.Error("reading from media track", err)
			continue
		}
		if buf.Samples == 0 {
			release()
			continue
		}
		err = w.WriteSample(media.Sample{
			Data:     buf.Data,
			Duration: a.frameDuration,
		})
		release()
		if err != nil {
			a.logger.Error("failed to write sample to track", err)
		}
	}
}

func (a *micAudio) Close() error {
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		a.closeErr = a.track.Close()
		a.logger.Info("microphone released")
	})
	return a.closeErr
}
