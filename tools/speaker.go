package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	voicecall "github.com/bt-bridge/livekit-voicecall"
	"github.com/bt-bridge/livekit-voicecall/shared"
	"github.com/ebitengine/oto/v3"
	"github.com/hraban/opus"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// oto allows a single context per process, so every remote track is decoded
// to this one format.
const (
	speakerSampleRate = 48000
	speakerChannels   = 2
	maxOpusFrame      = 120 * time.Millisecond
)

// Speaker renders remote opus tracks on the default output device.
type Speaker struct {
	logger      shared.LoggerAdapter
	otoBufferMs int
	ringSeconds int

	once    sync.Once
	otoCtx  *oto.Context
	initErr error
}

var _ voicecall.Renderer = (*Speaker)(nil)

func NewSpeaker(logger shared.LoggerAdapter, otoBufferMs, ringBufferSeconds int) (*Speaker, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if otoBufferMs <= 0 || ringBufferSeconds <= 0 {
		return nil, errors.New("speaker buffers must be positive")
	}
	return &Speaker{
		logger:      logger.With(zap.String("component", "speaker")),
		otoBufferMs: otoBufferMs,
		ringSeconds: ringBufferSeconds,
	}, nil
}

func (s *Speaker) context() (*oto.Context, error) {
	s.once.Do(func() {
		otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   speakerSampleRate,
			ChannelCount: speakerChannels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   time.Duration(s.otoBufferMs) * time.Millisecond,
		})
		if err != nil {
			s.initErr = fmt.Errorf("opening audio output: %w", err)
			return
		}
		<-ready
		s.otoCtx = otoCtx
	})
	return s.otoCtx, s.initErr
}

// Attach starts playing track and returns the handle that stops it.
func (s *Speaker) Attach(ctx context.Context, track voicecall.RemoteTrack) (io.Closer, error) {
	codec := track.Codec()
	if !strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus) {
		return nil, fmt.Errorf("unsupported remote codec %q", codec.MimeType)
	}
	otoCtx, err := s.context()
	if err != nil {
		return nil, err
	}
	decoder, err := opus.NewDecoder(speakerSampleRate, speakerChannels)
	if err != nil {
		return nil, fmt.Errorf("creating opus decoder: %w", err)
	}

	buffer := NewAudioBuffer(FrameBytes(time.Duration(s.ringSeconds)*time.Second, speakerSampleRate, speakerChannels))
	player := otoCtx.NewPlayer(buffer)
	player.Play()

	ctx, cancel := context.WithCancel(ctx)
	p := &playback{
		logger: s.logger.With(zap.String("sid", track.SID()), zap.String("participant", track.Participant())),
		cancel: cancel,
		buffer: buffer,
		player: player,
	}
	p.logger.Info("playing remote audio",
		zap.String("codec", codec.MimeType),
		zap.Uint32("clockRate", codec.ClockRate),
		zap.Uint16("channels", codec.Channels),
	)
	go p.run(ctx, track, decoder)
	return p, nil
}

type playback struct {
	logger shared.LoggerAdapter
	cancel context.CancelFunc
	buffer *AudioBuffer
	player *oto.Player
	once   sync.Once
}

func (p *playback) run(ctx context.Context, track voicecall.RemoteTrack, decoder *opus.Decoder) {
	defer p.Close()
	pcm := make([]int16, FrameSamples(maxOpusFrame, speakerSampleRate, speakerChannels))
	pcmBytes := make([]byte, 0, FrameBytes(maxOpusFrame, speakerSampleRate, speakerChannels))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Error("reading RTP packet", err)
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			p.logger.Error("decoding opus", err)
			continue
		}
		pcmBytes = AppendPCM16LE(pcmBytes[:0], pcm[:n*speakerChannels])
		if dropped := p.buffer.Write(pcmBytes); dropped > 0 {
			p.logger.Warn("audio buffer dropped data", zap.Int("droppedBytes", dropped))
		}
	}
}

func (p *playback) Close() error {
	var err error
	p.once.Do(func() {
		p.cancel()
		_ = p.buffer.Close()
		err = p.player.Close()
		p.logger.Debug("remote audio stopped")
	})
	return err
}
