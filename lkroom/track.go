package lkroom

import (
	voicecall "github.com/bt-bridge/livekit-voicecall"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

type remoteTrack struct {
	track       *webrtc.TrackRemote
	sid         string
	participant string
}

var _ voicecall.RemoteTrack = (*remoteTrack)(nil)

func newRemoteTrack(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) *remoteTrack {
	t := &remoteTrack{track: track, sid: track.ID()}
	if pub != nil {
		t.sid = pub.SID()
	}
	if rp != nil {
		t.participant = rp.Identity()
	}
	return t
}

func (t *remoteTrack) SID() string                      { return t.sid }
func (t *remoteTrack) Kind() webrtc.RTPCodecType        { return t.track.Kind() }
func (t *remoteTrack) Participant() string              { return t.participant }
func (t *remoteTrack) Codec() webrtc.RTPCodecParameters { return t.track.Codec() }

func (t *remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.track.ReadRTP()
	return pkt, err
}

// sampleWriter feeds a published LiveKit track.
type sampleWriter struct {
	track *lksdk.LocalSampleTrack
}

func (w sampleWriter) WriteSample(sample media.Sample) error {
	return w.track.WriteSample(sample, nil)
}
