package lkroom

import (
	"sync"

	voicecall "github.com/bt-bridge/livekit-voicecall"
)

// dispatcher decouples SDK callbacks from whoever subscribes. Events arriving
// before the first subscription are queued and replayed; once the
// subscription is cancelled every later event is dropped.
type dispatcher struct {
	mu             sync.Mutex
	handlers       *voicecall.RoomHandlers
	pending        []func(h voicecall.RoomHandlers)
	closed         bool
	disconnectSent bool
}

func (d *dispatcher) subscribe(h voicecall.RoomHandlers) (cancel func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return func() {}
	}
	d.handlers = &h
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, ev := range pending {
		ev(h)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			d.handlers = nil
			d.pending = nil
			d.closed = true
		})
	}
}

func (d *dispatcher) emit(ev func(h voicecall.RoomHandlers)) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if d.handlers == nil {
		d.pending = append(d.pending, ev)
		d.mu.Unlock()
		return
	}
	h := *d.handlers
	d.mu.Unlock()
	// Handlers run unlocked so they may cancel the subscription.
	ev(h)
}

func (d *dispatcher) trackSubscribed(track voicecall.RemoteTrack) {
	d.emit(func(h voicecall.RoomHandlers) {
		if h.OnTrackSubscribed != nil {
			h.OnTrackSubscribed(track)
		}
	})
}

func (d *dispatcher) participantConnected(identity string) {
	d.emit(func(h voicecall.RoomHandlers) {
		if h.OnParticipantConnected != nil {
			h.OnParticipantConnected(identity)
		}
	})
}

// disconnected is delivered at most once no matter how many paths report it.
func (d *dispatcher) disconnected(reason string) {
	d.mu.Lock()
	if d.disconnectSent {
		d.mu.Unlock()
		return
	}
	d.disconnectSent = true
	d.mu.Unlock()
	d.emit(func(h voicecall.RoomHandlers) {
		if h.OnDisconnected != nil {
			h.OnDisconnected(reason)
		}
	})
}
