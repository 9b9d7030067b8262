package rtc

import (
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/livekit/signal-client/pkg/rtc/types"
)

type iceBoxEntry struct {
	state   *types.ICEState
	applied int
}

// IceBox holds remote ICE candidates per ufrag until a description commits
// to that ufrag. Each candidate is handed out at most once.
type IceBox struct {
	lock    sync.Mutex
	ufrag   string
	entries map[string]*iceBoxEntry
}

func NewIceBox() *IceBox {
	return &IceBox{
		entries: make(map[string]*iceBoxEntry),
	}
}

func (b *IceBox) Ufrag() string {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.ufrag
}

// SetUfrag makes ufrag current and returns the buffered candidates for it
// that have not been returned before.
func (b *IceBox) SetUfrag(ufrag string) []webrtc.ICECandidateInit {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.ufrag = ufrag
	entry, ok := b.entries[ufrag]
	if !ok {
		return nil
	}
	return entry.take()
}

// Update stores a newer ICE state and, when it belongs to the current ufrag,
// returns the candidates not returned before. Stale revisions are ignored.
func (b *IceBox) Update(state *types.ICEState) []webrtc.ICECandidateInit {
	if state == nil {
		return nil
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	entry, ok := b.entries[state.Ufrag]
	if ok && state.Revision <= entry.state.Revision {
		return nil
	}
	if !ok {
		entry = &iceBoxEntry{}
		b.entries[state.Ufrag] = entry
	}
	entry.state = state.Clone()

	if state.Ufrag != b.ufrag || b.ufrag == "" {
		return nil
	}
	return entry.take()
}

func (e *iceBoxEntry) take() []webrtc.ICECandidateInit {
	if e.state == nil || len(e.state.Candidates) <= e.applied {
		return nil
	}
	candidates := append([]webrtc.ICECandidateInit(nil), e.state.Candidates[e.applied:]...)
	e.applied = len(e.state.Candidates)
	return candidates
}
