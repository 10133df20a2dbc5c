package store

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/routewire/kvstore/types"
)

// SyncState is a peer's position in the three-state sync machine.
type SyncState int

const (
	// PeerIdle is the entry state; a timer fires to request a full dump.
	PeerIdle SyncState = iota
	// PeerInitialized means a full-dump request has been sent and we're
	// waiting on the three-way sync response.
	PeerInitialized
	// PeerSynced is steady state: incremental flooding only.
	PeerSynced
)

func (s SyncState) String() string {
	switch s {
	case PeerIdle:
		return "IDLE"
	case PeerInitialized:
		return "INITIALIZED"
	case PeerSynced:
		return "SYNCED"
	default:
		return "UNKNOWN"
	}
}

// PeerSpec is the externally supplied description of a peer.
type PeerSpec struct {
	Name    types.NodeID
	CmdUrl  string
	CtrlPort uint16
	Area    types.Area
}

// peerEvent is one of the four events driving the sync state machine.
type peerEvent int

const (
	eventPeerAdd peerEvent = iota
	eventPeerDel
	eventSyncRespRcvd
	eventTransportError
)

// peer is the area-local bookkeeping for one remote node. Only ever touched
// from the owning area's executor goroutine.
type peer struct {
	spec  PeerSpec
	state SyncState

	backoff        *backoff.ExponentialBackOff
	nextRetryTimer *time.Timer
	keepAliveTimer *time.Timer

	// pendingInitKeys records the keys this peer's hash dump showed it
	// holding newer than ours, or holding alone, while we answered its
	// initial sync; flushPendingInitKeys sends it our copies of them (if any)
	// and clears the set.
	pendingInitKeys map[types.Key]struct{}

	lastSyncStarted  time.Time
	lastSyncDuration time.Duration

	sent     uint64
	received uint64
}

func newPeer(spec PeerSpec, cfg BackoffConfig) *peer {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Initial
	b.MaxInterval = cfg.Max
	b.Multiplier = cfg.Multiplier
	b.RandomizationFactor = 0 // plain geometric schedule, no jitter
	b.MaxElapsedTime = 0 // never give up; the peer sync keeps retrying forever
	b.Reset()
	return &peer{
		spec:            spec,
		state:           PeerIdle,
		backoff:         b,
		pendingInitKeys: make(map[types.Key]struct{}),
	}
}

// BackoffConfig mirrors the configurable exponential backoff schedule
// (initial, max, multiplier).
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2.0}
}

// nextBackoff returns the next retry delay and advances the schedule.
func (p *peer) nextBackoff() time.Duration {
	return p.backoff.NextBackOff()
}

// resetBackoff is called on a successful sync, so the next transport error
// starts the schedule over rather than continuing to grow.
func (p *peer) resetBackoff() { p.backoff.Reset() }

// apply transitions the peer's sync state per the state table. Returns
// whether the event was a valid transition for the current state (invalid
// transitions are ignored, matching "merge never fails" style tolerance for
// out-of-order delivery of stale events).
func (p *peer) apply(ev peerEvent) bool {
	switch p.state {
	case PeerIdle:
		if ev == eventSyncRespRcvd {
			// A late response for an already-reset peer; ignore.
			return false
		}
		if ev == eventTransportError {
			return false
		}
	case PeerInitialized:
		switch ev {
		case eventSyncRespRcvd:
			p.state = PeerSynced
			p.resetBackoff()
			return true
		case eventTransportError:
			p.state = PeerIdle
			return true
		}
	case PeerSynced:
		if ev == eventTransportError {
			p.state = PeerIdle
			return true
		}
	}
	return false
}

// beginInit transitions IDLE -> INITIALIZED when the retry timer fires.
func (p *peer) beginInit() {
	if p.state == PeerIdle {
		p.state = PeerInitialized
		p.lastSyncStarted = time.Now()
		p.pendingInitKeys = make(map[types.Key]struct{})
	}
}
