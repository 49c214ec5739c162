// Package registry holds the two SSRC-keyed maps a session needs: the
// established participants, and the pending invitations still completing
// their handshake.
package registry

import (
	"net"
	"sync"
	"time"
)

// SentinelSSRC is the placeholder key used for an outbound invitation
// before the peer's real SSRC is known.
const SentinelSSRC uint32 = 0

// Participant is one fully (or partially, on the data-port leg)
// handshaken remote endpoint.
type Participant struct {
	SSRC    uint32
	Control net.Addr
	Data    net.Addr
	Name    string
	// InvitedByUs governs whether the housekeeper sends this peer
	// periodic outbound clock syncs and evicts it on staleness.
	InvitedByUs bool
	// LastSync is the monotonic time of the last received or completed
	// clock-sync message. Only ever moves forward.
	LastSync time.Time
	// InitiatorToken is the token bound to the original invitation,
	// needed to send a well-formed termination.
	InitiatorToken uint32
}

// PendingInvitation is one in-flight handshake, either initiated by us or
// awaiting completion on the peer's side.
type PendingInvitation struct {
	// Addr is the address the next message in the handshake should be
	// sent to; it starts as the peer's control address and upgrades to
	// their data address once the control leg completes.
	Addr net.Addr
	Token uint32
	Name  string
}

// Registry holds the participants and pending-invitations maps behind
// independent, short-held locks. A given remote SSRC is present in at
// most one of the two maps at any instant; callers that need to move an
// SSRC from pending to participants atomically should use Promote.
type Registry struct {
	mu           sync.Mutex
	participants map[uint32]Participant

	pendingMu sync.Mutex
	pending   map[uint32]PendingInvitation
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		participants: make(map[uint32]Participant),
		pending:      make(map[uint32]PendingInvitation),
	}
}

// UpsertParticipant inserts or updates a participant record.
func (r *Registry) UpsertParticipant(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[p.SSRC] = p
}

// RemoveParticipant removes and returns the participant for ssrc, if any.
func (r *Registry) RemoveParticipant(ssrc uint32) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[ssrc]
	if ok {
		delete(r.participants, ssrc)
	}
	return p, ok
}

// GetParticipant returns the participant for ssrc, if any.
func (r *Registry) GetParticipant(ssrc uint32) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[ssrc]
	return p, ok
}

// UpdateParticipant applies fn to the stored participant for ssrc, if
// present, and writes the result back under the same lock acquisition.
func (r *Registry) UpdateParticipant(ssrc uint32, fn func(Participant) Participant) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[ssrc]
	if !ok {
		return Participant{}, false
	}
	p = fn(p)
	r.participants[ssrc] = p
	return p, true
}

// ListParticipants returns a snapshot slice of all current participants,
// safe to range over without holding any lock.
func (r *Registry) ListParticipants() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

// PutPending inserts or overwrites a pending invitation keyed by ssrc (use
// SentinelSSRC for an outbound invitation whose peer SSRC isn't known
// yet).
func (r *Registry) PutPending(ssrc uint32, inv PendingInvitation) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.pending[ssrc] = inv
}

// GetPending returns the pending invitation keyed by ssrc, if any.
func (r *Registry) GetPending(ssrc uint32) (PendingInvitation, bool) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	inv, ok := r.pending[ssrc]
	return inv, ok
}

// RemovePending removes and returns the pending invitation keyed by ssrc,
// if any.
func (r *Registry) RemovePending(ssrc uint32) (PendingInvitation, bool) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	inv, ok := r.pending[ssrc]
	if ok {
		delete(r.pending, ssrc)
	}
	return inv, ok
}

// ResolvePendingBySentinel finds the sentinel-keyed outbound invitation
// matching token and addr — the lookup the control-port OK handler uses
// when the acceptance can't yet be matched by peer SSRC.
func (r *Registry) ResolvePendingBySentinel(token uint32, addr net.Addr) (PendingInvitation, bool) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	inv, ok := r.pending[SentinelSSRC]
	if !ok || inv.Token != token || inv.Addr.String() != addr.String() {
		return PendingInvitation{}, false
	}
	return inv, true
}

// Promote atomically removes the pending invitation for fromSSRC (which
// may be the sentinel) and installs p as a participant under its own
// SSRC. Lock order is pending-then-participants; both locks are held for
// the whole transition so fromSSRC is never absent from both maps at
// once, and they're dropped in reverse order (participants first, then
// pending).
func (r *Registry) Promote(fromSSRC uint32, p Participant) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.pending, fromSSRC)
	r.participants[p.SSRC] = p
}

// RependAfterAcceptance atomically removes the pending invitation keyed by
// fromSSRC and re-inserts it keyed by toSSRC with a new address/token —
// the control-port-OK-accepted-by-us-then-invite-on-data-port handoff
//.
func (r *Registry) RependAfterAcceptance(fromSSRC, toSSRC uint32, inv PendingInvitation) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	delete(r.pending, fromSSRC)
	r.pending[toSSRC] = inv
}
