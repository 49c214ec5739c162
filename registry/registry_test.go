package registry

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(s string) net.Addr {
	a, _ := net.ResolveUDPAddr("udp", s)
	return a
}

func TestUpsertAndGetParticipant(t *testing.T) {
	r := New()
	p := Participant{SSRC: 42, Control: addr("10.0.0.1:5004"), Name: "peer"}
	r.UpsertParticipant(p)

	got, ok := r.GetParticipant(42)
	require.True(t, ok)
	assert.Equal(t, "peer", got.Name)

	_, ok = r.GetParticipant(99)
	assert.False(t, ok)
}

func TestRemoveParticipant(t *testing.T) {
	r := New()
	r.UpsertParticipant(Participant{SSRC: 1})

	p, ok := r.RemoveParticipant(1)
	assert.True(t, ok)
	assert.Equal(t, uint32(1), p.SSRC)

	_, ok = r.RemoveParticipant(1)
	assert.False(t, ok)
}

func TestUpdateParticipant(t *testing.T) {
	r := New()
	r.UpsertParticipant(Participant{SSRC: 1, Name: "old"})

	updated, ok := r.UpdateParticipant(1, func(p Participant) Participant {
		p.Name = "new"
		return p
	})
	require.True(t, ok)
	assert.Equal(t, "new", updated.Name)

	got, _ := r.GetParticipant(1)
	assert.Equal(t, "new", got.Name)

	_, ok = r.UpdateParticipant(404, func(p Participant) Participant { return p })
	assert.False(t, ok)
}

func TestListParticipantsSnapshot(t *testing.T) {
	r := New()
	r.UpsertParticipant(Participant{SSRC: 1})
	r.UpsertParticipant(Participant{SSRC: 2})

	list := r.ListParticipants()
	assert.Len(t, list, 2)
}

func TestPendingLifecycle(t *testing.T) {
	r := New()
	r.PutPending(SentinelSSRC, PendingInvitation{Addr: addr("10.0.0.2:5004"), Token: 7, Name: "target"})

	inv, ok := r.GetPending(SentinelSSRC)
	require.True(t, ok)
	assert.Equal(t, uint32(7), inv.Token)

	removed, ok := r.RemovePending(SentinelSSRC)
	assert.True(t, ok)
	assert.Equal(t, "target", removed.Name)

	_, ok = r.GetPending(SentinelSSRC)
	assert.False(t, ok)
}

func TestResolvePendingBySentinel(t *testing.T) {
	r := New()
	a := addr("10.0.0.2:5004")
	r.PutPending(SentinelSSRC, PendingInvitation{Addr: a, Token: 7, Name: "target"})

	inv, ok := r.ResolvePendingBySentinel(7, a)
	require.True(t, ok)
	assert.Equal(t, "target", inv.Name)

	_, ok = r.ResolvePendingBySentinel(8, a)
	assert.False(t, ok, "wrong token must not match")

	_, ok = r.ResolvePendingBySentinel(7, addr("10.0.0.3:5004"))
	assert.False(t, ok, "wrong address must not match")
}

func TestPromoteMovesSentinelToRealSSRC(t *testing.T) {
	r := New()
	a := addr("10.0.0.2:5004")
	r.PutPending(SentinelSSRC, PendingInvitation{Addr: a, Token: 7, Name: "target"})

	r.Promote(SentinelSSRC, Participant{SSRC: 55, Control: a, Name: "target"})

	_, ok := r.GetPending(SentinelSSRC)
	assert.False(t, ok)

	p, ok := r.GetParticipant(55)
	require.True(t, ok)
	assert.Equal(t, "target", p.Name)
}

func TestRependAfterAcceptance(t *testing.T) {
	r := New()
	a := addr("10.0.0.2:5004")
	r.PutPending(SentinelSSRC, PendingInvitation{Addr: a, Token: 7, Name: "target"})

	dataAddr := addr("10.0.0.2:5005")
	r.RependAfterAcceptance(SentinelSSRC, 55, PendingInvitation{Addr: dataAddr, Token: 7, Name: "target"})

	_, ok := r.GetPending(SentinelSSRC)
	assert.False(t, ok)

	inv, ok := r.GetPending(55)
	require.True(t, ok)
	assert.Equal(t, dataAddr.String(), inv.Addr.String())
}
