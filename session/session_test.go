package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/somesmallstudio/go-rtpmidi/control"
	"github.com/somesmallstudio/go-rtpmidi/midi"
	"github.com/somesmallstudio/go-rtpmidi/registry"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestTwoSessionLoopbackHandshakeAndMIDI(t *testing.T) {
	a, err := Start("session-a", 0x11111111, 15004, AcceptAll)
	require.NoError(t, err)
	defer a.Stop()

	b, err := Start("session-b", 0x22222222, 15006, AcceptAll)
	require.NoError(t, err)
	defer b.Stop()

	var received []midi.Message
	b.OnMIDIMessage(func(evt MIDIEvent) {
		received = append(received, evt.Message)
	})

	bAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:15006")
	require.NoError(t, err)
	require.NoError(t, a.Invite(bAddr))

	waitFor(t, time.Second, func() bool { return len(a.Participants()) == 1 })
	waitFor(t, time.Second, func() bool { return len(b.Participants()) == 1 })

	assert.Equal(t, uint32(0x22222222), a.Participants()[0].SSRC)
	assert.Equal(t, uint32(0x11111111), b.Participants()[0].SSRC)

	noteOn := midi.Message{Status: midi.NoteOn | 1, Data1: 60, Data2: 100, NumData: 2}
	require.NoError(t, a.SendMIDI(noteOn))

	waitFor(t, 200*time.Millisecond, func() bool { return len(received) == 1 })
	assert.Equal(t, noteOn, received[0])
}

func TestRemoveParticipantFiresLeftEvent(t *testing.T) {
	a, err := Start("session-c", 0x33333333, 15104, AcceptAll)
	require.NoError(t, err)
	defer a.Stop()

	b, err := Start("session-d", 0x44444444, 15106, AcceptAll)
	require.NoError(t, err)
	defer b.Stop()

	var leftPeers []registry.Participant
	a.OnParticipantLeft(func(p registry.Participant) {
		leftPeers = append(leftPeers, p)
	})

	bAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:15106")
	require.NoError(t, err)
	require.NoError(t, a.Invite(bAddr))

	waitFor(t, time.Second, func() bool { return len(a.Participants()) == 1 })
	waitFor(t, time.Second, func() bool { return len(b.Participants()) == 1 })

	a.RemoveParticipant(a.Participants()[0])
	waitFor(t, time.Second, func() bool { return len(a.Participants()) == 0 })
	waitFor(t, time.Second, func() bool { return len(b.Participants()) == 0 })
	assert.Len(t, leftPeers, 1)
}

// TestStalePeerEviction exercises the housekeeper's sole liveness
// enforcement: a peer that stops answering clock-sync gets evicted once
// it's been silent longer than the stale timeout, and the eviction sends
// a BY carrying the original invitation token.
func TestStalePeerEviction(t *testing.T) {
	a, err := Start("session-f", 0x66666666, 15304,
		AcceptAll, WithHousekeeperInterval(50*time.Millisecond), WithStaleTimeout(150*time.Millisecond))
	require.NoError(t, err)
	defer a.Stop()

	b, err := Start("session-g", 0x77777777, 15306,
		AcceptAll, WithHousekeeperInterval(50*time.Millisecond), WithStaleTimeout(150*time.Millisecond))
	require.NoError(t, err)

	var leftPeers []registry.Participant
	a.OnParticipantLeft(func(p registry.Participant) {
		leftPeers = append(leftPeers, p)
	})

	bAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:15306")
	require.NoError(t, err)
	require.NoError(t, a.Invite(bAddr))

	waitFor(t, time.Second, func() bool { return len(a.Participants()) == 1 })
	originalToken := a.Participants()[0].InitiatorToken

	// Simulate the peer going silent: stop it entirely, freeing its ports,
	// so it can no longer answer a's periodic CK count=0.
	b.Stop()

	// Re-bind b's data port (control+1) to capture the BY the housekeeper
	// sends once it evicts the stale peer.
	capture, err := net.ListenPacket("udp", "127.0.0.1:15307")
	require.NoError(t, err)
	defer capture.Close()

	waitFor(t, time.Second, func() bool { return len(a.Participants()) == 0 })
	require.Len(t, leftPeers, 1)
	assert.Equal(t, originalToken, leftPeers[0].InitiatorToken)

	require.NoError(t, capture.SetReadDeadline(time.Now().Add(500*time.Millisecond)))
	buf := make([]byte, 1500)
	// Until the eviction, a's housekeeper keeps sending CK count=0 to this
	// port; skip those and read on to the BY.
	var msg control.SessionInitiation
	for {
		n, _, err := capture.ReadFrom(buf)
		require.NoError(t, err)
		if n >= 4 && control.IsControlPacket(buf[:n]) && (control.Command{buf[2], buf[3]}) == control.CommandClockSync {
			continue
		}
		msg, err = control.ParseSessionInitiation(buf[:n])
		require.NoError(t, err)
		break
	}
	assert.Equal(t, control.CommandTermination, msg.Command)
	assert.Equal(t, originalToken, msg.InitiatorToken)
}

func TestStopReleasesBothPorts(t *testing.T) {
	s, err := Start("session-e", 0x55555555, 15204, AcceptAll)
	require.NoError(t, err)
	s.Stop()

	waitFor(t, 500*time.Millisecond, func() bool {
		c, err := net.ListenPacket("udp", ":15204")
		if err != nil {
			return false
		}
		c.Close()
		d, err := net.ListenPacket("udp", ":15205")
		if err != nil {
			return false
		}
		d.Close()
		return true
	})
}
