package session

import (
	"net"
	"time"

	"github.com/somesmallstudio/go-rtpmidi/control"
	"github.com/somesmallstudio/go-rtpmidi/midi"
	"github.com/somesmallstudio/go-rtpmidi/registry"
	"github.com/somesmallstudio/go-rtpmidi/rtp"
)

func (s *Session) runDataPort() {
	defer s.wg.Done()
	buf := make([]byte, recvBufferSize)
	for {
		n, addr, err := s.dataConn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Error().Err(err).Msg("data port recv failed, task exiting")
			}
			return
		}
		packet := append([]byte(nil), buf[:n]...)
		if control.IsControlPacket(packet) {
			s.handleDataControlPacket(packet, addr)
			continue
		}
		s.handleMIDIPacket(packet, addr)
	}
}

func (s *Session) handleDataControlPacket(buf []byte, addr net.Addr) {
	if len(buf) < 4 {
		s.logger.Warn().Stringer("addr", addr).Msg("control packet too short to carry a command")
		return
	}
	cmd := control.Command{buf[2], buf[3]}
	switch cmd {
	case control.CommandInvitation:
		s.handleDataInvitation(buf, addr)
	case control.CommandAccept:
		s.handleDataAccept(buf, addr)
	case control.CommandClockSync:
		s.handleClockSync(buf, addr)
	case control.CommandTermination:
		s.handleTermination(buf, addr)
	default:
		s.logger.Warn().Stringer("addr", addr).Str("cmd", cmd.String()).Msg("unexpected control command on data port")
	}
}

// handleDataInvitation is the second handshake leg: the peer's data port
// completing what their control port started.
func (s *Session) handleDataInvitation(buf []byte, addr net.Addr) {
	msg, err := control.ParseSessionInitiation(buf)
	if err != nil {
		s.logger.Warn().Err(err).Stringer("addr", addr).Msg("malformed data-port invitation")
		return
	}
	inv, ok := s.registry.GetPending(msg.SenderSSRC)
	if !ok || inv.Token != msg.InitiatorToken {
		s.logger.Warn().Stringer("addr", addr).Uint32("ssrc", msg.SenderSSRC).Msg("data-port invitation with no matching pending entry")
		return
	}

	name := inv.Name
	if msg.Name != "" {
		name = msg.Name
	}
	p := registry.Participant{
		SSRC:           msg.SenderSSRC,
		Control:        withPort(addr, udpPort(addr)-1),
		Data:           addr,
		Name:           name,
		InvitedByUs:    false,
		LastSync:       time.Now(),
		InitiatorToken: msg.InitiatorToken,
	}
	s.registry.Promote(msg.SenderSSRC, p)

	reply := control.NewAccept(msg.InitiatorToken, s.SSRC, s.Name).Encode()
	s.sendData(reply, addr)
	s.listeners.fireParticipantJoined(p)
}

// handleDataAccept is "our data-port invite accepted": promote to
// participant and kick off the clock-sync ritual at count 0.
func (s *Session) handleDataAccept(buf []byte, addr net.Addr) {
	msg, err := control.ParseSessionInitiation(buf)
	if err != nil {
		s.logger.Warn().Err(err).Stringer("addr", addr).Msg("malformed data-port accept")
		return
	}
	inv, ok := s.registry.GetPending(msg.SenderSSRC)
	if !ok || inv.Token != msg.InitiatorToken {
		s.logger.Warn().Stringer("addr", addr).Uint32("ssrc", msg.SenderSSRC).Msg("data-port accept with no matching pending entry")
		return
	}

	name := inv.Name
	if msg.Name != "" {
		name = msg.Name
	}
	p := registry.Participant{
		SSRC:           msg.SenderSSRC,
		Control:        withPort(addr, udpPort(addr)-1),
		Data:           addr,
		Name:           name,
		InvitedByUs:    true,
		LastSync:       time.Now(),
		InitiatorToken: msg.InitiatorToken,
	}
	s.registry.Promote(msg.SenderSSRC, p)

	now := s.clock.Now64()
	ck := control.NewClockSync(s.SSRC, control.ClockSyncCount0, [3]uint64{now, 0, 0}).Encode()
	s.sendData(ck, addr)
	s.listeners.fireParticipantJoined(p)
}

func (s *Session) handleClockSync(buf []byte, addr net.Addr) {
	msg, err := control.ParseClockSync(buf)
	if err != nil {
		s.logger.Warn().Err(err).Stringer("addr", addr).Msg("malformed clock-sync packet")
		return
	}
	if _, ok := s.registry.GetParticipant(msg.SenderSSRC); !ok {
		s.logger.Warn().Stringer("addr", addr).Uint32("ssrc", msg.SenderSSRC).Msg("clock-sync from unknown participant")
		return
	}

	now := s.clock.Now64()
	switch msg.Count {
	case control.ClockSyncCount0:
		ts := msg.Timestamps
		ts[1] = now
		reply := control.NewClockSync(s.SSRC, control.ClockSyncCount1, ts).Encode()
		s.sendData(reply, addr)
	case control.ClockSyncCount1:
		ts := msg.Timestamps
		ts[2] = now
		reply := control.NewClockSync(s.SSRC, control.ClockSyncCount2, ts).Encode()
		s.sendData(reply, addr)
	case control.ClockSyncCount2:
		latencyMs := float64(msg.Timestamps[2]-msg.Timestamps[0]) / 10.0
		s.logger.Info().Uint32("ssrc", msg.SenderSSRC).Float64("latency_ms", latencyMs).Msg("clock-sync round trip complete")
	default:
		s.logger.Warn().Stringer("addr", addr).Msg("clock-sync packet with invalid count")
		return
	}

	s.registry.UpdateParticipant(msg.SenderSSRC, func(p registry.Participant) registry.Participant {
		p.LastSync = time.Now()
		return p
	})
}

func (s *Session) handleMIDIPacket(buf []byte, addr net.Addr) {
	msg, err := rtp.Parse(buf)
	if err != nil {
		s.logger.Warn().Err(err).Stringer("addr", addr).Msg("dropping malformed MIDI packet")
		return
	}

	for _, cmd := range msg.Commands {
		if cmd.Status == midi.SystemExclusive {
			s.listeners.fireSysEx(SysExEvent{Data: cmd.Data})
			continue
		}
		s.listeners.fireMIDIMessage(MIDIEvent{Message: messageFromCommand(cmd.Status, cmd.Data), DeltaTime: cmd.DeltaTime})
	}
}
