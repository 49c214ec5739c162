package session

import (
	"net"

	"github.com/somesmallstudio/go-rtpmidi/control"
	"github.com/somesmallstudio/go-rtpmidi/registry"
)

func (s *Session) runControlPort() {
	defer s.wg.Done()
	buf := make([]byte, recvBufferSize)
	for {
		n, addr, err := s.controlConn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Error().Err(err).Msg("control port recv failed, task exiting")
			}
			return
		}
		s.handleControlPacket(append([]byte(nil), buf[:n]...), addr)
	}
}

func (s *Session) handleControlPacket(buf []byte, addr net.Addr) {
	if !control.IsControlPacket(buf) {
		s.logger.Warn().Stringer("addr", addr).Msg("non-control datagram received on control port")
		return
	}
	if len(buf) < 4 {
		s.logger.Warn().Stringer("addr", addr).Msg("control packet too short to carry a command")
		return
	}
	cmd := control.Command{buf[2], buf[3]}
	switch cmd {
	case control.CommandInvitation:
		s.handleControlInvitation(buf, addr)
	case control.CommandAccept:
		s.handleControlAccept(buf, addr)
	case control.CommandReject:
		s.handleControlReject(buf, addr)
	case control.CommandTermination:
		s.handleTermination(buf, addr)
	case control.CommandClockSync:
		s.logger.Warn().Stringer("addr", addr).Msg("clock-sync packet received on control port, ignoring")
	default:
		s.logger.Warn().Stringer("addr", addr).Str("cmd", cmd.String()).Msg("unknown control command")
	}
}

func (s *Session) handleControlInvitation(buf []byte, addr net.Addr) {
	msg, err := control.ParseSessionInitiation(buf)
	if err != nil {
		s.logger.Warn().Err(err).Stringer("addr", addr).Msg("malformed invitation")
		return
	}
	if !s.inviteResponder(msg, addr) {
		reply := control.NewReject(msg.InitiatorToken, s.SSRC).Encode()
		s.sendControl(reply, addr)
		return
	}
	s.registry.PutPending(msg.SenderSSRC, registry.PendingInvitation{Addr: addr, Token: msg.InitiatorToken, Name: msg.Name})
	reply := control.NewAccept(msg.InitiatorToken, s.SSRC, s.Name).Encode()
	s.sendControl(reply, addr)
}

// handleControlAccept is the "our invite accepted on control port" leg:
// promote the pending entry to be keyed by the peer's now-known SSRC and
// open the data-port leg of the handshake.
func (s *Session) handleControlAccept(buf []byte, addr net.Addr) {
	msg, err := control.ParseSessionInitiation(buf)
	if err != nil {
		s.logger.Warn().Err(err).Stringer("addr", addr).Msg("malformed accept")
		return
	}

	fromKey := msg.SenderSSRC
	inv, ok := s.registry.GetPending(msg.SenderSSRC)
	if ok && inv.Token != msg.InitiatorToken {
		ok = false
	}
	if !ok {
		inv, ok = s.registry.ResolvePendingBySentinel(msg.InitiatorToken, addr)
		fromKey = registry.SentinelSSRC
	}
	if !ok {
		s.logger.Warn().Stringer("addr", addr).Uint32("token", msg.InitiatorToken).Msg("accept with no matching pending invitation")
		return
	}

	dataAddr := withPort(addr, udpPort(addr)+1)
	s.registry.RependAfterAcceptance(fromKey, msg.SenderSSRC, registry.PendingInvitation{Addr: dataAddr, Token: msg.InitiatorToken, Name: msg.Name})

	pkt := control.NewInvitation(msg.InitiatorToken, s.SSRC, s.Name).Encode()
	s.sendData(pkt, dataAddr)
}

func (s *Session) handleControlReject(buf []byte, addr net.Addr) {
	msg, err := control.ParseSessionInitiation(buf)
	if err != nil {
		s.logger.Warn().Err(err).Stringer("addr", addr).Msg("malformed reject")
		return
	}
	if _, ok := s.registry.RemovePending(msg.SenderSSRC); ok {
		return
	}
	if _, ok := s.registry.ResolvePendingBySentinel(msg.InitiatorToken, addr); ok {
		s.registry.RemovePending(registry.SentinelSSRC)
	}
}

func (s *Session) handleTermination(buf []byte, addr net.Addr) {
	msg, err := control.ParseSessionInitiation(buf)
	if err != nil {
		s.logger.Warn().Err(err).Stringer("addr", addr).Msg("malformed termination")
		return
	}
	if p, ok := s.registry.RemoveParticipant(msg.SenderSSRC); ok {
		s.listeners.fireParticipantLeft(p)
	}
}

func udpPort(addr net.Addr) int {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0
	}
	return udpAddr.Port
}
