package session

import (
	"time"

	"github.com/somesmallstudio/go-rtpmidi/control"
)

func (s *Session) runHousekeeper() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.housekeeperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.houseKeep()
		case <-s.done:
			return
		}
	}
}

func (s *Session) houseKeep() {
	now := time.Now()
	for _, p := range s.registry.ListParticipants() {
		if p.InvitedByUs && now.Sub(p.LastSync) >= s.opts.staleTimeout {
			by := control.NewTermination(p.InitiatorToken, s.SSRC).Encode()
			s.sendControl(by, p.Control)
			s.sendData(by, p.Data)
			if removed, ok := s.registry.RemoveParticipant(p.SSRC); ok {
				s.listeners.fireParticipantLeft(removed)
			}
			continue
		}
		if !p.InvitedByUs {
			continue
		}

		ck := control.NewClockSync(s.SSRC, control.ClockSyncCount0, [3]uint64{s.clock.Now64(), 0, 0}).Encode()
		s.sendData(ck, p.Data)
	}
}
