package session

import (
	"net"

	"github.com/somesmallstudio/go-rtpmidi/control"
)

// InviteResponderFunc decides whether to accept an inbound IN packet.
type InviteResponderFunc func(invitation control.SessionInitiation, sourceAddr net.Addr) bool

// AcceptAll accepts every inbound invitation.
func AcceptAll(control.SessionInitiation, net.Addr) bool { return true }

// RejectAll rejects every inbound invitation.
func RejectAll(control.SessionInitiation, net.Addr) bool { return false }
