// Package discovery advertises a session on the local network via
// Bonjour/mDNS so AppleMIDI clients can find it without a configured
// address. Advertisement is best-effort: a failure here never
// prevents the session itself from running, unless the caller opts into
// strict mode.
package discovery

import (
	"fmt"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

const serviceType = "_apple-midi._udp"

// Advertisement is a running mDNS registration. Shutdown stops it.
type Advertisement struct {
	server *zeroconf.Server
}

// Advertise registers name on port (the control port; AppleMIDI clients
// derive the data port as port+1) under _apple-midi._udp.local.
//
// If strict is false (the default posture), a registration failure is
// logged and a no-op Advertisement is returned so callers don't need a
// separate nil check; the session continues to operate for directly
// addressed peers. If strict is true, the error is returned instead.
func Advertise(name string, port uint16, strict bool) (*Advertisement, error) {
	server, err := zeroconf.Register(name, serviceType, "local.", int(port), []string{"txtv=0", "lo=1", "la=2"}, nil)
	if err != nil {
		wrapped := fmt.Errorf("discovery: advertise %q on port %d: %w", name, port, err)
		if strict {
			return nil, wrapped
		}
		log.Warn().Err(wrapped).Msg("mDNS advertisement failed, continuing without it")
		return &Advertisement{}, nil
	}
	return &Advertisement{server: server}, nil
}

// Shutdown withdraws the advertisement, if one is active. Safe to call on
// a nil-server Advertisement (the non-strict failure case) and safe to
// call more than once.
func (a *Advertisement) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
}
