// Package session ties the packet codecs, the participant registry, and
// mDNS discovery together into a running AppleMIDI endpoint: two UDP
// receive loops (control, data) plus a periodic housekeeper, all sharing
// state behind the registry's own locks.
package session

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/somesmallstudio/go-rtpmidi/clock"
	"github.com/somesmallstudio/go-rtpmidi/control"
	"github.com/somesmallstudio/go-rtpmidi/discovery"
	"github.com/somesmallstudio/go-rtpmidi/midi"
	"github.com/somesmallstudio/go-rtpmidi/registry"
	"github.com/somesmallstudio/go-rtpmidi/rtp"
)

const recvBufferSize = 1500

// Session is a running AppleMIDI endpoint bound to a pair of adjacent UDP
// ports (control = ControlPort, data = ControlPort+1).
type Session struct {
	Name        string
	SSRC        uint32
	ControlPort uint16

	registry *registry.Registry
	clock    clock.Clock

	seqMu sync.Mutex
	seq   uint16

	controlConn net.PacketConn
	dataConn    net.PacketConn

	listeners       *eventListeners
	inviteResponder InviteResponderFunc
	logger          zerolog.Logger
	opts            options

	advertisement *discovery.Advertisement

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

type options struct {
	housekeeperInterval time.Duration
	staleTimeout        time.Duration
	strictDiscovery     bool
	logger              *zerolog.Logger
}

func defaultOptions() options {
	return options{
		housekeeperInterval: 10 * time.Second,
		staleTimeout:        30 * time.Second,
	}
}

// Option configures a Session at Start time.
type Option func(*options)

// WithHousekeeperInterval overrides the default 10s housekeeper tick.
func WithHousekeeperInterval(d time.Duration) Option {
	return func(o *options) { o.housekeeperInterval = d }
}

// WithStaleTimeout overrides the default 30s stale-peer cutoff.
func WithStaleTimeout(d time.Duration) Option {
	return func(o *options) { o.staleTimeout = d }
}

// WithStrictDiscovery makes a failed mDNS advertisement a fatal error from
// Start instead of a logged warning.
func WithStrictDiscovery(strict bool) Option {
	return func(o *options) { o.strictDiscovery = strict }
}

// WithLogger overrides the package-default zerolog logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// Start binds the control socket on port and the data socket on port+1,
// advertises the session over mDNS (best-effort unless WithStrictDiscovery
// is set), and launches the control-port, data-port and housekeeper tasks.
func Start(name string, ssrc uint32, port uint16, responder InviteResponderFunc, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := log.Logger
	if o.logger != nil {
		logger = *o.logger
	}

	controlConn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("session: bind control port %d: %w", port, err)
	}
	dataConn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port+1))
	if err != nil {
		controlConn.Close()
		return nil, fmt.Errorf("session: bind data port %d: %w", port+1, err)
	}

	adv, err := discovery.Advertise(name, port, o.strictDiscovery)
	if err != nil {
		controlConn.Close()
		dataConn.Close()
		return nil, err
	}

	s := &Session{
		Name:            name,
		SSRC:            ssrc,
		ControlPort:     port,
		registry:        registry.New(),
		clock:           clock.New(time.Now()),
		seq:             uint16(rand.Uint32()),
		controlConn:     controlConn,
		dataConn:        dataConn,
		listeners:       newEventListeners(),
		inviteResponder: responder,
		logger:          logger.With().Str("session", name).Logger(),
		opts:            o,
		advertisement:   adv,
		done:            make(chan struct{}),
	}

	s.wg.Add(3)
	go s.runControlPort()
	go s.runDataPort()
	go s.runHousekeeper()

	return s, nil
}

// Stop cancels the background tasks, closes both sockets and withdraws
// the mDNS advertisement. Idempotent.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.controlConn.Close()
		s.dataConn.Close()
		s.advertisement.Shutdown()
		s.wg.Wait()
	})
}

// Invite sends an IN packet to addr's control port and records a
// sentinel-keyed pending invitation awaiting the peer's OK.
func (s *Session) Invite(addr net.Addr) error {
	token := rand.Uint32()
	s.registry.PutPending(registry.SentinelSSRC, registry.PendingInvitation{Addr: addr, Token: token})
	pkt := control.NewInvitation(token, s.SSRC, s.Name).Encode()
	return s.sendControl(pkt, addr)
}

// MIDIEvent pairs a decoded MIDI message with the delta-time the caller
// wants it stamped with on the wire.
type MIDIEvent struct {
	Message   midi.Message
	DeltaTime uint32
}

// SendMIDI emits a single MIDI message with zero delta-time to every
// current participant's data address.
func (s *Session) SendMIDI(msg midi.Message) error {
	return s.SendMIDIBatch([]MIDIEvent{{Message: msg}})
}

// SendMIDIBatch packs events into one RTP-MIDI packet (using the current
// sequence number and clock timestamp) and emits it to every participant.
// The sequence number wraps modulo 2^16. Returns the first send error
// encountered, after attempting every participant.
func (s *Session) SendMIDIBatch(events []MIDIEvent) error {
	commands := make([]rtp.Command, len(events))
	for i, e := range events {
		data := e.Message.Bytes()
		if len(data) > 0 {
			data = data[1:] // drop the status byte, rtp.Command carries it separately
		}
		commands[i] = rtp.Command{DeltaTime: e.DeltaTime, Status: e.Message.Status, Data: data}
	}

	header := rtp.Header{SequenceNumber: s.nextSeq(), Timestamp: s.clock.Now32(), SSRC: s.SSRC, Marker: len(commands) > 0}
	buf := rtp.Encode(header, commands, false)

	var firstErr error
	for _, p := range s.registry.ListParticipants() {
		if err := s.sendData(buf, p.Data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Session) nextSeq() uint16 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	return s.seq
}

// Participants returns a snapshot of the current participant list.
func (s *Session) Participants() []registry.Participant {
	return s.registry.ListParticipants()
}

// RemoveParticipant sends BY to p on both its control and data addresses
// and evicts it from the registry. Best-effort: send failures are logged,
// not returned, matching the infallible contract of a local eviction.
func (s *Session) RemoveParticipant(p registry.Participant) {
	by := control.NewTermination(p.InitiatorToken, s.SSRC).Encode()
	s.sendControl(by, p.Control)
	s.sendData(by, p.Data)
	if removed, ok := s.registry.RemoveParticipant(p.SSRC); ok {
		s.listeners.fireParticipantLeft(removed)
	}
}

func (s *Session) sendControl(buf []byte, addr net.Addr) error {
	_, err := s.controlConn.WriteTo(buf, addr)
	if err != nil {
		s.logger.Warn().Err(err).Stringer("addr", addr).Msg("control send failed")
	}
	return err
}

func (s *Session) sendData(buf []byte, addr net.Addr) error {
	_, err := s.dataConn.WriteTo(buf, addr)
	if err != nil {
		s.logger.Warn().Err(err).Stringer("addr", addr).Msg("data send failed")
	}
	return err
}

// withPort returns a copy of addr with its port replaced, used to derive
// a peer's data address from its control address and vice versa (the
// two are always adjacent UDP ports on the same host).
func withPort(addr net.Addr, port int) net.Addr {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return addr
	}
	out := *udpAddr
	out.Port = port
	return &out
}
