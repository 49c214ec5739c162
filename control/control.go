// Package control implements the AppleMIDI control-packet codec: the five
// session-initiation and clock-sync packets (IN, OK, NO, BY, CK) exchanged
// on both the control and data UDP ports.
package control

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed reports a structurally invalid control packet: bad preamble,
// short buffer, unterminated name, or an invalid clock-sync count.
var ErrMalformed = errors.New("control: malformed packet")

// ProtocolVersion is the only AppleMIDI protocol version this codec speaks.
const ProtocolVersion uint32 = 2

// Command identifies one of the five control packet types by its two-byte
// ASCII command code.
type Command [2]byte

// The five AppleMIDI control commands.
var (
	CommandInvitation  = Command{'I', 'N'}
	CommandAccept      = Command{'O', 'K'}
	CommandReject      = Command{'N', 'O'}
	CommandTermination = Command{'B', 'Y'}
	CommandClockSync   = Command{'C', 'K'}
)

func (c Command) String() string { return string(c[:]) }

const preambleHi, preambleLo = 0xff, 0xff

// IsControlPacket reports whether buf looks like a control packet, i.e.
// begins with the 0xFFFF preamble. This is the classifier the two port
// receive loops use to tell control packets apart from RTP-MIDI data
// packets, which never start with 0xFF in their first header byte.
func IsControlPacket(buf []byte) bool {
	return len(buf) >= 2 && buf[0] == preambleHi && buf[1] == preambleLo
}

// SessionInitiation is the shared body of IN, OK, NO and BY packets.
type SessionInitiation struct {
	Command         Command
	ProtocolVersion uint32
	InitiatorToken  uint32
	SenderSSRC      uint32
	// Name is present only on IN and OK packets; it is the empty string
	// (distinct from "absent", which callers can't observe on the wire)
	// for NO/BY or when the sender advertised no name.
	Name string
}

const sessionInitiationBodyLen = 12 // version + token + ssrc, 4 bytes each

// ParseSessionInitiation decodes an IN/OK/NO/BY packet. buf must include
// the 4-byte preamble+command prefix.
func ParseSessionInitiation(buf []byte) (SessionInitiation, error) {
	var msg SessionInitiation
	if !IsControlPacket(buf) {
		return msg, fmt.Errorf("%w: missing 0xFFFF preamble", ErrMalformed)
	}
	if len(buf) < 4+sessionInitiationBodyLen {
		return msg, fmt.Errorf("%w: short session-initiation body", ErrMalformed)
	}
	msg.Command = Command{buf[2], buf[3]}

	body := buf[4 : 4+sessionInitiationBodyLen]
	msg.ProtocolVersion = binary.BigEndian.Uint32(body[0:4])
	msg.InitiatorToken = binary.BigEndian.Uint32(body[4:8])
	msg.SenderSSRC = binary.BigEndian.Uint32(body[8:12])

	rest := buf[4+sessionInitiationBodyLen:]
	if len(rest) == 0 {
		return msg, nil
	}
	nul := bytes.IndexByte(rest, 0x00)
	if nul < 0 {
		return msg, fmt.Errorf("%w: name missing terminating nul", ErrMalformed)
	}
	msg.Name = string(rest[:nul])
	return msg, nil
}

// Encode serializes a session-initiation packet. Name is only emitted for
// IN and OK commands, matching the wire contract; callers building NO/BY
// packets should simply leave Name empty.
func (msg SessionInitiation) Encode() []byte {
	includeName := msg.Command == CommandInvitation || msg.Command == CommandAccept

	size := 4 + sessionInitiationBodyLen
	if includeName && msg.Name != "" {
		size += len(msg.Name) + 1
	}
	buf := make([]byte, 4, size)
	buf[0], buf[1] = preambleHi, preambleLo
	buf[2], buf[3] = msg.Command[0], msg.Command[1]

	var body [sessionInitiationBodyLen]byte
	binary.BigEndian.PutUint32(body[0:4], ProtocolVersion)
	binary.BigEndian.PutUint32(body[4:8], msg.InitiatorToken)
	binary.BigEndian.PutUint32(body[8:12], msg.SenderSSRC)
	buf = append(buf, body[:]...)

	if includeName && msg.Name != "" {
		buf = append(buf, []byte(msg.Name)...)
		buf = append(buf, 0x00)
	}
	return buf
}

// NewInvitation builds an IN packet.
func NewInvitation(token, ssrc uint32, name string) SessionInitiation {
	return SessionInitiation{Command: CommandInvitation, ProtocolVersion: ProtocolVersion, InitiatorToken: token, SenderSSRC: ssrc, Name: name}
}

// NewAccept builds an OK packet, echoing the peer's token.
func NewAccept(token, ssrc uint32, name string) SessionInitiation {
	return SessionInitiation{Command: CommandAccept, ProtocolVersion: ProtocolVersion, InitiatorToken: token, SenderSSRC: ssrc, Name: name}
}

// NewReject builds a NO packet, echoing the peer's token.
func NewReject(token, ssrc uint32) SessionInitiation {
	return SessionInitiation{Command: CommandReject, ProtocolVersion: ProtocolVersion, InitiatorToken: token, SenderSSRC: ssrc}
}

// NewTermination builds a BY packet carrying the original invitation token.
func NewTermination(token, ssrc uint32) SessionInitiation {
	return SessionInitiation{Command: CommandTermination, ProtocolVersion: ProtocolVersion, InitiatorToken: token, SenderSSRC: ssrc}
}

// ClockSyncCount is the 0/1/2 step of the three-message clock-sync ritual.
type ClockSyncCount uint8

const (
	ClockSyncCount0 ClockSyncCount = 0
	ClockSyncCount1 ClockSyncCount = 1
	ClockSyncCount2 ClockSyncCount = 2
)

func (c ClockSyncCount) valid() bool { return c <= ClockSyncCount2 }

// ClockSync is the fixed 36-byte CK packet.
type ClockSync struct {
	SenderSSRC uint32
	Count      ClockSyncCount
	// Timestamps are monotonic, 100us-resolution ticks since session
	// start. Only indices [0, Count] are meaningful to the sender; all
	// three are always present on the wire.
	Timestamps [3]uint64
}

const clockSyncLen = 36

// ParseClockSync decodes a CK packet. buf must include the 4-byte
// preamble+command prefix and be exactly 36 bytes long.
func ParseClockSync(buf []byte) (ClockSync, error) {
	var msg ClockSync
	if !IsControlPacket(buf) {
		return msg, fmt.Errorf("%w: missing 0xFFFF preamble", ErrMalformed)
	}
	if len(buf) != clockSyncLen {
		return msg, fmt.Errorf("%w: clock-sync packet must be %d bytes, got %d", ErrMalformed, clockSyncLen, len(buf))
	}
	if buf[2] != CommandClockSync[0] || buf[3] != CommandClockSync[1] {
		return msg, fmt.Errorf("%w: not a CK packet", ErrMalformed)
	}

	msg.SenderSSRC = binary.BigEndian.Uint32(buf[4:8])
	count := buf[8]
	if count > 2 {
		return msg, fmt.Errorf("%w: invalid clock-sync count %d", ErrMalformed, count)
	}
	msg.Count = ClockSyncCount(count)
	// buf[9:12] are reserved, always zero on the wire; ignored on parse.

	for i := 0; i < 3; i++ {
		off := 12 + i*8
		msg.Timestamps[i] = binary.BigEndian.Uint64(buf[off : off+8])
	}
	return msg, nil
}

// Encode serializes a CK packet. It panics if Count is outside [0,2]; an
// invalid outbound clock-sync count is a programmer error, not a
// recoverable one.
func (msg ClockSync) Encode() []byte {
	if !msg.Count.valid() {
		panic(fmt.Sprintf("control: invalid clock-sync count %d", msg.Count))
	}
	buf := make([]byte, clockSyncLen)
	buf[0], buf[1] = preambleHi, preambleLo
	buf[2], buf[3] = CommandClockSync[0], CommandClockSync[1]
	binary.BigEndian.PutUint32(buf[4:8], msg.SenderSSRC)
	buf[8] = byte(msg.Count)
	// buf[9:12] reserved, left zero
	for i := 0; i < 3; i++ {
		off := 12 + i*8
		binary.BigEndian.PutUint64(buf[off:off+8], msg.Timestamps[i])
	}
	return buf
}

// NewClockSync builds a CK packet for the given step carrying the given
// timestamps array unchanged; the caller sets Timestamps[count].
func NewClockSync(ssrc uint32, count ClockSyncCount, timestamps [3]uint64) ClockSync {
	return ClockSync{SenderSSRC: ssrc, Count: count, Timestamps: timestamps}
}
