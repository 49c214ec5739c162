// Package rtp implements the RTP-MIDI data-packet codec: the fixed 12-byte
// RTP header, the 1- or 2-byte command-list header, and the command
// stream itself (delta-time prefixed MIDI commands with running-status
// elision and SysEx framing).
package rtp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/somesmallstudio/go-rtpmidi/journal"
	"github.com/somesmallstudio/go-rtpmidi/midi"
	"github.com/somesmallstudio/go-rtpmidi/vlq"
)

// ErrMalformed reports a structurally invalid RTP-MIDI packet: bad header
// fields, inconsistent command-list length, or a command that runs past
// the end of the buffer.
var ErrMalformed = errors.New("rtp: malformed packet")

// ErrProtocolViolation reports running-status elision with no prior status
// byte in the same command list.
var ErrProtocolViolation = errors.New("rtp: protocol violation")

// Fixed RTP header field values this codec requires.
const (
	rtpVersion  = 2
	payloadType = 0x61

	headerLen = 12
)

// Header is the fixed 12-byte RTP-MIDI header.
type Header struct {
	SequenceNumber uint16
	Timestamp      uint32 // 100us ticks since session start, wrapping
	SSRC           uint32
	// Marker is true when the command section is non-empty.
	Marker bool
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, headerLen)
	buf[0] = rtpVersion << 6 // P=0, X=0, CC=0
	buf[1] = payloadType
	if h.Marker {
		buf[1] |= 0x80
	}
	binary.BigEndian.PutUint16(buf[2:4], h.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)
	return buf
}

func parseHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < headerLen {
		return h, fmt.Errorf("%w: buffer shorter than RTP header (%d bytes)", ErrMalformed, len(buf))
	}
	version := buf[0] >> 6
	padding := buf[0]&0x20 != 0
	extension := buf[0]&0x10 != 0
	csrcCount := buf[0] & 0x0f
	if version != rtpVersion || padding || extension || csrcCount != 0 {
		return h, fmt.Errorf("%w: unexpected RTP header flags (version=%d padding=%v extension=%v cc=%d)",
			ErrMalformed, version, padding, extension, csrcCount)
	}

	pt := buf[1] & 0x7f
	if pt != payloadType {
		return h, fmt.Errorf("%w: payload type mismatch: expected 0x%x, got 0x%x", ErrMalformed, payloadType, pt)
	}
	h.Marker = buf[1]&0x80 != 0
	h.SequenceNumber = binary.BigEndian.Uint16(buf[2:4])
	h.Timestamp = binary.BigEndian.Uint32(buf[4:8])
	h.SSRC = binary.BigEndian.Uint32(buf[8:12])
	return h, nil
}

// Command-list header flag bits.
const (
	bigHeaderBit = 0x80 // B: length spans 12 bits across two header bytes
	journalBit   = 0x40 // J: recovery journal appended after command list
	zFlagBit     = 0x20 // Z: first command carries an explicit delta-time
	phantomBit   = 0x10 // P: phantom status marker, ignored semantically
	shortLenMask = 0x0f
	bigLenMask   = 0x0fff

	// shortHeaderMaxLen is the largest list length the 1-byte (short)
	// header form can carry; above this the 2-byte (big) form is used.
	shortHeaderMaxLen = 15
)

// Command is one timed MIDI command in a command list.
type Command struct {
	// DeltaTime is the raw wire delta-time: ticks since the previous
	// command in this list, or since packet arrival for the first command
	// when Z was set. Zero for a first command with no explicit delta.
	DeltaTime uint32
	// Status is the command's status byte. For SysEx (midi.SystemExclusive)
	// Data is the opaque blob between the 0xF0 and the 0xF7 terminator,
	// exclusive of both; for every other status Data is the fixed-size
	// data-byte payload midi.GetDataLength describes.
	Status byte
	Data   []byte
}

// Message is a MIDI packet's decoded payload: the command list plus
// whether a recovery journal followed it (and, if so, how many bytes it
// occupied — callers that care about journal-driven replay are out of
// this module's scope, see the journal package doc).
type Message struct {
	Header        Header
	Commands      []Command
	HasJournal    bool
	JournalLength int
}

// Parse decodes a full RTP-MIDI data packet.
func Parse(buf []byte) (Message, error) {
	var msg Message
	header, err := parseHeader(buf)
	if err != nil {
		return msg, err
	}
	msg.Header = header

	rest := buf[headerLen:]
	if !header.Marker {
		if len(rest) != 0 {
			return msg, fmt.Errorf("%w: non-marker packet carries trailing bytes", ErrMalformed)
		}
		return msg, nil
	}

	if len(rest) < 1 {
		return msg, fmt.Errorf("%w: marker set but no command-list header present", ErrMalformed)
	}
	first := rest[0]
	big := first&bigHeaderBit != 0
	hasJournal := first&journalBit != 0
	zFlag := first&zFlagBit != 0

	var listLen int
	var listStart int
	if big {
		if len(rest) < 2 {
			return msg, fmt.Errorf("%w: truncated big command-list header", ErrMalformed)
		}
		listLen = int(binary.BigEndian.Uint16(rest[0:2]) & bigLenMask)
		listStart = 2
	} else {
		listLen = int(first & shortLenMask)
		listStart = 1
	}

	if listStart+listLen > len(rest) {
		return msg, fmt.Errorf("%w: command-list length %d exceeds remaining buffer", ErrMalformed, listLen)
	}
	listBuf := rest[listStart : listStart+listLen]

	commands, err := parseCommandList(listBuf, zFlag)
	if err != nil {
		return msg, err
	}
	msg.Commands = commands
	msg.HasJournal = hasJournal

	if hasJournal {
		journalBuf := rest[listStart+listLen:]
		n, err := journal.Skip(journalBuf)
		if err != nil {
			return msg, fmt.Errorf("%w: recovery journal: %v", ErrMalformed, err)
		}
		msg.JournalLength = n
	}
	return msg, nil
}

func parseCommandList(buf []byte, zFlag bool) ([]Command, error) {
	var commands []Command
	var lastStatus byte
	haveStatus := false

	offset := 0
	for offset < len(buf) {
		var cmd Command

		needsDelta := len(commands) > 0 || zFlag
		if needsDelta {
			dt, n, err := vlq.Decode(buf[offset:])
			if err != nil {
				return nil, fmt.Errorf("%w: delta-time: %v", ErrMalformed, err)
			}
			cmd.DeltaTime = dt
			offset += n
		}

		if offset >= len(buf) {
			return nil, fmt.Errorf("%w: command list truncated before status byte", ErrMalformed)
		}

		b := buf[offset]
		if midi.IsStatusByte(b) {
			cmd.Status = b
			offset++
			lastStatus = b
			haveStatus = true
		} else {
			if !haveStatus {
				return nil, fmt.Errorf("%w: running-status elision with no prior status byte", ErrProtocolViolation)
			}
			cmd.Status = lastStatus
			// Don't advance offset: b is the first data byte.
		}

		if cmd.Status == midi.SystemExclusive {
			end := -1
			for i := offset; i < len(buf); i++ {
				if buf[i] == midi.SystemExclusiveEnd {
					end = i
					break
				}
			}
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated SysEx", ErrMalformed)
			}
			cmd.Data = append([]byte(nil), buf[offset:end]...)
			offset = end + 1
		} else {
			dataLen := midi.GetDataLength(cmd.Status)
			if dataLen < 0 {
				return nil, fmt.Errorf("%w: unknown variable-length status 0x%x", ErrMalformed, cmd.Status)
			}
			if offset+dataLen > len(buf) {
				return nil, fmt.Errorf("%w: short data for status 0x%x", ErrMalformed, cmd.Status)
			}
			if dataLen > 0 {
				cmd.Data = append([]byte(nil), buf[offset:offset+dataLen]...)
				offset += dataLen
			}
		}

		commands = append(commands, cmd)
	}

	if offset != len(buf) {
		return nil, fmt.Errorf("%w: command list did not consume exactly its declared length", ErrMalformed)
	}
	return commands, nil
}

// Encode serializes a full RTP-MIDI data packet. zFlag selects whether the
// first command's delta-time is written explicitly (Z=1) or omitted
// (Z=0, equivalent to a delta-time of zero for the first command).
func Encode(header Header, commands []Command, zFlag bool) []byte {
	header.Marker = len(commands) > 0
	buf := encodeHeader(header)
	if len(commands) == 0 {
		return buf
	}

	list := encodeCommandList(commands, zFlag)

	var headerBytes []byte
	flags := byte(0)
	if zFlag {
		flags |= zFlagBit
	}
	if len(list) > shortHeaderMaxLen {
		flags |= bigHeaderBit
		lenField := uint16(len(list)) & bigLenMask
		headerBytes = []byte{flags | byte(lenField>>8), byte(lenField)}
	} else {
		headerBytes = []byte{flags | byte(len(list))}
	}

	buf = append(buf, headerBytes...)
	buf = append(buf, list...)
	return buf
}

func encodeCommandList(commands []Command, zFlag bool) []byte {
	var out []byte
	var runningStatus byte
	haveRunningStatus := false

	for i, cmd := range commands {
		if i > 0 || zFlag {
			out = vlq.Encode(out, cmd.DeltaTime)
		}

		elide := haveRunningStatus && cmd.Status == runningStatus && cmd.Status != midi.SystemExclusive
		if !elide {
			out = append(out, cmd.Status)
		}
		runningStatus = cmd.Status
		haveRunningStatus = true

		if cmd.Status == midi.SystemExclusive {
			out = append(out, cmd.Data...)
			out = append(out, midi.SystemExclusiveEnd)
		} else {
			out = append(out, cmd.Data...)
		}
	}
	return out
}
