// Package midi provides the status-byte dispatch table used to frame MIDI
// commands inside an RTP-MIDI command list: which bytes are status bytes,
// and how many data bytes follow a given status.
//
// This intentionally stops at status-byte dispatch. A full MIDI message
// algebra (typed NoteOn/NoteOff/ControlChange values, transposition,
// querying) is treated as an external concern per the RTP-MIDI session
// core's scope; callers that need that should layer a message-type
// library on top of the Message values this package produces.
//
// Based on the NodeJS midi-common package, with selected features.
package midi

// StatusBit is the high bit that marks a byte as a MIDI status byte rather
// than a data byte.
const StatusBit = 0x80

// IsStatusByte reports whether b is a MIDI status byte (high bit set).
func IsStatusByte(b byte) bool {
	return b&StatusBit != 0
}

// IsChannelVoice reports whether status is one of the channel-voice
// commands (0x8n-0xEn), i.e. it carries a channel nibble and its data
// length is looked up by masking that nibble off.
func IsChannelVoice(status byte) bool {
	return status >= 0x80 && status < 0xf0
}

// Channel returns the channel number (0-15) encoded in a channel-voice
// status byte's low nibble. The result is meaningless for non-channel-voice
// status bytes.
func Channel(status byte) uint8 {
	return status & 0x0f
}

// GetDataLength returns the number of data bytes that follow the given
// status byte. SysEx (0xf0) reports -1 since its length is delimited by a
// 0xf7 terminator rather than a fixed count; unknown status bytes report 0.
func GetDataLength(status byte) int {
	info := GetCommandInfo(status)
	if info != nil {
		return info.DataLength
	}
	return 0
}

// GetCommandInfo looks up the dispatch entry for a status byte, masking off
// the channel nibble for channel-voice commands.
func GetCommandInfo(status byte) *CommandInfo {
	if info, ok := commandsInfo[status]; ok {
		return &info
	}
	if !IsChannelVoice(status) {
		return nil
	}
	if info, ok := commandsInfo[status&0xf0]; ok {
		return &info
	}
	return nil
}

// CommandInfo describes a MIDI status byte: its data length and a display
// name used in log messages.
type CommandInfo struct {
	DataLength int
	Name       string
}

const (
	// NoteOff is the channel-voice Note Off status (low nibble = channel).
	NoteOff = 0x80
	// NoteOn is the channel-voice Note On status (low nibble = channel).
	NoteOn = 0x90
	// PolyKeyPressure is the polyphonic key pressure / aftertouch status.
	PolyKeyPressure = 0xa0
	// ControlChange is the control change status.
	ControlChange = 0xb0
	// ProgramChange is the program change status.
	ProgramChange = 0xc0
	// ChannelPressure is the channel aftertouch status.
	ChannelPressure = 0xd0
	// PitchBend is the pitch wheel status.
	PitchBend = 0xe0
	// SystemExclusive begins a SysEx blob, terminated by SystemExclusiveEnd.
	SystemExclusive = 0xf0
	// SystemExclusiveEnd terminates a SysEx blob.
	SystemExclusiveEnd = 0xf7
)

var commandsInfo = map[byte]CommandInfo{
	// Channel Messages
	NoteOff:         {DataLength: 2, Name: "noteOff"},
	NoteOn:          {DataLength: 2, Name: "noteOn"},
	PolyKeyPressure: {DataLength: 2, Name: "polyphonicAftertouch"},
	ControlChange:   {DataLength: 2, Name: "controlChange"},
	ProgramChange:   {DataLength: 1, Name: "programChange"},
	ChannelPressure: {DataLength: 1, Name: "channelAftertouch"},
	PitchBend:       {DataLength: 2, Name: "pitchBend"},

	// System Common Messages
	SystemExclusive: {DataLength: -1, Name: "systemExclusive"}, // length determined by 0xf7 terminator

	0xf1: {DataLength: 1, Name: "quarterFrame"},
	0xf2: {DataLength: 2, Name: "songPosition"},
	0xf3: {DataLength: 1, Name: "songSelect"},
	// 0xf4, 0xf5: undefined
	0xf6: {DataLength: 0, Name: "tuneRequest"},
	// 0xf7: end of SysEx, handled by the caller, never dispatched here

	// System Realtime Messages
	0xf8: {DataLength: 0, Name: "clock"},
	0xfa: {DataLength: 0, Name: "start"},
	0xfb: {DataLength: 0, Name: "continue"},
	0xfc: {DataLength: 0, Name: "stop"},
	// 0xfd: undefined
	0xfe: {DataLength: 0, Name: "activeSensing"},
	0xff: {DataLength: 0, Name: "reset"},
}

// Message is a decoded channel-voice or system MIDI command: a status byte
// plus up to two data bytes. It deliberately carries no behavior beyond
// field access; see the package doc for why.
type Message struct {
	Status byte
	Data1  byte
	Data2  byte
	// NumData is how many of Data1/Data2 are meaningful (0, 1, or 2).
	NumData int
}

// Channel returns the channel number for a channel-voice message, or 0 for
// system messages (which have no channel).
func (m Message) Channel() uint8 {
	if IsChannelVoice(m.Status) {
		return Channel(m.Status)
	}
	return 0
}

// Bytes renders the message back into its wire-order status+data bytes.
func (m Message) Bytes() []byte {
	b := make([]byte, 1+m.NumData)
	b[0] = m.Status
	if m.NumData > 0 {
		b[1] = m.Data1
	}
	if m.NumData > 1 {
		b[2] = m.Data2
	}
	return b
}
