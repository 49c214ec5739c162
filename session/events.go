package session

import (
	"sync"

	"github.com/somesmallstudio/go-rtpmidi/midi"
	"github.com/somesmallstudio/go-rtpmidi/registry"
)

// SysExEvent carries one decoded System-Exclusive command's opaque body
// (exclusive of the 0xF0/0xF7 framing bytes).
type SysExEvent struct {
	Data []byte
}

// eventListeners holds one slot per event kind, as typed callback lists
// rather than a single tagged-union dispatch; a single mutex guards all
// four slots.
// Registration appends; delivery snapshots the slice under lock and
// invokes callbacks outside it, synchronously on the calling receive
// task. Callbacks must not block.
type eventListeners struct {
	mu sync.Mutex

	midiMessage       []func(MIDIEvent)
	sysex             []func(SysExEvent)
	participantJoined []func(registry.Participant)
	participantLeft   []func(registry.Participant)
}

func newEventListeners() *eventListeners {
	return &eventListeners{}
}

// OnMIDIMessage registers fn to be called for every decoded non-SysEx
// MIDI command.
func (s *Session) OnMIDIMessage(fn func(MIDIEvent)) {
	s.listeners.mu.Lock()
	defer s.listeners.mu.Unlock()
	s.listeners.midiMessage = append(s.listeners.midiMessage, fn)
}

// OnSysEx registers fn to be called for every decoded SysEx command.
func (s *Session) OnSysEx(fn func(SysExEvent)) {
	s.listeners.mu.Lock()
	defer s.listeners.mu.Unlock()
	s.listeners.sysex = append(s.listeners.sysex, fn)
}

// OnParticipantJoined registers fn to be called when a peer completes
// its handshake.
func (s *Session) OnParticipantJoined(fn func(registry.Participant)) {
	s.listeners.mu.Lock()
	defer s.listeners.mu.Unlock()
	s.listeners.participantJoined = append(s.listeners.participantJoined, fn)
}

// OnParticipantLeft registers fn to be called when a peer is removed,
// whether by inbound BY, housekeeper eviction, or explicit removal.
func (s *Session) OnParticipantLeft(fn func(registry.Participant)) {
	s.listeners.mu.Lock()
	defer s.listeners.mu.Unlock()
	s.listeners.participantLeft = append(s.listeners.participantLeft, fn)
}

func (l *eventListeners) fireMIDIMessage(evt MIDIEvent) {
	l.mu.Lock()
	snapshot := append([]func(MIDIEvent){}, l.midiMessage...)
	l.mu.Unlock()
	for _, fn := range snapshot {
		fn(evt)
	}
}

func (l *eventListeners) fireSysEx(evt SysExEvent) {
	l.mu.Lock()
	snapshot := append([]func(SysExEvent){}, l.sysex...)
	l.mu.Unlock()
	for _, fn := range snapshot {
		fn(evt)
	}
}

func (l *eventListeners) fireParticipantJoined(p registry.Participant) {
	l.mu.Lock()
	snapshot := append([]func(registry.Participant){}, l.participantJoined...)
	l.mu.Unlock()
	for _, fn := range snapshot {
		fn(p)
	}
}

func (l *eventListeners) fireParticipantLeft(p registry.Participant) {
	l.mu.Lock()
	snapshot := append([]func(registry.Participant){}, l.participantLeft...)
	l.mu.Unlock()
	for _, fn := range snapshot {
		fn(p)
	}
}

// messageFromCommand reconstructs a midi.Message from a decoded rtp.Command
// for dispatch to MIDI-message listeners.
func messageFromCommand(status byte, data []byte) midi.Message {
	m := midi.Message{Status: status, NumData: len(data)}
	if len(data) > 0 {
		m.Data1 = data[0]
	}
	if len(data) > 1 {
		m.Data2 = data[1]
	}
	return m
}
