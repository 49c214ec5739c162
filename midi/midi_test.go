package midi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsStatusByte(t *testing.T) {
	assert.True(t, IsStatusByte(0x90))
	assert.True(t, IsStatusByte(0xf0))
	assert.False(t, IsStatusByte(0x00))
	assert.False(t, IsStatusByte(0x7f))
}

func TestGetDataLength(t *testing.T) {
	cases := map[byte]int{
		NoteOn | 3:          2,
		NoteOff | 3:         2,
		ProgramChange | 1:   1,
		ChannelPressure | 7: 1,
		PitchBend | 0:       2,
		SystemExclusive:     -1,
		0xf1:                1,
		0xf6:                0,
		0xf8:                0,
	}
	for status, want := range cases {
		assert.Equal(t, want, GetDataLength(status), "status=0x%x", status)
	}
}

func TestGetCommandInfoUnknown(t *testing.T) {
	assert.Nil(t, GetCommandInfo(0xf4))
	assert.Equal(t, 0, GetDataLength(0xf4))
}

func TestChannelVoiceChannelExtraction(t *testing.T) {
	assert.True(t, IsChannelVoice(NoteOn|5))
	assert.False(t, IsChannelVoice(0xf0))
	assert.Equal(t, uint8(5), Channel(NoteOn|5))
}

func TestMessageBytes(t *testing.T) {
	m := Message{Status: NoteOn | 1, Data1: 60, Data2: 100, NumData: 2}
	assert.Equal(t, []byte{NoteOn | 1, 60, 100}, m.Bytes())
	assert.Equal(t, uint8(1), m.Channel())
}
