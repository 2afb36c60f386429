package protocol

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeTouch_Layout(t *testing.T) {
	msg := EncodeTouch(TouchEvent{
		Action:    ActionDown,
		PointerID: -42,
		X:         960,
		Y:         540,
		Width:     1920,
		Height:    1080,
		Pressure:  0.5,
		Buttons:   1,
	})

	require.Len(t, msg, 29)
	assert.Equal(t, TypeInjectTouch, msg[0])
	assert.Equal(t, ActionDown, msg[1])
	assert.Equal(t, int64(-42), int64(binary.BigEndian.Uint64(msg[2:10])))
	assert.Equal(t, int32(960), int32(binary.BigEndian.Uint32(msg[10:14])))
	assert.Equal(t, int32(540), int32(binary.BigEndian.Uint32(msg[14:18])))
	assert.Equal(t, uint16(1920), binary.BigEndian.Uint16(msg[18:20]))
	assert.Equal(t, uint16(1080), binary.BigEndian.Uint16(msg[20:22]))
	assert.Equal(t, uint16(math.MaxUint16/2), binary.BigEndian.Uint16(msg[22:24]))
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(msg[24:28]))
	assert.Equal(t, byte(0), msg[28])
}

func TestEncodeTouch_DefaultPressureIsFull(t *testing.T) {
	msg := EncodeTouch(TouchEvent{Action: ActionUp, Width: 1280, Height: 720})
	assert.Equal(t, uint16(math.MaxUint16), binary.BigEndian.Uint16(msg[22:24]))
}

func TestEncodeTouch_ActionsPreserved(t *testing.T) {
	for _, action := range []byte{ActionDown, ActionUp, ActionMove, ActionCancel} {
		msg := EncodeTouch(TouchEvent{Action: action, Width: 1, Height: 1})
		assert.Equal(t, action, msg[1])
	}
}

func TestEncodeTouch_OutOfRangePanics(t *testing.T) {
	assert.Panics(t, func() {
		EncodeTouch(TouchEvent{X: math.MaxInt32 + 1, Width: 1, Height: 1})
	})
	assert.Panics(t, func() {
		EncodeTouch(TouchEvent{Width: -1, Height: 1})
	})
	assert.Panics(t, func() {
		EncodeTouch(TouchEvent{Width: 1, Height: math.MaxUint16 + 1})
	})
	assert.Panics(t, func() {
		EncodeTouch(TouchEvent{Width: 1, Height: 1, Pressure: 1.5})
	})
}

func TestEncodeKeycode_Layout(t *testing.T) {
	msg := EncodeKeycode(KeyEvent{Action: ActionUp, Keycode: 66, Repeat: 2, MetaState: 0x41})

	require.Len(t, msg, 14)
	assert.Equal(t, TypeInjectKeycode, msg[0])
	assert.Equal(t, ActionUp, msg[1])
	assert.Equal(t, int32(66), int32(binary.BigEndian.Uint32(msg[2:6])))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(msg[6:10]))
	assert.Equal(t, uint32(0x41), binary.BigEndian.Uint32(msg[10:14]))
}

func TestCompoundButtons(t *testing.T) {
	cases := []struct {
		name    string
		encode  func() [][]byte
		keycode int32
	}{
		{"back", EncodeBackButton, 4},
		{"home", EncodeHomeButton, 3},
		{"app_switch", EncodeAppSwitchButton, 187},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgs := tc.encode()
			require.Len(t, msgs, 2)
			for i, msg := range msgs {
				require.Len(t, msg, 14)
				assert.Equal(t, TypeInjectKeycode, msg[0])
				assert.Equal(t, tc.keycode, int32(binary.BigEndian.Uint32(msg[2:6])))
				if i == 0 {
					assert.Equal(t, ActionDown, msg[1])
				} else {
					assert.Equal(t, ActionUp, msg[1])
				}
			}
		})
	}
}

func TestEncodeScroll_Layout(t *testing.T) {
	msg := EncodeScroll(ScrollEvent{
		X:       100,
		Y:       200,
		Width:   1920,
		Height:  1080,
		HScroll: -1,
		VScroll: 3,
		Buttons: 4,
	})

	require.Len(t, msg, 25)
	assert.Equal(t, TypeInjectScroll, msg[0])
	assert.Equal(t, int32(100), int32(binary.BigEndian.Uint32(msg[1:5])))
	assert.Equal(t, int32(200), int32(binary.BigEndian.Uint32(msg[5:9])))
	assert.Equal(t, uint16(1920), binary.BigEndian.Uint16(msg[9:11]))
	assert.Equal(t, uint16(1080), binary.BigEndian.Uint16(msg[11:13]))
	assert.Equal(t, int32(-1), int32(binary.BigEndian.Uint32(msg[13:17])))
	assert.Equal(t, int32(3), int32(binary.BigEndian.Uint32(msg[17:21])))
	assert.Equal(t, uint32(4), binary.BigEndian.Uint32(msg[21:25]))
}

func TestEncodeText(t *testing.T) {
	empty := EncodeText("")
	require.Len(t, empty, 5)
	assert.Equal(t, TypeInjectText, empty[0])
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(empty[1:5]))

	text := "héllo"
	msg := EncodeText(text)
	raw := []byte(text)
	require.Len(t, msg, 5+len(raw))
	assert.Equal(t, uint32(len(raw)), binary.BigEndian.Uint32(msg[1:5]))
	assert.Equal(t, raw, msg[5:])
}

func TestEncodeSetClipboard(t *testing.T) {
	text := "copied"
	msg := EncodeSetClipboard(123456, true, text)

	require.Len(t, msg, 14+len(text))
	assert.Equal(t, TypeSetClipboard, msg[0])
	assert.Equal(t, byte(1), msg[1])
	assert.Equal(t, uint64(123456), binary.BigEndian.Uint64(msg[2:10]))
	assert.Equal(t, uint32(len(text)), binary.BigEndian.Uint32(msg[10:14]))
	assert.Equal(t, []byte(text), msg[14:])

	noPaste := EncodeSetClipboard(1, false, "")
	assert.Equal(t, byte(0), noPaste[1])
	require.Len(t, noPaste, 14)
}
