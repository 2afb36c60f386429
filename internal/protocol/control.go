// Package protocol encodes user-input events into the binary control
// messages consumed by the mirroring process on its control channel. All
// multi-byte integers are big-endian and every layout is fixed-width except
// the trailing UTF-8 payload of text and clipboard messages.
//
// Encoding is total over valid inputs. A value that does not fit its wire
// field is a caller bug and panics; silently truncating would corrupt the
// whole control stream.
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Control message type tags.
const (
	TypeInjectKeycode byte = 0
	TypeInjectText    byte = 1
	TypeInjectTouch   byte = 2
	TypeInjectScroll  byte = 3
	TypeSetClipboard  byte = 9
)

// Key and motion event actions.
const (
	ActionDown   byte = 0
	ActionUp     byte = 1
	ActionMove   byte = 2
	ActionCancel byte = 3
)

// Platform keycodes used by the compound actions.
const (
	KeycodeBack      int32 = 4
	KeycodeHome      int32 = 3
	KeycodeAppSwitch int32 = 187
)

const (
	touchMessageLen   = 29
	keycodeMessageLen = 14
	scrollMessageLen  = 25
)

// TouchEvent describes one touch injection. Pressure is in [0, 1]; zero
// means unspecified and encodes as full pressure. X, Y, Width and Height are
// taken as wide integers so that out-of-range values can be rejected instead
// of wrapping.
type TouchEvent struct {
	Action    byte
	PointerID int64
	X         int64
	Y         int64
	Width     int
	Height    int
	Pressure  float64
	Buttons   uint32
}

// KeyEvent describes one keycode injection.
type KeyEvent struct {
	Action    byte
	Keycode   int32
	Repeat    int32
	MetaState uint32
}

// ScrollEvent describes one scroll injection.
type ScrollEvent struct {
	X       int64
	Y       int64
	Width   int
	Height  int
	HScroll int64
	VScroll int64
	Buttons uint32
}

// EncodeTouch produces the 29-byte touch record.
func EncodeTouch(e TouchEvent) []byte {
	buf := make([]byte, touchMessageLen)
	buf[0] = TypeInjectTouch
	buf[1] = e.Action
	binary.BigEndian.PutUint64(buf[2:10], uint64(e.PointerID))
	binary.BigEndian.PutUint32(buf[10:14], uint32(checkInt32("touch x", e.X)))
	binary.BigEndian.PutUint32(buf[14:18], uint32(checkInt32("touch y", e.Y)))
	binary.BigEndian.PutUint16(buf[18:20], checkUint16("touch width", e.Width))
	binary.BigEndian.PutUint16(buf[20:22], checkUint16("touch height", e.Height))
	binary.BigEndian.PutUint16(buf[22:24], scalePressure(e.Pressure))
	binary.BigEndian.PutUint32(buf[24:28], e.Buttons)
	// buf[28] is the reserved action-button byte, always zero.
	return buf
}

// EncodeKeycode produces the 14-byte keycode record.
func EncodeKeycode(e KeyEvent) []byte {
	buf := make([]byte, keycodeMessageLen)
	buf[0] = TypeInjectKeycode
	buf[1] = e.Action
	binary.BigEndian.PutUint32(buf[2:6], uint32(e.Keycode))
	binary.BigEndian.PutUint32(buf[6:10], uint32(e.Repeat))
	binary.BigEndian.PutUint32(buf[10:14], e.MetaState)
	return buf
}

// EncodeScroll produces the 25-byte scroll record.
func EncodeScroll(e ScrollEvent) []byte {
	buf := make([]byte, scrollMessageLen)
	buf[0] = TypeInjectScroll
	binary.BigEndian.PutUint32(buf[1:5], uint32(checkInt32("scroll x", e.X)))
	binary.BigEndian.PutUint32(buf[5:9], uint32(checkInt32("scroll y", e.Y)))
	binary.BigEndian.PutUint16(buf[9:11], checkUint16("scroll width", e.Width))
	binary.BigEndian.PutUint16(buf[11:13], checkUint16("scroll height", e.Height))
	binary.BigEndian.PutUint32(buf[13:17], uint32(checkInt32("hscroll", e.HScroll)))
	binary.BigEndian.PutUint32(buf[17:21], uint32(checkInt32("vscroll", e.VScroll)))
	binary.BigEndian.PutUint32(buf[21:25], e.Buttons)
	return buf
}

// EncodeText produces the text injection record: tag, 4-byte UTF-8 length,
// then the UTF-8 bytes.
func EncodeText(text string) []byte {
	raw := []byte(text)
	buf := make([]byte, 5+len(raw))
	buf[0] = TypeInjectText
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(raw)))
	copy(buf[5:], raw)
	return buf
}

// EncodeSetClipboard produces the clipboard record. The sequence number must
// increase monotonically across clipboard writes for one device; a
// wall-clock-derived value is acceptable.
func EncodeSetClipboard(sequence uint64, paste bool, text string) []byte {
	raw := []byte(text)
	buf := make([]byte, 14+len(raw))
	buf[0] = TypeSetClipboard
	if paste {
		buf[1] = 1
	}
	binary.BigEndian.PutUint64(buf[2:10], sequence)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(raw)))
	copy(buf[14:], raw)
	return buf
}

// EncodeBackButton returns the ordered down/up pair for the BACK key. The
// two messages must reach the control channel without interleaving so the
// process never observes a stuck key.
func EncodeBackButton() [][]byte {
	return encodeKeyPress(KeycodeBack)
}

// EncodeHomeButton returns the ordered down/up pair for the HOME key.
func EncodeHomeButton() [][]byte {
	return encodeKeyPress(KeycodeHome)
}

// EncodeAppSwitchButton returns the ordered down/up pair for APP_SWITCH.
func EncodeAppSwitchButton() [][]byte {
	return encodeKeyPress(KeycodeAppSwitch)
}

func encodeKeyPress(keycode int32) [][]byte {
	return [][]byte{
		EncodeKeycode(KeyEvent{Action: ActionDown, Keycode: keycode}),
		EncodeKeycode(KeyEvent{Action: ActionUp, Keycode: keycode}),
	}
}

func scalePressure(p float64) uint16 {
	if p < 0 || p > 1 {
		panic(fmt.Sprintf("protocol: pressure %v outside [0, 1]", p))
	}
	if p == 0 {
		return math.MaxUint16
	}
	return uint16(p * math.MaxUint16)
}

func checkInt32(field string, v int64) int32 {
	if v < math.MinInt32 || v > math.MaxInt32 {
		panic(fmt.Sprintf("protocol: %s %d does not fit int32", field, v))
	}
	return int32(v)
}

func checkUint16(field string, v int) uint16 {
	if v < 0 || v > math.MaxUint16 {
		panic(fmt.Sprintf("protocol: %s %d does not fit uint16", field, v))
	}
	return uint16(v)
}
