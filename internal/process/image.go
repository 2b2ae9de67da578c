package process

import (
	"fmt"
	"os"
	"unicode/utf16"
)

// PathBuffer is a reusable UTF-16 buffer for image path queries. Reuse one
// across a walk to avoid an allocation per process.
type PathBuffer struct {
	units []uint16
}

// NewPathBuffer allocates a buffer of capacity UTF-16 units. A non-positive
// capacity is a programming error.
func NewPathBuffer(capacity int) *PathBuffer {
	if capacity <= 0 {
		panic(fmt.Sprintf("process: invalid path buffer capacity %d", capacity))
	}
	return &PathBuffer{units: make([]uint16, capacity)}
}

// Cap returns the buffer capacity in UTF-16 units.
func (b *PathBuffer) Cap() int {
	return len(b.units)
}

// ImagePath resolves the executable path of the process behind h. It
// returns false without calling the OS when h is invalid, and false when the
// query fails (process exited or access denied).
func (m *Manager) ImagePath(h *Handle) (string, bool) {
	if h.IsInvalid() {
		return "", false
	}
	return m.ImagePathWith(h, NewPathBuffer(m.pathCapacity))
}

// ImagePathWith is ImagePath using a caller-owned buffer.
func (m *Manager) ImagePathWith(h *Handle, buf *PathBuffer) (string, bool) {
	if buf == nil {
		panic("process: nil path buffer")
	}
	if h.IsInvalid() {
		return "", false
	}
	n, err := m.native.QueryImagePath(h.Raw(), buf.units)
	if err != nil || n <= 0 || n > len(buf.units) {
		return "", false
	}
	return string(utf16.Decode(buf.units[:n])), true
}

// ImagePathOf opens pid with limited query rights and resolves its image
// path.
func (m *Manager) ImagePathOf(pid int) (string, bool) {
	h := m.openQuery(pid)
	if h == nil {
		return "", false
	}
	defer h.Close()
	return m.ImagePath(h)
}

// ExecutablePath returns the image path of the calling process.
func (m *Manager) ExecutablePath() (string, bool) {
	return m.ImagePathOf(os.Getpid())
}
