package process

import "fmt"

// HandleKind selects the invalid-sentinel convention of a handle.
type HandleKind uint8

const (
	// KindProcess handles are invalid when zero or all ones.
	KindProcess HandleKind = iota + 1
	// KindSnapshot handles are invalid only when all ones.
	KindSnapshot
)

const invalidRaw = ^uintptr(0)

func (k HandleKind) String() string {
	switch k {
	case KindProcess:
		return "process"
	case KindSnapshot:
		return "snapshot"
	default:
		return fmt.Sprintf("HandleKind(%d)", uint8(k))
	}
}

func (k HandleKind) invalid(raw uintptr) bool {
	if raw == invalidRaw {
		return true
	}
	return k != KindSnapshot && raw == 0
}

// noCopy makes go vet's copylocks check reject copies of a Handle.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Handle exclusively owns one native handle. Use it through a pointer with a
// single owner; hand it to another owner with Move. Close releases the
// resource at most once: the raw value is replaced by the invalid sentinel
// before the native close runs, so a second Close, or a Close on a handle
// that was moved away, finds nothing to release.
type Handle struct {
	_      noCopy
	raw    uintptr
	kind   HandleKind
	native Native
}

func newHandle(native Native, raw uintptr, kind HandleKind) *Handle {
	return &Handle{raw: raw, kind: kind, native: native}
}

// IsInvalid reports whether h holds no live resource. A nil handle is
// invalid.
func (h *Handle) IsInvalid() bool {
	return h == nil || h.kind.invalid(h.raw)
}

// Kind returns the handle kind.
func (h *Handle) Kind() HandleKind {
	if h == nil {
		return 0
	}
	return h.kind
}

// Raw returns the native value for passing to a Native call.
func (h *Handle) Raw() uintptr {
	if h == nil {
		return invalidRaw
	}
	return h.raw
}

// Move transfers ownership to a new Handle and leaves h invalid.
func (h *Handle) Move() *Handle {
	if h == nil {
		return nil
	}
	moved := &Handle{raw: h.raw, kind: h.kind, native: h.native}
	h.raw = invalidRaw
	return moved
}

// Close releases the underlying resource if h still owns one.
func (h *Handle) Close() error {
	if h.IsInvalid() {
		return nil
	}
	raw := h.raw
	h.raw = invalidRaw
	if err := h.native.CloseHandle(raw); err != nil {
		return fmt.Errorf("close %s handle: %w", h.kind, err)
	}
	return nil
}
