package process

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImagePathInvalidHandleSkipsOS(t *testing.T) {
	n := newFakeNative()
	m := newFakeManager(n)

	path, ok := m.ImagePath(nil)
	assert.False(t, ok)
	assert.Empty(t, path)

	path, ok = m.ImagePathWith(newHandle(n, 0, KindProcess), NewPathBuffer(16))
	assert.False(t, ok)
	assert.Empty(t, path)
	assert.Equal(t, 0, n.opened)
}

func TestImagePathResolves(t *testing.T) {
	const image = `C:\Windows\System32\notepad.exe`
	n := newFakeNative(&fakeProc{record: rec(42, 4, "notepad.exe"), image: image, created: 1})
	m := newFakeManager(n)

	path, ok := m.ImagePathOf(42)
	require.True(t, ok)
	assert.Equal(t, image, path)
	assert.Equal(t, 0, n.live())
}

func TestImagePathBufferTooSmall(t *testing.T) {
	n := newFakeNative(&fakeProc{record: rec(42, 4, "a.exe"), image: strings.Repeat("x", 64)})
	m := newFakeManager(n)

	h, err := m.OpenProcess(42, AccessQueryLimited)
	require.NoError(t, err)
	defer h.Close()

	_, ok := m.ImagePathWith(h, NewPathBuffer(8))
	assert.False(t, ok)

	path, ok := m.ImagePathWith(h, NewPathBuffer(64))
	assert.True(t, ok)
	assert.Len(t, path, 64)
}

func TestImagePathNonASCII(t *testing.T) {
	const image = `C:\Programme\日本語\app.exe`
	n := newFakeNative(&fakeProc{record: rec(42, 4, "app.exe"), image: image})
	m := newFakeManager(n)

	path, ok := m.ImagePathOf(42)
	require.True(t, ok)
	assert.Equal(t, image, path)
}

func TestImagePathUnopenablePID(t *testing.T) {
	n := newFakeNative(&fakeProc{record: rec(42, 4, "a.exe"), openErr: errAccessDenied})
	m := newFakeManager(n)

	_, ok := m.ImagePathOf(42)
	assert.False(t, ok)
	_, ok = m.ImagePathOf(7)
	assert.False(t, ok)
}

func TestNewPathBufferRejectsZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { NewPathBuffer(0) })
	assert.Panics(t, func() { NewPathBuffer(-1) })
	assert.Equal(t, 260, NewPathBuffer(260).Cap())
}

func TestImagePathWithNilBufferPanics(t *testing.T) {
	m := newFakeManager(newFakeNative())
	assert.Panics(t, func() { m.ImagePathWith(nil, nil) })
}

func TestExecutablePathMatchesSelf(t *testing.T) {
	m := New(WithLogger(discardLogger()))

	path, ok := m.ExecutablePath()
	require.True(t, ok)

	want, err := os.Executable()
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(filepath.Base(want)), strings.ToLower(filepath.Base(path)))
}
