package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleKindSentinels(t *testing.T) {
	n := newFakeNative()

	assert.True(t, newHandle(n, 0, KindProcess).IsInvalid())
	assert.True(t, newHandle(n, invalidRaw, KindProcess).IsInvalid())
	assert.False(t, newHandle(n, 0, KindSnapshot).IsInvalid())
	assert.True(t, newHandle(n, invalidRaw, KindSnapshot).IsInvalid())

	var nilHandle *Handle
	assert.True(t, nilHandle.IsInvalid())
	assert.NoError(t, nilHandle.Close())
}

func TestHandleCloseReleasesOnce(t *testing.T) {
	n := newFakeNative(&fakeProc{record: rec(10, 1, "a.exe"), created: 100})
	m := newFakeManager(n)

	h, err := m.OpenProcess(10, AccessQueryLimited)
	require.NoError(t, err)
	raw := h.Raw()

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.True(t, h.IsInvalid())
	assert.Equal(t, 1, n.closes[raw])
	assert.Equal(t, 0, n.live())
}

func TestHandleMove(t *testing.T) {
	n := newFakeNative(&fakeProc{record: rec(10, 1, "a.exe"), created: 100})
	m := newFakeManager(n)

	h, err := m.OpenProcess(10, AccessQueryLimited)
	require.NoError(t, err)
	raw := h.Raw()

	moved := h.Move()
	assert.True(t, h.IsInvalid())
	assert.False(t, moved.IsInvalid())
	assert.Equal(t, raw, moved.Raw())
	assert.Equal(t, KindProcess, moved.Kind())

	require.NoError(t, h.Close())
	assert.Equal(t, 0, n.closes[raw], "moved-from handle must not release")

	require.NoError(t, moved.Close())
	require.NoError(t, moved.Close())
	assert.Equal(t, 1, n.closes[raw])
}

func TestOpenProcessFailureLeavesNothingOpen(t *testing.T) {
	n := newFakeNative(&fakeProc{record: rec(10, 1, "a.exe"), openErr: errAccessDenied})
	m := newFakeManager(n)

	h, err := m.OpenProcess(10, AccessQueryLimited)
	require.Error(t, err)
	assert.ErrorIs(t, err, errAccessDenied)
	assert.Nil(t, h)

	_, err = m.OpenProcess(999, AccessQueryLimited)
	require.Error(t, err)
	assert.Equal(t, 0, n.live())
}
