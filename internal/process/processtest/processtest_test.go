package processtest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywall/procman/internal/process"
)

func TestNative_ThroughManager(t *testing.T) {
	n := New(
		Proc{PID: 1, Exe: "init", Created: 10},
		Proc{PID: 2, PPID: 1, Exe: "child.exe", Image: `C:\child.exe`, Created: 20},
	)
	m := process.New(process.WithNative(n))

	recs, err := m.ResolvedProcesses()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, `C:\child.exe`, recs[1].ImagePath)
	assert.Equal(t, int64(20), recs[1].CreationTime)

	ppid, ok, err := m.ParentOf(2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, ppid)
	assert.Zero(t, n.Live())
}

func TestNative_StatusAndPathLimits(t *testing.T) {
	n := New(Proc{PID: 5, Exe: "x", Image: `C:\a\long\path.exe`, Created: 1, Status: -0x3FFFFFF8})
	m := process.New(process.WithNative(n), process.WithPathCapacity(4))

	_, _, err := m.ParentOf(5)
	assert.True(t, errors.Is(err, process.ErrUnexpectedStatus))

	_, ok := m.ImagePathOf(5)
	assert.False(t, ok, "path longer than the buffer")
}

func TestTarget(t *testing.T) {
	n := New(
		Proc{PID: 1, Exe: "polite"},
		Proc{PID: 2, Exe: "stubborn", Stubborn: true},
		Proc{PID: 3, Exe: "immortal", Unkillable: true},
	)

	polite, err := n.OpenTarget(1)
	require.NoError(t, err)
	require.NoError(t, polite.PostQuitToThreads())
	assert.True(t, polite.WaitForExit(time.Millisecond))

	stubborn, err := n.OpenTarget(2)
	require.NoError(t, err)
	require.NoError(t, stubborn.PostQuitToThreads())
	assert.False(t, stubborn.WaitForExit(time.Millisecond))
	require.NoError(t, stubborn.Kill())
	assert.True(t, stubborn.WaitForExit(time.Millisecond))

	immortal, err := n.OpenTarget(3)
	require.NoError(t, err)
	assert.Error(t, immortal.Kill())
	assert.True(t, n.Exists(3))
	assert.Equal(t, []int{2, 3}, n.Killed())

	_, err = n.OpenTarget(42)
	assert.Error(t, err)
}
