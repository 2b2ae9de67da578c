//go:build windows

package process

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/tinywall/procman/pkg/types"
	"golang.org/x/sys/windows"
)

var (
	ntdll                         = windows.NewLazySystemDLL("ntdll.dll")
	procNtQueryInformationProcess = ntdll.NewProc("NtQueryInformationProcess")

	user32                 = windows.NewLazySystemDLL("user32.dll")
	procGetWindow          = user32.NewProc("GetWindow")
	procPostMessageW       = user32.NewProc("PostMessageW")
	procPostThreadMessageW = user32.NewProc("PostThreadMessageW")
)

const (
	processBasicInformation = 0
	gwOwner                 = 4
	wmClose                 = 0x0010
	wmQuit                  = 0x0012
	waitObject0             = 0x00000000
	maxWaitMillis           = 0xFFFFFFFE // one below INFINITE
)

type windowsNative struct {
	wow64 func() (bool, error)
}

func newPlatformNative() Native {
	return &windowsNative{
		wow64: sync.OnceValues(func() (bool, error) {
			var is bool
			if err := windows.IsWow64Process(windows.CurrentProcess(), &is); err != nil {
				return false, fmt.Errorf("IsWow64Process: %w", err)
			}
			return is, nil
		}),
	}
}

func (n *windowsNative) OpenProcess(pid int, access Access) (uintptr, error) {
	h, err := windows.OpenProcess(uint32(access), false, uint32(pid))
	if err != nil {
		return 0, fmt.Errorf("OpenProcess(%d): %w", pid, err)
	}
	return uintptr(h), nil
}

func (n *windowsNative) CloseHandle(raw uintptr) error {
	return windows.CloseHandle(windows.Handle(raw))
}

func (n *windowsNative) QueryImagePath(raw uintptr, buf []uint16) (int, error) {
	if len(buf) == 0 {
		return 0, windows.ERROR_INSUFFICIENT_BUFFER
	}
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(windows.Handle(raw), 0, &buf[0], &size); err != nil {
		return 0, err
	}
	return int(size), nil
}

func (n *windowsNative) QueryParentPID(raw uintptr) (int, int32) {
	var pbi windows.PROCESS_BASIC_INFORMATION
	var retLen uint32
	r, _, _ := procNtQueryInformationProcess.Call(
		raw,
		processBasicInformation,
		uintptr(unsafe.Pointer(&pbi)),
		unsafe.Sizeof(pbi),
		uintptr(unsafe.Pointer(&retLen)),
	)
	status := int32(uint32(r))
	if status < 0 {
		return 0, status
	}
	return int(pbi.InheritedFromUniqueProcessId), status
}

func (n *windowsNative) ProcessTimes(raw uintptr) (Times, error) {
	var creation, exit, kernel, user windows.Filetime
	if err := windows.GetProcessTimes(windows.Handle(raw), &creation, &exit, &kernel, &user); err != nil {
		return Times{}, err
	}
	return Times{
		Creation: filetime(creation),
		Exit:     filetime(exit),
		Kernel:   filetime(kernel),
		User:     filetime(user),
	}, nil
}

func filetime(ft windows.Filetime) int64 {
	return int64(ft.HighDateTime)<<32 | int64(ft.LowDateTime)
}

func (n *windowsNative) CreateSnapshot() (uintptr, error) {
	h, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return uintptr(windows.InvalidHandle), err
	}
	return uintptr(h), nil
}

func (n *windowsNative) SnapshotFirst(raw uintptr, rec *types.ProcessRecord) error {
	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(windows.Handle(raw), &entry); err != nil {
		return snapshotErr(err)
	}
	*rec = recordFromEntry(&entry)
	return nil
}

func (n *windowsNative) SnapshotNext(raw uintptr, rec *types.ProcessRecord) error {
	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32Next(windows.Handle(raw), &entry); err != nil {
		return snapshotErr(err)
	}
	*rec = recordFromEntry(&entry)
	return nil
}

func snapshotErr(err error) error {
	if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return ErrNoMoreEntries
	}
	return err
}

func recordFromEntry(entry *windows.ProcessEntry32) types.ProcessRecord {
	return types.ProcessRecord{
		PID:          int(entry.ProcessID),
		ParentPID:    int(entry.ParentProcessID),
		Threads:      int(entry.Threads),
		BasePriority: int(entry.PriClassBase),
		ExeFile:      windows.UTF16ToString(entry.ExeFile[:]),
	}
}

func (n *windowsNative) IsWow64() (bool, error) {
	return n.wow64()
}

func (n *windowsNative) OpenTarget(pid int) (Target, error) {
	raw, err := n.OpenProcess(pid, AccessTerminateQuery)
	h := newHandle(n, raw, KindProcess)
	if err != nil || h.IsInvalid() {
		_ = h.Close()
		if err == nil {
			err = ErrNotAvailable
		}
		return nil, err
	}
	return &windowsTarget{native: n, pid: pid, h: h}, nil
}

// windowsTarget owns a process handle with synchronize and terminate rights
// for the whole termination.
type windowsTarget struct {
	native *windowsNative
	pid    int
	h      *Handle
}

func (t *windowsTarget) PID() int { return t.pid }

func (t *windowsTarget) CreationTime() (int64, error) {
	times, err := t.native.ProcessTimes(t.h.Raw())
	if err != nil {
		return 0, err
	}
	return times.Creation, nil
}

func (t *windowsTarget) HasMainWindow() bool {
	return mainWindow(uint32(t.pid)) != 0
}

func (t *windowsTarget) CloseMainWindow() error {
	hwnd := mainWindow(uint32(t.pid))
	if hwnd == 0 {
		return ErrNotAvailable
	}
	r, _, err := procPostMessageW.Call(uintptr(hwnd), wmClose, 0, 0)
	if r == 0 {
		return fmt.Errorf("PostMessageW(WM_CLOSE): %w", err)
	}
	return nil
}

func (t *windowsTarget) PostQuitToThreads() error {
	raw, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPTHREAD, 0)
	snap := newHandle(t.native, uintptr(raw), KindSnapshot)
	if err != nil || snap.IsInvalid() {
		_ = snap.Close()
		return fmt.Errorf("thread snapshot: %w", err)
	}
	defer snap.Close()

	var entry windows.ThreadEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	var errs []error
	for err = windows.Thread32First(windows.Handle(snap.Raw()), &entry); err == nil; err = windows.Thread32Next(windows.Handle(snap.Raw()), &entry) {
		if entry.OwnerProcessID != uint32(t.pid) {
			continue
		}
		r, _, perr := procPostThreadMessageW.Call(uintptr(entry.ThreadID), wmQuit, 0, 0)
		if r == 0 {
			errs = append(errs, fmt.Errorf("PostThreadMessageW(%d): %w", entry.ThreadID, perr))
		}
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (t *windowsTarget) WaitForExit(d time.Duration) bool {
	ms := d.Milliseconds()
	if ms > maxWaitMillis {
		ms = maxWaitMillis
	}
	event, err := windows.WaitForSingleObject(windows.Handle(t.h.Raw()), uint32(ms))
	return err == nil && event == waitObject0
}

func (t *windowsTarget) Kill() error {
	return windows.TerminateProcess(windows.Handle(t.h.Raw()), 1)
}

func (t *windowsTarget) Close() error {
	return t.h.Close()
}

// windowSearch is passed to the EnumWindows callback.
type windowSearch struct {
	pid  uint32
	hwnd windows.HWND
}

var enumWindowsCallback = sync.OnceValue(func() uintptr {
	return windows.NewCallback(func(hwnd windows.HWND, param uintptr) uintptr {
		s := (*windowSearch)(unsafe.Pointer(param))
		var owner uint32
		if _, err := windows.GetWindowThreadProcessId(hwnd, &owner); err != nil || owner != s.pid {
			return 1
		}
		if !windows.IsWindowVisible(hwnd) {
			return 1
		}
		if r, _, _ := procGetWindow.Call(uintptr(hwnd), gwOwner); r != 0 {
			return 1
		}
		s.hwnd = hwnd
		return 0
	})
})

// mainWindow returns the first visible, unowned top-level window of pid.
func mainWindow(pid uint32) windows.HWND {
	s := &windowSearch{pid: pid}
	// EnumWindows reports an error when the callback stops early.
	_ = windows.EnumWindows(enumWindowsCallback(), unsafe.Pointer(s))
	return s.hwnd
}
