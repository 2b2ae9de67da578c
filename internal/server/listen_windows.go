//go:build windows

package server

import (
	"net"

	winio "github.com/Microsoft/go-winio"
)

// pipeSDDL grants full access to SYSTEM, Administrators and the creator
// owner only.
const pipeSDDL = "D:(A;;GA;;;SY)(A;;GA;;;BA)(A;;GA;;;CO)"

func listenPipe(name string) (net.Listener, error) {
	return winio.ListenPipe(name, &winio.PipeConfig{
		SecurityDescriptor: pipeSDDL,
		InputBufferSize:    65536,
		OutputBufferSize:   65536,
	})
}
