//go:build windows

package server

import (
	"syscall"
)

// setSocketOptions sets SO_REUSEADDR so a restarted server can bind at once
func setSocketOptions(fd uintptr) error {
	return syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}
