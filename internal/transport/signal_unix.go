//go:build unix

package transport

import (
	"os"
	"syscall"
)

func sigterm() os.Signal { return syscall.SIGTERM }
