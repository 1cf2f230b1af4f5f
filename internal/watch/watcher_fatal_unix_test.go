// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package watch

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
)

func TestFatalErrors_ResourceExhaustion(t *testing.T) {
	t.Parallel()

	fatal := []error{
		syscall.ENOSPC,
		syscall.EMFILE,
		syscall.ENFILE,
		fmt.Errorf("add watch: %w", syscall.ENOSPC),
		errors.Join(errors.New("inotify"), syscall.EMFILE),
		&os.SyscallError{Syscall: "inotify_add_watch", Err: syscall.ENFILE},
	}
	for _, err := range fatal {
		if !isFatalFsnotifyError(err) {
			t.Errorf("%v should end the watch", err)
		}
	}

	// A location removed while watched or a permission change is logged
	// and the watch keeps running.
	recoverable := []error{
		syscall.ENOENT,
		syscall.EACCES,
		&os.PathError{Op: "stat", Path: "/addons/gone.addon", Err: syscall.ENOENT},
		errors.New("fsnotify: queue or buffer overflow"),
	}
	for _, err := range recoverable {
		if isFatalFsnotifyError(err) {
			t.Errorf("%v should not end the watch", err)
		}
	}
}
