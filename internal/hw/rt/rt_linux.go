//go:build linux

package rt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func lockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall: %w", err)
	}
	return nil
}
