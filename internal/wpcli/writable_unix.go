//go:build unix

package wpcli

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func checkWritable(path string) error {
	if err := unix.Access(path, unix.W_OK); err != nil {
		return fmt.Errorf("access %s: %w", path, err)
	}
	return nil
}
