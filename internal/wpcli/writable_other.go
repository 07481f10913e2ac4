//go:build !unix

package wpcli

import (
	"fmt"
	"os"
)

func checkWritable(path string) error {
	f, err := os.CreateTemp(path, ".nozier-probe-*")
	if err != nil {
		return fmt.Errorf("probe %s: %w", path, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
