package commands

import (
	"errors"
	"fmt"

	"github.com/cuesync/cuesync-go/pkg/log"
)

// RunFilter copies the events of path matching f into a new protocol log
// at out and returns how many were copied.
func RunFilter(path, out string, f log.Filter) (n int, err error) {
	if out == path {
		return 0, fmt.Errorf("output %s is the input file", out)
	}
	dst, err := log.NewFileLogger(out)
	if err != nil {
		return 0, fmt.Errorf("create output: %w", err)
	}
	defer func() {
		err = errors.Join(err, dst.Close())
	}()

	err = each(path, f, func(ev log.Event) error {
		dst.Log(ev)
		n++
		return nil
	})
	if failed := dst.Failed(); failed > 0 && err == nil {
		err = fmt.Errorf("%d events could not be written to %s", failed, out)
	}
	return n, err
}
