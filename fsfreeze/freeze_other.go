//go:build !linux

package fsfreeze

import "github.com/juju/errors"

var (
	errNotSupportedByFS = errors.New("operation not supported")
	errNotFrozen        = errors.New("not frozen")
)

type ioctlFreezer struct{}

func (ioctlFreezer) Freeze(string) error { return ErrUnsupported }

func (ioctlFreezer) Thaw(string) error { return ErrUnsupported }
