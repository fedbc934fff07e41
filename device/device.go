// Package device provides the random access devices a file system can be
// mounted from.
package device

import (
	"errors"
	"fmt"

	"github.com/EVAcacia/minixfs/common"
)

var (
	ErrOutOfRange = errors.New("device: transfer beyond end of device")
	ErrClosed     = errors.New("device: closed")
)

func checkRange(size int64, n int, pos int64) error {
	if pos < 0 || pos+int64(n) > size {
		return fmt.Errorf("%w: %d bytes at %d, device size %d", ErrOutOfRange, n, pos, size)
	}
	return nil
}

var (
	_ common.BlockDevice = (*FileDevice)(nil)
	_ common.BlockDevice = (*RamdiskDevice)(nil)
)
