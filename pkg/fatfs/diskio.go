package fatfs

import (
	"errors"
	"io"
	"sync"

	"github.com/diskfs/go-diskfs/util"
)

// assert that disk can back a go-diskfs filesystem
var _ util.File = (*disk)(nil)

// disk adapts a BlockDevice to the util.File the FAT32 backend reads and
// writes through. The backend drops some read errors on the floor, so disk
// keeps the first device error until it is collected with fault.
type disk struct {
	dev    BlockDevice
	offset int64

	mu  sync.Mutex
	err error
}

func newDisk(dev BlockDevice) *disk {
	return &disk{dev: dev}
}

func (d *disk) ReadAt(p []byte, off int64) (int, error) {
	n, err := d.dev.ReadAt(p, off)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(p)) {
		d.record(err)
	}
	return n, err
}

func (d *disk) WriteAt(p []byte, off int64) (int, error) {
	n, err := d.dev.WriteAt(p, off)
	if err != nil {
		d.record(err)
	}
	return n, err
}

func (d *disk) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += d.offset
	case io.SeekEnd:
		offset += d.dev.Size()
	default:
		return d.offset, FileResultInvalidParameter
	}
	if offset < 0 {
		return d.offset, FileResultInvalidParameter
	}
	d.offset = offset
	return offset, nil
}

func (d *disk) record(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err == nil {
		d.err = err
	}
}

// fault returns and clears the first device error seen since the last call.
func (d *disk) fault() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.err
	d.err = nil
	return err
}
