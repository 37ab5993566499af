package flash

import (
	"fmt"
	"io"
)

// Region is a byte-range view over a Device. Offsets passed to its methods
// are relative to the start of the range.
type Region struct {
	dev    Device
	start  int64
	length int64
	offset int64
}

// NewRegion binds [start, start+length) of dev. The range must lie on erase
// block boundaries and inside the device.
func NewRegion(dev Device, start, length int64) (*Region, error) {
	bs := dev.BlockSize()
	if start < 0 || length <= 0 {
		return nil, fmt.Errorf("%w: start %d length %d", ErrOutOfRange, start, length)
	}
	if start%bs != 0 || length%bs != 0 {
		return nil, fmt.Errorf("%w: start %d length %d, block size %d", ErrUnaligned, start, length, bs)
	}
	if err := checkRange(start, length, Size(dev)); err != nil {
		return nil, err
	}
	return &Region{dev: dev, start: start, length: length}, nil
}

// Start returns the device offset of the first byte of the region.
func (r *Region) Start() int64 { return r.start }

// Size returns the region length in bytes.
func (r *Region) Size() int64 { return r.length }

func (r *Region) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, int64(len(p)), r.length); err != nil {
		return 0, err
	}
	return r.dev.ReadAt(p, r.start+off)
}

func (r *Region) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, int64(len(p)), r.length); err != nil {
		return 0, err
	}
	return r.dev.WriteAt(p, r.start+off)
}

func (r *Region) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += r.offset
	case io.SeekEnd:
		offset += r.length
	default:
		return r.offset, ErrInvalidWhence
	}
	if offset < 0 || offset > r.length {
		return r.offset, fmt.Errorf("%w: seek to %d in region of %d bytes", ErrOutOfRange, offset, r.length)
	}
	r.offset = offset
	return offset, nil
}

// Erase resets every block of the region.
func (r *Region) Erase() error {
	bs := r.dev.BlockSize()
	return r.dev.EraseBlocks(r.start/bs, r.length/bs)
}

func (r *Region) String() string {
	return fmt.Sprintf("[%d, %d)", r.start, r.start+r.length)
}
