// Package flash models a raw NOR flash chip: a byte-addressable device that is
// erased in fixed-size blocks, plus byte-range views (regions) over it.
package flash

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErasedByte is the value every byte of a freshly erased block reads back as.
const ErasedByte = 0xff

var (
	ErrOutOfRange    = errors.New("flash: access out of range")
	ErrUnaligned     = errors.New("flash: range not aligned to erase block")
	ErrClosed        = errors.New("flash: device is closed")
	ErrBadGeometry   = errors.New("flash: block size and count must be positive")
	ErrInvalidWhence = errors.New("flash: invalid whence")
)

// Device is the raw block device driver for a flash chip.
type Device interface {
	io.ReaderAt
	io.WriterAt
	// EraseBlocks resets count blocks starting at block start to ErasedByte.
	EraseBlocks(start, count int64) error
	BlockSize() int64
	BlockCount() int64
}

// Size returns the capacity of dev in bytes.
func Size(dev Device) int64 {
	return dev.BlockSize() * dev.BlockCount()
}

func checkRange(off, n, size int64) error {
	if off < 0 || n < 0 || off > size || n > size-off {
		return fmt.Errorf("%w: %d bytes at offset %d, device holds %d", ErrOutOfRange, n, off, size)
	}
	return nil
}

// assert that Memory implements the Device interface
var _ Device = (*Memory)(nil)

// Memory is a RAM-backed flash device.
type Memory struct {
	mu         sync.RWMutex
	data       []byte
	blockSize  int64
	blockCount int64
}

// NewMemory allocates an erased device of blockCount blocks.
func NewMemory(blockSize, blockCount int64) (*Memory, error) {
	if blockSize <= 0 || blockCount <= 0 {
		return nil, ErrBadGeometry
	}
	data := make([]byte, blockSize*blockCount)
	fill(data)
	return &Memory{data: data, blockSize: blockSize, blockCount: blockCount}, nil
}

func (m *Memory) BlockSize() int64  { return m.blockSize }
func (m *Memory) BlockCount() int64 { return m.blockCount }

func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := checkRange(off, int64(len(p)), int64(len(m.data))); err != nil {
		return 0, err
	}
	return copy(p, m.data[off:]), nil
}

func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkRange(off, int64(len(p)), int64(len(m.data))); err != nil {
		return 0, err
	}
	return copy(m.data[off:], p), nil
}

func (m *Memory) EraseBlocks(start, count int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if start < 0 || count < 0 || start+count > m.blockCount {
		return fmt.Errorf("%w: erase of %d blocks at block %d, device has %d", ErrOutOfRange, count, start, m.blockCount)
	}
	fill(m.data[start*m.blockSize : (start+count)*m.blockSize])
	return nil
}

func fill(b []byte) {
	for i := range b {
		b[i] = ErasedByte
	}
}
