package flash

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"
)

// assert that ImageFile implements the Device interface
var _ Device = (*ImageFile)(nil)

// ImageFile is a flash device backed by an image file.
type ImageFile struct {
	mu         sync.Mutex
	file       afero.File
	blockSize  int64
	blockCount int64
}

// OpenImage opens or creates the flash image at path on fs. An image shorter
// than blockSize*blockCount is extended with erased blocks; existing content
// is left as it is.
func OpenImage(fs afero.Fs, path string, blockSize, blockCount int64) (*ImageFile, error) {
	if blockSize <= 0 || blockCount <= 0 {
		return nil, ErrBadGeometry
	}
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	img := &ImageFile{file: f, blockSize: blockSize, blockCount: blockCount}
	if err := img.grow(); err != nil {
		f.Close()
		return nil, err
	}
	return img, nil
}

// grow pads the image with erased blocks up to the configured size.
func (img *ImageFile) grow() error {
	info, err := img.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat image: %w", err)
	}
	size := info.Size()
	if size%img.blockSize != 0 {
		return fmt.Errorf("%w: image is %d bytes, block size %d", ErrUnaligned, size, img.blockSize)
	}

	blank := make([]byte, img.blockSize)
	fill(blank)
	for off := size; off < img.blockSize*img.blockCount; off += img.blockSize {
		if _, err := img.file.WriteAt(blank, off); err != nil {
			return fmt.Errorf("failed to extend image at %d: %w", off, err)
		}
	}
	return nil
}

func (img *ImageFile) BlockSize() int64  { return img.blockSize }
func (img *ImageFile) BlockCount() int64 { return img.blockCount }

// ReadAt reads len(p) bytes at device offset off.
func (img *ImageFile) ReadAt(p []byte, off int64) (int, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.file == nil {
		return 0, ErrClosed
	}
	if err := checkRange(off, int64(len(p)), Size(img)); err != nil {
		return 0, err
	}

	n, err := img.file.ReadAt(p, off)
	if err == io.EOF && n == len(p) {
		err = nil
	}
	if err != nil {
		return n, fmt.Errorf("failed to read: %w", err)
	}
	return n, nil
}

// WriteAt writes p at device offset off.
func (img *ImageFile) WriteAt(p []byte, off int64) (int, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.file == nil {
		return 0, ErrClosed
	}
	if err := checkRange(off, int64(len(p)), Size(img)); err != nil {
		return 0, err
	}

	n, err := img.file.WriteAt(p, off)
	if err != nil {
		return n, fmt.Errorf("failed to write: %w", err)
	}
	if n != len(p) {
		return n, fmt.Errorf("short write: expected %d bytes, wrote %d", len(p), n)
	}
	return n, nil
}

// EraseBlocks overwrites count blocks starting at start with ErasedByte.
func (img *ImageFile) EraseBlocks(start, count int64) error {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.file == nil {
		return ErrClosed
	}
	if start < 0 || count < 0 || start+count > img.blockCount {
		return fmt.Errorf("%w: erase of %d blocks at block %d, device has %d", ErrOutOfRange, count, start, img.blockCount)
	}

	blank := make([]byte, img.blockSize)
	fill(blank)
	for b := start; b < start+count; b++ {
		if _, err := img.file.WriteAt(blank, b*img.blockSize); err != nil {
			return fmt.Errorf("failed to erase block %d: %w", b, err)
		}
	}
	return nil
}

// Sync flushes the image to its backing store.
func (img *ImageFile) Sync() error {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.file == nil {
		return ErrClosed
	}
	return img.file.Sync()
}

// Close should be called when you're done with the ImageFile
func (img *ImageFile) Close() error {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.file == nil {
		return nil
	}
	err := img.file.Close()
	img.file = nil
	return err
}
