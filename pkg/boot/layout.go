package boot

import (
	"errors"
	"fmt"

	"github.com/OffBroadway/flashboot/pkg/vfs"
)

const (
	RootLabel    = "Root"
	StorageLabel = "Storage"
	StoragePath  = "/storage"

	DefaultBlockSize     = 4096
	DefaultRootBlocks    = 100
	DefaultStorageBlocks = 250
)

var ErrDeviceTooSmall = errors.New("boot: device too small for layout")

// Layout splits a device into its root and storage regions. Regions returns
// exactly two adjacent regions, root first.
type Layout interface {
	Regions(g Geometry) ([]Region, error)
}

// FixedLayout uses constant region sizes no matter how large the device is.
// Anything past the storage region is left unused.
type FixedLayout struct {
	BlockSize     int64
	RootBlocks    int64
	StorageBlocks int64
}

// DefaultFixedLayout is 100 blocks of root and 250 blocks of storage, 4 KiB
// each.
func DefaultFixedLayout() FixedLayout {
	return FixedLayout{
		BlockSize:     DefaultBlockSize,
		RootBlocks:    DefaultRootBlocks,
		StorageBlocks: DefaultStorageBlocks,
	}
}

func (l FixedLayout) Regions(g Geometry) ([]Region, error) {
	if l.BlockSize <= 0 || l.RootBlocks <= 0 || l.StorageBlocks <= 0 {
		return nil, fmt.Errorf("%w: fixed layout %+v", ErrInvalidGeometry, l)
	}
	if g.BlockSize <= 0 || l.BlockSize%g.BlockSize != 0 {
		return nil, fmt.Errorf("%w: layout block size %d does not fit device blocks of %d",
			ErrInvalidGeometry, l.BlockSize, g.BlockSize)
	}

	root := l.BlockSize * l.RootBlocks
	storage := l.BlockSize * l.StorageBlocks
	if root+storage > g.Size() {
		return nil, fmt.Errorf("%w: need %d bytes, device holds %d", ErrDeviceTooSmall, root+storage, g.Size())
	}
	return split(root, storage), nil
}

// GeometryLayout reserves RootBlocks for root and gives every remaining block
// to storage.
type GeometryLayout struct {
	RootBlocks int64
}

func (l GeometryLayout) Regions(g Geometry) ([]Region, error) {
	if l.RootBlocks <= 0 || g.BlockSize <= 0 || g.BlockCount <= 0 {
		return nil, fmt.Errorf("%w: %d root blocks on %+v", ErrInvalidGeometry, l.RootBlocks, g)
	}
	if g.BlockCount <= l.RootBlocks {
		return nil, fmt.Errorf("%w: %d blocks leaves no storage after %d root blocks",
			ErrDeviceTooSmall, g.BlockCount, l.RootBlocks)
	}
	root := g.BlockSize * l.RootBlocks
	return split(root, g.Size()-root), nil
}

func split(rootLen, storageLen int64) []Region {
	return []Region{
		{
			Start:     0,
			Length:    rootLen,
			Label:     RootLabel,
			MountPath: vfs.Root,
			Mode:      vfs.ReadOnly,
		},
		{
			Start:     rootLen,
			Length:    storageLen,
			Label:     StorageLabel,
			MountPath: StoragePath,
			Mode:      vfs.ReadWrite,
		},
	}
}
