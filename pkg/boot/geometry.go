// Package boot brings flash storage online: it splits the device into a root
// and a storage region, then mounts each as FAT, formatting a region whose
// filesystem cannot be read.
package boot

import (
	"errors"
	"fmt"

	"github.com/OffBroadway/flashboot/pkg/vfs"
)

var ErrInvalidGeometry = errors.New("boot: invalid device geometry")

// Geometry is the erase-block layout of the whole flash device.
type Geometry struct {
	BlockSize  int64
	BlockCount int64
}

// Size returns the capacity in bytes.
func (g Geometry) Size() int64 {
	return g.BlockSize * g.BlockCount
}

// GeometryReporter is anything that can report its erase geometry, such as a
// flash.Device.
type GeometryReporter interface {
	BlockSize() int64
	BlockCount() int64
}

// ResolveGeometry queries dev for its block size and block count.
func ResolveGeometry(dev GeometryReporter) (Geometry, error) {
	if dev == nil {
		return Geometry{}, fmt.Errorf("%w: no device", ErrInvalidGeometry)
	}
	g := Geometry{BlockSize: dev.BlockSize(), BlockCount: dev.BlockCount()}
	if g.BlockSize <= 0 || g.BlockCount <= 0 {
		return Geometry{}, fmt.Errorf("%w: %d blocks of %d bytes", ErrInvalidGeometry, g.BlockCount, g.BlockSize)
	}
	return g, nil
}

// Region describes one byte range of the device and where it is mounted.
type Region struct {
	Start     int64
	Length    int64
	Label     string
	MountPath string
	Mode      vfs.Mode
}

// End returns the first byte past the region.
func (r Region) End() int64 {
	return r.Start + r.Length
}

func (r Region) String() string {
	return fmt.Sprintf("%s [%d, %d) on %s (%s)", r.Label, r.Start, r.End(), r.MountPath, r.Mode)
}
