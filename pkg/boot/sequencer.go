package boot

import (
	"errors"
	"fmt"

	log "github.com/fclairamb/go-log"
	"github.com/fclairamb/go-log/noop"
	"github.com/spf13/afero"

	"github.com/OffBroadway/flashboot/pkg/fatfs"
	"github.com/OffBroadway/flashboot/pkg/flash"
	"github.com/OffBroadway/flashboot/pkg/vfs"
)

var (
	ErrMountFailed  = errors.New("boot: mount failed")
	ErrFormatFailed = errors.New("boot: format failed")
)

// Filesystem opens and formats volumes on a byte range. fatfs.Driver is the
// implementation used on real devices.
type Filesystem interface {
	Open(dev fatfs.BlockDevice) (afero.Fs, error)
	Format(dev fatfs.BlockDevice, label string) error
}

// Outcome reports how a region was brought online.
type Outcome struct {
	Path      string
	Label     string
	Mode      vfs.Mode
	Formatted bool
	// Cause is the first mount error that led to formatting, if any.
	Cause error
}

// Sequencer mounts the root and storage regions of a flash device. Only
// Device is required.
type Sequencer struct {
	Device     flash.Device
	Layout     Layout
	Filesystem Filesystem
	Policy     RecoveryPolicy
	Logger     log.Logger
}

func (s *Sequencer) layout() Layout {
	if s.Layout == nil {
		return GeometryLayout{RootBlocks: DefaultRootBlocks}
	}
	return s.Layout
}

func (s *Sequencer) filesystem() Filesystem {
	if s.Filesystem == nil {
		return fatfs.Driver{}
	}
	return s.Filesystem
}

func (s *Sequencer) policy() RecoveryPolicy {
	if s.Policy == nil {
		return ReformatAlways
	}
	return s.Policy
}

func (s *Sequencer) logger() log.Logger {
	if s.Logger == nil {
		return noop.NewNoOpLogger()
	}
	return s.Logger
}

// Run brings both regions online in order, root first. It stops at the first
// region that cannot be mounted and returns the outcomes gathered so far.
func (s *Sequencer) Run(reg *vfs.Registry) ([]Outcome, error) {
	logger := s.logger()

	g, err := ResolveGeometry(s.Device)
	if err != nil {
		return nil, err
	}
	regions, err := s.layout().Regions(g)
	if err != nil {
		return nil, err
	}
	logger.Debug("Resolved flash layout", "blockSize", g.BlockSize, "blockCount", g.BlockCount)

	outcomes := make([]Outcome, 0, len(regions))
	for _, region := range regions {
		if region.MountPath != vfs.Root {
			if err := checkRoot(reg); err != nil {
				return outcomes, err
			}
		}

		dev, err := flash.NewRegion(s.Device, region.Start, region.Length)
		if err != nil {
			return outcomes, fmt.Errorf("region %s: %w", region, err)
		}

		out, err := s.MountOrFormat(reg, dev, region)
		if err != nil {
			logger.Error("Region bring-up failed", "region", region.String(), "err", err)
			return outcomes, err
		}
		logger.Info("Region mounted", "label", out.Label, "path", out.Path, "mode", out.Mode.String(),
			"formatted", out.Formatted)
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func checkRoot(reg *vfs.Registry) error {
	m, ok := reg.Lookup(vfs.Root)
	if !ok {
		return vfs.ErrRootNotMounted
	}
	if m.Mode != vfs.ReadOnly {
		return fmt.Errorf("%w: root is mounted %s", vfs.ErrRootNotMounted, m.Mode)
	}
	return nil
}

// MountOrFormat mounts the volume on dev at region.MountPath. When the first
// attempt fails and the policy allows it, the range is formatted with
// region.Label and mounted once more. The second attempt is final.
func (s *Sequencer) MountOrFormat(reg *vfs.Registry, dev fatfs.BlockDevice, region Region) (Outcome, error) {
	out := Outcome{Path: region.MountPath, Label: region.Label, Mode: region.Mode}

	cause := s.mount(reg, dev, region)
	if cause == nil {
		return out, nil
	}

	kind := Classify(cause)
	if !s.policy()(kind) {
		return out, fmt.Errorf("%w: %s (%s, not reformatting): %w", ErrMountFailed, region.MountPath, kind, cause)
	}

	s.logger().Warn("Formatting region", "label", region.Label, "path", region.MountPath,
		"kind", kind.String(), "cause", cause)
	if err := s.filesystem().Format(dev, region.Label); err != nil {
		return out, fmt.Errorf("%w: %s: %w", ErrFormatFailed, region.Label, err)
	}
	out.Formatted = true
	out.Cause = cause

	if err := s.mount(reg, dev, region); err != nil {
		return out, fmt.Errorf("%w: %s after format: %w", ErrMountFailed, region.MountPath, err)
	}
	return out, nil
}

func (s *Sequencer) mount(reg *vfs.Registry, dev fatfs.BlockDevice, region Region) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("filesystem panicked: %v", r)
		}
	}()

	fs, err := s.filesystem().Open(dev)
	if err != nil {
		return err
	}
	return reg.Mount(fs, region.MountPath, region.Mode)
}
