package boot

import (
	"errors"
	"fmt"

	"github.com/OffBroadway/flashboot/pkg/fatfs"
	"github.com/OffBroadway/flashboot/pkg/flash"
)

// Kind is the class of a failed mount attempt.
type Kind int

const (
	KindUnknown Kind = iota
	KindFilesystemInvalid
	KindIOFault
	KindUnsupportedFormat
)

func (k Kind) String() string {
	switch k {
	case KindFilesystemInvalid:
		return "filesystem invalid"
	case KindIOFault:
		return "i/o fault"
	case KindUnsupportedFormat:
		return "unsupported format"
	case KindUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Classify sorts a mount error into a Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, fatfs.FileResultErr),
		errors.Is(err, fatfs.FileResultNotReady),
		errors.Is(err, fatfs.FileResultWriteProtected),
		errors.Is(err, flash.ErrOutOfRange),
		errors.Is(err, flash.ErrClosed):
		return KindIOFault
	case errors.Is(err, fatfs.FileResultNoFilesystem),
		errors.Is(err, fatfs.FileResultIntErr):
		return KindFilesystemInvalid
	case errors.Is(err, fatfs.FileResultInvalidParameter),
		errors.Is(err, fatfs.FileResultNotEnabled),
		errors.Is(err, fatfs.FileResultNotImplemented):
		return KindUnsupportedFormat
	default:
		return KindUnknown
	}
}

// RecoveryPolicy reports whether a region whose first mount failed with the
// given kind may be reformatted.
type RecoveryPolicy func(Kind) bool

// ReformatAlways reformats after any failure, including I/O faults.
func ReformatAlways(Kind) bool { return true }

// ReformatInvalidOnly reformats only when the volume itself is unreadable.
func ReformatInvalidOnly(k Kind) bool { return k == KindFilesystemInvalid }

const (
	PolicyAlways      = "always"
	PolicyInvalidOnly = "invalid-only"
)

var ErrUnknownPolicy = errors.New("boot: unknown recovery policy")

// PolicyByName looks up a policy by its configuration name.
func PolicyByName(name string) (RecoveryPolicy, error) {
	switch name {
	case PolicyAlways, "":
		return ReformatAlways, nil
	case PolicyInvalidOnly:
		return ReformatInvalidOnly, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}
