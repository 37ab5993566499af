package fatfs

import (
	"fmt"
	"os"
)

// FileResult mirrors the FatFs FRESULT codes so callers can tell the
// failure classes of the filesystem layer apart with errors.Is.
type FileResult uint

const (
	FileResultOK               FileResult = 0
	FileResultErr              FileResult = 1
	FileResultIntErr           FileResult = 2
	FileResultNotReady         FileResult = 3
	FileResultNoFile           FileResult = 4
	FileResultNoPath           FileResult = 5
	FileResultInvalidName      FileResult = 6
	FileResultDenied           FileResult = 7
	FileResultExist            FileResult = 8
	FileResultInvalidObject    FileResult = 9
	FileResultWriteProtected   FileResult = 10
	FileResultInvalidDrive     FileResult = 11
	FileResultNotEnabled       FileResult = 12
	FileResultNoFilesystem     FileResult = 13
	FileResultMkfsAborted      FileResult = 14
	FileResultTimeout          FileResult = 15
	FileResultLocked           FileResult = 16
	FileResultNotEnoughCore    FileResult = 17
	FileResultTooManyOpenFiles FileResult = 18
	FileResultInvalidParameter FileResult = 19
	FileResultReadOnly         FileResult = 99
	FileResultNotImplemented   FileResult = 0xe0

	SectorSize = 512

	// MinVolumeSize is the smallest range that can hold a FAT32 volume with
	// at least one sector of FAT entries: 32 reserved plus 128 data sectors.
	MinVolumeSize = (32 + 128) * SectorSize

	// MaxLabelLength is the length of the 8.3 volume label field.
	MaxLabelLength = 11
)

func (r FileResult) Error() string {
	var msg string
	switch r {
	case FileResultOK:
		msg = "(0) Succeeded"
	case FileResultErr:
		msg = "(1) A hard error occurred in the low level disk I/O layer"
	case FileResultIntErr:
		msg = "(2) Assertion failed"
	case FileResultNotReady:
		msg = "(3) The physical drive cannot work"
	case FileResultNoFile:
		msg = "(4) Could not find the file"
	case FileResultNoPath:
		msg = "(5) Could not find the path"
	case FileResultInvalidName:
		msg = "(6) The path name format is invalid"
	case FileResultDenied:
		msg = "(7) Access denied due to prohibited access or directory full"
	case FileResultExist:
		msg = "(8) Access denied due to prohibited access"
	case FileResultInvalidObject:
		msg = "(9) The file/directory object is invalid"
	case FileResultWriteProtected:
		msg = "(10) The physical drive is write protected"
	case FileResultInvalidDrive:
		msg = "(11) The logical drive number is invalid"
	case FileResultNotEnabled:
		msg = "(12) The volume has no work area"
	case FileResultNoFilesystem:
		msg = "(13) There is no valid FAT volume"
	case FileResultMkfsAborted:
		msg = "(14) The mkfs aborted due to any problem"
	case FileResultTimeout:
		msg = "(15) Could not get a grant to access the volume within defined period"
	case FileResultLocked:
		msg = "(16) The operation is rejected according to the file sharing policy"
	case FileResultNotEnoughCore:
		msg = "(17) LFN working buffer could not be allocated"
	case FileResultTooManyOpenFiles:
		msg = "(18) Number of open files exceeded"
	case FileResultInvalidParameter:
		msg = "(19) Given parameter is invalid"
	case FileResultReadOnly:
		msg = "(99) Read-only filesystem"
	case FileResultNotImplemented:
		msg = "(e0) Feature Not Implemented"
	default:
		msg = "unknown file result error"
	}
	return "fatfs: " + msg
}

// wrap attaches the underlying cause to a result code. Both stay visible to
// errors.Is.
func wrap(r FileResult, cause error) error {
	if cause == nil {
		return r
	}
	return fmt.Errorf("%w: %w", r, cause)
}

// translateFlags maps os.OpenFile flags onto what the FAT32 backend accepts.
// The backend only writes through handles opened O_RDWR, so every writable
// open is widened to read-write.
func translateFlags(osFlags int) int {
	result := osFlags &^ (os.O_WRONLY | os.O_RDWR)
	if osFlags&(os.O_WRONLY|os.O_RDWR) != 0 {
		result |= os.O_RDWR
	}
	return result
}
