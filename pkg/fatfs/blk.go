package fatfs

import "io"

// BlockDevice is a byte range that can host a FAT volume, usually a
// *flash.Region.
type BlockDevice interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
}

// eraser is implemented by devices that can reset their whole range before
// a format.
type eraser interface {
	Erase() error
}
