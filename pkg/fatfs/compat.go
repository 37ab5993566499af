package fatfs

import (
	"io/fs"

	"github.com/spf13/afero"
)

var _ fs.FS = afero.IOFS{}

// AsIO exposes a volume through the io/fs interfaces.
func AsIO(f *FatFs) afero.IOFS {
	return afero.NewIOFS(f)
}
