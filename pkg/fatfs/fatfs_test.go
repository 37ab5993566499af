package fatfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"sort"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OffBroadway/flashboot/pkg/flash"
)

var errInjected = errors.New("injected fault")

// faultyDevice fails reads and/or writes on an otherwise working region.
type faultyDevice struct {
	*flash.Region
	failReads  bool
	failWrites bool
}

func (d *faultyDevice) ReadAt(p []byte, off int64) (int, error) {
	if d.failReads {
		return 0, errInjected
	}
	return d.Region.ReadAt(p, off)
}

func (d *faultyDevice) WriteAt(p []byte, off int64) (int, error) {
	if d.failWrites {
		return 0, errInjected
	}
	return d.Region.WriteAt(p, off)
}

func newRegion(t *testing.T, blocks int64) *flash.Region {
	t.Helper()
	mem, err := flash.NewMemory(4096, blocks)
	require.NoError(t, err)
	r, err := flash.NewRegion(mem, 0, 4096*blocks)
	require.NoError(t, err)
	return r
}

func TestFormatThenOpen(t *testing.T) {
	r := newRegion(t, 100)
	require.NoError(t, Format(r, "Root"))

	vol, err := Open(r)
	require.NoError(t, err)
	assert.Equal(t, "Root", vol.Label())
	assert.Equal(t, "FatFs", vol.Name())

	infos, err := afero.ReadDir(vol, "/")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestFilesSurviveReopen(t *testing.T) {
	r := newRegion(t, 100)
	require.NoError(t, Format(r, "Storage"))

	vol, err := Open(r)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(vol, "/hello.txt", []byte("Hello.... World?\n"), 0o644))

	vol, err = Open(r)
	require.NoError(t, err)
	data, err := afero.ReadFile(vol, "/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "Hello.... World?\n", string(data))

	data, err = fs.ReadFile(AsIO(vol), "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "Hello.... World?\n", string(data))
}

func TestOpenBlankRegion(t *testing.T) {
	_, err := Open(newRegion(t, 100))
	require.Error(t, err)
	assert.ErrorIs(t, err, FileResultNoFilesystem)
	assert.NotErrorIs(t, err, FileResultErr)
}

func TestOpenCorruptedHeader(t *testing.T) {
	tests := []struct {
		name  string
		off   int64
		patch []byte
	}{
		{"signature", 510, []byte{0x00, 0x00}},
		{"sector size", 11, []byte{0x00, 0x04}},
		{"zero cluster size", 13, []byte{0x00}},
		{"odd cluster size", 13, []byte{0x03}},
		{"no reserved sectors", 14, []byte{0x00, 0x00}},
		{"no FATs", 16, []byte{0x00}},
		{"zero FAT size", 36, []byte{0x00, 0x00, 0x00, 0x00}},
		{"root cluster past end", 44, []byte{0xff, 0xff, 0xff, 0x0f}},
		{"root cluster reserved", 44, []byte{0x01, 0x00, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegion(t, 100)
			require.NoError(t, Format(r, "Root"))

			_, err := r.WriteAt(tt.patch, tt.off)
			require.NoError(t, err)

			_, err = Open(r)
			assert.ErrorIs(t, err, FileResultNoFilesystem)

			// the region is usable again after a format
			require.NoError(t, Format(r, "Root"))
			f, err := Open(r)
			require.NoError(t, err)
			require.NoError(t, afero.WriteFile(f, "/a.txt", []byte("a"), 0o644))
		})
	}
}

func TestBackendPanicIsInternalError(t *testing.T) {
	r := newRegion(t, 100)
	require.NoError(t, Format(r, "Root"))
	f, err := Open(r)
	require.NoError(t, err)

	// a volume whose backend state is gone panics on every call
	f.vol = nil

	_, err = f.Stat("/a.txt")
	assert.ErrorIs(t, err, FileResultIntErr)
	_, err = f.Create("/a.txt")
	assert.ErrorIs(t, err, FileResultIntErr)
	assert.ErrorIs(t, f.Mkdir("/d", 0o755), FileResultIntErr)

	// the lock was released on the way out
	_, err = f.Stat("/")
	assert.NoError(t, err)
}

func TestOpenDeviceFault(t *testing.T) {
	r := newRegion(t, 100)
	require.NoError(t, Format(r, "Root"))

	_, err := Open(&faultyDevice{Region: r, failReads: true})
	assert.ErrorIs(t, err, FileResultErr)
	assert.ErrorIs(t, err, errInjected)
}

func TestFormatDeviceFault(t *testing.T) {
	r := newRegion(t, 100)

	err := Format(&faultyDevice{Region: r, failWrites: true}, "Root")
	assert.ErrorIs(t, err, FileResultMkfsAborted)
	assert.ErrorIs(t, err, FileResultErr)
}

func TestFormatWipesExistingVolume(t *testing.T) {
	r := newRegion(t, 100)
	require.NoError(t, Format(r, "Old"))
	vol, err := Open(r)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(vol, "/keep.txt", []byte("data"), 0o644))

	require.NoError(t, Format(r, "New"))
	vol, err = Open(r)
	require.NoError(t, err)
	assert.Equal(t, "New", vol.Label())

	_, err = vol.Stat("/keep.txt")
	assert.True(t, os.IsNotExist(err))
}

func TestFormatRejectsBadParameters(t *testing.T) {
	mem, err := flash.NewMemory(4096, 16)
	require.NoError(t, err)
	small, err := flash.NewRegion(mem, 0, 4096*16)
	require.NoError(t, err)

	assert.ErrorIs(t, Format(small, "Root"), FileResultInvalidParameter)
	_, err = Open(small)
	assert.ErrorIs(t, err, FileResultInvalidParameter)

	assert.ErrorIs(t, Format(newRegion(t, 100), "WAY TOO LONG LABEL"), FileResultInvalidParameter)
}

func TestDirectories(t *testing.T) {
	r := newRegion(t, 100)
	require.NoError(t, Format(r, "Storage"))
	vol, err := Open(r)
	require.NoError(t, err)

	require.NoError(t, vol.MkdirAll("/lib/app", 0o755))
	require.NoError(t, vol.MkdirAll("/lib/app", 0o755))
	assert.True(t, os.IsExist(vol.Mkdir("/lib", 0o755)))
	assert.True(t, os.IsNotExist(vol.Mkdir("/missing/dir", 0o755)))
	require.NoError(t, vol.Mkdir("/data", 0o755))

	require.NoError(t, afero.WriteFile(vol, "/lib/app/main.py", []byte("print('hi')"), 0o644))

	info, err := vol.Stat("/lib/app")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "app", info.Name())

	info, err = vol.Stat("/lib/app/main.py")
	require.NoError(t, err)
	assert.False(t, info.IsDir())
	assert.Equal(t, int64(11), info.Size())

	dir, err := vol.Open("/")
	require.NoError(t, err)
	names, err := dir.Readdirnames(-1)
	require.NoError(t, err)
	require.NoError(t, dir.Close())
	sort.Strings(names)
	assert.Equal(t, []string{"data", "lib"}, names)

	dir, err = vol.Open("/lib")
	require.NoError(t, err)
	defer dir.Close()
	first, err := dir.Readdir(1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "app", first[0].Name())
	_, err = dir.Readdir(1)
	assert.ErrorIs(t, err, io.EOF)

	_, err = dir.Read(make([]byte, 1))
	assert.ErrorIs(t, err, FileResultInvalidObject)
}

func TestOpenFileFlags(t *testing.T) {
	r := newRegion(t, 100)
	require.NoError(t, Format(r, "Storage"))
	vol, err := Open(r)
	require.NoError(t, err)

	_, err = vol.Open("/nope.txt")
	assert.True(t, os.IsNotExist(err))

	f, err := vol.Create("/log.txt")
	require.NoError(t, err)
	_, err = f.WriteString("abcdef")
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("XY"), 2)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Close(), os.ErrClosed)

	_, err = vol.OpenFile("/log.txt", os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	assert.True(t, os.IsExist(err))

	f, err = vol.Open("/log.txt")
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 3)
	n, err := f.ReadAt(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, "bXY", string(buf[:n]))

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "abXYef", string(data))

	_, err = f.Write([]byte("nope"))
	assert.ErrorIs(t, err, FileResultDenied)
}

func TestNamesIgnoreCase(t *testing.T) {
	r := newRegion(t, 100)
	require.NoError(t, Format(r, "Storage"))
	vol, err := Open(r)
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(vol, "/Hello.txt", []byte("first"), 0o644))
	require.NoError(t, afero.WriteFile(vol, "/hello.txt", []byte("second"), 0o644))

	require.NoError(t, vol.MkdirAll("/Logs", 0o755))
	require.NoError(t, vol.MkdirAll("/logs/boot", 0o755))
	require.NoError(t, afero.WriteFile(vol, "/LOGS/BOOT/a.txt", []byte("a"), 0o644))

	infos, err := afero.ReadDir(vol, "/")
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"Hello.txt", "Logs"}, names)

	data, err := afero.ReadFile(vol, "/HELLO.TXT")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	infos, err = afero.ReadDir(vol, "/Logs")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "boot", infos[0].Name())

	info, err := vol.Stat("/logs/boot/A.TXT")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", info.Name())
}

func TestUnsupportedOperations(t *testing.T) {
	r := newRegion(t, 100)
	require.NoError(t, Format(r, "Storage"))
	vol, err := Open(r)
	require.NoError(t, err)

	assert.ErrorIs(t, vol.Remove("/a"), FileResultNotImplemented)
	assert.ErrorIs(t, vol.RemoveAll("/a"), FileResultNotImplemented)
	assert.ErrorIs(t, vol.Rename("/a", "/b"), FileResultNotImplemented)
	assert.NoError(t, vol.Chmod("/a", 0o600))
}

func TestTranslateFlags(t *testing.T) {
	assert.Equal(t, os.O_RDONLY, translateFlags(os.O_RDONLY))
	assert.Equal(t, os.O_RDWR|os.O_CREATE|os.O_TRUNC, translateFlags(os.O_WRONLY|os.O_CREATE|os.O_TRUNC))
	assert.Equal(t, os.O_RDWR|os.O_APPEND, translateFlags(os.O_RDWR|os.O_APPEND))
}

func TestFileResultError(t *testing.T) {
	assert.Equal(t, "fatfs: (13) There is no valid FAT volume", FileResultNoFilesystem.Error())
	assert.Equal(t, "fatfs: unknown file result error", FileResult(200).Error())

	err := wrap(FileResultErr, errInjected)
	assert.ErrorIs(t, err, FileResultErr)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, FileResultOK, wrap(FileResultOK, nil))
}
