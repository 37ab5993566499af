package fatfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/filesystem/fat32"
	"github.com/spf13/afero"
)

// assert that FatFs implements afero.Fs
var _ afero.Fs = (*FatFs)(nil)

// FatFs is a mounted FAT32 volume on a BlockDevice.
type FatFs struct {
	mu    sync.Mutex
	vol   *fat32.FileSystem
	disk  *disk
	label string
}

// FileInfo describes a file or directory on a FatFs.
type FileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
	mode    os.FileMode
}

func (fi FileInfo) Name() string       { return fi.name }
func (fi FileInfo) Size() int64        { return fi.size }
func (fi FileInfo) IsDir() bool        { return fi.isDir }
func (fi FileInfo) ModTime() time.Time { return fi.modTime }
func (fi FileInfo) Mode() os.FileMode  { return fi.mode }
func (fi FileInfo) Sys() interface{}   { return nil }

var _ os.FileInfo = FileInfo{}

func newFileInfo(name string, size int64, isDir bool, modTime time.Time) FileInfo {
	mode := os.FileMode(0o644)
	if isDir {
		mode = os.ModeDir | 0o755
	}
	return FileInfo{name: name, size: size, isDir: isDir, modTime: modTime, mode: mode}
}

func checkSize(size int64) error {
	switch {
	case size < MinVolumeSize:
		return fmt.Errorf("%w: volume of %d bytes is below the %d byte minimum", FileResultInvalidParameter, size, MinVolumeSize)
	case size > fat32.Fat32MaxSize:
		return fmt.Errorf("%w: volume of %d bytes exceeds the FAT32 maximum", FileResultInvalidParameter, size)
	case size%SectorSize != 0:
		return fmt.Errorf("%w: volume of %d bytes is not a whole number of sectors", FileResultInvalidParameter, size)
	}
	return nil
}

// Open interprets dev as an existing FAT32 volume. It fails with
// FileResultNoFilesystem when no valid volume is present and with
// FileResultErr when the device itself reported an error.
func Open(dev BlockDevice) (f *FatFs, err error) {
	if err := checkSize(dev.Size()); err != nil {
		return nil, err
	}

	d := newDisk(dev)
	defer func() {
		// a header that passes the signature check can still describe an
		// impossible layout
		if r := recover(); r != nil {
			f, err = nil, wrap(FileResultNoFilesystem, fmt.Errorf("malformed volume: %v", r))
		}
	}()

	boot := make([]byte, SectorSize)
	_, err = d.ReadAt(boot, 0)
	if ferr := d.fault(); ferr != nil {
		return nil, wrap(FileResultErr, ferr)
	}
	if err != nil {
		return nil, wrap(FileResultNoFilesystem, err)
	}
	if err := checkBootSector(boot); err != nil {
		return nil, wrap(FileResultNoFilesystem, err)
	}

	vol, err := fat32.Read(d, dev.Size(), 0, SectorSize)
	if ferr := d.fault(); ferr != nil {
		return nil, wrap(FileResultErr, ferr)
	}
	if err != nil {
		return nil, wrap(FileResultNoFilesystem, err)
	}

	f = &FatFs{vol: vol, disk: d}
	f.label = strings.TrimSpace(vol.Label())
	if ferr := d.fault(); ferr != nil {
		return nil, wrap(FileResultErr, ferr)
	}
	return f, nil
}

// Format destroys whatever dev holds and writes a fresh, empty FAT32 volume
// named label.
func Format(dev BlockDevice, label string) error {
	if err := checkSize(dev.Size()); err != nil {
		return err
	}
	if len(label) > MaxLabelLength {
		return fmt.Errorf("%w: label %q is longer than %d bytes", FileResultInvalidParameter, label, MaxLabelLength)
	}

	if e, ok := dev.(eraser); ok {
		if err := e.Erase(); err != nil {
			return fmt.Errorf("%w: erase: %w", FileResultMkfsAborted, wrap(FileResultErr, err))
		}
	}

	d := newDisk(dev)
	_, err := fat32.Create(d, dev.Size(), 0, SectorSize, label)
	if ferr := d.fault(); ferr != nil {
		return fmt.Errorf("%w: %w", FileResultMkfsAborted, wrap(FileResultErr, ferr))
	}
	if err != nil {
		return wrap(FileResultMkfsAborted, err)
	}
	return nil
}

// Driver is the FAT layer as seen by the boot sequence.
type Driver struct{}

// Open mounts dev as an existing volume.
func (Driver) Open(dev BlockDevice) (afero.Fs, error) {
	f, err := Open(dev)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Format writes a fresh volume named label to dev.
func (Driver) Format(dev BlockDevice, label string) error {
	return Format(dev, label)
}

func (f *FatFs) Name() string {
	return "FatFs"
}

// Label returns the volume label.
func (f *FatFs) Label() string {
	return f.label
}

func clean(name string) string {
	return path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
}

// ioErr converts a backend failure into a path error, preferring a device
// fault when one was seen during the call.
func (f *FatFs) ioErr(op, name string, err error, fallback FileResult) error {
	if ferr := f.disk.fault(); ferr != nil {
		return &os.PathError{Op: op, Path: name, Err: wrap(FileResultErr, ferr)}
	}
	if err == nil {
		return nil
	}
	return &os.PathError{Op: op, Path: name, Err: wrap(fallback, err)}
}

// guard turns a panic in the backend into FileResultIntErr on *err. It must
// be deferred before f.mu is locked so the lock is released first.
func guard(op, name string, err *error) {
	if r := recover(); r != nil {
		*err = &os.PathError{Op: op, Path: name, Err: wrap(FileResultIntErr, fmt.Errorf("%v", r))}
	}
}

// canonical rewrites every existing component of p to the spelling stored
// on the volume. Lookups here ignore case but the backend does not, and it
// would create a second entry for a differently cased name. The caller
// holds f.mu.
func (f *FatFs) canonical(p string) string {
	if p == "/" {
		return p
	}
	out := "/"
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, part := range parts {
		info, err := f.stat(path.Join(out, part))
		if err != nil {
			return path.Join(append([]string{out}, parts[i:]...)...)
		}
		out = path.Join(out, info.Name())
	}
	return out
}

// readDir lists p without the volume label entry. The caller holds f.mu.
func (f *FatFs) readDir(p string) ([]os.FileInfo, error) {
	entries, err := f.vol.ReadDir(p)
	if err != nil {
		return nil, f.ioErr("readdir", p, err, FileResultNoPath)
	}
	if err := f.ioErr("readdir", p, nil, FileResultErr); err != nil {
		return nil, err
	}

	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if name == "." || name == ".." {
			continue
		}
		if p == "/" && !e.IsDir() && e.Size() == 0 && f.label != "" && strings.Replace(name, ".", "", 1) == f.label {
			continue
		}
		infos = append(infos, newFileInfo(name, e.Size(), e.IsDir(), e.ModTime()))
	}
	return infos, nil
}

// stat looks p up in its parent directory. The caller holds f.mu.
func (f *FatFs) stat(p string) (os.FileInfo, error) {
	if p == "/" {
		return newFileInfo("/", 0, true, time.Unix(0, 0)), nil
	}

	dir, base := path.Split(p)
	infos, err := f.readDir(path.Clean(dir))
	if err != nil {
		var perr *os.PathError
		if errors.As(err, &perr) && errors.Is(perr.Err, FileResultErr) {
			return nil, err
		}
		return nil, &os.PathError{Op: "stat", Path: p, Err: os.ErrNotExist}
	}
	for _, info := range infos {
		if info.Name() == base || strings.EqualFold(info.Name(), base) {
			return info, nil
		}
	}
	return nil, &os.PathError{Op: "stat", Path: p, Err: os.ErrNotExist}
}

func (f *FatFs) Stat(name string) (info os.FileInfo, err error) {
	defer guard("stat", name, &err)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stat(f.canonical(clean(name)))
}

func (f *FatFs) Open(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDONLY, 0)
}

func (f *FatFs) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

func (f *FatFs) OpenFile(name string, flag int, perm os.FileMode) (_ afero.File, err error) {
	defer guard("open", name, &err)
	f.mu.Lock()
	defer f.mu.Unlock()

	p := f.canonical(clean(name))

	info, err := f.stat(p)
	switch {
	case err == nil && flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0:
		return nil, &os.PathError{Op: "open", Path: p, Err: os.ErrExist}
	case err == nil && info.IsDir():
		if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
			return nil, &os.PathError{Op: "open", Path: p, Err: FileResultInvalidObject}
		}
		return &FatFile{fs: f, path: p, dir: true}, nil
	case err != nil && !os.IsNotExist(err):
		return nil, err
	case err != nil && flag&os.O_CREATE == 0:
		return nil, err
	}

	file, err := f.vol.OpenFile(p, translateFlags(flag))
	if err := f.ioErr("open", p, err, FileResultDenied); err != nil {
		return nil, err
	}
	return &FatFile{fs: f, path: p, file: file}, nil
}

func (f *FatFs) Mkdir(name string, perm os.FileMode) (err error) {
	defer guard("mkdir", name, &err)
	f.mu.Lock()
	defer f.mu.Unlock()

	p := f.canonical(clean(name))

	if _, err := f.stat(p); err == nil {
		return &os.PathError{Op: "mkdir", Path: p, Err: os.ErrExist}
	}
	if parent, err := f.stat(path.Dir(p)); err != nil {
		return &os.PathError{Op: "mkdir", Path: p, Err: os.ErrNotExist}
	} else if !parent.IsDir() {
		return &os.PathError{Op: "mkdir", Path: p, Err: FileResultNoPath}
	}
	return f.ioErr("mkdir", p, f.vol.Mkdir(p), FileResultDenied)
}

func (f *FatFs) MkdirAll(name string, perm os.FileMode) (err error) {
	defer guard("mkdir", name, &err)
	f.mu.Lock()
	defer f.mu.Unlock()

	p := f.canonical(clean(name))

	if info, err := f.stat(p); err == nil {
		if info.IsDir() {
			return nil
		}
		return &os.PathError{Op: "mkdir", Path: p, Err: FileResultExist}
	}
	return f.ioErr("mkdir", p, f.vol.Mkdir(p), FileResultDenied)
}

// Remove, RemoveAll and Rename need directory entry deletion, which the
// FAT32 backend does not provide.

func (f *FatFs) Remove(name string) error {
	return &os.PathError{Op: "remove", Path: clean(name), Err: FileResultNotImplemented}
}

func (f *FatFs) RemoveAll(name string) error {
	return &os.PathError{Op: "removeall", Path: clean(name), Err: FileResultNotImplemented}
}

func (f *FatFs) Rename(oldname, newname string) error {
	return &os.LinkError{Op: "rename", Old: clean(oldname), New: clean(newname), Err: FileResultNotImplemented}
}

// FAT has no owners and keeps a single modification time, so these are
// accepted and ignored.

func (f *FatFs) Chmod(name string, mode os.FileMode) error {
	return nil
}

func (f *FatFs) Chown(name string, uid, gid int) error {
	return nil
}

func (f *FatFs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return nil
}

// FatFile is an open file or directory on a FatFs.
type FatFile struct {
	fs     *FatFs
	path   string
	file   filesystem.File
	dir    bool
	dirPos int
	closed bool
}

// assert that FatFile implements afero.File
var _ afero.File = (*FatFile)(nil)

// Name returns the path of the file on the volume.
func (f *FatFile) Name() string {
	return f.path
}

func (f *FatFile) check() error {
	switch {
	case f.closed:
		return os.ErrClosed
	case f.dir:
		return FileResultInvalidObject
	}
	return nil
}

func (f *FatFile) Read(p []byte) (n int, err error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	defer guard("read", f.path, &err)
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	n, err = f.file.Read(p)
	if ferr := f.fs.disk.fault(); ferr != nil {
		return n, wrap(FileResultErr, ferr)
	}
	return n, err
}

func (f *FatFile) ReadAt(p []byte, off int64) (n int, err error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	defer guard("read", f.path, &err)
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	pos, err := f.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	defer f.file.Seek(pos, io.SeekStart)

	if _, err := f.file.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err = io.ReadFull(f.file, p)
	if ferr := f.fs.disk.fault(); ferr != nil {
		return n, wrap(FileResultErr, ferr)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n, err
}

// write writes at the current offset. The caller holds f.fs.mu.
func (f *FatFile) write(p []byte) (int, error) {
	n, err := f.file.Write(p)
	if ferr := f.fs.disk.fault(); ferr != nil {
		return n, wrap(FileResultErr, ferr)
	}
	if err != nil {
		return n, wrap(FileResultDenied, err)
	}
	return n, nil
}

func (f *FatFile) Write(p []byte) (n int, err error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	defer guard("write", f.path, &err)
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	return f.write(p)
}

func (f *FatFile) WriteAt(p []byte, off int64) (n int, err error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	defer guard("write", f.path, &err)
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	pos, err := f.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	if _, err := f.file.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err = f.write(p)
	if _, serr := f.file.Seek(pos, io.SeekStart); serr != nil && err == nil {
		err = serr
	}
	return n, err
}

func (f *FatFile) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

func (f *FatFile) Seek(offset int64, whence int) (_ int64, err error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	defer guard("seek", f.path, &err)
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	return f.file.Seek(offset, whence)
}

// Readdir follows os.File: with count > 0 it returns at most count entries
// and io.EOF once the directory is exhausted.
func (f *FatFile) Readdir(count int) (_ []os.FileInfo, err error) {
	if f.closed {
		return nil, os.ErrClosed
	}
	if !f.dir {
		return nil, FileResultInvalidObject
	}
	defer guard("readdir", f.path, &err)
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	infos, err := f.fs.readDir(f.path)
	if err != nil {
		return nil, err
	}

	if f.dirPos > len(infos) {
		f.dirPos = len(infos)
	}
	infos = infos[f.dirPos:]
	if count > 0 {
		if len(infos) == 0 {
			return nil, io.EOF
		}
		if len(infos) > count {
			infos = infos[:count]
		}
	}
	f.dirPos += len(infos)
	return infos, nil
}

func (f *FatFile) Readdirnames(n int) ([]string, error) {
	infos, err := f.Readdir(n)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

func (f *FatFile) Stat() (os.FileInfo, error) {
	if f.closed {
		return nil, os.ErrClosed
	}
	return f.fs.Stat(f.path)
}

// Sync is a no-op: every write goes straight to the device.
func (f *FatFile) Sync() error {
	if f.closed {
		return os.ErrClosed
	}
	return nil
}

func (f *FatFile) Truncate(size int64) error {
	return &os.PathError{Op: "truncate", Path: f.path, Err: FileResultNotImplemented}
}

// Close the file
func (f *FatFile) Close() error {
	if f.closed {
		return os.ErrClosed
	}
	f.closed = true
	if f.file == nil {
		return nil
	}
	if c, ok := f.file.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
