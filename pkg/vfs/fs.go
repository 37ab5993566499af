package vfs

import (
	"errors"
	"io"
	"os"
	"path"
	"time"

	"github.com/spf13/afero"
)

var _ afero.Fs = (*Registry)(nil)

func (r *Registry) Name() string { return "vfs" }

func (r *Registry) Create(name string) (afero.File, error) {
	m, rel, err := r.resolve(name)
	if err != nil {
		return nil, &os.PathError{Op: "create", Path: name, Err: err}
	}
	return m.Fs.Create(rel)
}

func (r *Registry) Mkdir(name string, perm os.FileMode) error {
	m, rel, err := r.resolve(name)
	if err != nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: err}
	}
	return m.Fs.Mkdir(rel, perm)
}

func (r *Registry) MkdirAll(name string, perm os.FileMode) error {
	m, rel, err := r.resolve(name)
	if err != nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: err}
	}
	return m.Fs.MkdirAll(rel, perm)
}

func (r *Registry) Open(name string) (afero.File, error) {
	return r.OpenFile(name, os.O_RDONLY, 0)
}

func (r *Registry) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	m, rel, err := r.resolve(name)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}
	f, err := m.Fs.OpenFile(rel, flag, perm)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil || !info.IsDir() {
		return f, nil
	}
	mounts := r.children(path.Clean("/" + name))
	if len(mounts) == 0 {
		return f, nil
	}
	return &mountDir{File: f, mounts: mounts}, nil
}

func (r *Registry) Remove(name string) error {
	m, rel, err := r.resolve(name)
	if err != nil {
		return &os.PathError{Op: "remove", Path: name, Err: err}
	}
	if rel == "/" {
		return &os.PathError{Op: "remove", Path: name, Err: ErrBusy}
	}
	return m.Fs.Remove(rel)
}

func (r *Registry) RemoveAll(name string) error {
	m, rel, err := r.resolve(name)
	if err != nil {
		return &os.PathError{Op: "remove", Path: name, Err: err}
	}
	if rel == "/" {
		return &os.PathError{Op: "remove", Path: name, Err: ErrBusy}
	}
	return m.Fs.RemoveAll(rel)
}

func (r *Registry) Rename(oldname, newname string) error {
	from, oldrel, err := r.resolve(oldname)
	if err != nil {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: err}
	}
	to, newrel, err := r.resolve(newname)
	if err != nil {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: err}
	}
	if from != to {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: ErrCrossDevice}
	}
	return from.Fs.Rename(oldrel, newrel)
}

func (r *Registry) Stat(name string) (os.FileInfo, error) {
	m, rel, err := r.resolve(name)
	if err != nil {
		return nil, &os.PathError{Op: "stat", Path: name, Err: err}
	}
	return m.Fs.Stat(rel)
}

func (r *Registry) Chmod(name string, mode os.FileMode) error {
	m, rel, err := r.resolve(name)
	if err != nil {
		return &os.PathError{Op: "chmod", Path: name, Err: err}
	}
	return m.Fs.Chmod(rel, mode)
}

func (r *Registry) Chown(name string, uid, gid int) error {
	m, rel, err := r.resolve(name)
	if err != nil {
		return &os.PathError{Op: "chown", Path: name, Err: err}
	}
	return m.Fs.Chown(rel, uid, gid)
}

func (r *Registry) Chtimes(name string, atime, mtime time.Time) error {
	m, rel, err := r.resolve(name)
	if err != nil {
		return &os.PathError{Op: "chtimes", Path: name, Err: err}
	}
	return m.Fs.Chtimes(rel, atime, mtime)
}

// mountDir is a directory handle that also lists the mount points directly
// below it, so "/" shows "/storage" even when the root volume has no such
// directory.
type mountDir struct {
	afero.File
	mounts  []string
	seen    map[string]bool
	pending []os.FileInfo
	drained bool
}

func (d *mountDir) Readdir(count int) ([]os.FileInfo, error) {
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}

	if !d.drained {
		infos, err := d.File.Readdir(count)
		if err != nil && !errors.Is(err, io.EOF) {
			return infos, err
		}
		for _, info := range infos {
			d.seen[info.Name()] = true
		}
		if count > 0 && len(infos) > 0 {
			return infos, nil
		}
		d.drained = true
		for _, name := range d.mounts {
			if !d.seen[name] {
				d.pending = append(d.pending, mountInfo(name))
			}
		}
		if count <= 0 {
			infos = append(infos, d.pending...)
			d.pending = nil
			return infos, nil
		}
	}

	if count <= 0 {
		out := d.pending
		d.pending = nil
		return out, nil
	}
	if len(d.pending) == 0 {
		return nil, io.EOF
	}
	n := min(count, len(d.pending))
	out := d.pending[:n]
	d.pending = d.pending[n:]
	return out, nil
}

func (d *mountDir) Readdirnames(n int) ([]string, error) {
	infos, err := d.Readdir(n)
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, err
}

// mountInfo describes a mount point that has no directory entry of its own.
type mountInfo string

func (m mountInfo) Name() string       { return string(m) }
func (m mountInfo) Size() int64        { return 0 }
func (m mountInfo) Mode() os.FileMode  { return os.ModeDir | 0o755 }
func (m mountInfo) ModTime() time.Time { return time.Time{} }
func (m mountInfo) IsDir() bool        { return true }
func (m mountInfo) Sys() any           { return nil }
