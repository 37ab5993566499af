// Package vfs holds the mount namespace: a registry that maps absolute paths
// to mounted filesystems and resolves paths through them.
package vfs

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Mode is the access mode of a mount.
type Mode uint8

const (
	ReadWrite Mode = iota
	ReadOnly
)

func (m Mode) String() string {
	switch m {
	case ReadWrite:
		return "rw"
	case ReadOnly:
		return "ro"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Root is the path of the root mount.
const Root = "/"

var (
	ErrAlreadyMounted = errors.New("vfs: path already has a mount")
	ErrRootNotMounted = errors.New("vfs: root is not mounted")
	ErrNotMounted     = errors.New("vfs: no mount at path")
	ErrInvalidPath    = errors.New("vfs: mount path must be absolute")
	ErrBusy           = errors.New("vfs: mount has other mounts beneath it")
	ErrCrossDevice    = errors.New("vfs: rename across mounts")
)

// Mount is one entry of the mount table.
type Mount struct {
	Path string
	Mode Mode
	// Fs is the filesystem as seen through the mount, read-only when Mode
	// is ReadOnly.
	Fs afero.Fs
	// Source is the filesystem that was mounted.
	Source afero.Fs
}

// Registry is the mount table. At most one filesystem is mounted per path,
// and nothing can be mounted below "/" until "/" itself is mounted.
type Registry struct {
	mu     sync.RWMutex
	mounts map[string]*Mount
}

func NewRegistry() *Registry {
	return &Registry{mounts: make(map[string]*Mount)}
}

func cleanPath(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return path.Clean(p), nil
}

// Mount attaches fs at p with the given mode.
func (r *Registry) Mount(fs afero.Fs, p string, mode Mode) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.mounts[p]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyMounted, p)
	}
	if _, ok := r.mounts[Root]; !ok && p != Root {
		return fmt.Errorf("%w: cannot mount %s", ErrRootNotMounted, p)
	}

	view := fs
	if mode == ReadOnly {
		view = afero.NewReadOnlyFs(fs)
	}
	r.mounts[p] = &Mount{Path: p, Mode: mode, Fs: view, Source: fs}
	return nil
}

// Unmount detaches the filesystem at p. The root can only be unmounted once
// nothing else is mounted.
func (r *Registry) Unmount(p string) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.mounts[p]; !ok {
		return fmt.Errorf("%w: %s", ErrNotMounted, p)
	}
	if p == Root && len(r.mounts) > 1 {
		return fmt.Errorf("%w: %s", ErrBusy, p)
	}
	delete(r.mounts, p)
	return nil
}

// UnmountAll empties the mount table, as a soft reboot does.
func (r *Registry) UnmountAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mounts = make(map[string]*Mount)
}

// Lookup returns the mount at exactly p.
func (r *Registry) Lookup(p string) (Mount, bool) {
	p, err := cleanPath(p)
	if err != nil {
		return Mount{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.mounts[p]
	if !ok {
		return Mount{}, false
	}
	return *m, true
}

// Mounts returns the mount table sorted by path.
func (r *Registry) Mounts() []Mount {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ms := make([]Mount, 0, len(r.mounts))
	for _, m := range r.mounts {
		ms = append(ms, *m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].Path < ms[j].Path })
	return ms
}

// resolve finds the mount covering name by longest prefix and returns it
// with name rewritten relative to the mount.
func (r *Registry) resolve(name string) (*Mount, string, error) {
	p := path.Clean("/" + name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for cur := p; ; cur = path.Dir(cur) {
		if m, ok := r.mounts[cur]; ok {
			rel := strings.TrimPrefix(p, cur)
			if !strings.HasPrefix(rel, "/") {
				rel = "/" + rel
			}
			return m, rel, nil
		}
		if cur == Root {
			return nil, "", fmt.Errorf("%w: %s", ErrNotMounted, p)
		}
	}
}

// children returns the names of mounts directly below dir.
func (r *Registry) children(dir string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for p := range r.mounts {
		if p != Root && p != dir && path.Dir(p) == dir {
			names = append(names, path.Base(p))
		}
	}
	sort.Strings(names)
	return names
}
