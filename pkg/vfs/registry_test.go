package vfs

import (
	"io"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMountOrdering(t *testing.T) {
	reg := NewRegistry()

	err := reg.Mount(afero.NewMemMapFs(), "/storage", ReadWrite)
	assert.ErrorIs(t, err, ErrRootNotMounted)

	require.NoError(t, reg.Mount(afero.NewMemMapFs(), "/", ReadOnly))
	require.NoError(t, reg.Mount(afero.NewMemMapFs(), "/storage", ReadWrite))

	assert.ErrorIs(t, reg.Mount(afero.NewMemMapFs(), "/storage/", ReadWrite), ErrAlreadyMounted)
	assert.ErrorIs(t, reg.Mount(afero.NewMemMapFs(), "storage", ReadWrite), ErrInvalidPath)

	ms := reg.Mounts()
	require.Len(t, ms, 2)
	assert.Equal(t, "/", ms[0].Path)
	assert.Equal(t, ReadOnly, ms[0].Mode)
	assert.Equal(t, "/storage", ms[1].Path)
	assert.Equal(t, ReadWrite, ms[1].Mode)
}

func TestUnmount(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Mount(afero.NewMemMapFs(), "/", ReadOnly))
	require.NoError(t, reg.Mount(afero.NewMemMapFs(), "/storage", ReadWrite))

	assert.ErrorIs(t, reg.Unmount("/"), ErrBusy)
	assert.ErrorIs(t, reg.Unmount("/nothing"), ErrNotMounted)
	require.NoError(t, reg.Unmount("/storage"))
	require.NoError(t, reg.Unmount("/"))
	assert.Empty(t, reg.Mounts())

	require.NoError(t, reg.Mount(afero.NewMemMapFs(), "/", ReadOnly))
	require.NoError(t, reg.Mount(afero.NewMemMapFs(), "/storage", ReadWrite))
	reg.UnmountAll()
	assert.Empty(t, reg.Mounts())
	_, ok := reg.Lookup("/")
	assert.False(t, ok)
}

func TestReadOnlyMount(t *testing.T) {
	root := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(root, "/boot.py", []byte("# boot"), 0o644))

	reg := NewRegistry()
	require.NoError(t, reg.Mount(root, "/", ReadOnly))

	data, err := afero.ReadFile(reg, "/boot.py")
	require.NoError(t, err)
	assert.Equal(t, "# boot", string(data))

	assert.Error(t, afero.WriteFile(reg, "/main.py", []byte("x"), 0o644))
	assert.Error(t, reg.Mkdir("/lib", 0o755))

	m, ok := reg.Lookup("/")
	require.True(t, ok)
	assert.Same(t, root, m.Source)
}

func TestRouting(t *testing.T) {
	root := afero.NewMemMapFs()
	storage := afero.NewMemMapFs()

	reg := NewRegistry()
	require.NoError(t, reg.Mount(root, "/", ReadOnly))
	require.NoError(t, reg.Mount(storage, "/storage", ReadWrite))

	require.NoError(t, afero.WriteFile(reg, "/storage/notes.txt", []byte("hi"), 0o644))
	exists, err := afero.Exists(storage, "/notes.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = afero.Exists(root, "/storage/notes.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	info, err := reg.Stat("/storage")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, reg.MkdirAll("/storage/a/b", 0o755))
	require.NoError(t, reg.Rename("/storage/notes.txt", "/storage/a/b/notes.txt"))
	_, err = storage.Stat("/a/b/notes.txt")
	assert.NoError(t, err)

	err = reg.Rename("/storage/a/b/notes.txt", "/notes.txt")
	assert.ErrorIs(t, err, ErrCrossDevice)

	assert.ErrorIs(t, reg.Remove("/storage"), ErrBusy)
}

func TestResolveWithoutRoot(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Open("/anything")
	assert.ErrorIs(t, err, ErrNotMounted)

	_, err = reg.Stat("/missing")
	assert.IsType(t, &os.PathError{}, err)
}

func TestRootListsMountPoints(t *testing.T) {
	root := afero.NewMemMapFs()
	require.NoError(t, root.Mkdir("/lib", 0o755))
	require.NoError(t, afero.WriteFile(root, "/boot.py", nil, 0o644))

	reg := NewRegistry()
	require.NoError(t, reg.Mount(root, "/", ReadOnly))
	require.NoError(t, reg.Mount(afero.NewMemMapFs(), "/storage", ReadWrite))

	names, err := afero.ReadDir(reg, "/")
	require.NoError(t, err)
	var got []string
	for _, info := range names {
		got = append(got, info.Name())
	}
	assert.ElementsMatch(t, []string{"lib", "boot.py", "storage"}, got)

	dir, err := reg.Open("/")
	require.NoError(t, err)
	defer dir.Close()

	var paged []string
	for {
		infos, err := dir.Readdir(1)
		for _, info := range infos {
			paged = append(paged, info.Name())
		}
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.ElementsMatch(t, []string{"lib", "boot.py", "storage"}, paged)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "ro", ReadOnly.String())
	assert.Equal(t, "rw", ReadWrite.String())
	assert.Equal(t, "Mode(7)", Mode(7).String())
}
