package main

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OffBroadway/flashboot/pkg/boot"
	"github.com/OffBroadway/flashboot/pkg/config"
	"github.com/OffBroadway/flashboot/pkg/flash"
	"github.com/OffBroadway/flashboot/pkg/vfs"
)

func TestBlockCount(t *testing.T) {
	n, err := blockCount("pico", 4096, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(256), n)

	n, err = blockCount("pico", 4096, 350)
	require.NoError(t, err)
	assert.Equal(t, int64(350), n)

	_, err = blockCount("esp32", 4096, 0)
	assert.ErrorIs(t, err, config.ErrUnknownBoard)

	_, err = blockCount("pico", 0, 0)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestListVolumes(t *testing.T) {
	mem, err := flash.NewMemory(4096, 350)
	require.NoError(t, err)

	// a blank device is never formatted by a listing
	err = listVolumes(&bytes.Buffer{}, mem)
	assert.ErrorIs(t, err, boot.ErrMountFailed)

	reg := vfs.NewRegistry()
	_, err = (&boot.Sequencer{Device: mem}).Run(reg)
	require.NoError(t, err)
	require.NoError(t, reg.MkdirAll("/storage/logs", 0o755))
	require.NoError(t, afero.WriteFile(reg, "/storage/logs/boot.txt", []byte("ok"), 0o644))

	var out bytes.Buffer
	require.NoError(t, listVolumes(&out, mem))
	assert.Equal(t, "FILE: /storage/logs/boot.txt (2 bytes)\n", out.String())
}
