package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/afero"

	"github.com/OffBroadway/flashboot/pkg/boot"
	"github.com/OffBroadway/flashboot/pkg/config"
	"github.com/OffBroadway/flashboot/pkg/flash"
	"github.com/OffBroadway/flashboot/pkg/vfs"
)

func main() {
	image := flag.String("image", "flash.img", "flash image path")
	board := flag.String("board", "pico", "board preset that sizes the image")
	blockSize := flag.Int64("block-size", boot.DefaultBlockSize, "erase block size in bytes")
	blocks := flag.Int64("blocks", 0, "block count, overrides the board preset")
	erase := flag.Bool("erase", false, "erase every block of the image")
	list := flag.Bool("list", false, "list the files on both volumes without formatting")
	flag.Parse()

	count, err := blockCount(*board, *blockSize, *blocks)
	if err != nil {
		log.Fatalf("flashimg: %v", err)
	}

	img, err := flash.OpenImage(afero.NewOsFs(), *image, *blockSize, count)
	if err != nil {
		log.Fatalf("flashimg: %v", err)
	}
	defer img.Close()

	switch {
	case *erase:
		err = img.EraseBlocks(0, count)
	case *list:
		err = listVolumes(os.Stdout, img)
	}
	if err == nil {
		err = img.Sync()
	}
	if err != nil {
		img.Close()
		log.Fatalf("flashimg: %v", err)
	}
	fmt.Printf("%s: %d blocks of %d bytes\n", *image, count, *blockSize)
}

func blockCount(board string, blockSize, blocks int64) (int64, error) {
	if blocks > 0 {
		return blocks, nil
	}
	conf := &config.Config{Board: board, Geometry: config.GeometryConfig{BlockSize: blockSize}}
	if _, ok := config.Boards[board]; !ok {
		return 0, fmt.Errorf("%w: %q", config.ErrUnknownBoard, board)
	}
	if blockSize <= 0 || conf.BlockCount() <= 0 {
		return 0, fmt.Errorf("%w: block size %d", config.ErrInvalid, blockSize)
	}
	return conf.BlockCount(), nil
}

func neverFormat(boot.Kind) bool { return false }

// listVolumes mounts both regions as they are and prints every file.
func listVolumes(out io.Writer, dev flash.Device) error {
	reg := vfs.NewRegistry()
	seq := &boot.Sequencer{Device: dev, Policy: neverFormat}
	if _, err := seq.Run(reg); err != nil {
		return err
	}

	for _, m := range reg.Mounts() {
		err := afero.Walk(m.Fs, "/", func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			fmt.Fprintf(out, "FILE: %s (%d bytes)\n", joinMount(m.Path, path), info.Size())
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func joinMount(mount, p string) string {
	if mount == vfs.Root {
		return p
	}
	return mount + p
}
