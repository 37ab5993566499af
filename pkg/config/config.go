// Package config loads flashboot settings from defaults, an optional
// flashboot.yaml and FLASHBOOT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/OffBroadway/flashboot/pkg/boot"
)

const (
	EnvPrefix = "FLASHBOOT"

	LayoutGeometry = "geometry"
	LayoutFixed    = "fixed"
)

var (
	ErrUnknownBoard  = errors.New("config: unknown board")
	ErrUnknownLayout = errors.New("config: unknown layout variant")
	ErrInvalid       = errors.New("config: invalid value")
)

// Boards maps a board name to the size of its filesystem flash in bytes.
var Boards = map[string]int64{
	"pico":            1024 * 1024,
	"pico_w":          848 * 1024,
	"picosystem":      7 * 1024 * 1024,
	"promicro_rp2350": 15 * 1024 * 1024,
}

type GeometryConfig struct {
	BlockSize  int64 `yaml:"block_size" mapstructure:"block_size"`
	BlockCount int64 `yaml:"block_count" mapstructure:"block_count"`
}

type LayoutConfig struct {
	Variant       string `yaml:"variant" mapstructure:"variant"`
	RootBlocks    int64  `yaml:"root_blocks" mapstructure:"root_blocks"`
	StorageBlocks int64  `yaml:"storage_blocks" mapstructure:"storage_blocks"`
}

type ServeConfig struct {
	FTP    string `yaml:"ftp" mapstructure:"ftp"`
	WebDAV string `yaml:"webdav" mapstructure:"webdav"`
}

type Config struct {
	Image    string         `yaml:"image" mapstructure:"image"`
	Board    string         `yaml:"board" mapstructure:"board"`
	Geometry GeometryConfig `yaml:"geometry" mapstructure:"geometry"`
	Layout   LayoutConfig   `yaml:"layout" mapstructure:"layout"`
	Recovery string         `yaml:"recovery" mapstructure:"recovery"`
	Serve    ServeConfig    `yaml:"serve" mapstructure:"serve"`
	LogLevel string         `yaml:"log_level" mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("image", "flash.img")
	v.SetDefault("board", "pico")
	v.SetDefault("geometry.block_size", boot.DefaultBlockSize)
	v.SetDefault("geometry.block_count", 0)
	v.SetDefault("layout.variant", LayoutGeometry)
	v.SetDefault("layout.root_blocks", boot.DefaultRootBlocks)
	v.SetDefault("layout.storage_blocks", boot.DefaultStorageBlocks)
	v.SetDefault("recovery", boot.PolicyAlways)
	v.SetDefault("serve.ftp", "")
	v.SetDefault("serve.webdav", "")
	v.SetDefault("log_level", "info")
}

// Load reads the configuration. When path is empty, flashboot.yaml is looked
// up in the working directory and /etc/flashboot, and a missing file is not
// an error.
func Load(fs afero.Fs, path string) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("flashboot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/flashboot/")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: unable to read config: %w", err)
		}
	}

	for _, key := range v.AllKeys() {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey); err != nil {
			return nil, fmt.Errorf("config: unable to bind env: %w", err)
		}
	}

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("config: unable to decode: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks names and sizes without touching any device.
func (c *Config) Validate() error {
	if c.Image == "" {
		return fmt.Errorf("%w: image path is empty", ErrInvalid)
	}
	if _, ok := Boards[c.Board]; !ok {
		return fmt.Errorf("%w: %q (known: %s)", ErrUnknownBoard, c.Board, strings.Join(BoardNames(), ", "))
	}
	if c.Geometry.BlockSize <= 0 {
		return fmt.Errorf("%w: geometry.block_size %d", ErrInvalid, c.Geometry.BlockSize)
	}
	if c.Geometry.BlockCount < 0 {
		return fmt.Errorf("%w: geometry.block_count %d", ErrInvalid, c.Geometry.BlockCount)
	}
	if c.BlockCount() <= 0 {
		return fmt.Errorf("%w: board %s holds less than one %d byte block", ErrInvalid, c.Board, c.Geometry.BlockSize)
	}
	layout, err := c.BuildLayout()
	if err != nil {
		return err
	}
	if _, err := layout.Regions(boot.Geometry{BlockSize: c.Geometry.BlockSize, BlockCount: c.BlockCount()}); err != nil {
		return fmt.Errorf("board %s: %w", c.Board, err)
	}
	if _, err := boot.PolicyByName(c.Recovery); err != nil {
		return err
	}
	return nil
}

// BlockCount is geometry.block_count, or the board's flash size in blocks
// when that is unset.
func (c *Config) BlockCount() int64 {
	if c.Geometry.BlockCount > 0 {
		return c.Geometry.BlockCount
	}
	return Boards[c.Board] / c.Geometry.BlockSize
}

// BuildLayout returns the region layout selected by layout.variant.
func (c *Config) BuildLayout() (boot.Layout, error) {
	switch c.Layout.Variant {
	case LayoutGeometry, "":
		if c.Layout.RootBlocks <= 0 {
			return nil, fmt.Errorf("%w: layout.root_blocks %d", ErrInvalid, c.Layout.RootBlocks)
		}
		return boot.GeometryLayout{RootBlocks: c.Layout.RootBlocks}, nil
	case LayoutFixed:
		if c.Layout.RootBlocks <= 0 || c.Layout.StorageBlocks <= 0 {
			return nil, fmt.Errorf("%w: layout.root_blocks %d, layout.storage_blocks %d",
				ErrInvalid, c.Layout.RootBlocks, c.Layout.StorageBlocks)
		}
		return boot.FixedLayout{
			BlockSize:     c.Geometry.BlockSize,
			RootBlocks:    c.Layout.RootBlocks,
			StorageBlocks: c.Layout.StorageBlocks,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayout, c.Layout.Variant)
	}
}

// Policy returns the recovery policy named by recovery.
func (c *Config) Policy() (boot.RecoveryPolicy, error) {
	return boot.PolicyByName(c.Recovery)
}

// BoardNames lists the known boards in order.
func BoardNames() []string {
	names := make([]string, 0, len(Boards))
	for name := range Boards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
