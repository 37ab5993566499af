package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	ftpserver "github.com/fclairamb/ftpserverlib"
	log "github.com/fclairamb/go-log"
	golog "github.com/fclairamb/go-log/logrus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/OffBroadway/flashboot/pkg/boot"
	"github.com/OffBroadway/flashboot/pkg/config"
	"github.com/OffBroadway/flashboot/pkg/flash"
	"github.com/OffBroadway/flashboot/pkg/vfs"
)

func main() {
	configPath := flag.String("config", "", "path to flashboot.yaml")
	flag.Parse()

	osfs := afero.NewOsFs()
	conf, err := config.Load(osfs, *configPath)
	if err != nil {
		stdlog.Fatalf("flashboot: %v", err)
	}

	logger, err := newLogger(conf.LogLevel)
	if err != nil {
		stdlog.Fatalf("flashboot: %v", err)
	}

	if err := run(conf, osfs, logger); err != nil {
		stdlog.Fatalf("flashboot: %v", err)
	}
}

func newLogger(level string) (log.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	l := logrus.New()
	l.SetLevel(lvl)
	return golog.NewWrap(l), nil
}

func run(conf *config.Config, osfs afero.Fs, logger log.Logger) error {
	img, err := flash.OpenImage(osfs, conf.Image, conf.Geometry.BlockSize, conf.BlockCount())
	if err != nil {
		return fmt.Errorf("opening flash image %s: %w", conf.Image, err)
	}
	defer img.Close()

	layout, err := conf.BuildLayout()
	if err != nil {
		return err
	}
	policy, err := conf.Policy()
	if err != nil {
		return err
	}

	reg := vfs.NewRegistry()
	seq := &boot.Sequencer{
		Device: img,
		Layout: layout,
		Policy: policy,
		Logger: logger.With("image", conf.Image),
	}
	outcomes, err := seq.Run(reg)
	if err != nil {
		return err
	}
	printMounts(os.Stdout, reg, outcomes)

	if conf.Serve.FTP == "" && conf.Serve.WebDAV == "" {
		return img.Sync()
	}
	return serve(conf, img, seq, reg, logger)
}

// service is a frontend that can be stopped and started again around a
// soft reboot.
type service interface {
	start() error
	stop()
}

// frontends runs the FTP and WebDAV servers. Each start builds fresh
// servers, since a closed http.Server cannot be reused.
type frontends struct {
	conf   *config.Config
	reg    *vfs.Registry
	logger log.Logger
	errc   chan error

	ftp    *ftpserver.FtpServer
	driver *FTPServer
	webdav *http.Server
}

func (f *frontends) start() error {
	if f.conf.Serve.FTP != "" {
		f.ftp, f.driver = newFTPServer(f.conf.Serve.FTP, f.reg, f.logger)
		if err := f.ftp.Listen(); err != nil {
			return err
		}
		srv := f.ftp
		go func() {
			if err := srv.Serve(); err != nil {
				f.errc <- err
			}
		}()
		f.logger.Info("Serving FTP", "addr", f.conf.Serve.FTP)
	}

	if f.conf.Serve.WebDAV != "" {
		ln, err := net.Listen("tcp", f.conf.Serve.WebDAV)
		if err != nil {
			f.stop()
			return err
		}
		server := newWebDAVServer(f.reg, f.logger, os.Stdout)
		f.webdav = server
		go func() {
			if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				f.errc <- err
			}
		}()
		f.logger.Info("Serving WebDAV", "addr", ln.Addr().String(), "prefix", webdavPrefix)
	}
	return nil
}

// stop closes the listeners and waits for in-flight requests so that no
// client still holds a file of a volume about to be unmounted.
func (f *frontends) stop() {
	if f.ftp != nil {
		if err := f.ftp.Stop(); err != nil {
			f.logger.Warn("Stopping FTP", "err", err)
		}
		if n := f.driver.DisconnectAll(drainTimeout); n > 0 {
			f.logger.Warn("FTP clients still running", "count", n)
		}
		f.ftp, f.driver = nil, nil
	}
	if f.webdav != nil {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		if err := f.webdav.Shutdown(ctx); err != nil {
			f.webdav.Close()
		}
		cancel()
		f.webdav = nil
	}
}

const drainTimeout = 5 * time.Second

// serve exposes the mount namespace until SIGINT or SIGTERM. SIGHUP is a
// soft reboot: every mount is dropped and storage is brought up again.
func serve(conf *config.Config, img *flash.ImageFile, seq *boot.Sequencer, reg *vfs.Registry, logger log.Logger) error {
	fe := &frontends{conf: conf, reg: reg, logger: logger, errc: make(chan error, 2)}
	if err := fe.start(); err != nil {
		return err
	}
	defer fe.stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sig)

	for {
		select {
		case err := <-fe.errc:
			return err
		case s := <-sig:
			if s != syscall.SIGHUP {
				logger.Info("Shutting down", "signal", s.String())
				fe.stop()
				return img.Sync()
			}
			logger.Info("Soft reboot")
			if err := softReboot(img, seq, reg, fe, os.Stdout); err != nil {
				return err
			}
		}
	}
}

// softReboot remounts every region with the frontends stopped.
func softReboot(img *flash.ImageFile, seq *boot.Sequencer, reg *vfs.Registry, fe service, out io.Writer) error {
	fe.stop()
	if err := img.Sync(); err != nil {
		return err
	}
	reg.UnmountAll()
	outcomes, err := seq.Run(reg)
	if err != nil {
		return err
	}
	printMounts(out, reg, outcomes)
	return fe.start()
}

func printMounts(out io.Writer, reg *vfs.Registry, outcomes []boot.Outcome) {
	formatted := make(map[string]bool, len(outcomes))
	labels := make(map[string]string, len(outcomes))
	for _, o := range outcomes {
		formatted[o.Path] = o.Formatted
		labels[o.Path] = o.Label
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tMODE\tLABEL\tFORMATTED")
	for _, m := range reg.Mounts() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", m.Path, m.Mode, labels[m.Path], formatted[m.Path])
	}
	w.Flush()
}
