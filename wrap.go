package main

import (
	"context"
	"io"
	stdlog "log"
	"net/http"
	"os"

	log "github.com/fclairamb/go-log"
	"github.com/gorilla/handlers"
	"github.com/spf13/afero"
	"golang.org/x/net/webdav"
)

const webdavPrefix = "/flash"

// FS exposes an afero filesystem as a webdav.FileSystem.
type FS struct {
	afero.Fs
	logger log.Logger
}

func newFS(fs afero.Fs, logger log.Logger) *FS {
	return &FS{
		Fs:     fs,
		logger: logger,
	}
}

func (f *FS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	f.logger.Debug("webdav Mkdir", "name", name)
	return f.Fs.Mkdir(name, perm)
}

func (f *FS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	f.logger.Debug("webdav OpenFile", "name", name, "flag", flag)
	return f.Fs.OpenFile(name, flag, perm)
}

func (f *FS) RemoveAll(ctx context.Context, name string) error {
	f.logger.Debug("webdav RemoveAll", "name", name)
	return f.Fs.RemoveAll(name)
}

func (f *FS) Rename(ctx context.Context, oldName, newName string) error {
	f.logger.Debug("webdav Rename", "from", oldName, "to", newName)
	return f.Fs.Rename(oldName, newName)
}

func (f *FS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	return f.Fs.Stat(name)
}

func newHandler(fs webdav.FileSystem, prefix string) http.Handler {
	return &webdav.Handler{
		Prefix:     prefix,
		FileSystem: fs,
		LockSystem: webdav.NewMemLS(),
	}
}

// newWebDAVServer serves fs under webdavPrefix with an access log on out.
func newWebDAVServer(fs afero.Fs, logger log.Logger, out io.Writer) *http.Server {
	h := newHandler(newFS(fs, logger), webdavPrefix)
	return &http.Server{
		Handler:  handlers.LoggingHandler(out, h),
		ErrorLog: stdlog.New(out, "http: ", stdlog.LstdFlags),
	}
}
