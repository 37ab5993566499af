package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	ftpserver "github.com/fclairamb/ftpserverlib"
	log "github.com/fclairamb/go-log"
	"github.com/spf13/afero"
)

var errNoTLS = errors.New("ftp: TLS is not configured")

// FTPServer serves one filesystem to every client without authentication.
type FTPServer struct {
	Settings   *ftpserver.Settings
	FileSystem afero.Fs
	Logger     log.Logger

	mu      sync.Mutex
	clients map[uint32]ftpserver.ClientContext
}

func (s *FTPServer) GetSettings() (*ftpserver.Settings, error) {
	return s.Settings, nil
}

func (s *FTPServer) GetTLSConfig() (*tls.Config, error) {
	return nil, errNoTLS
}

func (s *FTPServer) ClientConnected(cc ftpserver.ClientContext) (string, error) {
	s.Logger.Info("FTP client connected", "clientId", cc.ID(), "remoteAddr", cc.RemoteAddr())
	s.mu.Lock()
	if s.clients == nil {
		s.clients = make(map[uint32]ftpserver.ClientContext)
	}
	s.clients[cc.ID()] = cc
	s.mu.Unlock()
	return fmt.Sprintf("flashboot ftp, client %d", cc.ID()), nil
}

func (s *FTPServer) ClientDisconnected(cc ftpserver.ClientContext) {
	s.Logger.Info("FTP client disconnected", "clientId", cc.ID())
	s.mu.Lock()
	delete(s.clients, cc.ID())
	s.mu.Unlock()
}

func (s *FTPServer) AuthUser(cc ftpserver.ClientContext, user, _ string) (ftpserver.ClientDriver, error) {
	s.Logger.Debug("FTP login", "clientId", cc.ID(), "user", user)
	return s.FileSystem, nil
}

// DisconnectAll closes every client session and waits up to timeout for
// their handlers to exit. It reports how many were still running.
func (s *FTPServer) DisconnectAll(timeout time.Duration) int {
	s.mu.Lock()
	for id, cc := range s.clients {
		if err := cc.Close(); err != nil {
			s.Logger.Warn("Closing FTP client", "clientId", id, "err", err)
		}
	}
	s.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		n := len(s.clients)
		s.mu.Unlock()
		if n == 0 || time.Now().After(deadline) {
			return n
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newFTPServer(addr string, fs afero.Fs, logger log.Logger) (*ftpserver.FtpServer, *FTPServer) {
	driver := &FTPServer{
		Settings: &ftpserver.Settings{
			ListenAddr: addr,
		},
		FileSystem: fs,
		Logger:     logger,
	}
	srv := ftpserver.NewFtpServer(driver)
	srv.Logger = logger
	return srv, driver
}
