/*
TLSRPT Reporter - aggregation and delivery for SMTP TLS Reporting (RFC 8460).
Copyright © 2024-2026 TLSRPT Reporter contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package collectd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
	"github.com/andreasschulze/tlsrpt-reporter/internal/tlsrpt"
)

// Server owns the unix domain datagram socket the MTA writes to and fans
// every datagram out to all configured backends.
type Server struct {
	cfg      *config.Collectd
	log      log.Logger
	backends []Backend

	sock *net.UnixConn
	buf  []byte
}

// NewServer binds the receive socket and applies the configured socket
// owner, group and permissions.
func NewServer(cfg *config.Collectd, backends []Backend, logger log.Logger) (*Server, error) {
	if cfg.SocketName == "" {
		return nil, &tlsrpt.ExitError{Code: tlsrpt.ExitUsage,
			Err: fmt.Errorf("collectd: no socketname configured")}
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		backends: backends,
		buf:      make([]byte, tlsrpt.MaxReadCollectd),
	}
	s.removeSocket("startup")

	logger.Printf("listening on socket '%s'", cfg.SocketName)
	sock, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: cfg.SocketName, Net: "unixgram"})
	if err != nil {
		return nil, &tlsrpt.ExitError{Code: tlsrpt.ExitSocket,
			Err: fmt.Errorf("collectd: error binding socket: %w", err)}
	}
	s.sock = sock
	s.adjustSocketOwner()
	s.adjustSocketMode()
	return s, nil
}

// removeSocket unlinks a stale socket file. The when string tells apart
// startup cleanup from shutdown cleanup in the logs.
func (s *Server) removeSocket(when string) {
	if err := os.Remove(s.cfg.SocketName); err != nil && !os.IsNotExist(err) {
		s.log.Error(fmt.Sprintf("failed to remove existing socket %s during %s", s.cfg.SocketName, when), err)
	}
}

// adjustSocketOwner hands the socket over to the MTA's user or group. A
// failing chown is logged but not fatal, the daemon may already run as
// the right user.
func (s *Server) adjustSocketOwner() {
	uid, gid := -1, -1
	if s.cfg.SocketUser != "" {
		u, err := user.Lookup(s.cfg.SocketUser)
		if err != nil {
			s.log.Error(fmt.Sprintf("could not look up socket user %s", s.cfg.SocketUser), err)
			return
		}
		uid, _ = strconv.Atoi(u.Uid)
	}
	if s.cfg.SocketGroup != "" {
		g, err := user.LookupGroup(s.cfg.SocketGroup)
		if err != nil {
			s.log.Error(fmt.Sprintf("could not look up socket group %s", s.cfg.SocketGroup), err)
			return
		}
		gid, _ = strconv.Atoi(g.Gid)
	}
	if uid == -1 && gid == -1 {
		return
	}
	s.log.Printf("chowning socket %s to user %s group %s", s.cfg.SocketName, s.cfg.SocketUser, s.cfg.SocketGroup)
	if err := os.Chown(s.cfg.SocketName, uid, gid); err != nil {
		s.log.Error(fmt.Sprintf("could not chown socket %s", s.cfg.SocketName), err)
	}
}

func (s *Server) adjustSocketMode() {
	if s.cfg.SocketMode == "" {
		return
	}
	mode, err := strconv.ParseUint(s.cfg.SocketMode, 8, 32)
	if err != nil {
		s.log.Error(fmt.Sprintf("could not parse socketmode %s", s.cfg.SocketMode), err)
		return
	}
	if s.cfg.SocketMode[0] != '0' {
		s.log.Msg("config option socketmode does not look like octal", "socketmode", s.cfg.SocketMode)
	}
	s.log.Printf("chmoding socket %s to permissions 0%o", s.cfg.SocketName, mode)
	if err := os.Chmod(s.cfg.SocketName, os.FileMode(mode)); err != nil {
		s.log.Error(fmt.Sprintf("could not chmod socket %s to mode %s", s.cfg.SocketName, s.cfg.SocketMode), err)
	}
}

// Run receives datagrams until ctx is canceled. SIGUSR2 forces a
// development day roll-over on all backends; socket read timeouts are
// forwarded so backends can flush.
func (s *Server) Run(ctx context.Context) error {
	develRollover := make(chan os.Signal, 1)
	signal.Notify(develRollover, syscall.SIGUSR2)
	defer signal.Stop(develRollover)

	timeout := time.Duration(s.cfg.SocketTimeout) * time.Second
	for {
		select {
		case <-ctx.Done():
			return s.shutdown()
		case sig := <-develRollover:
			s.log.Printf("caught signal %d, enforce debug day roll-over for development", sig)
			for _, b := range s.backends {
				if err := b.SwitchToNextDay(true); err != nil {
					s.log.Error("development day roll-over failed", err)
				}
			}
		default:
		}

		if err := s.sock.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return &tlsrpt.ExitError{Code: tlsrpt.ExitSocket, Err: err}
		}
		n, err := s.sock.Read(s.buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				s.socketTimeout()
				continue
			}
			if ctx.Err() != nil {
				return s.shutdown()
			}
			return &tlsrpt.ExitError{Code: tlsrpt.ExitSocket,
				Err: fmt.Errorf("collectd: socket read failed: %w", err)}
		}
		s.handleDatagram(s.buf[:n])
	}
}

func (s *Server) socketTimeout() {
	for _, b := range s.backends {
		if err := b.SocketTimeout(); err != nil {
			s.log.Error("error processing socket timeout", err)
		}
	}
}

func (s *Server) handleDatagram(data []byte) {
	dg, err := tlsrpt.UnmarshalDatagram(data)
	if err != nil {
		invalidDatagramsTotal.Inc()
		s.log.Error("cannot decode datagram", err)
		s.dumpInvalidDatagram(data)
		return
	}
	datagramsTotal.Inc()
	for _, b := range s.backends {
		if err := b.AddDatagram(dg); err != nil {
			s.log.Error("error during processing datagram", err, "domain", dg.Domain)
		}
	}
}

// dumpInvalidDatagram saves the raw bytes of an unparsable datagram for
// later analysis.
func (s *Server) dumpInvalidDatagram(data []byte) {
	path := s.cfg.DumpPathForInvalidDatagram
	if path == "" {
		return
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		s.log.Error(fmt.Sprintf("cannot dump invalid datagram to %s", path), err)
	}
}

// shutdown closes the socket and gives every backend a final flush. All
// steps run even if one fails so shutdown always completes.
func (s *Server) shutdown() error {
	s.log.Println("caught shutdown signal, cleaning up")
	var exitErr error
	if err := s.sock.Close(); err != nil {
		s.log.Error("exception during shutdown", err)
		exitErr = &tlsrpt.ExitError{Code: tlsrpt.ExitShutdownSocketClose, Err: err}
	}
	s.removeSocket("shutdown")
	for _, b := range s.backends {
		s.log.Println("triggering socket timeout on collectd")
		if err := b.SocketTimeout(); err != nil {
			s.log.Error("exception during shutdown", err)
			exitErr = &tlsrpt.ExitError{Code: tlsrpt.ExitShutdownCollectdPlugin, Err: err}
		}
		if err := b.Close(); err != nil {
			s.log.Error("exception during shutdown", err)
			exitErr = &tlsrpt.ExitError{Code: tlsrpt.ExitShutdownCollectdPlugin, Err: err}
		}
	}
	s.log.Println("done")
	return exitErr
}
