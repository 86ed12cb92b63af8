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

// Package daemon holds the process-level plumbing shared by the three
// commands: log output composition, the PID file and error-to-exit-code
// conversion.
package daemon

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/andreasschulze/tlsrpt-reporter/framework/hooks"
	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
	"github.com/andreasschulze/tlsrpt-reporter/internal/tlsrpt"
)

// reopenableFile is an append-only log file that can be closed and
// reopened under the same path, so external log rotation works without
// restarting the daemon.
type reopenableFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func openReopenable(path string) (*reopenableFile, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &reopenableFile{path: path, f: f}, nil
}

func (r *reopenableFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return 0, os.ErrClosed
	}
	return r.f.Write(p)
}

func (r *reopenableFile) reopen() error {
	f, err := os.OpenFile(r.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	r.mu.Lock()
	old := r.f
	r.f = f
	r.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

func (r *reopenableFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

var sigusr1Once sync.Once

// handleSIGUSR1 turns SIGUSR1 into the log rotation event.
func handleSIGUSR1() {
	sigusr1Once.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGUSR1)
		go func() {
			for range ch {
				hooks.RunHooks(hooks.EventLogRotate)
			}
		}()
	})
}

// SetupLogging builds the daemon logger: stderr, plus an appended logfile
// when one is configured. SIGUSR1 reopens the logfile.
func SetupLogging(name, logFileName string, debug bool) (log.Logger, error) {
	out := log.WriterOutput(os.Stderr, true)
	if logFileName != "" {
		f, err := openReopenable(logFileName)
		if err != nil {
			return log.Logger{}, fmt.Errorf("%s: cannot open log file: %w", name, err)
		}
		hooks.AddHook(hooks.EventShutdown, func() {
			f.Close()
		})
		hooks.AddHook(hooks.EventLogRotate, func() {
			if err := f.reopen(); err != nil {
				fmt.Fprintf(os.Stderr, "%s: cannot reopen log file: %v\n", name, err)
			}
		})
		handleSIGUSR1()
		out = log.MultiOutput(out, log.WriterOutput(f, true))
	}
	return log.Logger{Out: out, Name: name, Debug: debug}, nil
}

// WritePIDFile writes the process id to path and returns a cleanup
// function. Both write and removal problems are warnings, the daemon
// keeps running without a PID file.
func WritePIDFile(path string, l log.Logger) func() {
	if path == "" {
		return func() {}
	}
	pid := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(path, []byte(pid), 0644); err != nil {
		l.Error("cannot write PID file", err, "path", path)
		return func() {}
	}
	return func() {
		if err := os.Remove(path); err != nil {
			l.Error("cannot remove PID file", err, "path", path)
		}
	}
}

// Exit runs the shutdown hooks, logs err if any and returns the process
// exit code for it.
func Exit(l log.Logger, err error) int {
	hooks.RunHooks(hooks.EventShutdown)
	if err != nil {
		l.Error("fatal error", err)
	}
	return tlsrpt.ExitCodeFor(err)
}
