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

// Package collectd receives TLSRPT datagrams from the MTA on a unix
// domain socket and aggregates them per day into one or more storage
// backends.
package collectd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
	"github.com/andreasschulze/tlsrpt-reporter/internal/tlsrpt"
)

// Backend aggregates datagrams handed to it by the socket server.
//
// SocketTimeout is called whenever the receive socket went idle; backends
// use it for housekeeping such as flushing batched writes. SwitchToNextDay
// finishes the running day; develMode additionally relabels today's data
// as yesterday's so a rollover can be exercised without waiting for
// midnight.
type Backend interface {
	AddDatagram(dg *tlsrpt.Datagram) error
	SocketTimeout() error
	SwitchToNextDay(develMode bool) error
	Close() error
}

// FactoryFunc creates a backend from its (already parsed) storage URL.
type FactoryFunc func(u *url.URL, cfg *config.Collectd, logger log.Logger) (Backend, error)

var backends = map[string]FactoryFunc{}

// RegisterBackend makes a backend scheme available to NewBackend.
func RegisterBackend(scheme string, f FactoryFunc) {
	backends[scheme] = f
}

// NewBackend creates the backend a single storage URL asks for.
func NewBackend(rawURL string, cfg *config.Collectd, logger log.Logger) (Backend, error) {
	unescaped, err := url.QueryUnescape(rawURL)
	if err != nil {
		return nil, fmt.Errorf("collectd: malformed storage URL %q: %w", rawURL, err)
	}
	u, err := url.Parse(unescaped)
	if err != nil {
		return nil, fmt.Errorf("collectd: malformed storage URL %q: %w", rawURL, err)
	}
	f, ok := backends[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("collectd: unknown storage scheme %q in %q", u.Scheme, rawURL)
	}
	return f(u, cfg, logger)
}

// NewBackends creates one backend per entry of the comma-separated
// storage option. Empty entries are skipped; an empty result is a usage
// error since the daemon would silently discard all data.
func NewBackends(cfg *config.Collectd, logger log.Logger) ([]Backend, error) {
	var out []Backend
	for _, rawURL := range strings.Split(cfg.Storage, ",") {
		if rawURL == "" {
			continue
		}
		b, err := NewBackend(rawURL, cfg, logger)
		if err != nil {
			for _, open := range out {
				open.Close()
			}
			return nil, err
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, &tlsrpt.ExitError{Code: tlsrpt.ExitUsage,
			Err: fmt.Errorf("collectd: no storage configured")}
	}
	return out, nil
}
