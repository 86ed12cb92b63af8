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

// Package fetcher reads a finished collectd day store and hands its
// contents to reportd over stdout. The fetcher is tightly coupled to the
// collectd and shares its configuration and store format.
package fetcher

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
	"github.com/andreasschulze/tlsrpt-reporter/internal/tlsrpt"
)

// Source reads report data for one day. FetchDomainList writes the
// version banner, the current time, the available day and the domain
// list terminated by a single dot. FetchDomainDetails writes the
// aggregated JSON details for one domain.
type Source interface {
	FetchDomainList(w io.Writer, reportDay string) error
	FetchDomainDetails(w io.Writer, reportDay, domain string) error
	Close() error
}

// FactoryFunc creates a source from its (already parsed) storage URL.
type FactoryFunc func(u *url.URL, cfg *config.Fetcher, logger log.Logger) (Source, error)

var sources = map[string]FactoryFunc{}

// RegisterSource makes a source scheme available to NewSource.
func RegisterSource(scheme string, f FactoryFunc) {
	sources[scheme] = f
}

// NewSource creates the source for the first configured storage URL. The
// storage option is parsed the same way the collectd parses it, but only
// the first entry is used; the rest is warned about and ignored.
func NewSource(cfg *config.Fetcher, logger log.Logger) (Source, error) {
	urls := strings.Split(cfg.Storage, ",")
	rawURL := urls[0]
	for _, ignored := range urls[1:] {
		logger.Msg("ignoring additional storage", "url", ignored)
	}

	unescaped, err := url.QueryUnescape(rawURL)
	if err != nil {
		return nil, usageError(rawURL, err)
	}
	u, err := url.Parse(unescaped)
	if err != nil {
		return nil, usageError(rawURL, err)
	}
	f, ok := sources[u.Scheme]
	if !ok {
		return nil, usageError(rawURL, fmt.Errorf("unknown storage scheme %q", u.Scheme))
	}
	src, err := f(u, cfg, logger)
	if err != nil {
		return nil, usageError(rawURL, err)
	}
	return src, nil
}

func usageError(rawURL string, err error) error {
	return &tlsrpt.ExitError{Code: tlsrpt.ExitUsage,
		Err: fmt.Errorf("fetcher: cannot create fetcher from storage URL %q: %w", rawURL, err)}
}
