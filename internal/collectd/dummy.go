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
	"net/url"

	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
	"github.com/andreasschulze/tlsrpt-reporter/internal/tlsrpt"
)

// Dummy discards all datagrams, optionally logging them. It exists to
// exercise fan-out over multiple backends, configured as "dummy:" or
// "dummy:?log".
type Dummy struct {
	doLog bool
	log   log.Logger
}

func init() {
	RegisterBackend("dummy", newDummy)
}

func newDummy(u *url.URL, _ *config.Collectd, logger log.Logger) (Backend, error) {
	return &Dummy{doLog: u.RawQuery == "log", log: logger}, nil
}

func (d *Dummy) AddDatagram(dg *tlsrpt.Datagram) error {
	if d.doLog {
		d.log.Msg("dummy collectd got datagram", "domain", dg.Domain)
	}
	return nil
}

func (d *Dummy) SocketTimeout() error {
	if d.doLog {
		d.log.Msg("dummy collectd got socket timeout")
	}
	return nil
}

func (d *Dummy) SwitchToNextDay(develMode bool) error { return nil }

func (d *Dummy) Close() error { return nil }
