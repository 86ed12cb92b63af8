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

package daemon

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andreasschulze/tlsrpt-reporter/framework/hooks"
	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
)

// ServeMetrics exposes the Prometheus metrics of the process over HTTP
// on addr under /metrics. An empty addr disables the listener. The
// server is shut down by the daemon shutdown hooks.
func ServeMetrics(addr string, l log.Logger) (net.Listener, error) {
	if addr == "" {
		return nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	serv := http.Server{Handler: mux}

	lst, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	l.Printf("metrics listening on %s", lst.Addr())

	go func() {
		if err := serv.Serve(lst); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("metrics server failed", err)
		}
	}()
	hooks.AddHook(hooks.EventShutdown, func() {
		serv.Close()
	})
	return lst, nil
}
