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

import "github.com/prometheus/client_golang/prometheus"

var datagramsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tlsrpt",
		Subsystem: "collectd",
		Name:      "datagrams_total",
		Help:      "Amount of datagrams received",
	},
)

var invalidDatagramsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tlsrpt",
		Subsystem: "collectd",
		Name:      "invalid_datagrams_total",
		Help:      "Amount of datagrams that could not be parsed",
	},
)

var commitsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tlsrpt",
		Subsystem: "collectd",
		Name:      "commits_total",
		Help:      "Amount of database commits",
	},
)

var rolloversTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tlsrpt",
		Subsystem: "collectd",
		Name:      "rollovers_total",
		Help:      "Amount of day roll-overs",
	},
)

func init() {
	prometheus.MustRegister(datagramsTotal, invalidDatagramsTotal, commitsTotal, rolloversTotal)
}
