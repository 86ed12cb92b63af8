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

package reportd

import "github.com/prometheus/client_golang/prometheus"

var domainCollectionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tlsrpt",
		Subsystem: "reportd",
		Name:      "domain_collections_total",
		Help:      "Amount of completed per-fetcher domain list collections",
	},
)

var detailFetchesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tlsrpt",
		Subsystem: "reportd",
		Name:      "detail_fetches_total",
		Help:      "Amount of per-domain detail data sets fetched",
	},
)

var reportsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tlsrpt",
		Subsystem: "reportd",
		Name:      "reports_total",
		Help:      "Amount of reports rendered",
	},
)

var deliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tlsrpt",
		Subsystem: "reportd",
		Name:      "deliveries_total",
		Help:      "Amount of delivery attempts by result",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(domainCollectionsTotal, detailFetchesTotal, reportsTotal, deliveriesTotal)
}
