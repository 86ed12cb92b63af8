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

// Package tlsrpt contains the shared vocabulary of the reporting pipeline:
// the MTA datagram model, the TLSRPT DNS record parser, domain name
// normalization and the RFC 8460 value mappings used by the report
// renderer.
package tlsrpt

// Constants shared by the daemons. The purpose suffix ties a store file to
// the schema generation that created it.
const (
	DBPurposeSuffix = "-devel-2024-10-28"

	FetcherVersionStringV1 = "TLSRPT FETCHER v1devel-c domain list"

	// TimeFormat is the wall-clock format used on the fetcher protocol
	// header line.
	TimeFormat = "2006-01-02 15:04:05"

	// MaxReadFetcher bounds how much reportd reads from a fetcher
	// subprocess; MaxReadCollectd bounds a single datagram.
	MaxReadFetcher  = 16 * 1024 * 1024
	MaxReadCollectd = 16 * 1024 * 1024
)

// Process exit codes. Distinct codes for setup failures allow init systems
// to distinguish a misconfigured daemon from a crashed one.
const (
	ExitUsage                  = 2
	ExitDBSetupFailure         = 3
	ExitWrongDBVersion         = 4
	ExitShutdownSocketClose    = 5
	ExitShutdownCollectdPlugin = 6
	ExitSocket                 = 7
	ExitOther                  = 8
)

// DatagramProtocolVersion is the only value of the "dpv" key the collectd
// fully understands. Other values are logged but processed best-effort.
const DatagramProtocolVersion = "1"
