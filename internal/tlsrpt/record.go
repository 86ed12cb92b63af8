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

package tlsrpt

import (
	"fmt"
	"strings"
)

// MalformedRecordError is returned by ParseRecord for TLSRPT records that
// do not follow the "v=TLSRPTv1; rua=..." shape. The renderer logs it and
// skips destination creation for the affected report.
type MalformedRecordError struct {
	Reason string
}

func (e MalformedRecordError) Error() string {
	return "tlsrpt: malformed record: " + e.Reason
}

// ParseRecord extracts the rua= destination URIs from a TLSRPTv1 DNS
// record. Destinations are returned verbatim, in record order.
func ParseRecord(record string) ([]string, error) {
	// First split into the main parts: version and RUAs.
	parts := strings.Split(record, ";")
	if len(parts) < 2 {
		return nil, MalformedRecordError{Reason: "no semicolon found"}
	}
	if parts[0] != "v=TLSRPTv1" {
		return nil, MalformedRecordError{Reason: fmt.Sprintf("unsupported version %q", parts[0])}
	}
	ruaPart := strings.TrimSpace(parts[1])
	if !strings.HasPrefix(ruaPart, "rua=") {
		return nil, MalformedRecordError{Reason: "no rua found"}
	}
	ruaPart = strings.TrimPrefix(ruaPart, "rua=")
	return strings.Split(ruaPart, ","), nil
}
