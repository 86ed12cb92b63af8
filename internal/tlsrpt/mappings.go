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

// PolicyTypeName maps the numeric policy type used on the wire between the
// MTA and the collectd to the RFC 8460 policy-type string.
var PolicyTypeName = map[int]string{
	1: "tlsa",
	2: "sts",
	9: "no-policy-found",
}

// FailureDetailKey maps the short failure-detail keys of the collectd
// protocol to the long keys RFC 8460 requires. "c" is absent here: it is
// a numeric code translated through ResultTypeName instead.
var FailureDetailKey = map[string]string{
	"a": "additional-information",
	"f": "failure-reason-code",
	"h": "receiving-mx-helo",
	"n": "receiving-mx-hostname",
	"r": "receiving-ip",
	"s": "sending-mta-ip",
}

// ResultTypeName maps the numeric result-type codes of the collectd
// protocol to the result-types defined in RFC 8460.
var ResultTypeName = map[int]string{
	// TLS negotiation failures
	201: "starttls-not-supported",
	202: "certificate-host-mismatch",
	203: "certificate-not-trusted",
	204: "certificate-expired",
	205: "validation-failure",

	// MTA-STS related failures
	301: "sts-policy-fetch-error",
	302: "sts-policy-invalid",
	303: "sts-webpki-invalid",

	// DNS related failures
	304: "tlsa-invalid",
	305: "dnssec-invalid",
	306: "dane-required",
}
