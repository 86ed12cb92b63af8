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
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Datagram is one MTA-emitted JSON event describing a single SMTP session's
// TLS outcome and the policies that applied to it.
//
// Policy objects are kept as raw JSON maps: their policy-specific fields
// are opaque to aggregation and are serialized verbatim as the aggregation
// key after the session-outcome keys are stripped.
type Datagram struct {
	Domain          string                   `json:"d"`
	TLSRPTRecord    string                   `json:"pr"`
	ProtocolVersion string                   `json:"dpv"`
	Policies        []map[string]interface{} `json:"policies"`
	HasPolicies     bool                     `json:"-"`
}

// UnmarshalDatagram parses the raw datagram bytes. A datagram without a
// "policies" key is distinguished from one with an empty policy list so the
// caller can log the former as a malformed input.
func UnmarshalDatagram(raw []byte) (*Datagram, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	d := Datagram{}
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	_, d.HasPolicies = probe["policies"]
	return &d, nil
}

// PolicyOutcome is the session outcome extracted from one policy object of
// a datagram. Policy holds the canonical serialization of the remaining
// policy fields and is the aggregation key.
type PolicyOutcome struct {
	Policy         string
	Failed         int
	ClaimedCount   int
	FailureDetails []string
}

// ExtractOutcome strips the session-outcome keys ("f", "t",
// "failure-details") from the policy object and canonically serializes what
// is left, along with each failure detail.
//
// ClaimedCount is returned as-is; the caller cross-checks it against
// len(FailureDetails) and logs a mismatch without rejecting the datagram.
func ExtractOutcome(policy map[string]interface{}) (*PolicyOutcome, error) {
	out := PolicyOutcome{}

	stripped := make(map[string]interface{}, len(policy))
	for k, v := range policy {
		stripped[k] = v
	}

	if f, ok := stripped["f"]; ok {
		n, err := toInt(f)
		if err != nil {
			return nil, fmt.Errorf("tlsrpt: policy failure flag: %w", err)
		}
		out.Failed = n
		delete(stripped, "f")
	}
	if t, ok := stripped["t"]; ok {
		n, err := toInt(t)
		if err != nil {
			return nil, fmt.Errorf("tlsrpt: policy failure count: %w", err)
		}
		out.ClaimedCount = n
		delete(stripped, "t")
	}
	if fd, ok := stripped["failure-details"]; ok {
		details, ok := fd.([]interface{})
		if !ok {
			return nil, fmt.Errorf("tlsrpt: failure-details is not a list")
		}
		for _, detail := range details {
			s, err := CanonicalJSON(detail)
			if err != nil {
				return nil, fmt.Errorf("tlsrpt: failure detail: %w", err)
			}
			out.FailureDetails = append(out.FailureDetails, s)
		}
		delete(stripped, "failure-details")
	}

	p, err := CanonicalJSON(stripped)
	if err != nil {
		return nil, fmt.Errorf("tlsrpt: policy: %w", err)
	}
	out.Policy = p
	return &out, nil
}

func toInt(v interface{}) (int, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("expected number, got %T", v)
	}
	return int(f), nil
}

// CanonicalJSON serializes v with object keys sorted so that equal values
// always produce byte-identical text. Aggregation counters are keyed by
// this text.
func CanonicalJSON(v interface{}) (string, error) {
	// encoding/json already sorts map keys; the extra walk exists to reject
	// values JSON cannot represent before they reach a store key.
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NormalizeDomainName folds the domain to lowercase and removes exactly one
// trailing dot. A bare "." and names ending in multiple dots are left alone
// since removing a dot would not yield a valid name either.
// The function is idempotent.
func NormalizeDomainName(domain string) string {
	domain = strings.ToLower(domain)
	if strings.HasSuffix(domain, ".") && !strings.HasSuffix(domain, "..") && domain != "." {
		domain = domain[:len(domain)-1]
	}
	return domain
}

// SortedKeys returns the keys of m in sorted order. Iteration over report
// aggregates uses it to keep rendered output deterministic.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
