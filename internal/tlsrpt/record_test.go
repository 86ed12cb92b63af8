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
	"reflect"
	"strings"
	"testing"
)

func TestParseRecord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		record string
		want   []string
	}{
		{"v=TLSRPTv1;rua=mailto:reports@example.com", []string{"mailto:reports@example.com"}},
		{"v=TLSRPTv1; rua=mailto:reports@example.com", []string{"mailto:reports@example.com"}},
		{"v=TLSRPTv1;rua=mailto:reports@example.com;", []string{"mailto:reports@example.com"}},
		{
			"v=TLSRPTv1;rua=mailto:a@x.test,https://x.test/tlsrpt",
			[]string{"mailto:a@x.test", "https://x.test/tlsrpt"},
		},
	}
	for _, test := range tests {
		got, err := ParseRecord(test.record)
		if err != nil {
			t.Errorf("ParseRecord(%q): unexpected error: %v", test.record, err)
			continue
		}
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("ParseRecord(%q) = %v, want %v", test.record, got, test.want)
		}
	}
}

func TestParseRecord_RoundTrip(t *testing.T) {
	t.Parallel()

	uris := []string{"mailto:a@x.test", "mailto:b@y.test", "https://z.test/v1"}
	got, err := ParseRecord("v=TLSRPTv1;rua=" + strings.Join(uris, ","))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, uris) {
		t.Errorf("round-trip mismatch: got %v, want %v", got, uris)
	}
}

func TestParseRecord_Malformed(t *testing.T) {
	t.Parallel()

	for _, record := range []string{
		"",
		"not a record",
		"v=TLSRPTv1",
		"v=TLSRPTv2;rua=mailto:a@x.test",
		"v=TLSRPTv1;ruh=mailto:a@x.test",
	} {
		if _, err := ParseRecord(record); err == nil {
			t.Errorf("ParseRecord(%q): expected error, got none", record)
		}
	}
}

func TestNormalizeDomainName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{".", "."},
		{"example.com", "example.com"},
		{"Name.tld", "name.tld"},
		{"NAME.TLD", "name.tld"},
		{"name.tld.", "name.tld"},
		{"NAME.TLD.", "name.tld"},
		{"name.tld..", "name.tld.."},
		{"name.tld...", "name.tld..."},
	}
	for _, test := range tests {
		if got := NormalizeDomainName(test.in); got != test.want {
			t.Errorf("NormalizeDomainName(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}

func TestNormalizeDomainName_Idempotent(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", ".", "Example.Com.", "name.tld..", "A.B.C."} {
		once := NormalizeDomainName(in)
		if twice := NormalizeDomainName(once); twice != once {
			t.Errorf("NormalizeDomainName not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}
