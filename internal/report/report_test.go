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

package report

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
)

func TestMerge(t *testing.T) {
	dst := map[string]*PolicyCounter{}
	Merge(dst, map[string]*PolicyCounter{
		`{"policy-type":2}`: {Total: 3, Failure: 1, Failures: map[string]int{`{"c":204}`: 1}},
	})
	Merge(dst, map[string]*PolicyCounter{
		`{"policy-type":2}`: {Total: 2, Failure: 2, Failures: map[string]int{`{"c":204}`: 1, `{"c":201}`: 1}},
		`{"policy-type":1}`: {Total: 1, Failure: 0, Failures: map[string]int{}},
	})

	if len(dst) != 2 {
		t.Fatalf("got %d policies, want 2", len(dst))
	}
	sts := dst[`{"policy-type":2}`]
	if sts.Total != 5 || sts.Failure != 3 {
		t.Errorf("sts counters = (%d, %d), want (5, 3)", sts.Total, sts.Failure)
	}
	if sts.Failures[`{"c":204}`] != 2 || sts.Failures[`{"c":201}`] != 1 {
		t.Errorf("sts failures = %v", sts.Failures)
	}
}

func TestRender(t *testing.T) {
	agg := map[string]*PolicyCounter{
		`{"policy-domain":"example.com","policy-type":2}`: {
			Total:   10,
			Failure: 2,
			Failures: map[string]int{
				`{"c":204,"r":"192.0.2.1"}`: 2,
			},
		},
	}
	r, err := Render("2026-08-25", "Example Org", "reports@example.org", agg, log.Logger{Out: log.NopOutput{}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if r.DateRange.StartDatetime != "2026-08-25T00:00:00Z" || r.DateRange.EndDatetime != "2026-08-25T23:59:59Z" {
		t.Errorf("date range = %+v", r.DateRange)
	}
	if len(r.Policies) != 1 {
		t.Fatalf("got %d policies, want 1", len(r.Policies))
	}
	p := r.Policies[0]
	if p.Summary.TotalFailure != 2 || p.Summary.TotalSuccessful != 8 {
		t.Errorf("summary = %+v", p.Summary)
	}
	if p.Policy["policy-type"] != "sts" {
		t.Errorf("policy-type = %v, want sts", p.Policy["policy-type"])
	}
	if p.Policy["policy-domain"] != "example.com" {
		t.Errorf("policy-domain = %v", p.Policy["policy-domain"])
	}
	if len(p.FailureDetails) != 1 {
		t.Fatalf("got %d failure details, want 1", len(p.FailureDetails))
	}
	fdet := p.FailureDetails[0]
	if fdet["result-type"] != "certificate-expired" {
		t.Errorf("result-type = %v", fdet["result-type"])
	}
	if fdet["receiving-ip"] != "192.0.2.1" {
		t.Errorf("receiving-ip = %v", fdet["receiving-ip"])
	}
	if fdet["failed-session-count"] != 2 {
		t.Errorf("failed-session-count = %v", fdet["failed-session-count"])
	}
}

func TestRenderJSONShape(t *testing.T) {
	agg := map[string]*PolicyCounter{
		`{"policy-type":9}`: {Total: 1, Failure: 0, Failures: map[string]int{}},
	}
	r, err := Render("2026-08-25", "Example Org", "reports@example.org", agg, log.Logger{Out: log.NopOutput{}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	r.ReportID = ReportID("2026-08-25", 1, "example.com")

	raw, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(raw)
	for _, want := range []string{
		`"organization-name":"Example Org"`,
		`"start-datetime":"2026-08-25T00:00:00Z"`,
		`"contact-info":"reports@example.org"`,
		`"policy-type":"no-policy-found"`,
		`"failure-details":[]`,
		`"report-id":"2026-08-25T00:00:00Z_idx1_example.com"`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("report JSON lacks %s: %s", want, s)
		}
	}
}

func TestRenderUnknownPolicyType(t *testing.T) {
	agg := map[string]*PolicyCounter{
		`{"policy-type":7}`: {Total: 1, Failure: 0, Failures: map[string]int{}},
	}
	if _, err := Render("2026-08-25", "Example Org", "c", agg, log.Logger{Out: log.NopOutput{}}); err == nil {
		t.Fatal("expected error for unknown policy type")
	}
}

func TestRenderUnknownResultTypeKeepsCount(t *testing.T) {
	agg := map[string]*PolicyCounter{
		`{"policy-type":1}`: {Total: 2, Failure: 1, Failures: map[string]int{`{"c":999}`: 1}},
	}
	r, err := Render("2026-08-25", "Example Org", "c", agg, log.Logger{Out: log.NopOutput{}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	fdet := r.Policies[0].FailureDetails[0]
	if _, ok := fdet["result-type"]; ok {
		t.Error("unexpected result-type for unknown code")
	}
	if fdet["failed-session-count"] != 1 {
		t.Errorf("failed-session-count = %v", fdet["failed-session-count"])
	}
}
