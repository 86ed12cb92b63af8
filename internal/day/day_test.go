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

package day

import (
	"testing"
	"time"
)

func TestReportStartTimestamp_MidnightAligned(t *testing.T) {
	t.Parallel()

	for _, dayStr := range []string{"1970-01-01", "2024-02-29", "2026-08-26", "2038-01-19"} {
		start, err := ReportStartTimestamp(dayStr)
		if err != nil {
			t.Fatalf("ReportStartTimestamp(%q): %v", dayStr, err)
		}
		if start%86400 != 0 {
			t.Errorf("ReportStartTimestamp(%q) = %d, not a multiple of 86400", dayStr, start)
		}
	}
}

func TestReportEndTimestamp(t *testing.T) {
	t.Parallel()

	start, err := ReportStartTimestamp("2026-08-25")
	if err != nil {
		t.Fatal(err)
	}
	end, err := ReportEndTimestamp("2026-08-25")
	if err != nil {
		t.Fatal(err)
	}
	if end != start+86399 {
		t.Errorf("end = %d, want start+86399 = %d", end, start+86399)
	}
}

func TestReportStartTimestamp_Invalid(t *testing.T) {
	t.Parallel()

	for _, dayStr := range []string{"", "yesterday", "2026-13-01", "26-08-2026"} {
		if _, err := ReportStartTimestamp(dayStr); err == nil {
			t.Errorf("ReportStartTimestamp(%q): expected error", dayStr)
		}
	}
}

func TestReportDatetimes(t *testing.T) {
	t.Parallel()

	if got := ReportStartDatetime("2026-08-25"); got != "2026-08-25T00:00:00Z" {
		t.Errorf("start: got %q", got)
	}
	if got := ReportEndDatetime("2026-08-25"); got != "2026-08-25T23:59:59Z" {
		t.Errorf("end: got %q", got)
	}
}

func TestYesterday(t *testing.T) {
	t.Parallel()

	today, err := time.ParseInLocation(Format, Today(), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	yesterday, err := time.ParseInLocation(Format, Yesterday(), time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	diff := today.Sub(yesterday)
	// A midnight crossing between the two calls makes the difference two
	// days; everything else is a bug.
	if diff != 24*time.Hour && diff != 48*time.Hour {
		t.Errorf("Today() - Yesterday() = %v", diff)
	}
}
