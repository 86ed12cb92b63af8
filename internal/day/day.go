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

// Package day implements the UTC calendar-day arithmetic the pipeline is
// driven by: a day is the unit of aggregation, rollover and reporting.
package day

import (
	"fmt"
	"time"
)

// Format is the textual form of a day as used in store keys, fetcher
// arguments and report ids.
const Format = "2006-01-02"

// Now returns the current timezone-aware UTC time.
func Now() time.Time {
	return time.Now().UTC()
}

// Today returns the current UTC calendar date.
func Today() string {
	return Now().Format(Format)
}

// Yesterday returns the previous UTC calendar date.
func Yesterday() string {
	return Now().AddDate(0, 0, -1).Format(Format)
}

// ReportStartDatetime returns the start time of a report for the given day
// in the format required by RFC 8460.
func ReportStartDatetime(dayStr string) string {
	return dayStr + "T00:00:00Z"
}

// ReportEndDatetime returns the end time of a report for the given day in
// the format required by RFC 8460.
func ReportEndDatetime(dayStr string) string {
	return dayStr + "T23:59:59Z"
}

// ReportStartTimestamp returns UTC midnight of the given day as a Unix
// timestamp. The result is always a multiple of 86400.
func ReportStartTimestamp(dayStr string) (int64, error) {
	t, err := time.ParseInLocation(Format, dayStr, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("day: %w", err)
	}
	return t.Unix(), nil
}

// ReportEndTimestamp returns the last second of the given day as a Unix
// timestamp.
func ReportEndTimestamp(dayStr string) (int64, error) {
	start, err := ReportStartTimestamp(dayStr)
	if err != nil {
		return 0, err
	}
	return start + 24*3600 - 1, nil
}
