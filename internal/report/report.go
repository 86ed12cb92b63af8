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

// Package report aggregates fetched per-domain data and renders it into
// the RFC 8460 JSON report form.
package report

import (
	"encoding/json"
	"fmt"

	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
	"github.com/andreasschulze/tlsrpt-reporter/internal/day"
	"github.com/andreasschulze/tlsrpt-reporter/internal/tlsrpt"
)

// PolicyCounter carries the aggregated session counters of one policy,
// keyed by its canonical serialization. Its JSON form is the fetcher
// protocol's detail format.
type PolicyCounter struct {
	Total    int            `json:"cntrtotal"`
	Failure  int            `json:"cntrfailure"`
	Failures map[string]int `json:"failures"`
}

// DomainData is the "policies" object of a fetcher's domain details: the
// counters grouped by TLSRPT record, then by canonical policy.
type DomainData map[string]map[string]*PolicyCounter

// Merge adds the counters of src into dst. Data for the same domain can
// arrive from several fetchers; union the policies, sum the counters.
func Merge(dst map[string]*PolicyCounter, src map[string]*PolicyCounter) {
	for spolicy, counter := range src {
		d, ok := dst[spolicy]
		if !ok {
			d = &PolicyCounter{Failures: map[string]int{}}
			dst[spolicy] = d
		}
		d.Total += counter.Total
		d.Failure += counter.Failure
		for reason, n := range counter.Failures {
			d.Failures[reason] += n
		}
	}
}

// Summary is the per-policy session count summary of RFC 8460.
type Summary struct {
	TotalFailure    int `json:"total-failure-session-count"`
	TotalSuccessful int `json:"total-successful-session-count"`
}

// Policy is one rendered policy result of RFC 8460.
type Policy struct {
	Summary        Summary                  `json:"summary"`
	Policy         map[string]interface{}   `json:"policy"`
	FailureDetails []map[string]interface{} `json:"failure-details"`
}

// Report is the full RFC 8460 report document.
type Report struct {
	OrganizationName string    `json:"organization-name"`
	DateRange        DateRange `json:"date-range"`
	ContactInfo      string    `json:"contact-info"`
	Policies         []Policy  `json:"policies"`
	ReportID         string    `json:"report-id"`
}

type DateRange struct {
	StartDatetime string `json:"start-datetime"`
	EndDatetime   string `json:"end-datetime"`
}

// ReportID builds the identifier placed in the report-id field and the
// email subject. The index tells apart multiple reports for the same day
// and domain.
func ReportID(reportDay string, reportIndex int, reportDomain string) string {
	return day.ReportStartDatetime(reportDay) + "_idx" + fmt.Sprint(reportIndex) + "_" + reportDomain
}

// Render turns aggregated counters into the final report document. The
// report-id is left for the caller, which knows the report index.
//
// A policy with an unknown policy-type cannot be expressed in RFC 8460
// terms; rendering the whole report fails rather than emitting a report
// that silently drops sessions. Unknown result-type codes inside the
// failure details only lose their result-type field, the session counts
// survive.
func Render(reportDay, organizationName, contactInfo string, agg map[string]*PolicyCounter, logger log.Logger) (*Report, error) {
	r := Report{
		OrganizationName: organizationName,
		DateRange: DateRange{
			StartDatetime: day.ReportStartDatetime(reportDay),
			EndDatetime:   day.ReportEndDatetime(reportDay),
		},
		ContactInfo: contactInfo,
		Policies:    []Policy{},
	}

	for _, spolicy := range tlsrpt.SortedKeys(agg) {
		counter := agg[spolicy]

		var policy map[string]interface{}
		if err := json.Unmarshal([]byte(spolicy), &policy); err != nil {
			return nil, fmt.Errorf("report: malformed policy %q: %w", spolicy, err)
		}
		ptRaw, ok := policy["policy-type"]
		if !ok {
			return nil, fmt.Errorf("report: policy without policy-type: %q", spolicy)
		}
		ptNum, ok := ptRaw.(float64)
		if !ok {
			return nil, fmt.Errorf("report: non-numeric policy-type in %q", spolicy)
		}
		ptName, ok := tlsrpt.PolicyTypeName[int(ptNum)]
		if !ok {
			return nil, fmt.Errorf("report: undefined policy type %d in %q", int(ptNum), spolicy)
		}
		policy["policy-type"] = ptName

		npol := Policy{
			Summary: Summary{
				TotalFailure:    counter.Failure,
				TotalSuccessful: counter.Total - counter.Failure,
			},
			Policy:         policy,
			FailureDetails: []map[string]interface{}{},
		}
		for _, sfailure := range tlsrpt.SortedKeys(counter.Failures) {
			fdet, err := renderFailureDetail(sfailure, counter.Failures[sfailure], logger)
			if err != nil {
				return nil, err
			}
			npol.FailureDetails = append(npol.FailureDetails, fdet)
		}
		r.Policies = append(r.Policies, npol)
	}
	return &r, nil
}

func renderFailureDetail(sfailure string, count int, logger log.Logger) (map[string]interface{}, error) {
	var failure map[string]interface{}
	if err := json.Unmarshal([]byte(sfailure), &failure); err != nil {
		return nil, fmt.Errorf("report: malformed failure detail %q: %w", sfailure, err)
	}
	fdet := map[string]interface{}{}
	for short, long := range tlsrpt.FailureDetailKey {
		if v, ok := failure[short]; ok {
			fdet[long] = v
		}
	}
	if code, ok := failure["c"]; ok {
		num, isNum := code.(float64)
		name, known := tlsrpt.ResultTypeName[int(num)]
		if isNum && known {
			fdet["result-type"] = name
		} else {
			logger.Msg("undefined result type code", "code", code)
		}
	}
	fdet["failed-session-count"] = count
	return fdet, nil
}
