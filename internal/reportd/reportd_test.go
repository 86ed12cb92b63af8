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

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
	"github.com/andreasschulze/tlsrpt-reporter/internal/day"
	"github.com/andreasschulze/tlsrpt-reporter/internal/delivery"
	"github.com/andreasschulze/tlsrpt-reporter/internal/report"
)

// fetcherScript speaks both sides of the fetcher protocol: called with a
// day it prints the domain list, called with a day and a domain it prints
// the detail data for that domain.
const fetcherScript = `#!/bin/sh
if [ $# -eq 2 ]; then
cat <<EOF
{
    "d": "$2",
    "policies": {
        "v=TLSRPTv1;rua=mailto:reports@example.com": {
            "{\"policy-domain\":\"$2\",\"policy-type\":2}": {
                "cntrtotal": 10,
                "cntrfailure": 3,
                "failures": {
                    "{\"c\":204,\"r\":\"192.0.2.1\"}": 3
                }
            }
        }
    }
}
EOF
exit 0
fi
echo "TLSRPT FETCHER v1devel-c domain list"
date -u "+%Y-%m-%d %H:%M:%S"
echo "$1"
echo "example.com"
echo "example.org"
echo "."
`

// notReadyScript reports a day far in the past regardless of what day is
// asked for.
const notReadyScript = `#!/bin/sh
echo "TLSRPT FETCHER v1devel-c domain list"
date -u "+%Y-%m-%d %H:%M:%S"
echo "2000-01-01"
echo "."
`

type sentReport struct {
	day         string
	domain      string
	rowID       int64
	index       int
	destination string
	rendered    string
}

type fakeDeliverer struct {
	result delivery.Result
	sent   []sentReport
}

func (f *fakeDeliverer) SendOutReport(reportDay, domain string, reportRowID int64, reportIndex int, destination, rendered string) delivery.Result {
	f.sent = append(f.sent, sentReport{reportDay, domain, reportRowID, reportIndex, destination, rendered})
	return f.result
}

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fetcher.sh")
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T, fetchers string) *config.Reportd {
	t.Helper()
	return &config.Reportd{
		DBName:               filepath.Join(t.TempDir(), "reportd.sqlite"),
		KeepDays:             10,
		Fetchers:             fetchers,
		OrganizationName:     "Example Org",
		ContactInfo:          "postmaster@example.org",
		SenderAddress:        "reports@example.org",
		CompressionLevel:     -1,
		SpreadOutDelivery:    1,
		IntervalMainLoop:     300,
		MaxCollectdTimediff:  300,
		MaxRetriesDelivery:   5,
		MinWaitDelivery:      30,
		MaxWaitDelivery:      300,
		MaxRetriesDomainlist: 5,
		MinWaitDomainlist:    300,
		MaxWaitDomainlist:    1800,
	}
}

func testReportd(t *testing.T, cfg *config.Reportd, result delivery.Result) (*Reportd, *fakeDeliverer) {
	t.Helper()
	deliverer := &fakeDeliverer{result: result}
	r, err := New(cfg, deliverer, log.Logger{Out: log.NopOutput{}})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r, deliverer
}

func countRows(t *testing.T, r *Reportd, query string, args ...interface{}) int {
	t.Helper()
	var n int
	if err := r.db.DB.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

// makeDue moves every pending nexttry into the past so the next stage run
// picks the rows up without sleeping.
func makeDue(t *testing.T, r *Reportd) {
	t.Helper()
	past := dbTime(day.Now().Add(-time.Hour))
	for _, q := range []string{
		"UPDATE fetchjobs SET nexttry=? WHERE status IS NULL",
		"UPDATE reportdata SET nexttry=? WHERE status IS NULL",
		"UPDATE destinations SET nexttry=? WHERE status IS NULL",
	} {
		if _, err := r.db.DB.Exec(q, past); err != nil {
			t.Fatal(err)
		}
	}
}

func TestNewRejectsMissingFetchers(t *testing.T) {
	for _, fetchers := range []string{"", "good, "} {
		cfg := testConfig(t, fetchers)
		_, err := New(cfg, &fakeDeliverer{}, log.Logger{Out: log.NopOutput{}})
		if err == nil {
			t.Errorf("New accepted fetchers %q", fetchers)
		}
	}
}

func TestCheckDayCreatesFetchJobs(t *testing.T) {
	cfg := testConfig(t, "fetcher-one,fetcher-two --flag")
	r, _ := testReportd(t, cfg, delivery.Succeeded)

	r.CheckDay()
	if n := countRows(t, r, "SELECT count(*) FROM fetchjobs WHERE day=?", day.Yesterday()); n != 2 {
		t.Fatalf("got %d fetch jobs, want 2", n)
	}
	var fetcher string
	err := r.db.DB.QueryRow("SELECT fetcher FROM fetchjobs WHERE fetcherindex=2").Scan(&fetcher)
	if err != nil {
		t.Fatal(err)
	}
	if fetcher != "fetcher-two --flag" {
		t.Errorf("got fetcher %q", fetcher)
	}

	// A second run must not duplicate the jobs.
	r.CheckDay()
	if n := countRows(t, r, "SELECT count(*) FROM fetchjobs"); n != 2 {
		t.Fatalf("got %d fetch jobs after second run, want 2", n)
	}
}

func TestPipeline(t *testing.T) {
	script := writeScript(t, fetcherScript)
	cfg := testConfig(t, script)
	r, deliverer := testReportd(t, cfg, delivery.Succeeded)

	r.CheckDay()
	makeDue(t, r)
	r.CollectDomains()

	if n := countRows(t, r, "SELECT count(*) FROM fetchjobs WHERE status='ok'"); n != 1 {
		t.Fatalf("got %d finished fetch jobs, want 1", n)
	}
	if n := countRows(t, r, "SELECT count(*) FROM reportdata"); n != 2 {
		t.Fatalf("got %d domains, want 2", n)
	}

	makeDue(t, r)
	r.FetchData()
	if n := countRows(t, r, "SELECT count(*) FROM reportdata WHERE status='fetched' AND data IS NOT NULL"); n != 2 {
		t.Fatalf("got %d fetched domains, want 2", n)
	}

	r.CreateReports()
	if n := countRows(t, r, "SELECT count(*) FROM reports"); n != 2 {
		t.Fatalf("got %d reports, want 2", n)
	}
	var rendered string
	err := r.db.DB.QueryRow("SELECT report FROM reports WHERE domain='example.com'").Scan(&rendered)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`"organization-name":"Example Org"`,
		`"policy-type":"sts"`,
		`"total-failure-session-count":3`,
		`"total-successful-session-count":7`,
		`"result-type":"certificate-expired"`,
		`"failed-session-count":3`,
		`"report-id":"` + day.ReportStartDatetime(day.Yesterday()) + `_idx1_example.com"`,
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("report lacks %s:\n%s", want, rendered)
		}
	}
	if n := countRows(t, r, "SELECT count(*) FROM destinations"); n != 2 {
		t.Fatalf("got %d destinations, want 2", n)
	}

	makeDue(t, r)
	r.SendOutReports()
	if len(deliverer.sent) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(deliverer.sent))
	}
	for _, s := range deliverer.sent {
		if s.destination != "mailto:reports@example.com" {
			t.Errorf("got destination %q", s.destination)
		}
		if s.index != 1 {
			t.Errorf("got report index %d, want 1", s.index)
		}
		if s.day != day.Yesterday() {
			t.Errorf("got report day %q, want %q", s.day, day.Yesterday())
		}
	}
	if n := countRows(t, r, "SELECT count(*) FROM destinations WHERE status='sent'"); n != 2 {
		t.Fatalf("not all destinations marked sent")
	}

	// Everything done, a further run must deliver nothing.
	r.SendOutReports()
	if len(deliverer.sent) != 2 {
		t.Fatalf("sent reports were delivered again")
	}
}

func TestCollectDomainsRetriesUnreadyFetcher(t *testing.T) {
	script := writeScript(t, notReadyScript)
	cfg := testConfig(t, script)
	r, _ := testReportd(t, cfg, delivery.Succeeded)

	r.CheckDay()
	makeDue(t, r)
	r.CollectDomains()

	var retries int
	var status *string
	err := r.db.DB.QueryRow("SELECT retries, status FROM fetchjobs").Scan(&retries, &status)
	if err != nil {
		t.Fatal(err)
	}
	if retries != 1 || status != nil {
		t.Fatalf("got retries=%d status=%v, want a pending retry", retries, status)
	}

	// Exhaust the retries.
	cfg.MaxRetriesDomainlist = 1
	makeDue(t, r)
	r.CollectDomains()
	if n := countRows(t, r, "SELECT count(*) FROM fetchjobs WHERE status='timedout'"); n != 1 {
		t.Fatal("exhausted fetch job not marked timedout")
	}
}

func TestFetchDataRejectsForeignDomain(t *testing.T) {
	// The details name a different domain than asked for.
	script := writeScript(t, `#!/bin/sh
if [ $# -eq 2 ]; then
	echo '{"d": "evil.example", "policies": {}}'
	exit 0
fi
echo "TLSRPT FETCHER v1devel-c domain list"
date -u "+%Y-%m-%d %H:%M:%S"
echo "$1"
echo "example.com"
echo "."
`)
	cfg := testConfig(t, script)
	r, _ := testReportd(t, cfg, delivery.Succeeded)

	r.CheckDay()
	makeDue(t, r)
	r.CollectDomains()
	makeDue(t, r)
	r.FetchData()

	if n := countRows(t, r, "SELECT count(*) FROM reportdata WHERE status='fetched'"); n != 0 {
		t.Fatal("details for a foreign domain were accepted")
	}
}

func TestFetchDetailsRejectsOversizedOutput(t *testing.T) {
	// A fetcher that streams far more than the read limit must be cut
	// off without buffering it all.
	script := writeScript(t, `#!/bin/sh
dd if=/dev/zero bs=1048576 count=32 2>/dev/null
`)
	cfg := testConfig(t, script)
	r, _ := testReportd(t, cfg, delivery.Succeeded)

	_, err := r.fetchDetails(day.Yesterday(), "example.com", script)
	if err == nil || !strings.Contains(err.Error(), "oversized") {
		t.Fatalf("err = %v, want oversized detail output", err)
	}
}

func TestSendOutReportsRetryAndGiveUp(t *testing.T) {
	cfg := testConfig(t, "unused")
	cfg.MaxRetriesDelivery = 1
	r, deliverer := testReportd(t, cfg, delivery.TryAgain)

	yesterday := day.Yesterday()
	res, err := r.db.DB.Exec("INSERT INTO reports (day, domain, uniqid, tlsrptrecord, report) "+
		"VALUES (?,?,1,?,?)", yesterday, "example.com", "v=TLSRPTv1;rua=mailto:r@example.com", "{}")
	if err != nil {
		t.Fatal(err)
	}
	rowID, _ := res.LastInsertId()
	_, err = r.db.DB.Exec("INSERT INTO destinations (destination, d_r_id, retries, status, nexttry) "+
		"VALUES (?,?,0,NULL,?)", "mailto:r@example.com", rowID, dbTime(day.Now().Add(-time.Hour)))
	if err != nil {
		t.Fatal(err)
	}

	r.SendOutReports()
	var retries int
	if err := r.db.DB.QueryRow("SELECT retries FROM destinations").Scan(&retries); err != nil {
		t.Fatal(err)
	}
	if retries != 1 {
		t.Fatalf("got retries=%d, want 1", retries)
	}

	makeDue(t, r)
	r.SendOutReports()
	if n := countRows(t, r, "SELECT count(*) FROM destinations WHERE status='timedout'"); n != 1 {
		t.Fatal("exhausted destination not marked timedout")
	}
	if len(deliverer.sent) != 2 {
		t.Fatalf("got %d delivery attempts, want 2", len(deliverer.sent))
	}
}

func TestStoreReportBadRecord(t *testing.T) {
	cfg := testConfig(t, "unused")
	r, _ := testReportd(t, cfg, delivery.Succeeded)

	rpt := &report.Report{OrganizationName: cfg.OrganizationName}
	if err := r.storeReport(day.Yesterday(), "example.com", "not a record", rpt); err != nil {
		t.Fatal(err)
	}
	if n := countRows(t, r, "SELECT count(*) FROM reports"); n != 1 {
		t.Fatal("report row missing")
	}
	if n := countRows(t, r, "SELECT count(*) FROM destinations"); n != 0 {
		t.Fatal("destinations created for a malformed record")
	}
}

func TestSendOutReportsUnknownRUA(t *testing.T) {
	cfg := testConfig(t, "unused")
	r, _ := testReportd(t, cfg, delivery.UnknownRUA)

	res, err := r.db.DB.Exec("INSERT INTO reports (day, domain, uniqid, tlsrptrecord, report) "+
		"VALUES (?,?,1,?,?)", day.Yesterday(), "example.com", "v=TLSRPTv1;rua=gopher:hole", "{}")
	if err != nil {
		t.Fatal(err)
	}
	rowID, _ := res.LastInsertId()
	_, err = r.db.DB.Exec("INSERT INTO destinations (destination, d_r_id, retries, status, nexttry) "+
		"VALUES (?,?,0,NULL,?)", "gopher:hole", rowID, dbTime(day.Now().Add(-time.Hour)))
	if err != nil {
		t.Fatal(err)
	}

	r.SendOutReports()
	if n := countRows(t, r, "SELECT count(*) FROM destinations WHERE status='unknownrua'"); n != 1 {
		t.Fatal("destination with unknown scheme not marked unknownrua")
	}
}

func TestSendOutReportsPermanentFailure(t *testing.T) {
	cfg := testConfig(t, "unused")
	r, deliverer := testReportd(t, cfg, delivery.Permanent)

	res, err := r.db.DB.Exec("INSERT INTO reports (day, domain, uniqid, tlsrptrecord, report) "+
		"VALUES (?,?,1,?,?)", day.Yesterday(), "example.com", "v=TLSRPTv1;rua=mailto:reports@example.com", "{}")
	if err != nil {
		t.Fatal(err)
	}
	rowID, _ := res.LastInsertId()
	_, err = r.db.DB.Exec("INSERT INTO destinations (destination, d_r_id, retries, status, nexttry) "+
		"VALUES (?,?,0,NULL,?)", "mailto:reports@example.com", rowID, dbTime(day.Now().Add(-time.Hour)))
	if err != nil {
		t.Fatal(err)
	}

	r.SendOutReports()
	if n := countRows(t, r, "SELECT count(*) FROM destinations WHERE status='permfail'"); n != 1 {
		t.Fatal("permanently failed destination not marked permfail")
	}

	// A final status must stop further attempts.
	makeDue(t, r)
	r.SendOutReports()
	if len(deliverer.sent) != 1 {
		t.Fatalf("got %d delivery attempts, want 1", len(deliverer.sent))
	}
}

func TestDBCleanUp(t *testing.T) {
	cfg := testConfig(t, "unused")
	cfg.KeepDays = 10
	r, _ := testReportd(t, cfg, delivery.Succeeded)

	old := "2000-01-01"
	if _, err := r.db.DB.Exec("INSERT INTO fetchjobs (day, fetcherindex, fetcher, retries, status, nexttry) "+
		"VALUES (?,1,'f',0,'ok','')", old); err != nil {
		t.Fatal(err)
	}
	if _, err := r.db.DB.Exec("INSERT INTO fetchjobs (day, fetcherindex, fetcher, retries, status, nexttry) "+
		"VALUES (?,1,'f',0,'ok','')", day.Yesterday()); err != nil {
		t.Fatal(err)
	}

	r.dbCleanUp(day.Now())
	if n := countRows(t, r, "SELECT count(*) FROM fetchjobs"); n != 1 {
		t.Fatalf("got %d fetch jobs after clean up, want 1", n)
	}
	if n := countRows(t, r, "SELECT count(*) FROM fetchjobs WHERE day=?", old); n != 0 {
		t.Fatal("old fetch job survived clean up")
	}
}

func TestWakeUpAt(t *testing.T) {
	cfg := testConfig(t, "unused")
	r, _ := testReportd(t, cfg, delivery.Succeeded)

	base := day.Now().Add(time.Hour)
	r.WakeUpAt(base, true)
	if !r.wakeUpTime.Equal(base) {
		t.Fatal("forced wake up time not set")
	}

	earlier := base.Add(-30 * time.Minute)
	r.WakeUpAt(earlier, false)
	if !r.wakeUpTime.Equal(earlier) {
		t.Fatal("earlier wake up time not taken")
	}

	later := base.Add(time.Hour)
	r.WakeUpAt(later, false)
	if !r.wakeUpTime.Equal(earlier) {
		t.Fatal("later wake up time moved the plan without force")
	}
}

func TestDBTime(t *testing.T) {
	ts := time.Date(2026, 8, 25, 13, 5, 7, 123456000, time.UTC)
	got := dbTime(ts)
	want := "2026-08-25 13:05:07.123456+00:00"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
