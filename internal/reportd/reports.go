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
	"encoding/json"
	"time"

	"github.com/andreasschulze/tlsrpt-reporter/internal/day"
	"github.com/andreasschulze/tlsrpt-reporter/internal/delivery"
	"github.com/andreasschulze/tlsrpt-reporter/internal/report"
	"github.com/andreasschulze/tlsrpt-reporter/internal/tlsrpt"
)

// CreateReports renders reports for all (day, domain) pairs whose details
// have arrived from every fetcher.
func (r *Reportd) CreateReports() {
	r.log.Debugln("create reports")

	rows, err := r.query("SELECT fetcherindex, domain FROM reportdata WHERE status IS NULL")
	if err != nil {
		r.log.Error("incomplete domain lookup failed", err)
		return
	}
	for rows.Next() {
		var fetcherIndex int
		var domain string
		if err := rows.Scan(&fetcherIndex, &domain); err != nil {
			break
		}
		r.log.Msg("data missing", "fetcherindex", fetcherIndex, "domain", domain)
	}
	rows.Close()

	rows, err = r.query("SELECT DISTINCT day, domain FROM reportdata WHERE status='fetched' " +
		"AND NOT (day, domain) IN (SELECT day, domain FROM reportdata WHERE status IS NULL) " +
		"AND NOT (day, domain) IN (SELECT day, domain FROM reports)")
	if err != nil {
		r.log.Error("finished domain lookup failed", err)
		return
	}
	type pending struct {
		day    string
		domain string
	}
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.day, &p.domain); err != nil {
			rows.Close()
			r.log.Error("finished domain scan failed", err)
			return
		}
		todo = append(todo, p)
	}
	if err := rows.Close(); err != nil {
		r.log.Error("finished domain lookup failed", err)
		return
	}

	for _, p := range todo {
		r.createReportFor(p.day, p.domain)
	}
}

// createReportFor merges the detail data of all fetchers for one day and
// domain and writes one report per TLSRPT record, together with its
// delivery destinations.
func (r *Reportd) createReportFor(dayStr, domain string) {
	r.log.Debugf("create report for day %s domain %s", dayStr, domain)

	rows, err := r.query("SELECT data FROM reportdata WHERE day=? AND domain=? AND status='fetched'",
		dayStr, domain)
	if err != nil {
		r.log.Error("detail data lookup failed", err, "domain", domain)
		return
	}
	agg := map[string]map[string]*report.PolicyCounter{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			r.log.Error("detail data scan failed", err, "domain", domain)
			return
		}
		var details map[string]map[string]*report.PolicyCounter
		if err := json.Unmarshal([]byte(data), &details); err != nil {
			rows.Close()
			r.log.Error("malformed detail data", err, "domain", domain)
			return
		}
		for record, policies := range details {
			if agg[record] == nil {
				agg[record] = map[string]*report.PolicyCounter{}
			}
			report.Merge(agg[record], policies)
		}
	}
	if err := rows.Close(); err != nil {
		r.log.Error("detail data lookup failed", err, "domain", domain)
		return
	}

	for _, record := range tlsrpt.SortedKeys(agg) {
		rpt, err := report.Render(dayStr, r.cfg.OrganizationName, r.cfg.ContactInfo, agg[record], r.log)
		if err != nil {
			r.log.Error("cannot render report", err, "domain", domain, "record", record)
			continue
		}
		if err := r.storeReport(dayStr, domain, record, rpt); err != nil {
			r.log.Error("cannot store report", err, "domain", domain, "record", record)
			return
		}
	}
}

// storeReport writes the report row together with its destinations in one
// transaction, so an observer never sees a deliverable report without its
// delivery state.
func (r *Reportd) storeReport(dayStr, domain, record string, rpt *report.Report) error {
	tx, err := r.db.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var uniqid int
	if err := tx.QueryRow("SELECT count(*)+1 FROM reports WHERE day=? AND domain=?",
		dayStr, domain).Scan(&uniqid); err != nil {
		return err
	}
	rpt.ReportID = report.ReportID(dayStr, uniqid, domain)
	rendered, err := json.Marshal(rpt)
	if err != nil {
		return err
	}

	res, err := tx.Exec("INSERT INTO reports (day, domain, uniqid, tlsrptrecord, report) "+
		"VALUES (?,?,?,?,?)", dayStr, domain, uniqid, record, string(rendered))
	if err != nil {
		return err
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	// A malformed record still commits the report row, it just has no
	// destinations to deliver to.
	ruas, err := tlsrpt.ParseRecord(record)
	if err != nil {
		r.log.Error("bad TLSRPT record, report has no destinations", err,
			"domain", domain, "record", record)
		ruas = nil
	}
	var wakeups []time.Time
	for _, rua := range ruas {
		nexttry := r.scheduleReportDelivery()
		_, err := tx.Exec("INSERT INTO destinations (destination, d_r_id, retries, status, nexttry) "+
			"VALUES (?,?,0,NULL,?)", rua, rowID, dbTime(nexttry))
		if err != nil {
			return err
		}
		wakeups = append(wakeups, nexttry)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	reportsTotal.Inc()
	for _, t := range wakeups {
		r.WakeUpAt(t, false)
	}
	return nil
}

// SendOutReports delivers all due reports and tracks the per-destination
// retry state.
func (r *Reportd) SendOutReports() {
	r.log.Debugln("send out reports")
	now := dbTime(day.Now())

	rows, err := r.query("SELECT destination, d_r_id, uniqid, report, domain, day, retries "+
		"FROM destinations LEFT JOIN reports ON r_id=d_r_id "+
		"WHERE destinations.status IS NULL AND nexttry<?", now)
	if err != nil {
		r.log.Error("due destination lookup failed", err)
		return
	}
	type sendJob struct {
		destination string
		rowID       int64
		uniqid      int
		report      string
		domain      string
		day         string
		retries     int
	}
	var jobs []sendJob
	for rows.Next() {
		var j sendJob
		if err := rows.Scan(&j.destination, &j.rowID, &j.uniqid, &j.report, &j.domain, &j.day, &j.retries); err != nil {
			rows.Close()
			r.log.Error("due destination scan failed", err)
			return
		}
		jobs = append(jobs, j)
	}
	if err := rows.Close(); err != nil {
		r.log.Error("due destination lookup failed", err)
		return
	}

	for _, j := range jobs {
		result := r.deliverer.SendOutReport(j.day, j.domain, j.rowID, j.uniqid, j.destination, j.report)
		deliveriesTotal.WithLabelValues(result.String()).Inc()
		switch {
		case result == delivery.Succeeded:
			_, err := r.exec("UPDATE destinations SET status='sent' WHERE destination=? AND d_r_id=?",
				j.destination, j.rowID)
			if err != nil {
				r.log.Error("cannot mark destination sent", err, "destination", j.destination)
				continue
			}
			r.log.Printf("report %d for domain %s sent to %s", j.rowID, j.domain, j.destination)
		case result != delivery.TryAgain:
			_, err := r.exec("UPDATE destinations SET status=? WHERE destination=? AND d_r_id=?",
				result.String(), j.destination, j.rowID)
			if err != nil {
				r.log.Error("cannot mark destination failed", err, "destination", j.destination)
			}
			r.log.Msg("giving up on destination", "destination", j.destination, "result", result.String())
		case j.retries < r.cfg.MaxRetriesDelivery:
			nexttry := r.WakeUpIn(r.waitRetryReportDelivery(), false)
			_, err := r.exec("UPDATE destinations SET retries=?, nexttry=? WHERE destination=? AND d_r_id=?",
				j.retries+1, dbTime(nexttry), j.destination, j.rowID)
			if err != nil {
				r.log.Error("cannot schedule delivery retry", err, "destination", j.destination)
			}
		default:
			r.log.Msg("delivery timed out", "destination", j.destination, "domain", j.domain, "day", j.day)
			_, err := r.exec("UPDATE destinations SET status='timedout' WHERE destination=? AND d_r_id=?",
				j.destination, j.rowID)
			if err != nil {
				r.log.Error("cannot mark destination timed out", err, "destination", j.destination)
			}
		}
	}
}
