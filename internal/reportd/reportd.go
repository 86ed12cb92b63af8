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

// Package reportd schedules the reporting pipeline: collect domain lists
// from the fetchers once a day is complete, fetch per-domain details,
// render the RFC 8460 reports and send them out with retries.
package reportd

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
	"github.com/andreasschulze/tlsrpt-reporter/internal/day"
	"github.com/andreasschulze/tlsrpt-reporter/internal/delivery"
	"github.com/andreasschulze/tlsrpt-reporter/internal/randpool"
	"github.com/andreasschulze/tlsrpt-reporter/internal/store"
	"github.com/andreasschulze/tlsrpt-reporter/internal/tlsrpt"
)

// DBPurpose marks reportd stores.
const DBPurpose = "TLSRPT-Reportd-DB" + tlsrpt.DBPurposeSuffix

// StoreDDL is the schema of the reportd job store. The dbversion row
// itself is written by the store package.
func StoreDDL() []string {
	return []string{
		"CREATE TABLE fetchjobs(day, fetcherindex, fetcher, retries, status, nexttry, " +
			"its datetime default CURRENT_TIMESTAMP, " +
			"PRIMARY KEY(day, fetcherindex))",
		"CREATE TABLE reportdata(day, domain, data, fetcher, fetcherindex, retries, status, nexttry, " +
			"its datetime default CURRENT_TIMESTAMP, " +
			"PRIMARY KEY(day, domain, fetcher))",
		"CREATE TABLE reports(r_id INTEGER PRIMARY KEY ASC, day, domain, uniqid, tlsrptrecord, report, " +
			"its datetime default CURRENT_TIMESTAMP) ",
		"CREATE TABLE destinations(destination, d_r_id INTEGER, retries, status, nexttry, " +
			"its datetime default CURRENT_TIMESTAMP, " +
			"PRIMARY KEY(destination, d_r_id), " +
			"FOREIGN KEY(d_r_id) REFERENCES reports(r_id))",
		"CREATE TABLE dbversion(version, installdate, purpose)",
	}
}

// Deliverer sends one report to one destination. It is an interface so
// tests can observe deliveries without spawning scripts.
type Deliverer interface {
	SendOutReport(reportDay, domain string, reportRowID int64, reportIndex int, destination, rendered string) delivery.Result
}

// Reportd drives the report generation pipeline over its job store.
type Reportd struct {
	cfg       *config.Reportd
	log       log.Logger
	db        *store.DB
	deliverer Deliverer

	pool       *randpool.Pool
	wakeUpTime time.Time
}

// New checks the configuration, opens (or creates) the job store and
// prepares the delivery spreading pool.
func New(cfg *config.Reportd, deliverer Deliverer, logger log.Logger) (*Reportd, error) {
	if cfg.Fetchers == "" {
		return nil, &tlsrpt.ExitError{Code: tlsrpt.ExitUsage,
			Err: fmt.Errorf("reportd: no fetchers setup")}
	}
	for _, fetcher := range strings.Split(cfg.Fetchers, ",") {
		if strings.TrimSpace(fetcher) == "" {
			return nil, &tlsrpt.ExitError{Code: tlsrpt.ExitUsage,
				Err: fmt.Errorf("reportd: empty fetcher configured")}
		}
	}

	db, err := store.Open(cfg.DBName, DBPurpose, StoreDDL(), logger)
	if err != nil {
		return nil, err
	}
	return &Reportd{
		cfg:        cfg,
		log:        logger,
		db:         db,
		deliverer:  deliverer,
		pool:       randpool.New(cfg.SpreadOutDelivery),
		wakeUpTime: day.Now(),
	}, nil
}

func (r *Reportd) Close() error {
	return r.db.Close()
}

// Fetchers returns the configured fetcher command lines.
func (r *Reportd) Fetchers() []string {
	return strings.Split(r.cfg.Fetchers, ",")
}

// dbTime serializes a time for nexttry columns. The fixed-width format
// keeps string comparison equivalent to time comparison.
func dbTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000000") + "+00:00"
}

// exec and query wrap the store handle so debug_db can trace every
// statement.
func (r *Reportd) exec(q string, args ...interface{}) (sql.Result, error) {
	if r.cfg.DebugDB != 0 {
		r.log.Debugf("SQL %s %v", q, args)
	}
	return r.db.DB.Exec(q, args...)
}

func (r *Reportd) query(q string, args ...interface{}) (*sql.Rows, error) {
	if r.cfg.DebugDB != 0 {
		r.log.Debugf("SQL %s %v", q, args)
	}
	return r.db.DB.Query(q, args...)
}

func wait(smin, smax int) int {
	if smax <= smin {
		return smin
	}
	return smin + rand.Intn(smax-smin+1)
}

func (r *Reportd) waitDomainlist() int {
	return wait(r.cfg.MinWaitDomainlist, r.cfg.MaxWaitDomainlist)
}

func (r *Reportd) waitRetryReportDelivery() int {
	return wait(r.cfg.MinWaitDelivery, r.cfg.MaxWaitDelivery)
}

// scheduleReportDelivery draws a send time from the spreading pool so
// report deliveries do not arrive as a burst at the recipients.
func (r *Reportd) scheduleReportDelivery() time.Time {
	return day.Now().Add(time.Duration(r.pool.Get()) * time.Second)
}

// WakeUpIn schedules the next main loop run in secs seconds and returns
// the chosen time.
func (r *Reportd) WakeUpIn(secs int, force bool) time.Time {
	return r.WakeUpAt(day.Now().Add(time.Duration(secs)*time.Second), force)
}

// WakeUpAt moves the next main loop run to t if t is earlier than the
// current plan, or unconditionally when forced.
func (r *Reportd) WakeUpAt(t time.Time, force bool) time.Time {
	if r.wakeUpTime.After(t) {
		r.log.Debugf("changing wake up time from %s to %s", r.wakeUpTime, t)
		r.wakeUpTime = t
	} else if force {
		r.log.Debugf("enforcing wake up time from %s to %s", r.wakeUpTime, t)
		r.wakeUpTime = t
	} else {
		r.log.Debugf("not changing wake up time from %s to %s", r.wakeUpTime, t)
	}
	return t
}

// dbCleanUp deletes data older than keep_days from all job tables.
func (r *Reportd) dbCleanUp(now time.Time) {
	limit := r.cfg.KeepDays
	nowStr := dbTime(now)
	for _, q := range []struct {
		name  string
		query string
	}{
		{"fetchjobs", "DELETE FROM fetchjobs WHERE julianday(?)-julianday(day)>?"},
		{"reportdata", "DELETE FROM reportdata WHERE julianday(?)-julianday(day)>?"},
		{"destinations", "DELETE FROM destinations WHERE d_r_id in (SELECT r_id FROM reports " +
			"WHERE julianday(?)-julianday(day)>?)"},
		{"reports", "DELETE FROM reports WHERE julianday(?)-julianday(day)>?"},
	} {
		res, err := r.exec(q.query, nowStr, limit)
		if err != nil {
			r.log.Error(fmt.Sprintf("clean up of old %s failed", q.name), err)
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			r.log.Printf("deleted %d old %s", n, q.name)
		}
	}
}

// CheckDay creates the fetch jobs for yesterday once, then backs off to a
// five minute poll until the next day starts.
func (r *Reportd) CheckDay() {
	r.log.Debugln("check day")
	yesterday := day.Yesterday()
	now := day.Now()
	r.dbCleanUp(now)

	var n int
	if err := r.db.DB.QueryRow("SELECT count(*) FROM fetchjobs WHERE day=?", yesterday).Scan(&n); err != nil {
		r.log.Error("fetchjobs lookup failed", err)
		return
	}
	if n > 0 { // jobs already exist
		r.WakeUpIn(300, false) // wake up every five minutes to check
		return
	}
	for fidx, fetcher := range r.Fetchers() {
		_, err := r.exec("INSERT INTO fetchjobs (day, fetcherindex, fetcher, retries, status, nexttry)"+
			"VALUES (?,?,?,0,NULL,?)", yesterday, fidx+1, fetcher, dbTime(now))
		if err != nil {
			r.log.Error("cannot create fetch job", err, "fetcher", fetcher)
		}
	}
}

// RunLoop executes the pipeline stages until ctx is canceled.
func (r *Reportd) RunLoop(ctx context.Context) error {
	for {
		r.WakeUpIn(r.cfg.IntervalMainLoop, true)
		r.CheckDay()
		r.CollectDomains()
		r.FetchData()
		r.CreateReports()
		r.SendOutReports()

		sleep := time.Until(r.wakeUpTime)
		if sleep >= 0 {
			r.log.Printf("sleeping for %d seconds", int(sleep.Seconds()))
		} else {
			r.log.Printf("skipping sleeping for negative %d seconds", int(sleep.Seconds()))
			sleep = 0
		}
		select {
		case <-ctx.Done():
			r.log.Println("caught shutdown signal, cleaning up")
			r.log.Println("done")
			return nil
		case <-time.After(sleep):
		}
	}
}
