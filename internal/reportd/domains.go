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
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/andreasschulze/tlsrpt-reporter/internal/day"
	"github.com/andreasschulze/tlsrpt-reporter/internal/tlsrpt"
)

type fetchJob struct {
	day          string
	fetcherIndex int
	fetcher      string
	retries      int
}

// CollectDomains runs the due fetch jobs, asking each fetcher for the
// list of domains it has data for.
func (r *Reportd) CollectDomains() {
	r.log.Debugln("collect domains")
	now := dbTime(day.Now())

	rows, err := r.query("SELECT day, fetcherindex, fetcher, retries FROM fetchjobs "+
		"WHERE status IS NULL AND nexttry<?", now)
	if err != nil {
		r.log.Error("due fetch job lookup failed", err)
		return
	}
	var jobs []fetchJob
	for rows.Next() {
		var j fetchJob
		if err := rows.Scan(&j.day, &j.fetcherIndex, &j.fetcher, &j.retries); err != nil {
			rows.Close()
			r.log.Error("fetch job scan failed", err)
			return
		}
		jobs = append(jobs, j)
	}
	if err := rows.Close(); err != nil {
		r.log.Error("fetch job lookup failed", err)
		return
	}

	for _, j := range jobs {
		if r.collectDomainsFrom(j.day, j.fetcher, j.fetcherIndex) {
			_, err := r.exec("UPDATE fetchjobs SET status='ok' WHERE day=? AND fetcherindex=?",
				j.day, j.fetcherIndex)
			if err != nil {
				r.log.Error("cannot mark fetch job done", err)
				continue
			}
			r.log.Printf("fetcher %d %s finished in run %d", j.fetcherIndex, j.fetcher, j.retries+1)
			domainCollectionsTotal.Inc()
		} else if j.retries < r.cfg.MaxRetriesDomainlist {
			nexttry := r.WakeUpIn(r.waitDomainlist(), false)
			_, err := r.exec("UPDATE fetchjobs SET retries=?, nexttry=? WHERE day=? AND fetcherindex=?",
				j.retries+1, dbTime(nexttry), j.day, j.fetcherIndex)
			if err != nil {
				r.log.Error("cannot schedule fetch job retry", err)
			}
		} else {
			r.log.Msg("fetcher timed out", "fetcherindex", j.fetcherIndex, "fetcher", j.fetcher, "day", j.day)
			_, err := r.exec("UPDATE fetchjobs SET status='timedout' WHERE day=? AND fetcherindex=?",
				j.day, j.fetcherIndex)
			if err != nil {
				r.log.Error("cannot mark fetch job timed out", err)
			}
		}
	}
}

// collectDomainsFrom runs one fetcher and stores the domains it reports
// for dayStr. Returns true when the complete list was received.
func (r *Reportd) collectDomainsFrom(dayStr, fetcher string, fetcherIndex int) bool {
	started := day.Now()
	r.log.Debugf("collect domains from %d %s", fetcherIndex, fetcher)

	args := strings.Fields(fetcher)
	args = append(args, dayStr)
	cmd := exec.Command(args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.log.Error("cannot connect to fetcher", err, "fetcher", fetcher)
		return false
	}
	if err := cmd.Start(); err != nil {
		r.log.Error("cannot run fetcher", err, "fetcher", fetcher)
		return false
	}
	defer func() {
		stdout.Close()
		cmd.Wait()
	}()

	sc := bufio.NewScanner(io.LimitReader(stdout, tlsrpt.MaxReadFetcher))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !sc.Scan() {
		r.log.Msg("no banner from fetcher", "fetcher", fetcher)
		return false
	}
	if banner := sc.Text(); banner != tlsrpt.FetcherVersionStringV1 {
		r.log.Msg("unsupported fetcher version", "fetcher", fetcher, "banner", banner)
		return false
	}

	if !sc.Scan() {
		r.log.Msg("missing time line from fetcher", "fetcher", fetcher)
		return false
	}
	remote, err := time.ParseInLocation(tlsrpt.TimeFormat, sc.Text(), time.UTC)
	if err != nil {
		r.log.Error("cannot parse fetcher time", err, "fetcher", fetcher)
		return false
	}
	diff := day.Now().Sub(remote)
	if diff < 0 {
		diff = -diff
	}
	if diff > time.Duration(r.cfg.MaxCollectdTimediff)*time.Second {
		r.log.Msg("collectd clock off", "fetcher", fetcher, "difference", diff.String())
	}

	if !sc.Scan() {
		r.log.Msg("missing day line from fetcher", "fetcher", fetcher)
		return false
	}
	if available := sc.Text(); available != dayStr {
		r.log.Msg("fetcher not ready", "fetcher", fetcher, "wanted", dayStr, "available", available)
		return false
	}

	tx, err := r.db.DB.Begin()
	if err != nil {
		r.log.Error("cannot start domain list transaction", err)
		return false
	}
	complete := false
	domains := 0
	now := dbTime(day.Now())
	for sc.Scan() {
		domain := sc.Text()
		if domain == "." { // end of domain list
			complete = true
			break
		}
		r.log.Debugf("got domain %s", domain)
		_, err := tx.Exec("INSERT INTO reportdata "+
			"(day, domain, data, fetcherindex, fetcher, retries, status, nexttry) "+
			"VALUES (?,?,NULL,?,?,0,NULL,?)",
			dayStr, domain, fetcherIndex, fetcher, now)
		if err != nil {
			var serr sqlite3.Error
			if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
				r.log.Msg("duplicate domain", "domain", domain, "fetcher", fetcher)
				continue
			}
			r.log.Error("cannot store domain", err, "domain", domain)
			tx.Rollback()
			return false
		}
		domains++
	}
	if !complete {
		r.log.Msg("unexpected end of domain list", "fetcher", fetcher)
		r.log.Debugf("DB-rollback for fetcher %d %s", fetcherIndex, fetcher)
		tx.Rollback()
		return false
	}
	r.log.Debugf("DB-commit for fetcher %d %s", fetcherIndex, fetcher)
	if err := tx.Commit(); err != nil {
		r.log.Error("cannot commit domain list", err, "fetcher", fetcher)
		return false
	}
	elapsed := day.Now().Sub(started)
	r.log.Printf("collected %d domains from fetcher %d in %.3f seconds", domains, fetcherIndex, elapsed.Seconds())
	return true
}

// domainDetails mirrors the JSON a fetcher prints for one domain.
type domainDetails struct {
	Domain   string          `json:"d"`
	Policies json.RawMessage `json:"policies"`
}

// FetchData retrieves the per-domain details for all domains whose day
// has a complete domain list.
func (r *Reportd) FetchData() {
	r.log.Debugln("fetch data")
	now := dbTime(day.Now())

	rows, err := r.query("SELECT day FROM fetchjobs WHERE status IS NULL")
	if err != nil {
		r.log.Error("incomplete day lookup failed", err)
		return
	}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			break
		}
		r.log.Debugf("day %s is not yet complete", d)
	}
	rows.Close()

	rows, err = r.query("SELECT day, domain, fetcherindex, fetcher FROM reportdata "+
		"WHERE data IS NULL AND nexttry<? "+
		"AND day NOT IN (SELECT day FROM fetchjobs WHERE status IS NULL)", now)
	if err != nil {
		r.log.Error("due domain lookup failed", err)
		return
	}
	type domainJob struct {
		day          string
		domain       string
		fetcherIndex int
		fetcher      string
	}
	var jobs []domainJob
	for rows.Next() {
		var j domainJob
		if err := rows.Scan(&j.day, &j.domain, &j.fetcherIndex, &j.fetcher); err != nil {
			rows.Close()
			r.log.Error("due domain scan failed", err)
			return
		}
		jobs = append(jobs, j)
	}
	if err := rows.Close(); err != nil {
		r.log.Error("due domain lookup failed", err)
		return
	}

	for _, j := range jobs {
		data, err := r.fetchDetails(j.day, j.domain, j.fetcher)
		if err != nil {
			r.log.Error("fetching domain details failed", err,
				"fetcherindex", j.fetcherIndex, "domain", j.domain)
			continue
		}
		_, err = r.exec("UPDATE reportdata SET data=?, status='fetched' "+
			"WHERE day=? AND domain=? AND fetcherindex=?",
			data, j.day, j.domain, j.fetcherIndex)
		if err != nil {
			r.log.Error("cannot store domain details", err, "domain", j.domain)
			continue
		}
		detailFetchesTotal.Inc()
	}
}

// fetchDetails runs one fetcher for one domain and returns the raw
// policies JSON. Output is read through a size limit so a runaway
// fetcher cannot exhaust memory.
func (r *Reportd) fetchDetails(dayStr, domain, fetcher string) (string, error) {
	args := strings.Fields(fetcher)
	args = append(args, dayStr, domain)
	cmd := exec.Command(args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("fetcher %q: %w", fetcher, err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("fetcher %q: %w", fetcher, err)
	}
	out, err := io.ReadAll(io.LimitReader(stdout, tlsrpt.MaxReadFetcher+1))
	// Closing our end of the pipe makes an over-producing fetcher exit
	// on SIGPIPE instead of blocking Wait forever.
	stdout.Close()
	waitErr := cmd.Wait()
	if err != nil {
		return "", fmt.Errorf("fetcher %q: %w", fetcher, err)
	}
	if len(out) > tlsrpt.MaxReadFetcher {
		return "", fmt.Errorf("fetcher %q: oversized detail output", fetcher)
	}
	if waitErr != nil {
		return "", fmt.Errorf("fetcher %q: %w", fetcher, waitErr)
	}
	var details domainDetails
	if err := json.Unmarshal(out, &details); err != nil {
		return "", fmt.Errorf("fetcher %q: malformed detail output: %w", fetcher, err)
	}
	if details.Domain != domain {
		return "", fmt.Errorf("fetcher %q returned details for %q instead of %q",
			fetcher, details.Domain, domain)
	}
	return string(details.Policies), nil
}
