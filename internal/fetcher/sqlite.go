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

package fetcher

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
	"github.com/andreasschulze/tlsrpt-reporter/internal/collectd"
	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
	"github.com/andreasschulze/tlsrpt-reporter/internal/day"
	"github.com/andreasschulze/tlsrpt-reporter/internal/store"
	"github.com/andreasschulze/tlsrpt-reporter/internal/tlsrpt"
)

// SQLite reads the rolled-over yesterday store of a collectd SQLite
// backend.
type SQLite struct {
	log log.Logger
	db  *store.DB
}

func init() {
	RegisterSource("sqlite", newSQLite)
}

func newSQLite(u *url.URL, _ *config.Fetcher, logger log.Logger) (Source, error) {
	path := store.MakeYesterdayPath(u.Path)
	db, err := store.OpenExisting(path, collectd.DBPurpose, logger)
	if err != nil {
		return nil, fmt.Errorf("database check failed for %s: %w", path, err)
	}
	logger.Printf("database %s looks OK", path)
	return &SQLite{log: logger, db: db}, nil
}

func (s *SQLite) FetchDomainList(w io.Writer, reportDay string) error {
	s.log.Printf("fetcher domain list starting for day %s", reportDay)

	// protocol header line 1: the protocol version
	fmt.Fprintln(w, tlsrpt.FetcherVersionStringV1)
	// line 2: current time so fetching can be rescheduled to account for
	// clock offset, or warn about too big delay
	fmt.Fprintln(w, day.Now().Format(tlsrpt.TimeFormat))
	// line 3: available day, empty when the store saw no rollover yet
	var available string
	err := s.db.DB.QueryRow("SELECT daycomplete FROM daystatus").Scan(&available)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.log.Msg("no complete day in store yet")
	case err != nil:
		return fmt.Errorf("fetcher: day status query failed: %w", err)
	}
	fmt.Fprintln(w, available)

	rows, err := s.db.DB.Query("SELECT DISTINCT domain FROM finalresults WHERE day=?", reportDay)
	if err != nil {
		return fmt.Errorf("fetcher: domain query failed: %w", err)
	}
	defer rows.Close()
	line := 0
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return err
		}
		line++
		if _, err := fmt.Fprintln(w, domain); err != nil {
			// reportd may have hung up; a broken pipe is its problem
			s.log.Msg("error when writing domain list", "line", line, "reason", err.Error())
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	// terminate domain list with a single dot
	fmt.Fprintln(w, ".")
	return nil
}

type policyData struct {
	CntrTotal   int            `json:"cntrtotal"`
	CntrFailure int            `json:"cntrfailure"`
	Failures    map[string]int `json:"failures"`
}

type domainDetails struct {
	Domain   string                            `json:"d"`
	Policies map[string]map[string]*policyData `json:"policies"`
}

func (s *SQLite) FetchDomainDetails(w io.Writer, reportDay, domain string) error {
	s.log.Printf("fetcher domain details starting for day %s and domain %s", reportDay, domain)

	details := domainDetails{Domain: domain, Policies: map[string]map[string]*policyData{}}

	rows, err := s.db.DB.Query("SELECT policy, tlsrptrecord, cntrtotal, cntrfailure "+
		"FROM finalresults WHERE day=? AND domain=?", reportDay, domain)
	if err != nil {
		return fmt.Errorf("fetcher: finalresults query failed: %w", err)
	}
	for rows.Next() {
		var policy, tlsrptRecord string
		var total, failure int
		if err := rows.Scan(&policy, &tlsrptRecord, &total, &failure); err != nil {
			rows.Close()
			return err
		}
		byPolicy := details.Policies[tlsrptRecord]
		if byPolicy == nil {
			byPolicy = map[string]*policyData{}
			details.Policies[tlsrptRecord] = byPolicy
		}
		p := byPolicy[policy]
		if p == nil {
			p = &policyData{Failures: map[string]int{}}
			byPolicy[policy] = p
		}
		p.CntrTotal += total
		p.CntrFailure += failure
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	rows, err = s.db.DB.Query("SELECT tlsrptrecord, policy, reason, cntr "+
		"FROM failures WHERE day=? AND domain=?", reportDay, domain)
	if err != nil {
		return fmt.Errorf("fetcher: failures query failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tlsrptRecord, policy, reason string
		var cntr int
		if err := rows.Scan(&tlsrptRecord, &policy, &reason, &cntr); err != nil {
			return err
		}
		byPolicy, ok := details.Policies[tlsrptRecord]
		if !ok {
			return fmt.Errorf("fetcher: failure row without final result for record %q", tlsrptRecord)
		}
		p, ok := byPolicy[policy]
		if !ok {
			return fmt.Errorf("fetcher: failure row without final result for policy %q", policy)
		}
		p.Failures[reason] += cntr
	}
	if err := rows.Err(); err != nil {
		return err
	}

	enc, err := json.MarshalIndent(details, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(enc))
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
