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

package collectd

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
	"github.com/andreasschulze/tlsrpt-reporter/internal/day"
	"github.com/andreasschulze/tlsrpt-reporter/internal/store"
	"github.com/andreasschulze/tlsrpt-reporter/internal/tlsrpt"
)

// DBPurpose marks collectd stores; the fetcher checks for the same value.
const DBPurpose = "TLSRPT-Collectd-DB" + tlsrpt.DBPurposeSuffix

// StoreDDL is the schema of a collectd day store. The dbversion row
// itself is written by the store package.
func StoreDDL() []string {
	return []string{
		"CREATE TABLE finalresults(day, domain, tlsrptrecord, policy, cntrtotal, cntrfailure, its datetime default CURRENT_TIMESTAMP," +
			"PRIMARY KEY(day, domain, tlsrptrecord, policy))",
		"CREATE TABLE failures(day, domain, tlsrptrecord, policy, reason, cntr, " +
			"PRIMARY KEY(day, domain, tlsrptrecord, policy, reason))",
		"CREATE TABLE daystatus(daycomplete, its datetime default CURRENT_TIMESTAMP, PRIMARY KEY(daycomplete))",
		"CREATE TABLE dbversion(version, installdate, purpose)",
	}
}

// SQLite aggregates datagrams into the per-day SQLite store.
//
// Writes are batched: a transaction is held open across datagrams and
// committed every max_uncommited_datagrams, on socket idle, or at the
// latest after sockettimeout. A failed commit must leave the transaction
// open so it can be retried once more datagrams accumulated, therefore
// transactions are driven with explicit BEGIN/COMMIT statements on a
// pinned connection instead of sql.Tx.
type SQLite struct {
	cfg *config.Collectd
	log log.Logger
	url string

	path string
	db   *store.DB
	conn *sql.Conn
	inTx bool

	today        string
	uncommitted  int
	totalRead    int
	commitEveryN int
	nextCommit   time.Time
}

func init() {
	RegisterBackend("sqlite", newSQLite)
}

func newSQLite(u *url.URL, cfg *config.Collectd, logger log.Logger) (Backend, error) {
	s := &SQLite{
		cfg:          cfg,
		log:          logger,
		url:          u.String(),
		path:         u.Path,
		today:        day.Today(),
		commitEveryN: cfg.MaxUncommittedDatagrams,
		nextCommit:   day.Now(),
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLite) open() error {
	db, err := store.Open(s.path, DBPurpose, StoreDDL(), s.log)
	if err != nil {
		return err
	}
	conn, err := db.DB.Conn(context.Background())
	if err != nil {
		db.Close()
		return fmt.Errorf("collectd: cannot pin store connection: %w", err)
	}
	s.db = db
	s.conn = conn
	s.inTx = false
	return nil
}

func (s *SQLite) exec(query string, args ...interface{}) (sql.Result, error) {
	return s.conn.ExecContext(context.Background(), query, args...)
}

func (s *SQLite) begin() error {
	if s.inTx {
		return nil
	}
	if _, err := s.exec("BEGIN"); err != nil {
		return fmt.Errorf("collectd: begin failed: %w", err)
	}
	s.inTx = true
	return nil
}

// commit flushes batched datagrams to disk so the fetcher can see them.
// The next commit deadline is advanced before the attempt: a hanging
// database must not be retried after every single datagram.
func (s *SQLite) commit(reason string) {
	s.nextCommit = day.Now().Add(time.Duration(s.cfg.SocketTimeout) * time.Second)
	if s.uncommitted == 0 {
		return
	}
	if err := s.commitTx(); err != nil {
		s.log.Error(fmt.Sprintf("failed %s with %d datagrams", reason, s.uncommitted), err)
		return
	}
	s.log.Debugf("%s with %d datagrams (%d total)", reason, s.uncommitted, s.totalRead)
	s.uncommitted = 0
}

func (s *SQLite) commitTx() error {
	if !s.inTx {
		return nil
	}
	if _, err := s.exec("COMMIT"); err != nil {
		return err
	}
	s.inTx = false
	commitsTotal.Inc()
	return nil
}

func (s *SQLite) commitAfterN() {
	if day.Now().After(s.nextCommit) {
		s.commit("database commit due to overdue")
	}
	if s.uncommitted >= s.commitEveryN {
		// a database problem can cause a commit attempt to hang, so wait
		// for more data to accumulate instead of retrying every datagram
		if (s.uncommitted-s.commitEveryN)%s.cfg.RetryCommitDatagramCount == 0 {
			s.commit("database commit")
		}
	}
}

func (s *SQLite) AddDatagram(dg *tlsrpt.Datagram) error {
	today := day.Today()
	if s.today != today {
		if err := s.SwitchToNextDay(false); err != nil {
			return err
		}
	}
	if err := s.addPolicies(today, dg); err != nil {
		return err
	}
	s.uncommitted++
	s.totalRead++
	s.commitAfterN()
	return nil
}

func (s *SQLite) SocketTimeout() error {
	if s.today != day.Today() {
		if err := s.SwitchToNextDay(false); err != nil {
			return err
		}
	}
	s.commit("database commit due to timeout")
	return nil
}

func (s *SQLite) addPolicies(today string, dg *tlsrpt.Datagram) error {
	if !dg.HasPolicies {
		s.log.Msg("no policies found in datagram", "domain", dg.Domain)
		return nil
	}
	switch dg.ProtocolVersion {
	case tlsrpt.DatagramProtocolVersion:
	case "":
		s.log.DebugMsg("no datagram protocol version found in datagram", "domain", dg.Domain)
	default:
		s.log.Msg("wrong datagram protocol version",
			"expected", tlsrpt.DatagramProtocolVersion, "got", dg.ProtocolVersion)
	}

	domain := tlsrpt.NormalizeDomainName(dg.Domain)
	if domain != dg.Domain {
		s.log.Debugf("normalized domain name '%s' to '%s'", dg.Domain, domain)
	}
	for _, policy := range dg.Policies {
		if err := s.addPolicy(today, domain, dg.TLSRPTRecord, policy); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) addPolicy(today, domain, tlsrptRecord string, policy map[string]interface{}) error {
	outcome, err := tlsrpt.ExtractOutcome(policy)
	if err != nil {
		return err
	}
	if outcome.ClaimedCount != len(outcome.FailureDetails) {
		s.log.Msg("failure count mismatch in received datagram",
			"reported", outcome.ClaimedCount, "details", len(outcome.FailureDetails))
	}
	if err := s.begin(); err != nil {
		return err
	}
	_, err = s.exec(
		"INSERT INTO finalresults (day, domain, tlsrptrecord, policy, cntrtotal, cntrfailure) VALUES(?,?,?,?,1,?) "+
			"ON CONFLICT(day, domain, tlsrptrecord, policy) "+
			"DO UPDATE SET cntrtotal=cntrtotal+1, cntrfailure=cntrfailure+?",
		today, domain, tlsrptRecord, outcome.Policy, outcome.Failed, outcome.Failed)
	if err != nil {
		return fmt.Errorf("collectd: finalresults upsert: %w", err)
	}
	for _, reason := range outcome.FailureDetails {
		_, err = s.exec(
			"INSERT INTO failures (day, domain, tlsrptrecord, policy, reason, cntr) VALUES(?,?,?,?,?,1) "+
				"ON CONFLICT(day, domain, tlsrptrecord, policy, reason) "+
				"DO UPDATE SET cntr=cntr+1",
			today, domain, tlsrptRecord, outcome.Policy, reason)
		if err != nil {
			return fmt.Errorf("collectd: failures upsert: %w", err)
		}
	}
	return nil
}

// SwitchToNextDay finishes the day: commits outstanding data, marks the
// day complete in daystatus, renames the store to its yesterday name for
// the fetcher and starts a fresh store for the new day. In develMode
// today's rows are relabeled as yesterday's first so a rollover can be
// tested without waiting for UTC midnight.
func (s *SQLite) SwitchToNextDay(develMode bool) error {
	yesterday := day.Yesterday()
	commitMessage := "midnight UTC database rollover"
	if develMode {
		commitMessage += " FOR DEVELOPMENT"
		s.commit(commitMessage)
		if err := s.begin(); err != nil {
			return err
		}
		res, err := s.exec("UPDATE finalresults SET day=? WHERE day=?", yesterday, s.today)
		if err != nil {
			return fmt.Errorf("collectd: relabel finalresults: %w", err)
		}
		n, _ := res.RowsAffected()
		s.log.Debugf("updated %d rows in finalresults", n)
		res, err = s.exec("UPDATE failures SET day=? WHERE day=?", yesterday, s.today)
		if err != nil {
			return fmt.Errorf("collectd: relabel failures: %w", err)
		}
		n, _ = res.RowsAffected()
		s.log.Debugf("updated %d rows in failures", n)
		if err := s.commitTx(); err != nil {
			return fmt.Errorf("collectd: relabel commit: %w", err)
		}
	}
	s.commit(commitMessage)

	if err := s.begin(); err != nil {
		return err
	}
	if _, err := s.exec("INSERT INTO daystatus (daycomplete) VALUES(?)", yesterday); err != nil {
		return fmt.Errorf("collectd: daystatus insert: %w", err)
	}
	if err := s.commitTx(); err != nil {
		return fmt.Errorf("collectd: daystatus commit: %w", err)
	}

	s.conn.Close()
	s.db.Close()

	yesterdayPath := store.MakeYesterdayPath(s.path)
	if err := os.Remove(yesterdayPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("collectd: cannot remove old yesterday store: %w", err)
	}
	if err := os.Rename(s.path, yesterdayPath); err != nil {
		return fmt.Errorf("collectd: cannot rename store: %w", err)
	}

	s.today = day.Today()
	s.totalRead = 0
	if s.uncommitted != 0 {
		s.log.Msg("uncommitted datagrams during day roll-over", "count", s.uncommitted)
		s.uncommitted = 0
	}
	s.log.Printf("create new database %s", s.path)
	if err := s.open(); err != nil {
		return err
	}
	s.nextCommit = day.Now()
	rolloversTotal.Inc()

	s.runRolloverScript(yesterdayPath)
	return nil
}

// runRolloverScript spawns the hook script with the storage URL and the
// rolled-over store path appended. The script runs detached; a failing
// hook must not stall datagram processing.
func (s *SQLite) runRolloverScript(yesterdayPath string) {
	script := s.cfg.DailyRolloverScript
	if script == "" {
		return
	}
	args := strings.Fields(script)
	args = append(args, s.url, yesterdayPath)
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		s.log.Error(fmt.Sprintf("cannot start daily rollover script '%s'", script), err)
		return
	}
	go cmd.Wait()
}

func (s *SQLite) Close() error {
	s.commit("database commit at shutdown")
	s.conn.Close()
	return s.db.Close()
}
