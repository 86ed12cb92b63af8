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

// Package store opens the versioned SQLite stores used by collectd,
// fetcher and reportd.
//
// Each store carries a singleton dbversion row (version, installdate,
// purpose). The purpose string ties a file to the daemon and schema
// generation that created it; opening a store with the wrong purpose is a
// fatal misconfiguration, not something to silently migrate.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
	"github.com/andreasschulze/tlsrpt-reporter/internal/day"
	"github.com/andreasschulze/tlsrpt-reporter/internal/tlsrpt"
)

// SchemaVersion is the only dbversion value any of the daemons can work
// with.
const SchemaVersion = 1

// VersionError reports a dbversion row that does not match what the
// opening daemon expects. It maps to ExitWrongDBVersion.
type VersionError struct {
	Path            string
	ExpectedPurpose string
	ActualPurpose   string
	ActualVersion   int
}

func (e *VersionError) Error() string {
	if e.ExpectedPurpose != e.ActualPurpose {
		return fmt.Sprintf("store %s has wrong purpose: expected %q but got %q",
			e.Path, e.ExpectedPurpose, e.ActualPurpose)
	}
	return fmt.Sprintf("store %s has wrong version: expected %d but got %d",
		e.Path, SchemaVersion, e.ActualVersion)
}

func (*VersionError) ExitCode() int { return tlsrpt.ExitWrongDBVersion }

// SetupError reports a failure to create the schema of a new store. It
// maps to ExitDBSetupFailure.
type SetupError struct {
	Path string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("store %s setup failed: %v", e.Path, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

func (*SetupError) ExitCode() int { return tlsrpt.ExitDBSetupFailure }

// DB is an open versioned store.
type DB struct {
	Path string
	DB   *sql.DB

	Log log.Logger
}

// Open opens (or creates) the store at path and verifies its dbversion
// row against purpose. A missing dbversion table is taken as a fresh store
// and the given DDL statements are executed to set up the schema.
func Open(path, purpose string, ddl []string, logger log.Logger) (*DB, error) {
	db, err := openHandle(path)
	if err != nil {
		return nil, &SetupError{Path: path, Err: err}
	}
	s := &DB{Path: path, DB: db, Log: logger}

	switch err := s.check(purpose); {
	case err == nil:
		s.Log.Debugf("store %s looks OK", path)
		return s, nil
	case errors.As(err, new(*VersionError)):
		db.Close()
		return nil, err
	default:
		s.Log.Debugf("store check failed, creating schema: %v", err)
	}

	if err := s.setup(purpose, ddl); err != nil {
		db.Close()
		return nil, &SetupError{Path: path, Err: err}
	}
	s.Log.Printf("store %s setup finished", path)
	return s, nil
}

// OpenExisting opens the store at path and verifies it, failing instead of
// creating a schema if the store is missing or unversioned. The fetcher
// uses it: a missing yesterday store means there is nothing to report on.
func OpenExisting(path, purpose string, logger log.Logger) (*DB, error) {
	db, err := openHandle(path)
	if err != nil {
		return nil, err
	}
	s := &DB{Path: path, DB: db, Log: logger}
	if err := s.check(purpose); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func openHandle(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, err
	}
	// All access is single-threaded; a second connection would not see
	// uncommitted state and SAVEPOINTs would land on the wrong session.
	db.SetMaxOpenConns(1)
	return db, nil
}

func (s *DB) check(purpose string) error {
	var (
		version     int
		installdate string
		gotPurpose  string
	)
	row := s.DB.QueryRow("SELECT version, installdate, purpose FROM dbversion")
	if err := row.Scan(&version, &installdate, &gotPurpose); err != nil {
		return err
	}
	if gotPurpose != purpose {
		return &VersionError{Path: s.Path, ExpectedPurpose: purpose, ActualPurpose: gotPurpose, ActualVersion: version}
	}
	if version != SchemaVersion {
		return &VersionError{Path: s.Path, ExpectedPurpose: purpose, ActualPurpose: gotPurpose, ActualVersion: version}
	}
	return nil
}

func (s *DB) setup(purpose string, ddl []string) error {
	for _, stmt := range ddl {
		s.Log.Debugf("DDL %s", stmt)
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	_, err := s.DB.Exec("INSERT INTO dbversion(version, installdate, purpose) VALUES(?,?,?)",
		SchemaVersion, day.Now().Format("2006-01-02 15-04-05.000"), purpose)
	return err
}

func (s *DB) Close() error {
	return s.DB.Close()
}

// MakeYesterdayPath derives the rolled-over store path from the live one.
// The rollover renames today's file to this name; the fetcher opens it.
func MakeYesterdayPath(path string) string {
	return path + ".yesterday"
}
