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

// Package config resolves daemon settings from four layers, strongest
// first: command line flags, TLSRPT_<DAEMON>_* environment variables, an
// INI config file section, and the flag defaults. The winning source of
// every option is remembered so startup can log where each value came
// from.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/ini.v1"

	"github.com/andreasschulze/tlsrpt-reporter/framework/log"
)

// Source identifies the layer an option value was taken from.
type Source string

const (
	SourceCmd     Source = "cmd"
	SourceEnv     Source = "env"
	SourceCfgFile Source = "cfg"
	SourceDefault Source = "def"
)

// Resolver reads options for one daemon across all config layers.
type Resolver struct {
	ctx       *cli.Context
	section   *ini.Section
	envPrefix string

	values   map[string]string
	sources  map[string]Source
	warnings []string
	err      error
}

// NewResolver loads the INI config file and prepares option resolution
// for one daemon. The config file named by the daemon's --config flag
// must exist when set explicitly; the built-in default path may be
// absent.
func NewResolver(ctx *cli.Context, sectionName, envPrefix string) (*Resolver, error) {
	r := &Resolver{
		ctx:       ctx,
		envPrefix: envPrefix,
		values:    map[string]string{},
		sources:   map[string]Source{},
	}

	path := ctx.String("config")
	cfg, err := ini.Load(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || ctx.IsSet("config") {
			return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
		}
		cfg = ini.Empty()
	}
	r.section = cfg.Section(sectionName)

	r.checkUnknownEnv()
	return r, nil
}

// checkUnknownEnv warns about environment variables carrying the daemon
// prefix that do not correspond to any known option. Those are almost
// always typos.
func (r *Resolver) checkUnknownEnv() {
	known := map[string]bool{}
	for _, f := range r.ctx.App.Flags {
		known[r.envName(f.Names()[0])] = true
	}
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, r.envPrefix) && !known[name] {
			r.warnings = append(r.warnings,
				fmt.Sprintf("unknown environment variable %s", name))
		}
	}
}

func (r *Resolver) envName(option string) string {
	return r.envPrefix + strings.ToUpper(option)
}

// lookup returns the raw string value for an option and the layer it was
// found in. The flag default is the fallback.
func (r *Resolver) lookup(name string) (string, Source) {
	if r.ctx.IsSet(name) {
		return r.ctx.String(name), SourceCmd
	}
	if v, ok := os.LookupEnv(r.envName(name)); ok {
		return v, SourceEnv
	}
	if r.section.HasKey(name) {
		return r.section.Key(name).String(), SourceCfgFile
	}
	return r.ctx.String(name), SourceDefault
}

func (r *Resolver) String(name string) string {
	v, src := r.lookup(name)
	r.values[name] = v
	r.sources[name] = src
	return v
}

func (r *Resolver) Int(name string) int {
	v, src := r.lookup(name)
	r.values[name] = v
	r.sources[name] = src
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("config: option %s from %s is not an integer: %q", name, src, v)
	}
	return i
}

// Err returns the first parse error hit while resolving options.
func (r *Resolver) Err() error { return r.err }

// LogSettings writes every resolved option with its source, then any
// warnings collected during resolution.
func (r *Resolver) LogSettings(l log.Logger) {
	names := make([]string, 0, len(r.values))
	for k := range r.values {
		names = append(names, k)
	}
	sort.Strings(names)
	l.Printf("CONFIGURATION with %d settings:", len(names))
	for _, k := range names {
		l.Printf("CONFIG from %s option %s is %s", r.sources[k], k, r.values[k])
	}
	for _, w := range r.warnings {
		l.Msg(w)
	}
}

// Debug reports whether a log_level setting asks for debug output.
func Debug(level string) bool {
	return strings.EqualFold(strings.TrimSpace(level), "debug")
}
