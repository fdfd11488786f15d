// Package svnconfig loads the per-visit configuration table of spec.md §6
// from YAML, the way the teacher loads its own persisted state with
// gopkg.in/yaml.v2, and tokenizes the dump frontend's free-form extra-args
// string the way a shell would with the teacher's own go-shlex dependency.
//
// SPDX-License-Identifier: BSD-2-Clause
package svnconfig

import (
	"fmt"
	"os"

	"github.com/anmitsu/go-shlex"
	"gopkg.in/yaml.v2"

	"github.com/softwareheritage/svnloader/internal/loader"
)

// File is the on-disk shape of a visit configuration file: spec.md §6's
// inbound configuration table plus the dump-frontend knobs of §6's "Dump
// frontends" section.
type File struct {
	URL         string `yaml:"url"`
	OriginURL   string `yaml:"origin_url"`
	VisitDate   string `yaml:"visit_date"`
	Incremental *bool  `yaml:"incremental"`
	// DumpBased marks a config whose url points at a repository produced by
	// `svnload dump-load` (a one-shot local file:// copy of a remote dump)
	// rather than the live origin: spec.md §6 defaults incremental to false
	// in that case, since there is nothing upstream left to resume against.
	DumpBased         bool   `yaml:"dump_based"`
	TempDirectory     string `yaml:"temp_directory"`
	Debug             bool   `yaml:"debug"`
	CheckRevision     int    `yaml:"check_revision"`
	CheckRevisionFrom int    `yaml:"check_revision_from"`
	MaxContentSize    int64  `yaml:"max_content_size"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// SvnBinary / SvnAdminBinary / SvnRdumpBinary override the executables
	// internal/svnproto and internal/dumpfrontend shell out to.
	SvnBinary      string `yaml:"svn_binary"`
	SvnAdminBinary string `yaml:"svnadmin_binary"`
	SvnRdumpBinary string `yaml:"svnrdump_binary"`

	// ExtraArgs is a free-form string of additional flags passed to
	// svnadmin/svnrdump, tokenized with the same rules a shell would apply
	// (quoting, escaping) via go-shlex, mirroring how config-driven CLI
	// wrappers in the corpus split one configuration string into argv.
	ExtraArgs string `yaml:"extra_args"`
}

// Defaults matching spec.md §6's stated defaults: "Default true for live,
// false for dump-based" incremental, temp_directory = os.TempDir().
const (
	DefaultCheckRevision     = 1000
	DefaultCheckRevisionFrom = 0
	DefaultMaxContentSize    = 100 << 20 // 100 MiB
)

// Load reads and parses a YAML visit-configuration file at path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("svnconfig: reading %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("svnconfig: parsing %s: %w", path, err)
	}
	if f.TempDirectory == "" {
		f.TempDirectory = os.TempDir()
	}
	if f.CheckRevision == 0 {
		f.CheckRevision = DefaultCheckRevision
	}
	if f.MaxContentSize == 0 {
		f.MaxContentSize = DefaultMaxContentSize
	}
	return f, nil
}

// ToLoaderConfig adapts a parsed File into internal/loader's Config,
// defaulting Incremental to true for a live origin, false when DumpBased
// is set, unless the config overrides it explicitly.
func (f File) ToLoaderConfig() loader.Config {
	incremental := !f.DumpBased
	if f.Incremental != nil {
		incremental = *f.Incremental
	}
	return loader.Config{
		URL:               f.URL,
		OriginURL:         f.OriginURL,
		Incremental:       incremental,
		TempDirectory:     f.TempDirectory,
		Debug:             f.Debug,
		CheckRevision:     f.CheckRevision,
		CheckRevisionFrom: f.CheckRevisionFrom,
		MaxContentSize:    f.MaxContentSize,
	}
}

// SplitExtraArgs tokenizes ExtraArgs the way a POSIX shell would split an
// argument string, so a config file can carry e.g.
// `extra_args: "--deltas --quiet"` for svnadmin/svnrdump invocations.
func (f File) SplitExtraArgs() ([]string, error) {
	if f.ExtraArgs == "" {
		return nil, nil
	}
	args, err := shlex.Split(f.ExtraArgs, true)
	if err != nil {
		return nil, fmt.Errorf("svnconfig: splitting extra_args %q: %w", f.ExtraArgs, err)
	}
	return args, nil
}
