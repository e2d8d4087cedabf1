package backup

import (
	"bufio"
	"io/fs"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/juju/errors"
)

const (
	DefaultPollPeriod      = 100 * time.Millisecond
	DefaultSlowPollPeriod  = time.Second
	DefaultKeepAlivePeriod = 20 * time.Second

	// ConfigFileName is the name of the disabled targets file inside the
	// tools configuration directory.
	ConfigFileName = "vmbackup.conf"
)

// Config holds the collaborators and timings of an Orchestrator.
type Config struct {
	Scheduler Scheduler
	Scripts   ScriptRunner
	Provider  SyncProvider
	Events    EventSink
	Targets   TargetSource

	// PollPeriod is the tick interval while the sync provider has not
	// concluded; SlowPollPeriod is used afterwards.
	PollPeriod     time.Duration
	SlowPollPeriod time.Duration

	// KeepAlivePeriod is the supervisor's silence timeout. Heartbeats are
	// sent every KeepAlivePeriod/20.
	KeepAlivePeriod time.Duration
}

// Validate returns an error if the config cannot drive an Orchestrator.
func (c Config) Validate() error {
	if c.Scheduler == nil {
		return errors.NotValidf("nil Scheduler")
	}
	if c.Scripts == nil {
		return errors.NotValidf("nil Scripts")
	}
	if c.Provider == nil {
		return errors.NotValidf("nil Provider")
	}
	if c.Events == nil {
		return errors.NotValidf("nil Events")
	}
	if c.Targets == nil {
		return errors.NotValidf("nil Targets")
	}
	if c.PollPeriod < 0 || c.SlowPollPeriod < 0 || c.KeepAlivePeriod < 0 {
		return errors.NotValidf("negative period")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.PollPeriod == 0 {
		c.PollPeriod = DefaultPollPeriod
	}
	if c.SlowPollPeriod == 0 {
		c.SlowPollPeriod = DefaultSlowPollPeriod
	}
	if c.KeepAlivePeriod == 0 {
		c.KeepAlivePeriod = DefaultKeepAlivePeriod
	}
	return c
}

// TargetSource supplies the resources that must not be quiesced (paths
// ignored by a filesystem freeze, writers ignored by a snapshot subsystem).
type TargetSource interface {
	Targets() ([]string, error)
}

// FileTargets reads disabled targets from a vmbackup.conf style file: every
// line that is neither blank nor starts with '#' (after leading blanks) is a
// target. A missing file yields no targets.
type FileTargets struct {
	Path string
}

// Targets reads the file. Lines are returned unmodified.
func (f FileTargets) Targets() ([]string, error) {
	file, err := os.Open(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Annotatef(err, "opening %s", f.Path)
	}
	defer file.Close()

	var targets []string
	scanner := bufio.NewScanner(file)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" || trimmed[0] == '#' {
			continue
		}
		if !utf8.ValidString(line) {
			return nil, errors.Errorf("%s:%d: not valid UTF-8", f.Path, lineNo)
		}
		targets = append(targets, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Annotatef(err, "reading %s", f.Path)
	}
	return targets, nil
}
