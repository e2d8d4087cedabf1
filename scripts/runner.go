// Package scripts runs the guest's backup scripts for the freeze, freeze
// fail and thaw phases of a backup.
//
// Every executable regular file in the scripts directory is run with the
// phase name as its only argument: in lexical order for "freeze", and in
// reverse order for "freezeFail" and "thaw" so the last script frozen is the
// first thawed. Optional legacy scripts run before the directory on freeze
// and after it otherwise.
package scripts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/valvemist/vmbackup/backup"
)

// DefaultTimeout bounds a single script run.
const DefaultTimeout = 10 * time.Minute

var log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level:     slog.LevelInfo,
	AddSource: true,
}))

// SetLogger sets the logger used by the scripts package.
func SetLogger(logger *slog.Logger) {
	if logger != nil {
		log = logger
	}
}

// Runner implements backup.ScriptRunner.
type Runner struct {
	// Dir holds the phase scripts. A missing directory means no scripts.
	Dir string

	// LegacyFreeze and LegacyThaw are single scripts run without
	// arguments, kept for guests that predate the scripts directory.
	LegacyFreeze string
	LegacyThaw   string

	// Timeout bounds each script; zero means DefaultTimeout.
	Timeout time.Duration
}

// HasScripts reports whether any script is installed.
func (r *Runner) HasScripts() bool {
	scripts, err := r.dirScripts()
	if err != nil {
		log.Debug("cannot list scripts", "dir", r.Dir, "error", err)
	}
	return len(scripts) > 0 || isExecutable(r.LegacyFreeze) || isExecutable(r.LegacyThaw)
}

// Run starts the scripts of phase in the background.
func (r *Runner) Run(phase backup.ScriptPhase, s *backup.Session) (backup.Operation, error) {
	plan, err := r.plan(phase)
	if err != nil {
		return nil, errors.Annotatef(backup.ErrScript, "listing %s scripts: %v", phase, err)
	}
	env := []string{
		"VMBACKUP_SESSION=" + s.ID(),
		"VMBACKUP_VOLUMES=" + strings.Join(s.Volumes(), " "),
		fmt.Sprintf("VMBACKUP_MANIFESTS=%t", s.GenerateManifests()),
	}
	log.Debug("running scripts", "phase", phase, "count", len(plan))
	return backup.StartAsyncOp(func(ctx context.Context) error {
		return r.runAll(ctx, phase, plan, env)
	}), nil
}

type invocation struct {
	path string
	args []string
}

// plan returns the scripts of phase in execution order.
func (r *Runner) plan(phase backup.ScriptPhase) ([]invocation, error) {
	scripts, err := r.dirScripts()
	if err != nil {
		return nil, err
	}
	var plan []invocation
	if phase != backup.ScriptFreeze {
		slices.Reverse(scripts)
	}
	for _, path := range scripts {
		plan = append(plan, invocation{path: path, args: []string{phase.String()}})
	}

	switch phase {
	case backup.ScriptFreeze:
		if isExecutable(r.LegacyFreeze) {
			plan = append([]invocation{{path: r.LegacyFreeze}}, plan...)
		}
	default:
		if isExecutable(r.LegacyThaw) {
			plan = append(plan, invocation{path: r.LegacyThaw})
		}
	}
	return plan, nil
}

// runAll runs the plan sequentially. A freeze failure stops the phase;
// freeze fail and thaw run every script and report the first failure.
func (r *Runner) runAll(ctx context.Context, phase backup.ScriptPhase, plan []invocation, env []string) error {
	var firstErr error
	for _, inv := range plan {
		if err := ctx.Err(); err != nil {
			return errors.Annotatef(err, "%s scripts cancelled", phase)
		}
		err := r.runOne(ctx, inv, env)
		if err == nil {
			continue
		}
		log.Error("backup script failed", "phase", phase, "script", inv.path, "error", err)
		if phase == backup.ScriptFreeze {
			return err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Runner) runOne(ctx context.Context, inv invocation, env []string) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, inv.path, inv.args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.WaitDelay = time.Second
	output, err := cmd.CombinedOutput()
	log.Debug("script output", "script", inv.path, "args", inv.args, "output", string(output))
	if err != nil {
		return errors.Annotatef(err, "running %s %s", inv.path, strings.Join(inv.args, " "))
	}
	return nil
}

// dirScripts lists the executable regular files of Dir in lexical order.
func (r *Runner) dirScripts() ([]string, error) {
	if r.Dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(r.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	var scripts []string
	for _, entry := range entries {
		path := filepath.Join(r.Dir, entry.Name())
		if isExecutable(path) {
			scripts = append(scripts, path)
		}
	}
	return scripts, nil
}

func isExecutable(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}
