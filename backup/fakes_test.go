package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testPoll      = 100 * time.Millisecond
	testSlowPoll  = time.Second
	testKeepAlive = 60 * time.Second
	testHeartbeat = testKeepAlive / 20
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (t *fakeTimer) live() bool { return !t.stopped && !t.fired }

type fakeScheduler struct {
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) live(heartbeat bool) []*fakeTimer {
	var out []*fakeTimer
	for _, t := range s.timers {
		if t.live() && (t.d == testHeartbeat) == heartbeat {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeScheduler) fire(t *testing.T, heartbeat bool) *fakeTimer {
	t.Helper()
	live := s.live(heartbeat)
	require.Len(t, live, 1, "expected exactly one live timer")
	timer := live[0]
	timer.fired = true
	timer.f()
	return timer
}

type fakeOp struct {
	status    OpStatus
	cancelled int
	released  int
}

func (op *fakeOp) Status() OpStatus { return op.status }

func (op *fakeOp) Cancel() {
	op.cancelled++
	if op.status == OpPending {
		op.status = OpFailed
	}
}

func (op *fakeOp) Release() { op.released++ }

type fakeRunner struct {
	noScripts bool
	errs      map[ScriptPhase]error
	runs      []ScriptPhase
	ops       []*fakeOp
}

func (r *fakeRunner) Run(phase ScriptPhase, _ *Session) (Operation, error) {
	r.runs = append(r.runs, phase)
	if err := r.errs[phase]; err != nil {
		return nil, err
	}
	op := &fakeOp{}
	r.ops = append(r.ops, op)
	return op, nil
}

func (r *fakeRunner) HasScripts() bool { return !r.noScripts }

func (r *fakeRunner) last() *fakeOp { return r.ops[len(r.ops)-1] }

type fakeProvider struct {
	startErr  error
	snapErr   error
	onStart   func(s *Session)
	started   int
	aborted   int
	snapshots int
	released  int
}

func (p *fakeProvider) Start(s *Session) error {
	p.started++
	if p.startErr != nil {
		return p.startErr
	}
	if p.onStart != nil {
		p.onStart(s)
	}
	return nil
}

func (p *fakeProvider) Abort(*Session) { p.aborted++ }

func (p *fakeProvider) SnapshotDone(*Session) error {
	p.snapshots++
	return p.snapErr
}

func (p *fakeProvider) Release() { p.released++ }

type sentEvent struct {
	session string
	name    string
	code    Status
	msg     string
}

type recordingSink struct {
	events []sentEvent
}

func (r *recordingSink) SendEvent(sessionID, event string, code Status, msg string) error {
	r.events = append(r.events, sentEvent{session: sessionID, name: event, code: code, msg: msg})
	return nil
}

func (r *recordingSink) names() []string {
	var out []string
	for _, e := range r.events {
		if e.name != EventKeepAlive {
			out = append(out, e.name)
		}
	}
	return out
}

func (r *recordingSink) find(name string) []sentEvent {
	var out []sentEvent
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type staticTargets struct {
	targets []string
	err     error
}

func (s staticTargets) Targets() ([]string, error) { return s.targets, s.err }

type fixture struct {
	sched    *fakeScheduler
	runner   *fakeRunner
	provider *fakeProvider
	sink     *recordingSink
	orch     *Orchestrator
}

func newFixture(t *testing.T, targets TargetSource) *fixture {
	t.Helper()
	if targets == nil {
		targets = staticTargets{}
	}
	f := &fixture{
		sched:    &fakeScheduler{},
		runner:   &fakeRunner{},
		provider: &fakeProvider{},
		sink:     &recordingSink{},
	}
	orch, err := NewOrchestrator(Config{
		Scheduler:       f.sched,
		Scripts:         f.runner,
		Provider:        f.provider,
		Events:          f.sink,
		Targets:         targets,
		PollPeriod:      testPoll,
		SlowPollPeriod:  testSlowPoll,
		KeepAlivePeriod: testKeepAlive,
	})
	require.NoError(t, err)
	f.orch = orch
	return f
}

func (f *fixture) tick(t *testing.T) {
	t.Helper()
	f.sched.fire(t, false)
}

// startAndFreeze starts a session and finishes the freeze scripts so the
// sync provider is running.
func (f *fixture) startAndFreeze(t *testing.T) *Session {
	t.Helper()
	require.True(t, f.orch.Start("0 ").OK)
	f.runner.last().status = OpFinished
	f.tick(t)
	s := f.orch.session
	require.NotNil(t, s)
	require.True(t, s.providerRunning)
	return s
}

func (f *fixture) terminal(t *testing.T) sentEvent {
	t.Helper()
	done := f.sink.find(EventRequestorDone)
	require.Len(t, done, 1)
	return done[0]
}
