package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lefterav/expsuite/internal/layout"
	"github.com/lefterav/expsuite/internal/runlog"
	"github.com/lefterav/expsuite/pkg/api"
)

// counter is a deterministic experiment whose results depend on the state
// carried across iterations, so a wrong restore shows up in the log.
type counter struct {
	resumable  bool
	failRep    int
	failIt     int
	panics     bool
	saveErr    error
	restoreErr error

	sum      int
	resets   int
	restored int
	steps    []int
}

func newCounter() *counter { return &counter{failRep: -1, failIt: -1, restored: -1} }

func (c *counter) Reset(ctx context.Context, env *api.Env) error {
	c.resets++
	c.sum = 0
	return nil
}

func (c *counter) Iterate(ctx context.Context, env *api.Env, it int) (api.Result, error) {
	if env.Rep == c.failRep && it == c.failIt {
		if c.panics {
			panic("boom")
		}
		return nil, errors.New("boom")
	}
	c.steps = append(c.steps, it)
	c.sum += it + 1
	alpha, _ := env.Params.Float("alpha")
	return api.Result{
		"iteration":  it,
		"repetition": env.Rep,
		"sum":        c.sum,
		"score":      alpha * float64(c.sum),
	}, nil
}

func (c *counter) RestoreSupported() bool { return c.resumable }

// statePath is the state saved after iteration it.
func (c *counter) statePath(env *api.Env, it int) string {
	return env.Path(fmt.Sprintf("%d.%d.state", env.Rep, it))
}

func (c *counter) SaveState(ctx context.Context, env *api.Env, it int) error {
	if c.saveErr != nil {
		return c.saveErr
	}
	return os.WriteFile(c.statePath(env, it), []byte(strconv.Itoa(c.sum)), 0o644)
}

func (c *counter) RestoreState(ctx context.Context, env *api.Env, it int) error {
	if c.restoreErr != nil {
		return c.restoreErr
	}
	data, err := os.ReadFile(c.statePath(env, it-1))
	if err != nil {
		return err
	}
	c.sum, err = strconv.Atoi(string(data))
	c.restored = it
	return err
}

func testParams(root, name string, iterations, reps int) *api.Params {
	p := api.NewParams()
	p.Set(api.KeyName, name)
	p.Set(api.KeyPath, root)
	p.Set(api.KeyIterations, iterations)
	p.Set(api.KeyRepetitions, reps)
	p.Set("alpha", 0.5)
	return p
}

func prepared(t testing.TB, p *api.Params) string {
	t.Helper()
	dir, err := layout.Prepare(p, false)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	return dir
}

func testRunner(exp api.Stepper) *Runner {
	return &Runner{
		Exp:    exp,
		Keys:   &runlog.Sanitizer{},
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	c, err := runlog.Read(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if c.Sentinel {
		return append(c.Lines, runlog.Sentinel)
	}
	return c.Lines
}

// TestRunnerFresh tests a complete run from an empty directory
func TestRunnerFresh(t *testing.T) {
	p := testParams(t.TempDir(), "exp", 3, 1)
	dir := prepared(t, p)

	o := testRunner(newCounter()).Run(context.Background(), p, 0, 0)
	if o.Status != api.RunSucceeded || o.State != api.StateFresh || o.Executed != 3 || o.Err != nil {
		t.Fatalf("unexpected outcome %+v", o)
	}
	got := readLines(t, layout.LogPath(dir, 0))
	want := []string{
		"iteration:0 repetition:0 score:0.5 sum:1",
		"iteration:1 repetition:0 score:1.5 sum:3",
		"iteration:2 repetition:0 score:3.0 sum:6",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("log:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestRunnerCrashWritesSentinelAndReport(t *testing.T) {
	for _, panics := range []bool{false, true} {
		t.Run(fmt.Sprintf("panic=%v", panics), func(t *testing.T) {
			p := testParams(t.TempDir(), "exp", 5, 1)
			dir := prepared(t, p)
			c := newCounter()
			c.failRep, c.failIt, c.panics = 0, 2, panics

			o := testRunner(c).Run(context.Background(), p, 0, 0)
			if o.Status != api.RunCrashed || o.Executed != 2 {
				t.Fatalf("unexpected outcome %+v", o)
			}
			var herr *HookError
			if !errors.As(o.Err, &herr) || herr.Hook != "step" || herr.Iteration != 2 {
				t.Fatalf("expected step HookError, got %v", o.Err)
			}

			got := readLines(t, layout.LogPath(dir, 0))
			if len(got) != 3 || got[2] != runlog.Sentinel {
				t.Fatalf("log = %q", got)
			}

			report := filepath.Join(dir, "0.exception-2024_01_02__03_04_05.stderr")
			if o.Report != report {
				t.Fatalf("report = %s, want %s", o.Report, report)
			}
			body, err := os.ReadFile(report)
			if err != nil {
				t.Fatalf("crash report: %v", err)
			}
			if !bytes.Contains(body, []byte("boom")) || !bytes.Contains(body, []byte("goroutine")) {
				t.Fatalf("crash report lacks message or stack:\n%s", body)
			}
		})
	}
}

func TestRunnerRestartsWithoutRestore(t *testing.T) {
	p := testParams(t.TempDir(), "exp", 4, 1)
	dir := prepared(t, p)
	c := newCounter()
	c.failRep, c.failIt = 0, 2
	testRunner(c).Run(context.Background(), p, 0, 0)

	c2 := newCounter()
	o := testRunner(c2).Run(context.Background(), p, 0, 0)
	if o.State != api.StateCrashed || o.Resume != 0 || o.Executed != 4 {
		t.Fatalf("unexpected outcome %+v", o)
	}
	if len(c2.steps) != 4 || c2.steps[0] != 0 {
		t.Fatalf("expected a restart from 0, ran %v", c2.steps)
	}
	if got := readLines(t, layout.LogPath(dir, 0)); len(got) != 4 {
		t.Fatalf("log has %d lines", len(got))
	}
}

// TestRunnerResumptionExactness tests that a resumed repetition matches an
// uninterrupted one line for line
func TestRunnerResumptionExactness(t *testing.T) {
	root := t.TempDir()
	ref := testParams(root, "ref", 6, 1)
	refDir := prepared(t, ref)
	rc := newCounter()
	rc.resumable = true
	testRunner(rc).Run(context.Background(), ref, 0, 0)

	p := testParams(root, "resumed", 6, 1)
	dir := prepared(t, p)
	c := newCounter()
	c.resumable = true
	c.failRep, c.failIt = 0, 4
	testRunner(c).Run(context.Background(), p, 0, 0)
	before := readLines(t, layout.LogPath(dir, 0))

	c2 := newCounter()
	c2.resumable = true
	o := testRunner(c2).Run(context.Background(), p, 0, 0)
	if o.Status != api.RunSucceeded || o.Resume != 4 || o.Executed != 2 {
		t.Fatalf("unexpected outcome %+v", o)
	}
	if c2.restored != 4 || c2.resets != 1 {
		t.Fatalf("restored=%d resets=%d", c2.restored, c2.resets)
	}

	got := readLines(t, layout.LogPath(dir, 0))
	for i := 0; i < 4; i++ {
		if got[i] != before[i] {
			t.Fatalf("line %d changed: %q -> %q", i, before[i], got[i])
		}
	}
	want := readLines(t, layout.LogPath(refDir, 0))
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("resumed log differs:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestRunnerSaveFailureIsNotFatal(t *testing.T) {
	p := testParams(t.TempDir(), "exp", 3, 1)
	dir := prepared(t, p)
	c := newCounter()
	c.resumable = true
	c.saveErr = errors.New("disk full")

	o := testRunner(c).Run(context.Background(), p, 0, 0)
	if o.Status != api.RunSucceeded || o.Executed != 3 {
		t.Fatalf("unexpected outcome %+v", o)
	}
	if got := readLines(t, layout.LogPath(dir, 0)); len(got) != 3 {
		t.Fatalf("log has %d lines", len(got))
	}
}

func TestRunnerRestoreFailureIsFatal(t *testing.T) {
	p := testParams(t.TempDir(), "exp", 4, 1)
	dir := prepared(t, p)
	writeLog(t, layout.LogPath(dir, 0), "iteration:0\niteration:1\n")
	c := newCounter()
	c.resumable = true
	c.restoreErr = errors.New("state lost")

	o := testRunner(c).Run(context.Background(), p, 0, 0)
	var herr *HookError
	if o.Status != api.RunCrashed || !errors.As(o.Err, &herr) || herr.Hook != "restore" {
		t.Fatalf("unexpected outcome %+v", o)
	}
	got := readLines(t, layout.LogPath(dir, 0))
	if len(got) != 3 || got[2] != runlog.Sentinel {
		t.Fatalf("log = %q", got)
	}

	// Once the state is available again the repetition continues at 2.
	c2 := newCounter()
	c2.resumable = true
	if err := os.WriteFile(filepath.Join(dir, "0.1.state"), []byte("3"), 0o644); err != nil {
		t.Fatal(err)
	}
	o = testRunner(c2).Run(context.Background(), p, 0, 0)
	if o.Resume != 2 || o.Executed != 2 || o.Status != api.RunSucceeded {
		t.Fatalf("unexpected outcome %+v", o)
	}
}

func TestRunnerForcedRerun(t *testing.T) {
	p := testParams(t.TempDir(), "exp", 5, 1)
	dir := prepared(t, p)
	c := newCounter()
	c.resumable = true
	testRunner(c).Run(context.Background(), p, 0, 0)
	log := layout.LogPath(dir, 0)
	orig, _ := os.ReadFile(log)

	c2 := newCounter()
	c2.resumable = true
	o := testRunner(c2).Run(context.Background(), p, 0, 2)
	if o.State != api.StateRerun || o.Resume != 2 || o.Executed != 3 {
		t.Fatalf("unexpected outcome %+v", o)
	}
	saved, err := os.ReadFile(o.Backup)
	if err != nil || !bytes.Equal(saved, orig) {
		t.Fatalf("backup %s does not hold the original log: %v", o.Backup, err)
	}
	now, _ := os.ReadFile(log)
	if !bytes.Equal(now, orig) {
		t.Fatalf("deterministic rerun changed the log:\n%s\nwas:\n%s", now, orig)
	}

	// A target beyond the logged progress is a no-op.
	o = testRunner(newCounter()).Run(context.Background(), p, 0, 9)
	if o.Status != api.RunSkipped {
		t.Fatalf("expected skip, got %+v", o)
	}
}

// TestRunnerRerunsKeepEveryBackup tests two forced reruns within the same
// second: each keeps its own copy of the log it replaced
func TestRunnerRerunsKeepEveryBackup(t *testing.T) {
	p := testParams(t.TempDir(), "exp", 3, 1)
	dir := prepared(t, p)
	c := newCounter()
	c.resumable = true
	testRunner(c).Run(context.Background(), p, 0, 0)
	log := layout.LogPath(dir, 0)
	orig, _ := os.ReadFile(log)

	first := testRunner(newCounter()).Run(context.Background(), p, 0, 2)
	if first.Status != api.RunSucceeded || first.Backup == "" {
		t.Fatalf("unexpected outcome %+v", first)
	}
	edited := []byte("iteration:0 sum:7\niteration:1 sum:8\niteration:2 sum:9\n")
	if err := os.WriteFile(log, edited, 0o644); err != nil {
		t.Fatal(err)
	}
	second := testRunner(newCounter()).Run(context.Background(), p, 0, 1)
	if second.Status != api.RunSucceeded || second.Backup == first.Backup {
		t.Fatalf("second rerun reused backup %s: %+v", first.Backup, second)
	}

	for path, want := range map[string][]byte{first.Backup: orig, second.Backup: edited} {
		got, err := os.ReadFile(path)
		if err != nil || !bytes.Equal(got, want) {
			t.Fatalf("backup %s = %q, want %q (err %v)", path, got, want, err)
		}
	}
	baks, _ := filepath.Glob(filepath.Join(dir, "0.log.*.bak"))
	if len(baks) != 2 {
		t.Fatalf("expected two backups, found %v", baks)
	}
}

func TestRunnerRepeatedCrashKeepsReports(t *testing.T) {
	p := testParams(t.TempDir(), "exp", 4, 1)
	dir := prepared(t, p)
	var reports []string
	for i := 0; i < 2; i++ {
		c := newCounter()
		c.failRep, c.failIt = 0, 1
		o := testRunner(c).Run(context.Background(), p, 0, 0)
		if o.Status != api.RunCrashed {
			t.Fatalf("run %d: unexpected outcome %+v", i, o)
		}
		reports = append(reports, o.Report)
	}
	want := []string{
		filepath.Join(dir, "0.exception-2024_01_02__03_04_05.stderr"),
		filepath.Join(dir, "0.exception-2024_01_02__03_04_05.1.stderr"),
	}
	for i := range want {
		if reports[i] != want[i] {
			t.Fatalf("report %d = %s, want %s", i, reports[i], want[i])
		}
		if _, err := os.Stat(want[i]); err != nil {
			t.Fatalf("report %d missing: %v", i, err)
		}
	}
}

func TestRunnerCompleteIsSkipped(t *testing.T) {
	p := testParams(t.TempDir(), "exp", 2, 1)
	prepared(t, p)
	testRunner(newCounter()).Run(context.Background(), p, 0, 0)

	c := newCounter()
	o := testRunner(c).Run(context.Background(), p, 0, 0)
	if o.Status != api.RunSkipped || o.State != api.StateComplete || c.resets != 0 {
		t.Fatalf("unexpected outcome %+v, resets=%d", o, c.resets)
	}
}

func TestRunnerFillsIterationAndSanitizesKeys(t *testing.T) {
	p := testParams(t.TempDir(), "exp", 2, 1)
	dir := prepared(t, p)
	exp := api.Funcs{OnStep: func(ctx context.Context, env *api.Env, it int) (api.Result, error) {
		return api.Result{"test error": 0.25, "label": "a b"}, nil
	}}
	o := testRunner(exp).Run(context.Background(), p, 0, 0)
	if o.Status != api.RunSucceeded {
		t.Fatalf("unexpected outcome %+v", o)
	}
	got := readLines(t, layout.LogPath(dir, 0))
	if got[1] != "iteration:1 label:a_b test_error:0.25" {
		t.Fatalf("line = %q", got[1])
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	p := testParams(t.TempDir(), "exp", 5, 1)
	dir := prepared(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	exp := api.Funcs{OnStep: func(ctx context.Context, env *api.Env, it int) (api.Result, error) {
		if it == 1 {
			cancel()
		}
		return api.Result{}, nil
	}}
	o := testRunner(exp).Run(ctx, p, 0, 0)
	if o.Status != api.RunFailed || !errors.Is(o.Err, context.Canceled) {
		t.Fatalf("unexpected outcome %+v", o)
	}
	got := readLines(t, layout.LogPath(dir, 0))
	if len(got) != 2 {
		t.Fatalf("interrupted log = %q", got)
	}
}
