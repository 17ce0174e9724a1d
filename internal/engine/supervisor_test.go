package engine

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"loopcast/internal/events"
	"loopcast/internal/models"
)

type fakeProcess struct {
	progress chan Progress
	done     chan error
	exitOnce sync.Once

	mu     sync.Mutex
	killed bool
}

func newFakeProcess(recs ...Progress) *fakeProcess {
	p := &fakeProcess{
		progress: make(chan Progress, 64),
		done:     make(chan error, 1),
	}
	for _, r := range recs {
		p.progress <- r
	}
	return p
}

func (p *fakeProcess) Progress() <-chan Progress { return p.progress }

func (p *fakeProcess) Done() <-chan error { return p.done }

func (p *fakeProcess) Kill() {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(errors.New("signal: killed"))
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *fakeProcess) StderrTail() string { return "rtmp://ingest: connection refused" }

func (p *fakeProcess) send(rec Progress) { p.progress <- rec }

// exit simulates the process terminating with the given error.
func (p *fakeProcess) exit(err error) {
	p.exitOnce.Do(func() {
		close(p.progress)
		p.done <- err
		close(p.done)
	})
}

type fakeRunner struct {
	mu       sync.Mutex
	procs    []*fakeProcess
	startErr error
	args     [][]string
}

func (r *fakeRunner) Start(_ context.Context, _ string, args []string) (process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.args = append(r.args, args)
	if r.startErr != nil {
		return nil, r.startErr
	}
	if len(r.procs) == 0 {
		return nil, errors.New("no scripted process")
	}
	p := r.procs[0]
	r.procs = r.procs[1:]
	return p, nil
}

type fakeProber struct {
	hasAudio bool
	err      error
}

func (f *fakeProber) HasAudio(context.Context, string) (bool, error) {
	return f.hasAudio, f.err
}

func newTestEngine(t *testing.T, store UsageStore, queue events.Queue, r runner) *Engine {
	t.Helper()
	if store == nil {
		store = &fakeUsageStore{}
	}
	if queue == nil {
		queue = events.NewMemoryQueue(64)
	}
	e := New(Config{
		ScratchDir:   t.TempDir(),
		StartTimeout: 2 * time.Second,
		Logger:       discardLogger(),
	}, store, queue)
	e.runner = r
	e.prober = &fakeProber{hasAudio: true}
	return e
}

func startRequest(t *testing.T) StartRequest {
	t.Helper()
	dir := t.TempDir()
	return StartRequest{
		OwnerID:     "u1",
		Name:        "morning loop",
		Files:       []string{writeMedia(t, dir, "a.mp4")},
		Destination: "rtmp://a.rtmp.youtube.com/live2/key",
		Loop:        true,
		LimitType:   models.LimitTypeDaily,
	}
}

func waitForEvent(t *testing.T, sub events.Subscription, typ events.Type) events.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func TestStartRegistersAfterProofOfLife(t *testing.T) {
	proc := newFakeProcess(Progress{ElapsedSeconds: 0})
	e := newTestEngine(t, nil, nil, &fakeRunner{procs: []*fakeProcess{proc}})

	queue := e.queue
	sub := queue.Subscribe()
	defer sub.Close()

	id, err := e.Start(context.Background(), startRequest(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == "" {
		t.Fatal("empty session id")
	}

	active := e.ListActive("u1")
	if len(active) != 1 || active[0].ID != id {
		t.Fatalf("ListActive = %+v, want session %s", active, id)
	}
	if active[0].Platform != "YouTube" {
		t.Fatalf("platform = %s, want YouTube", active[0].Platform)
	}
	if e.CountActive("u2") != 0 {
		t.Fatal("foreign owner sees the session")
	}
	ev := waitForEvent(t, sub, events.TypeStreamStarted)
	if ev.SessionID != id || ev.OwnerID != "u1" {
		t.Fatalf("started event = %+v", ev)
	}

	proc.exit(nil)
	waitForEvent(t, sub, events.TypeStreamEnded)
}

func TestStartFailureCleansUp(t *testing.T) {
	proc := newFakeProcess()
	proc.exit(errors.New("exit status 1"))
	e := newTestEngine(t, nil, nil, &fakeRunner{procs: []*fakeProcess{proc}})

	_, err := e.Start(context.Background(), startRequest(t))
	var startupErr *StartupError
	if !errors.As(err, &startupErr) {
		t.Fatalf("expected StartupError, got %v", err)
	}
	if startupErr.Stderr == "" {
		t.Fatal("startup error should carry the stderr tail")
	}
	if n := e.CountActive("u1"); n != 0 {
		t.Fatalf("registry holds %d sessions after failed start", n)
	}
	entries, _ := os.ReadDir(e.cfg.ScratchDir)
	if len(entries) != 0 {
		t.Fatalf("scratch files not removed: %v", entries)
	}
}

func TestStartTimeout(t *testing.T) {
	proc := newFakeProcess() // never produces progress
	e := newTestEngine(t, nil, nil, &fakeRunner{procs: []*fakeProcess{proc}})
	e.cfg.StartTimeout = 50 * time.Millisecond

	_, err := e.Start(context.Background(), startRequest(t))
	var startupErr *StartupError
	if !errors.As(err, &startupErr) {
		t.Fatalf("expected StartupError, got %v", err)
	}
	if !proc.wasKilled() {
		t.Fatal("stalled process was not killed")
	}
}

func TestStopRemovesSessionSynchronously(t *testing.T) {
	proc := newFakeProcess(Progress{ElapsedSeconds: 0})
	e := newTestEngine(t, nil, nil, &fakeRunner{procs: []*fakeProcess{proc}})

	id, err := e.Start(context.Background(), startRequest(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !e.Stop(id) {
		t.Fatal("Stop returned false for a live session")
	}
	if n := e.CountActive("u1"); n != 0 {
		t.Fatalf("session still registered after Stop: %d", n)
	}
	entries, _ := os.ReadDir(e.cfg.ScratchDir)
	if len(entries) != 0 {
		t.Fatalf("scratch files survive Stop: %v", entries)
	}
	if e.Stop(id) {
		t.Fatal("second Stop must report false")
	}
}

func TestProgressChargesDebounced(t *testing.T) {
	proc := newFakeProcess(Progress{ElapsedSeconds: 0})
	store := &fakeUsageStore{limit: 3600, limitType: models.LimitTypeDaily}
	queue := events.NewMemoryQueue(64)
	e := newTestEngine(t, store, queue, &fakeRunner{procs: []*fakeProcess{proc}})

	sub := queue.Subscribe()
	defer sub.Close()

	if _, err := e.Start(context.Background(), startRequest(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, marker := range []int64{5, 5, 9, 12, 18} {
		proc.send(Progress{ElapsedSeconds: marker, Bitrate: "2500kbits/s"})
	}
	proc.exit(nil)
	waitForEvent(t, sub, events.TypeStreamEnded)

	got := store.chargedDeltas()
	want := []int64{5, 7, 6}
	if len(got) != len(want) {
		t.Fatalf("charged %v, want %v", got, want)
	}
	var sum int64
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("charged %v, want %v", got, want)
		}
		sum += got[i]
	}
	if sum != 18 {
		t.Fatalf("charges sum to %d, want the final marker 18", sum)
	}
}

func TestBackwardsProgressChargesNothing(t *testing.T) {
	proc := newFakeProcess(Progress{ElapsedSeconds: 0})
	store := &fakeUsageStore{limit: 3600}
	queue := events.NewMemoryQueue(64)
	e := newTestEngine(t, store, queue, &fakeRunner{procs: []*fakeProcess{proc}})

	sub := queue.Subscribe()
	defer sub.Close()

	if _, err := e.Start(context.Background(), startRequest(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// A playlist seam jumps the timestamp backwards; billing resumes from
	// the new position.
	for _, marker := range []int64{30, 2, 8} {
		proc.send(Progress{ElapsedSeconds: marker})
	}
	proc.exit(nil)
	waitForEvent(t, sub, events.TypeStreamEnded)

	got := store.chargedDeltas()
	want := []int64{30, 6}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("charged %v, want %v", got, want)
	}
}

func TestQuotaExhaustionStopsStream(t *testing.T) {
	proc := newFakeProcess(Progress{ElapsedSeconds: 0})
	store := &fakeUsageStore{limit: 10, limitType: models.LimitTypeDaily}
	queue := events.NewMemoryQueue(64)
	e := newTestEngine(t, store, queue, &fakeRunner{procs: []*fakeProcess{proc}})

	sub := queue.Subscribe()
	defer sub.Close()

	if _, err := e.Start(context.Background(), startRequest(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	proc.send(Progress{ElapsedSeconds: 6})
	proc.send(Progress{ElapsedSeconds: 12})

	waitForEvent(t, sub, events.TypeStreamEnded)
	if !proc.wasKilled() {
		t.Fatal("exhausted session was not killed")
	}
	if n := e.CountActive("u1"); n != 0 {
		t.Fatalf("session still registered: %d", n)
	}
}

func TestCrashPublishesErrorAndCleansUp(t *testing.T) {
	proc := newFakeProcess(Progress{ElapsedSeconds: 0})
	queue := events.NewMemoryQueue(64)
	e := newTestEngine(t, nil, queue, &fakeRunner{procs: []*fakeProcess{proc}})

	sub := queue.Subscribe()
	defer sub.Close()

	id, err := e.Start(context.Background(), startRequest(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	proc.exit(errors.New("exit status 1"))

	sawErrorLog := false
	deadline := time.After(3 * time.Second)
	for {
		var ev events.Event
		select {
		case ev = <-sub.Events():
		case <-deadline:
			t.Fatal("timed out waiting for ended event")
		}
		if ev.Type == events.TypeLog && ev.Log != nil && ev.Log.Kind == "error" {
			sawErrorLog = true
		}
		if ev.Type == events.TypeStreamEnded {
			break
		}
	}
	if !sawErrorLog {
		t.Fatal("crash did not publish an error log event")
	}
	if n := e.CountActive("u1"); n != 0 {
		t.Fatalf("crashed session %s still registered", id)
	}
}

func TestShutdownStopsEverything(t *testing.T) {
	p1 := newFakeProcess(Progress{ElapsedSeconds: 0})
	p2 := newFakeProcess(Progress{ElapsedSeconds: 0})
	e := newTestEngine(t, nil, nil, &fakeRunner{procs: []*fakeProcess{p1, p2}})

	if _, err := e.Start(context.Background(), startRequest(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.Start(context.Background(), startRequest(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := e.CountActive("u1"); n != 0 {
		t.Fatalf("%d sessions survived shutdown", n)
	}
}
