package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"loopcast/internal/events"
	"loopcast/internal/models"
)

// Config tunes the engine. Zero values fall back to sensible defaults so
// callers only set what they need.
type Config struct {
	FFmpegBin  string
	FFprobeBin string
	// ScratchDir receives playlist manifests; os.TempDir when empty.
	ScratchDir string
	Profiles   Profiles
	// StartTimeout bounds how long a spawned process may take to produce
	// its first progress record before it is declared dead on arrival.
	StartTimeout time.Duration
	// ChargeIntervalSeconds is the minimum billed increment; progress
	// deltas accumulate until they reach it.
	ChargeIntervalSeconds int64
	// ImageDurationSeconds is how long each slideshow image holds.
	ImageDurationSeconds int
	ProbeTimeout         time.Duration
	Logger               *slog.Logger
}

func (c *Config) fillDefaults() {
	if c.FFmpegBin == "" {
		c.FFmpegBin = "ffmpeg"
	}
	if c.FFprobeBin == "" {
		c.FFprobeBin = "ffprobe"
	}
	if c.ScratchDir == "" {
		c.ScratchDir = os.TempDir()
	}
	if c.Profiles == (Profiles{}) {
		c.Profiles = DefaultProfiles()
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 15 * time.Second
	}
	if c.ChargeIntervalSeconds <= 0 {
		c.ChargeIntervalSeconds = 5
	}
	if c.ImageDurationSeconds <= 0 {
		c.ImageDurationSeconds = defaultImageDuration
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// StartRequest carries everything needed to bring one broadcast live.
type StartRequest struct {
	OwnerID     string
	Name        string
	Files       []string
	Destination string
	Loop        bool
	CoverImage  string
	// LimitType comes from the owner's plan and shapes the message shown
	// when the allowance runs out mid-stream.
	LimitType models.LimitType
}

// StartupError reports a process that never reached its active state.
type StartupError struct {
	Err    error
	Stderr string
}

func (e *StartupError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("stream failed to start: %v: %s", e.Err, e.Stderr)
	}
	return fmt.Sprintf("stream failed to start: %v", e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// Engine supervises broadcast sessions end to end.
type Engine struct {
	cfg        Config
	compiler   *Compiler
	prober     Prober
	runner     runner
	registry   *Registry
	accountant *Accountant
	queue      events.Queue
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// New builds an engine over the given usage store and event queue.
func New(cfg Config, store UsageStore, queue events.Queue) *Engine {
	cfg.fillDefaults()
	return &Engine{
		cfg: cfg,
		compiler: &Compiler{
			ScratchDir:    cfg.ScratchDir,
			Profiles:      cfg.Profiles,
			ImageDuration: cfg.ImageDurationSeconds,
		},
		prober:     &FFprobeProber{Bin: cfg.FFprobeBin, Timeout: cfg.ProbeTimeout},
		runner:     execRunner{},
		registry:   NewRegistry(),
		accountant: NewAccountant(store, cfg.Logger),
		queue:      queue,
		logger:     cfg.Logger,
	}
}

type session struct {
	id        string
	ownerID   string
	name      string
	platform  string
	limitType models.LimitType
	startedAt time.Time
	proc      process
	scratch   []string

	manual    atomic.Bool
	quotaStop atomic.Bool
	finished  chan struct{}
}

func (s *session) info() models.StreamInfo {
	return models.StreamInfo{
		ID:        s.id,
		OwnerID:   s.ownerID,
		Platform:  s.platform,
		Name:      s.name,
		StartedAt: s.startedAt,
	}
}

// newSessionID builds a sortable identifier: start time in base36 plus a
// random suffix to separate sessions started in the same millisecond.
func newSessionID() string {
	suffix := make([]byte, 3)
	_, _ = rand.Read(suffix)
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + hex.EncodeToString(suffix)
}

// Start classifies the media, compiles and spawns the pipeline, and waits
// for proof of life before registering the session. It returns the session
// ID only once the encoder has demonstrably begun publishing; any earlier
// failure tears down every resource the attempt created.
func (e *Engine) Start(ctx context.Context, req StartRequest) (string, error) {
	sources := SplitSources(req.Files)
	mode, err := sources.Mode()
	if err != nil {
		return "", err
	}

	hasAudio := false
	if mode == VideoMode {
		hasAudio, err = e.prober.HasAudio(ctx, sources.Videos[0])
		if err != nil {
			// A file ffprobe cannot read may still decode; stream it
			// with injected silence instead of refusing outright.
			e.logger.Warn("audio probe failed, injecting silence",
				slog.String("file", sources.Videos[0]),
				slog.String("error", err.Error()))
			hasAudio = false
		}
	}

	id := newSessionID()
	pipeline, err := e.compiler.Compile(CompileRequest{
		SessionID:   id,
		Mode:        mode,
		Sources:     sources,
		Destination: req.Destination,
		Loop:        req.Loop,
		HasAudio:    hasAudio,
		CoverImage:  req.CoverImage,
	})
	if err != nil {
		return "", err
	}

	proc, err := e.runner.Start(ctx, e.cfg.FFmpegBin, pipeline.Args)
	if err != nil {
		removeAll(pipeline.Scratch)
		return "", err
	}

	first, err := e.awaitProofOfLife(ctx, proc)
	if err != nil {
		removeAll(pipeline.Scratch)
		return "", err
	}

	sess := &session{
		id:        id,
		ownerID:   req.OwnerID,
		name:      req.Name,
		platform:  pipeline.Platform,
		limitType: req.LimitType,
		startedAt: time.Now().UTC(),
		proc:      proc,
		scratch:   pipeline.Scratch,
		finished:  make(chan struct{}),
	}
	e.registry.add(sess)
	e.logger.Info("stream started",
		slog.String("session_id", sess.id),
		slog.String("owner_id", sess.ownerID),
		slog.String("mode", mode.String()),
		slog.String("platform", sess.platform))
	e.publish(events.Event{
		Type:      events.TypeStreamStarted,
		SessionID: sess.id,
		OwnerID:   sess.ownerID,
	})
	e.publishLog(sess, "info", fmt.Sprintf("Stream %q is live on %s", sess.name, sess.platform))

	e.wg.Add(1)
	go e.supervise(sess, first)
	return sess.id, nil
}

// awaitProofOfLife blocks until the encoder writes its first progress
// record. A process that exits, stalls past the start timeout, or loses its
// context before then never becomes a session.
func (e *Engine) awaitProofOfLife(ctx context.Context, proc process) (Progress, error) {
	timer := time.NewTimer(e.cfg.StartTimeout)
	defer timer.Stop()
	for {
		select {
		case rec, ok := <-proc.Progress():
			if !ok {
				err := <-proc.Done()
				return Progress{}, &StartupError{Err: exitReason(err), Stderr: proc.StderrTail()}
			}
			return rec, nil
		case err := <-proc.Done():
			return Progress{}, &StartupError{Err: exitReason(err), Stderr: proc.StderrTail()}
		case <-timer.C:
			proc.Kill()
			<-proc.Done()
			return Progress{}, &StartupError{Err: fmt.Errorf("no output within %s", e.cfg.StartTimeout), Stderr: proc.StderrTail()}
		case <-ctx.Done():
			proc.Kill()
			<-proc.Done()
			return Progress{}, ctx.Err()
		}
	}
}

func exitReason(err error) error {
	if err == nil {
		return fmt.Errorf("process exited before producing output")
	}
	return err
}

// supervise is the session's owning goroutine: it bills progress, pushes
// stats, enforces the quota, and runs teardown exactly once on exit.
func (e *Engine) supervise(sess *session, first Progress) {
	defer e.wg.Done()
	ctx := context.Background()

	lastCharged := int64(0)
	e.observeProgress(ctx, sess, first, &lastCharged)
	for rec := range sess.proc.Progress() {
		e.observeProgress(ctx, sess, rec, &lastCharged)
	}
	exitErr := <-sess.proc.Done()
	e.finish(sess, exitErr)
}

// observeProgress bills the advance since the last charge once it reaches
// the charge interval. Backwards timestamps, which appear at playlist
// seams, reset the watermark and charge nothing.
func (e *Engine) observeProgress(ctx context.Context, sess *session, rec Progress, lastCharged *int64) {
	delta := rec.ElapsedSeconds - *lastCharged
	if delta < 0 {
		*lastCharged = rec.ElapsedSeconds
		return
	}
	if delta < e.cfg.ChargeIntervalSeconds {
		return
	}
	*lastCharged = rec.ElapsedSeconds

	snap, err := e.accountant.Charge(ctx, sess.ownerID, delta)
	if err != nil {
		e.logger.Error("usage charge failed",
			slog.String("session_id", sess.id),
			slog.String("owner_id", sess.ownerID),
			slog.String("error", err.Error()))
		return
	}
	e.publish(events.Event{
		Type:      events.TypeStats,
		SessionID: sess.id,
		OwnerID:   sess.ownerID,
		Stats: &events.StatsEvent{
			ElapsedSeconds: rec.ElapsedSeconds,
			Bitrate:        rec.Bitrate,
			RemainingQuota: snap.Remaining(),
		},
	})
	if snap.Exhausted() && !sess.quotaStop.Swap(true) {
		e.logger.Info("quota exhausted, stopping stream",
			slog.String("session_id", sess.id),
			slog.String("owner_id", sess.ownerID))
		e.publishLog(sess, "warning", ExhaustionMessage(snap.LimitType))
		sess.proc.Kill()
	}
}

// finish tears the session down: registry removal and scratch deletion
// happen before the ended event so status queries never observe a ghost.
func (e *Engine) finish(sess *session, exitErr error) {
	e.registry.remove(sess.id)
	removeAll(sess.scratch)

	switch {
	case sess.manual.Load():
		e.logger.Info("stream stopped", slog.String("session_id", sess.id))
		e.publishLog(sess, "info", fmt.Sprintf("Stream %q stopped", sess.name))
	case sess.quotaStop.Load():
		e.logger.Info("stream ended by quota", slog.String("session_id", sess.id))
	case exitErr != nil:
		e.logger.Error("stream process died",
			slog.String("session_id", sess.id),
			slog.String("error", exitErr.Error()),
			slog.String("stderr", sess.proc.StderrTail()))
		e.publishLog(sess, "error", fmt.Sprintf("Stream %q ended unexpectedly", sess.name))
	default:
		e.logger.Info("stream finished", slog.String("session_id", sess.id))
		e.publishLog(sess, "info", fmt.Sprintf("Stream %q finished", sess.name))
	}
	e.publish(events.Event{
		Type:      events.TypeStreamEnded,
		SessionID: sess.id,
		OwnerID:   sess.ownerID,
	})
	close(sess.finished)
}

// Stop ends a session and waits for its teardown to complete, so a caller
// that sees Stop return true can rely on the session being fully gone. It
// reports false for unknown or already-ended sessions.
func (e *Engine) Stop(sessionID string) bool {
	sess, ok := e.registry.get(sessionID)
	if !ok {
		return false
	}
	sess.manual.Store(true)
	sess.proc.Kill()
	<-sess.finished
	return true
}

// ListActive mirrors Registry.ListActive.
func (e *Engine) ListActive(ownerID string) []models.StreamInfo {
	return e.registry.ListActive(ownerID)
}

// CountActive mirrors Registry.CountActive.
func (e *Engine) CountActive(ownerID string) int {
	return e.registry.CountActive(ownerID)
}

// Shutdown stops every live session and waits for their supervisors, or
// returns early with the context error.
func (e *Engine) Shutdown(ctx context.Context) error {
	for _, info := range e.registry.ListActive("") {
		e.Stop(info.ID)
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) publish(ev events.Event) {
	ev.OccurredAt = time.Now().UTC()
	if err := e.queue.Publish(context.Background(), ev); err != nil {
		e.logger.Warn("event publish failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) publishLog(sess *session, kind, message string) {
	e.publish(events.Event{
		Type:      events.TypeLog,
		SessionID: sess.id,
		OwnerID:   sess.ownerID,
		Log:       &events.LogEvent{Kind: kind, Message: message},
	})
}

func removeAll(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}
