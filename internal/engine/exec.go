package engine

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// process is a handle to one running encoder. The real implementation wraps
// os/exec; tests substitute a scripted fake.
type process interface {
	// Progress delivers parsed -progress records and closes when the
	// process stops producing them.
	Progress() <-chan Progress
	// Done yields the process exit result exactly once.
	Done() <-chan error
	// Kill forcibly terminates the process. Safe to call repeatedly.
	Kill()
	// StderrTail returns the last captured stderr lines for diagnostics.
	StderrTail() string
}

type runner interface {
	Start(ctx context.Context, bin string, args []string) (process, error)
}

// stderrTailLines bounds how much encoder stderr is retained per session.
const stderrTailLines = 20

type execRunner struct{}

func (execRunner) Start(ctx context.Context, bin string, args []string) (process, error) {
	cmd := exec.Command(bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attach stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("attach stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	p := &execProcess{
		cmd:      cmd,
		progress: make(chan Progress, 16),
		done:     make(chan error, 1),
	}

	var g errgroup.Group
	g.Go(func() error {
		defer close(p.progress)
		return ReadProgress(stdout, func(rec Progress) {
			select {
			case p.progress <- rec:
			default:
				// The supervisor fell behind; stale samples are
				// worthless, newer ones follow immediately.
			}
		})
	})
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			p.appendStderr(scanner.Text())
		}
		return scanner.Err()
	})
	go func() {
		_ = g.Wait()
		p.done <- cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd      *exec.Cmd
	progress chan Progress
	done     chan error

	mu   sync.Mutex
	tail []string
}

func (p *execProcess) Progress() <-chan Progress { return p.progress }

func (p *execProcess) Done() <-chan error { return p.done }

func (p *execProcess) Kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

func (p *execProcess) appendStderr(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tail = append(p.tail, line)
	if len(p.tail) > stderrTailLines {
		p.tail = p.tail[len(p.tail)-stderrTailLines:]
	}
}

func (p *execProcess) StderrTail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.tail, "\n")
}
