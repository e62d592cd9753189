// Package nimsuggest drives resident nimsuggest processes: spawning them in
// stdin or port mode, speaking the line protocol and decoding answers.
package nimsuggest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/nimlime/nimsuggestd/internal/config"
	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
	"github.com/nimlime/nimsuggestd/internal/limit"
	"github.com/nimlime/nimsuggestd/internal/port/analyzer"
)

const defaultExecutable = "nimsuggest"

// Compile-time interface check.
var _ analyzer.Launcher = (*Launcher)(nil)

// Launcher spawns nimsuggest processes according to the configured mode.
type Launcher struct {
	cfg   *config.Nimsuggest
	pool  *limit.Pool
	debug bool

	// execCommand and lookPath are swappable for testing.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
	lookPath    func(file string) (string, error)
}

// NewLauncher creates a Launcher. pool bounds concurrent startups and may be nil.
// With debug set every request and response line is logged.
func NewLauncher(cfg *config.Nimsuggest, pool *limit.Pool, debug bool) *Launcher {
	return &Launcher{
		cfg:         cfg,
		pool:        pool,
		debug:       debug,
		execCommand: exec.CommandContext,
		lookPath:    exec.LookPath,
	}
}

// Launch starts nimsuggest for root and waits until it is ready to accept
// requests. Every failure wraps ErrSpawn.
func (l *Launcher) Launch(ctx context.Context, root string) (analyzer.Process, error) {
	name := l.cfg.Path
	if name == "" {
		name = defaultExecutable
	}
	bin, err := l.lookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: executable %q not found: %v", nsDomain.ErrSpawn, name, err)
	}

	var proc analyzer.Process
	err = l.pool.Run(ctx, func() error {
		readyCtx, cancel := context.WithTimeout(ctx, l.cfg.ReadyTimeout)
		defer cancel()

		if l.cfg.Mode == config.ModePort {
			p, err := l.startPort(readyCtx, bin, root)
			if err != nil {
				return err
			}
			proc = p
			return nil
		}
		p, err := l.startStdio(readyCtx, bin, root)
		if err != nil {
			return err
		}
		proc = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", nsDomain.ErrSpawn, root, err)
	}

	slog.Info("nimsuggest started", "root", root, "pid", proc.PID(), "mode", l.mode())
	return proc, nil
}

func (l *Launcher) mode() string {
	if l.cfg.Mode == config.ModePort {
		return config.ModePort
	}
	return config.ModeStdin
}

// command builds the resident analyzer command. The process outlives the
// launching request, so it is never bound to the caller's context.
func (l *Launcher) command(bin, modeFlag, root string) *exec.Cmd {
	args := make([]string, 0, len(l.cfg.Args)+2)
	args = append(args, modeFlag)
	args = append(args, l.cfg.Args...)
	args = append(args, root)

	cmd := l.execCommand(context.Background(), bin, args...) //nolint:gosec // command from trusted config
	cmd.Dir = workDir(root)
	return cmd
}

func workDir(root string) string {
	if fi, err := os.Stat(root); err == nil && fi.IsDir() {
		return root
	}
	return filepath.Dir(root)
}

// proc holds what both transport modes share: the OS process, its exit
// state and the shutdown sequence.
type proc struct {
	root        string
	cmd         *exec.Cmd
	stopTimeout time.Duration
	debug       bool

	done    chan struct{} // closed when the process has exited
	exitErr error

	stopOnce sync.Once
	stopErr  error
}

// start launches cmd with its stdout connected to an OS pipe owned by the
// caller. cmd.Wait never closes that read end, so buffered output written
// right before exit is still readable.
func (p *proc) start(cmd *exec.Cmd) (stdout *os.File, err error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = pw

	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}
	_ = pw.Close()

	p.cmd = cmd
	p.done = make(chan struct{})

	go p.logStderr(stderr)
	go func() {
		p.exitErr = cmd.Wait()
		close(p.done)
	}()
	return pr, nil
}

func (p *proc) logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		slog.Debug("nimsuggest stderr", "root", p.root, "line", sc.Text())
	}
}

func (p *proc) logLine(direction, line string) {
	if p.debug {
		slog.Debug("nimsuggest protocol", "root", p.root, "dir", direction, "line", line)
	}
}

// Done is closed once the process has exited.
func (p *proc) Done() <-chan struct{} { return p.done }

// PID returns the process ID.
func (p *proc) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *proc) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// shutdown runs quit once, waits for a graceful exit and kills the process
// if it does not leave within the stop timeout.
func (p *proc) shutdown(ctx context.Context, quit func() error) error {
	p.stopOnce.Do(func() {
		if p.exited() {
			return
		}
		if err := quit(); err != nil {
			slog.Debug("nimsuggest quit failed", "root", p.root, "error", err)
		}

		stopCtx, cancel := context.WithTimeout(ctx, p.stopTimeout)
		defer cancel()

		select {
		case <-p.done:
		case <-stopCtx.Done():
			slog.Warn("nimsuggest did not exit gracefully, killing", "root", p.root, "pid", p.PID())
			if err := p.cmd.Process.Kill(); err != nil {
				p.stopErr = fmt.Errorf("kill: %w", err)
			}
			<-p.done
		}
		slog.Info("nimsuggest stopped", "root", p.root)
	})
	return p.stopErr
}
