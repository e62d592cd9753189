package nimsuggest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
	"github.com/nimlime/nimsuggestd/internal/port/analyzer"
)

const prompt = "> "

var _ analyzer.Process = (*stdioProcess)(nil)

// stdioProcess talks to nimsuggest --stdin over its pipes. A response is
// every line up to the next blank line; the prompt that precedes it is
// stripped.
type stdioProcess struct {
	proc

	stdin io.WriteCloser

	responses chan []string
	closed    chan struct{} // closed when stdout reached EOF
	stop      chan struct{} // closed by Terminate
	readErr   error

	stopOnceCh sync.Once

	mu      sync.Mutex // serializes Send
	orphans int        // responses still owed to timed-out requests
}

func (l *Launcher) startStdio(ctx context.Context, bin, root string) (*stdioProcess, error) {
	cmd := l.command(bin, "--stdin", root)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	p := &stdioProcess{
		proc:      proc{root: root, stopTimeout: l.cfg.StopTimeout, debug: l.debug},
		stdin:     stdin,
		responses: make(chan []string),
		closed:    make(chan struct{}),
		stop:      make(chan struct{}),
	}
	stdout, err := p.start(cmd)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(stdout)
	ready := make(chan error, 1)
	go func() {
		ready <- awaitPrompt(br)
	}()

	select {
	case err := <-ready:
		if err != nil {
			_ = stdout.Close()
			_ = p.Terminate(context.Background())
			return nil, fmt.Errorf("waiting for prompt: %w", err)
		}
	case <-ctx.Done():
		// Closing stdout unblocks awaitPrompt.
		_ = stdout.Close()
		_ = p.Terminate(context.Background())
		return nil, fmt.Errorf("waiting for prompt: %w", ctx.Err())
	}

	go p.readLoop(br, stdout)
	return p, nil
}

// awaitPrompt consumes startup output until a line consists of the prompt.
func awaitPrompt(br *bufio.Reader) error {
	var line []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("process exited before becoming ready")
			}
			return err
		}
		if b == '\n' {
			line = line[:0]
			continue
		}
		line = append(line, b)
		if string(line) == prompt {
			return nil
		}
	}
}

// readLoop splits stdout into responses and hands them to Send one at a time.
func (p *stdioProcess) readLoop(br *bufio.Reader, stdout io.Closer) {
	defer close(p.closed)
	defer func() { _ = stdout.Close() }()

	var cur []string
	for {
		raw, err := br.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.readErr = err
			}
			return
		}

		line := strings.TrimRight(raw, "\r\n")
		for strings.HasPrefix(line, prompt) {
			line = line[len(prompt):]
		}
		p.logLine("recv", line)

		if line != "" {
			cur = append(cur, line)
			continue
		}

		resp := cur
		cur = nil
		select {
		case p.responses <- resp:
		case <-p.stop:
			return
		}
	}
}

// Send writes one request and waits for its response. Responses owed to
// earlier timed-out requests are discarded first.
func (p *stdioProcess) Send(ctx context.Context, line string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.closed:
		return nil, p.crashErr()
	default:
	}

	p.logLine("send", line)
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return nil, fmt.Errorf("%w: write request: %v", nsDomain.ErrProcessCrashed, err)
	}

	for {
		select {
		case resp := <-p.responses:
			if p.orphans > 0 {
				p.orphans--
				continue
			}
			return resp, nil
		case <-p.closed:
			return nil, p.crashErr()
		case <-ctx.Done():
			p.orphans++
			return nil, fmt.Errorf("%w: %v", nsDomain.ErrTimeout, ctx.Err())
		}
	}
}

func (p *stdioProcess) crashErr() error {
	if p.readErr != nil {
		return fmt.Errorf("%w: read response: %v", nsDomain.ErrProcessCrashed, p.readErr)
	}
	return fmt.Errorf("%w: output closed", nsDomain.ErrProcessCrashed)
}

// Terminate sends quit, waits for the stop timeout and kills the process
// if it is still running.
func (p *stdioProcess) Terminate(ctx context.Context) error {
	p.stopOnceCh.Do(func() { close(p.stop) })
	return p.shutdown(ctx, func() error {
		defer func() { _ = p.stdin.Close() }()
		_, err := io.WriteString(p.stdin, "quit\n")
		return err
	})
}
