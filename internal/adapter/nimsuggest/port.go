package nimsuggest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
	"github.com/nimlime/nimsuggestd/internal/port/analyzer"
)

var _ analyzer.Process = (*portProcess)(nil)

// portProcess talks to nimsuggest --autobind. Every request uses its own
// TCP connection; the response ends at a blank line or when the analyzer
// closes the connection.
type portProcess struct {
	proc

	addr   string
	dialer net.Dialer
}

func (l *Launcher) startPort(ctx context.Context, bin, root string) (*portProcess, error) {
	cmd := l.command(bin, "--autobind", root)

	p := &portProcess{
		proc: proc{root: root, stopTimeout: l.cfg.StopTimeout, debug: l.debug},
	}
	stdout, err := p.start(cmd)
	if err != nil {
		return nil, err
	}

	sc := bufio.NewScanner(stdout)
	handshake := make(chan error, 1)
	var port int
	go func() {
		handshake <- func() error {
			if !sc.Scan() {
				if err := sc.Err(); err != nil {
					return err
				}
				return errors.New("process exited before announcing its port")
			}
			n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
			if err != nil || n <= 0 || n > 65535 {
				return fmt.Errorf("invalid port announcement %q", sc.Text())
			}
			port = n
			return nil
		}()
	}()

	select {
	case err := <-handshake:
		if err != nil {
			_ = stdout.Close()
			_ = p.Terminate(context.Background())
			return nil, fmt.Errorf("handshake: %w", err)
		}
	case <-ctx.Done():
		_ = stdout.Close()
		_ = p.Terminate(context.Background())
		return nil, fmt.Errorf("handshake: %w", ctx.Err())
	}

	p.addr = net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	// Keep draining stdout so the analyzer never blocks on a full pipe.
	go func() {
		defer func() { _ = stdout.Close() }()
		for sc.Scan() {
			p.logLine("stdout", sc.Text())
		}
	}()
	return p, nil
}

// Send dials the analyzer, writes one request and reads its response.
func (p *portProcess) Send(ctx context.Context, line string) ([]string, error) {
	if p.exited() {
		return nil, fmt.Errorf("%w: process exited", nsDomain.ErrProcessCrashed)
	}

	conn, err := p.dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return nil, p.classify(ctx, fmt.Errorf("dial %s: %w", p.addr, err))
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock reads when ctx is cancelled without a deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	p.logLine("send", line)
	if _, err := io.WriteString(conn, line+"\n"); err != nil {
		return nil, p.classify(ctx, fmt.Errorf("write request: %w", err))
	}

	var lines []string
	br := bufio.NewReader(conn)
	for {
		raw, err := br.ReadString('\n')
		text := strings.TrimRight(raw, "\r\n")
		if text != "" {
			p.logLine("recv", text)
			lines = append(lines, text)
		} else if err == nil {
			return lines, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return lines, nil
			}
			return nil, p.classify(ctx, fmt.Errorf("read response: %w", err))
		}
	}
}

// classify maps a transport error onto the analyzer error taxonomy.
func (p *portProcess) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", nsDomain.ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", nsDomain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", nsDomain.ErrProcessCrashed, err)
}

// Terminate asks the analyzer to quit over a fresh connection and kills it
// if it is still running after the stop timeout.
func (p *portProcess) Terminate(ctx context.Context) error {
	return p.shutdown(ctx, func() error {
		if p.addr == "" {
			return nil
		}
		dialCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		conn, err := p.dialer.DialContext(dialCtx, "tcp", p.addr)
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()
		_, err = io.WriteString(conn, "quit\n")
		return err
	})
}
