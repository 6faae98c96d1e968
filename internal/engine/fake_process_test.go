package engine

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Special daemon replies understood by fakeDaemon.
const (
	replyHang = "\x00hang"
	replyExit = "\x00exit"
)

var errFakeKilled = errors.New("signal: killed")

// fakeProcess is an in-memory engine child backed by io.Pipe.
type fakeProcess struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderr  string

	once    sync.Once
	done    chan struct{}
	exitErr error
	waits   atomic.Int32
}

func newFakeProcess() *fakeProcess {
	p := &fakeProcess{done: make(chan struct{})}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	return p
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *fakeProcess) Stderr() string        { return p.stderr }

func (p *fakeProcess) Wait() error {
	p.waits.Add(1)
	<-p.done
	return p.exitErr
}

// Kill reports os.ErrProcessDone for a child that has already exited.
func (p *fakeProcess) Kill() error {
	select {
	case <-p.done:
		return os.ErrProcessDone
	default:
	}
	p.exit(errFakeKilled)
	return nil
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.exitErr = err
		_ = p.stdinR.Close()
		_ = p.stdoutW.Close()
		close(p.done)
	})
}

// fakeDaemon answers each request line with reply(line) until killed.
func fakeDaemon(reply func(line string) string) *fakeProcess {
	p := newFakeProcess()
	go func() {
		r := bufio.NewReader(p.stdinR)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				p.exit(nil)
				return
			}
			out := reply(line)
			switch out {
			case replyHang:
				<-p.done
				return
			case replyExit:
				p.exit(errors.New("exit status 1"))
				return
			}
			if _, err := io.WriteString(p.stdoutW, out); err != nil {
				return
			}
		}
	}()
	return p
}

// fakeOneShot reads stdin to EOF, then writes run(input) and exits with
// exitErr. A cancelled ctx kills it first.
func fakeOneShot(ctx context.Context, run func(input string) (string, error)) *fakeProcess {
	p := newFakeProcess()
	go func() {
		select {
		case <-ctx.Done():
			p.exit(errFakeKilled)
		case <-p.done:
		}
	}()
	go func() {
		in, err := io.ReadAll(p.stdinR)
		if err != nil {
			p.exit(errFakeKilled)
			return
		}
		out, exitErr := run(string(in))
		if out == replyHang {
			<-p.done
			return
		}
		_, _ = io.WriteString(p.stdoutW, out)
		p.exit(exitErr)
	}()
	return p
}

// fakeStarter records every launch and builds children with newProc.
type fakeStarter struct {
	mu       sync.Mutex
	launches [][]string
	startErr error
	newProc  func(ctx context.Context, args []string) Process
}

func (s *fakeStarter) Start(ctx context.Context, name string, args ...string) (Process, error) {
	s.mu.Lock()
	s.launches = append(s.launches, append([]string{name}, args...))
	err := s.startErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.newProc(ctx, args), nil
}

func (s *fakeStarter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.launches)
}

func (s *fakeStarter) launch(i int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launches[i]
}

// tokenAfter returns the token following flag in a request line.
func tokenAfter(line, flag string) string {
	tokens := strings.Fields(line)
	for i := 0; i < len(tokens)-1; i++ {
		if tokens[i] == flag {
			return tokens[i+1]
		}
	}
	return ""
}

// echoLatReply answers with the transmitter latitude as the path loss, so a
// caller can tell whose response it received.
func echoLatReply(line string) string {
	return tokenAfter(line, "-lat") + " -25.9 110.4\r\n"
}
