package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// transport carries one encoded request to the engine and returns its raw
// output.
type transport interface {
	roundTrip(ctx context.Context, request []byte) ([]byte, error)
	Close() error
}

// daemonTransport talks to one long-lived engine child. The protocol carries
// no request identifier, so the sem slot is held for a full write-then-read
// exchange. Callers queue on sem and give up when their context ends.
type daemonTransport struct {
	starter ProcessStarter
	name    string
	args    []string
	timeout time.Duration
	logger  *slog.Logger

	sem    chan struct{}
	proc   Process
	reader *bufio.Reader
	spawns int
	closed bool
}

func newDaemonTransport(starter ProcessStarter, name string, args []string, timeout time.Duration, logger *slog.Logger) *daemonTransport {
	return &daemonTransport{
		starter: starter,
		name:    name,
		args:    args,
		timeout: timeout,
		logger:  logger,
		sem:     make(chan struct{}, 1),
	}
}

type exchangeResult struct {
	line []byte
	err  error
}

func (d *daemonTransport) roundTrip(ctx context.Context, request []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, cancelled(ctx.Err())
	}
	defer func() { <-d.sem }()

	if d.closed {
		return nil, unavailable("engine client is closed", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	if d.proc == nil {
		if err := d.spawnLocked(); err != nil {
			return nil, err
		}
	}

	proc, reader := d.proc, d.reader
	done := make(chan exchangeResult, 1)
	go func() {
		if _, err := proc.Stdin().Write(request); err != nil {
			done <- exchangeResult{err: fmt.Errorf("write request: %w", err)}
			return
		}
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("engine exited before responding: %w", err)
			}
			done <- exchangeResult{err: err}
			return
		}
		done <- exchangeResult{line: line}
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			d.discardLocked("exchange failed", res.err)
			return nil, unavailable("engine daemon exchange failed", res.err)
		}
		return res.line, nil
	case <-timer.C:
		d.discardLocked("exchange timed out", nil)
		return nil, unavailable(fmt.Sprintf("engine daemon did not respond within %s", d.timeout), nil)
	case <-ctx.Done():
		// The pending response would otherwise be read by the next caller.
		d.discardLocked("caller cancelled mid-exchange", ctx.Err())
		return nil, cancelled(ctx.Err())
	}
}

func (d *daemonTransport) spawnLocked() error {
	// The daemon outlives any single request, so it is not bound to one.
	proc, err := d.starter.Start(context.Background(), d.name, d.args...)
	if err != nil {
		return unavailable("failed to start engine daemon", err)
	}
	d.proc = proc
	d.reader = bufio.NewReader(proc.Stdout())
	d.spawns++
	d.logger.Info("engine daemon started", "exec", d.name, "args", strings.Join(d.args, " "), "spawns", d.spawns)
	return nil
}

// discardLocked kills the current child so the next call starts a clean one.
func (d *daemonTransport) discardLocked(reason string, cause error) {
	if d.proc == nil {
		return
	}
	proc := d.proc
	d.proc = nil
	d.reader = nil

	attrs := []any{"reason", reason}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	if stderr := proc.Stderr(); stderr != "" {
		attrs = append(attrs, "stderr", truncate(stderr, 512))
	}
	d.logger.Warn("discarding engine daemon", attrs...)

	_ = proc.Kill()
	go func() { _ = proc.Wait() }()
}

// Close kills the daemon. Later calls fail with EngineUnavailable.
func (d *daemonTransport) Close() error {
	d.sem <- struct{}{}
	defer func() { <-d.sem }()
	d.closed = true
	if d.proc == nil {
		return nil
	}
	proc := d.proc
	d.proc = nil
	d.reader = nil
	_ = proc.Stdin().Close()
	killErr := proc.Kill()
	_ = proc.Wait()
	if killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
		return killErr
	}
	return nil
}

// perCallTransport starts a fresh engine child for every request. Calls are
// independent and may run in parallel.
type perCallTransport struct {
	starter ProcessStarter
	name    string
	args    []string
	timeout time.Duration
	logger  *slog.Logger
}

func newPerCallTransport(starter ProcessStarter, name string, args []string, timeout time.Duration, logger *slog.Logger) *perCallTransport {
	return &perCallTransport{
		starter: starter,
		name:    name,
		args:    args,
		timeout: timeout,
		logger:  logger,
	}
}

func (p *perCallTransport) roundTrip(ctx context.Context, request []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	proc, err := p.starter.Start(callCtx, p.name, p.args...)
	if err != nil {
		return nil, p.failure(ctx, "failed to start engine", err, nil)
	}

	stdin := proc.Stdin()
	if _, err := stdin.Write(request); err != nil {
		_ = proc.Kill()
		_ = proc.Wait()
		return nil, p.failure(ctx, "failed to write engine request", err, proc)
	}
	// End of input tells the engine the request is complete.
	if err := stdin.Close(); err != nil {
		_ = proc.Kill()
		_ = proc.Wait()
		return nil, p.failure(ctx, "failed to close engine stdin", err, proc)
	}

	out, readErr := io.ReadAll(proc.Stdout())
	waitErr := proc.Wait()
	if readErr != nil {
		return nil, p.failure(ctx, "failed to read engine output", readErr, proc)
	}
	if waitErr != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			return nil, unavailable(fmt.Sprintf("engine did not finish within %s", p.timeout), waitErr)
		}
		return nil, p.failure(ctx, "engine exited with error", waitErr, proc)
	}
	return out, nil
}

func (p *perCallTransport) failure(ctx context.Context, message string, cause error, proc Process) error {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	appErr := unavailable(message, cause)
	if proc != nil {
		if stderr := proc.Stderr(); stderr != "" {
			excerpt := truncate(stderr, 512)
			p.logger.Warn(message, "error", cause, "stderr", excerpt)
			return appErr.WithDetails(map[string]any{"stderr": excerpt})
		}
	}
	return appErr
}

func (p *perCallTransport) Close() error { return nil }
