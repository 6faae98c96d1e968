// Package mockengine is a deterministic stand-in for the propagation engine.
// It speaks the engine's line protocol and is used by cmd/mock-engine and by
// tests that need a real subprocess.
//
// In one-shot mode it reads a single request line, answers and returns; a
// request carrying -o is answered with a small PPM plot instead of a text
// line. In daemon mode it answers one line per request line until stdin
// closes.
package mockengine

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Run parses the engine's process arguments and serves requests from stdin.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("mock-engine", flag.ContinueOnError)
	fs.SetOutput(stderr)
	daemon := fs.Bool("daemon", false, "answer one response line per request line until stdin closes")
	sdf := fs.String("sdf", "", "terrain directory (accepted and ignored)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Debug("mock engine starting", "daemon", *daemon, "sdf", *sdf)

	in := bufio.NewReader(stdin)
	out := bufio.NewWriter(stdout)
	defer out.Flush()

	if !*daemon {
		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading request: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			return errors.New("empty request")
		}
		return answer(out, logger, line, true)
	}

	for {
		line, err := in.ReadString('\n')
		if line != "" {
			if werr := answer(out, logger, line, false); werr != nil {
				return werr
			}
			if ferr := out.Flush(); ferr != nil {
				return fmt.Errorf("writing response: %w", ferr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading request: %w", err)
		}
	}
}

// answer writes the response to one request line. Unparsable requests get a
// line the client rejects as malformed, so daemon framing is kept.
func answer(w *bufio.Writer, logger *slog.Logger, line string, allowImage bool) error {
	req, err := parseRequest(line)
	if err != nil {
		logger.Warn("rejecting request", "error", err)
		_, werr := w.WriteString("error " + err.Error() + "\n")
		return werr
	}

	if allowImage && req.has("o") {
		_, err := w.Write(renderPlot(req))
		return err
	}

	resp := predict(req)
	_, err = w.WriteString(resp.line(req.has("profile")) + "\n")
	return err
}
