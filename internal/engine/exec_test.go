package engine

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "SIGPROXY_ENGINE_HELPER"

// TestMain lets the test binary stand in for the engine when re-executed
// with helperEnv set.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(runHelperEngine(os.Args[1:]))
	}
	os.Exit(m.Run())
}

// runHelperEngine answers every request line with "<lat> -25.9 110.4". In
// daemon mode it keeps serving until stdin closes; otherwise it answers once.
func runHelperEngine(args []string) int {
	daemon := slices.Contains(args, "-daemon")
	in := bufio.NewReader(os.Stdin)
	for {
		line, err := in.ReadString('\n')
		if err != nil {
			return 0
		}
		fmt.Fprint(os.Stdout, echoLatReply(line))
		if !daemon {
			return 0
		}
	}
}

func helperExecutable(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	t.Setenv(helperEnv, "1")
	return exe
}

func TestExecStarter_DaemonMode(t *testing.T) {
	exe := helperExecutable(t)
	c, err := NewClient(Config{ExecPath: exe, Mode: ModeDaemon, CallTimeout: 10 * time.Second}, WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	for _, lat := range []string{"44.73566", "-12.5", "0.000100"} {
		ps, err := referencePath(t).Parse(FieldLat, lat).Build()
		require.NoError(t, err)

		m, err := c.Sample(context.Background(), ps)
		require.NoError(t, err)
		assert.Equal(t, lat, FormatDecimal(m.PathLoss))
	}
	require.NoError(t, c.Ping(context.Background()))
}

func TestExecStarter_PerCallMode(t *testing.T) {
	exe := helperExecutable(t)
	c, err := NewClient(Config{ExecPath: exe, Mode: ModePerCall, CallTimeout: 10 * time.Second}, WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ps, err := referencePath(t).Build()
	require.NoError(t, err)

	m, err := c.Sample(context.Background(), ps)
	require.NoError(t, err)
	assert.Equal(t, "-25.9", m.ReceivedPower.String())
}

func TestExecStarter_MissingExecutable(t *testing.T) {
	c, err := NewClient(Config{ExecPath: "/nonexistent/signalserver", Mode: ModePerCall}, WithLogger(discardLogger()))
	require.NoError(t, err)

	ps, err := referencePath(t).Build()
	require.NoError(t, err)

	_, err = c.Sample(context.Background(), ps)
	require.ErrorIs(t, err, ErrEngineUnavailable)
	require.Error(t, c.Ping(context.Background()))
}
