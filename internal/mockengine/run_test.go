package mockengine

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigproxy/internal/engine"
)

const pathLine = "-lat 44.73566 -lon -68.82446 -txh 4 -f 900 -erp 5 -rxh 2 -rt -90 -dbm -m -pm 4 -rla 44.73436 -rlo -68.81993\r\n"

func runEngine(t *testing.T, args []string, input string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	err := Run(args, strings.NewReader(input), &stdout, io.Discard)
	return stdout.String(), err
}

func TestOneShot_Path(t *testing.T) {
	out, err := runEngine(t, []string{"-sdf", "hgt"}, pathLine)
	require.NoError(t, err)

	m, err := engine.DecodeLine(engine.KindPath, out)
	require.NoError(t, err)
	assert.True(t, m.ReceivedPower.IsNegative())
	assert.True(t, m.PathLoss.IsPositive())
}

func TestOneShot_Profile(t *testing.T) {
	out, err := runEngine(t, nil, strings.Replace(pathLine, "\r\n", " -profile\r\n", 1))
	require.NoError(t, err)

	m, err := engine.DecodeLine(engine.KindProfile, out)
	require.NoError(t, err)
	require.NotNil(t, m.Profile)
	assert.Len(t, m.Profile.Distance, profilePoints)
	assert.Len(t, m.Profile.Curvature, profilePoints)
}

func TestOneShot_Image(t *testing.T) {
	line := "-lat 44.7 -lon -68.8 -txh 10 -f 450 -erp 25 -rxh 2 -rt -90 -pm 1 -R 2 -res 1200 -o plot\r\n"
	out, err := runEngine(t, nil, line)
	require.NoError(t, err)

	header := "P6\n4 4\n255\n"
	require.True(t, strings.HasPrefix(out, header), "unexpected header %q", out[:min(len(out), 16)])
	assert.Len(t, out, len(header)+4*4*3)
}

func TestOneShot_EmptyInput(t *testing.T) {
	_, err := runEngine(t, nil, "")
	assert.Error(t, err)
}

func TestDaemon_OneLinePerRequest(t *testing.T) {
	far := strings.Replace(pathLine, "-rla 44.73436", "-rla 45.5", 1)
	out, err := runEngine(t, []string{"-daemon"}, pathLine+"-lat nope\r\n"+far)
	require.NoError(t, err)

	lines := strings.SplitAfter(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 3)

	near, err := engine.DecodeLine(engine.KindPath, lines[0])
	require.NoError(t, err)

	_, err = engine.DecodeLine(engine.KindPath, lines[1])
	assert.ErrorIs(t, err, engine.ErrMalformedResponse)

	distant, err := engine.DecodeLine(engine.KindPath, lines[2])
	require.NoError(t, err)
	assert.True(t, distant.ReceivedPower.LessThan(near.ReceivedPower), "power should fall with distance")
}

func TestDaemon_NeverRendersImages(t *testing.T) {
	out, err := runEngine(t, []string{"-daemon"}, strings.Replace(pathLine, "\r\n", " -o plot\r\n", 1))
	require.NoError(t, err)
	_, err = engine.DecodeLine(engine.KindPath, out)
	assert.NoError(t, err)
}

func TestParseRequest(t *testing.T) {
	req, err := parseRequest(pathLine)
	require.NoError(t, err)
	assert.Equal(t, "-90", req["rt"])
	assert.Equal(t, "-68.81993", req["rlo"])
	assert.True(t, req.has("dbm"))
	assert.False(t, req.has("hp"))

	tests := map[string]string{
		"dangling value": "-lat 1 -lon 2 -f 3 -erp",
		"bare token":     "lat 1",
		"not a number":   "-lat north -lon 2 -f 3 -erp 4",
		"missing field":  "-lat 1 -lon 2 -f 3",
	}
	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseRequest(line)
			assert.Error(t, err)
		})
	}
}

func TestUnknownFlag(t *testing.T) {
	_, err := runEngine(t, []string{"-verbose"}, pathLine)
	assert.Error(t, err)
}
