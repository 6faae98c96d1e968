package engine

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Profile holds the per-point series returned by a profile query. All four
// series have the same length.
type Profile struct {
	Distance  []decimal.Decimal `json:"distance"`
	Terrain   []decimal.Decimal `json:"terrain"`
	Fresnel   []decimal.Decimal `json:"fresnel"`
	Curvature []decimal.Decimal `json:"curvature"`
}

// Measurement is the decoded engine result. Which parts are populated is
// fixed by Kind: path and profile fill the three scalars, profile adds
// Profile, image fills only Image.
type Measurement struct {
	Kind          Kind            `json:"-"`
	PathLoss      decimal.Decimal `json:"path_loss"`
	ReceivedPower decimal.Decimal `json:"received_power"`
	FieldStrength decimal.Decimal `json:"field_strength"`
	Profile       *Profile        `json:"profile,omitempty"`
	Image         []byte          `json:"-"`
}

const scalarCount = 3

// DecodeLine parses one response line for a path or profile request. A
// trailing LF or CRLF is stripped and tokens are split on single spaces.
func DecodeLine(kind Kind, line string) (Measurement, error) {
	trimmed := trimNewline(line)
	tokens := strings.Split(trimmed, " ")

	switch kind {
	case KindPath:
		if len(tokens) != scalarCount {
			return Measurement{}, malformed("expected 3 values, got "+strconv.Itoa(len(tokens)), line)
		}
	case KindProfile:
		if len(tokens) < scalarCount+1 {
			return Measurement{}, malformed("profile response too short", line)
		}
	default:
		return Measurement{}, malformed("kind "+kind.String()+" has no line response", line)
	}

	values := make([]decimal.Decimal, scalarCount)
	for i := range scalarCount {
		d, err := decimal.NewFromString(tokens[i])
		if err != nil {
			return Measurement{}, malformed("token "+strconv.Itoa(i)+" is not a decimal", line)
		}
		values[i] = d
	}

	m := Measurement{
		Kind:          kind,
		PathLoss:      values[0],
		ReceivedPower: values[1],
		FieldStrength: values[2],
	}
	if kind == KindPath {
		return m, nil
	}

	n, err := strconv.Atoi(tokens[scalarCount])
	if err != nil || n < 0 {
		return Measurement{}, malformed("profile point count is not a non-negative integer", line)
	}
	if want := scalarCount + 1 + 4*n; len(tokens) != want {
		return Measurement{}, malformed("expected "+strconv.Itoa(want)+" values, got "+strconv.Itoa(len(tokens)), line)
	}

	series := make([][]decimal.Decimal, 4)
	pos := scalarCount + 1
	for s := range series {
		series[s] = make([]decimal.Decimal, n)
		for i := range n {
			d, err := decimal.NewFromString(tokens[pos])
			if err != nil {
				return Measurement{}, malformed("token "+strconv.Itoa(pos)+" is not a decimal", line)
			}
			series[s][i] = d
			pos++
		}
	}
	m.Profile = &Profile{
		Distance:  series[0],
		Terrain:   series[1],
		Fresnel:   series[2],
		Curvature: series[3],
	}
	return m, nil
}

// DecodeImage wraps the raw output of an image request. The bytes are not
// inspected beyond rejecting an empty stream.
func DecodeImage(raw []byte) (Measurement, error) {
	if len(raw) == 0 {
		return Measurement{}, malformed("engine produced no image data", "")
	}
	return Measurement{Kind: KindImage, Image: raw}, nil
}

func trimNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		s = s[:len(s)-1]
		s = strings.TrimSuffix(s, "\r")
	}
	return s
}

// firstLine returns data up to and including the first LF, or all of data
// when it has none.
func firstLine(data []byte) string {
	if i := strings.IndexByte(string(data), '\n'); i >= 0 {
		return string(data[:i+1])
	}
	return string(data)
}
