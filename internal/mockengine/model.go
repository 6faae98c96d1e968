package mockengine

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// valueless flags take no argument; every other flag takes exactly one.
var valueless = map[string]bool{
	"dbm": true, "m": true, "hp": true, "ked": true, "profile": true,
}

var requiredFlags = []string{"lat", "lon", "f", "erp"}

type request map[string]string

func (r request) has(flag string) bool {
	_, ok := r[flag]
	return ok
}

func (r request) float(flag string) float64 {
	d, err := decimal.NewFromString(r[flag])
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// parseRequest splits a request line into flags. A negative number is a
// value, never a flag, because values follow their flag positionally.
func parseRequest(line string) (request, error) {
	tokens := strings.Fields(line)
	req := make(request, len(tokens))
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if !strings.HasPrefix(tok, "-") || len(tok) < 2 {
			return nil, fmt.Errorf("unexpected token %q", tok)
		}
		name := tok[1:]
		if valueless[name] {
			req[name] = ""
			continue
		}
		if i+1 >= len(tokens) {
			return nil, fmt.Errorf("flag -%s has no value", name)
		}
		i++
		if name != "o" {
			if _, err := decimal.NewFromString(tokens[i]); err != nil {
				return nil, fmt.Errorf("flag -%s: %q is not a number", name, tokens[i])
			}
		}
		req[name] = tokens[i]
	}
	for _, f := range requiredFlags {
		if !req.has(f) {
			return nil, fmt.Errorf("missing -%s", f)
		}
	}
	return req, nil
}

const (
	earthRadiusKm = 6371.0
	profilePoints = 5
)

type prediction struct {
	pathLoss      decimal.Decimal
	receivedPower decimal.Decimal
	fieldStrength decimal.Decimal
	distanceKm    float64
}

// predict returns a free-space estimate. It is deterministic and monotonic
// in distance, which is all the coverage search needs from a stand-in.
func predict(req request) prediction {
	d := math.Max(distanceKm(req.float("lat"), req.float("lon"), req.float("rla"), req.float("rlo")), 0.01)
	f := math.Max(req.float("f"), 1)

	fspl := 20*math.Log10(d) + 20*math.Log10(f) + 32.44
	erpDBm := 10 * math.Log10(math.Max(req.float("erp"), 1e-6)*1000)
	rp := erpDBm - fspl
	fs := rp + 77.2 + 20*math.Log10(f)

	return prediction{
		pathLoss:      decimal.NewFromFloat(fspl).Round(1),
		receivedPower: decimal.NewFromFloat(rp).Round(1),
		fieldStrength: decimal.NewFromFloat(fs).Round(1),
		distanceKm:    d,
	}
}

// line renders the response. Profiles append N followed by the distance,
// terrain, fresnel and curvature series.
func (p prediction) line(withProfile bool) string {
	parts := []string{p.pathLoss.String(), p.receivedPower.String(), p.fieldStrength.String()}
	if !withProfile {
		return strings.Join(parts, " ")
	}

	parts = append(parts, fmt.Sprint(profilePoints))
	series := make([][]string, 4)
	for i := range profilePoints {
		x := p.distanceKm * float64(i) / float64(profilePoints-1)
		bulge := x * (p.distanceKm - x) / (2 * 1.333 * earthRadiusKm) * 1000
		series[0] = append(series[0], decimal.NewFromFloat(x).Round(3).String())
		series[1] = append(series[1], "0")
		series[2] = append(series[2], decimal.NewFromFloat(math.Sqrt(x*(p.distanceKm-x)/p.distanceKm)*8.66).Round(2).String())
		series[3] = append(series[3], decimal.NewFromFloat(bulge).Round(2).String())
	}
	for _, s := range series {
		parts = append(parts, s...)
	}
	return strings.Join(parts, " ")
}

func distanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// renderPlot draws a 4x4 binary PPM whose brightness falls off with the
// requested radius.
func renderPlot(req request) []byte {
	const size = 4
	radius := math.Max(req.float("R"), 0.1)
	out := fmt.Appendf(nil, "P6\n%d %d\n255\n", size, size)
	for y := range size {
		for x := range size {
			dx, dy := float64(x)-1.5, float64(y)-1.5
			level := 255 * math.Exp(-math.Hypot(dx, dy)/radius)
			out = append(out, byte(level), byte(level/2), 0)
		}
	}
	return out
}
