package types

import "github.com/shopspring/decimal"

// Coordinate bounds accepted for transmitter, receiver and search origins.
const (
	MinLat = -90.0
	MaxLat = 90.0
	MinLon = -180.0
	MaxLon = 180.0
)

// Supported hex grid resolutions. H3 defines resolutions 0 (coarsest)
// through 15 (finest).
const (
	MinGridResolution = 0
	MaxGridResolution = 15
)

// ValidLat reports whether lat lies within [-90, 90].
func ValidLat(lat float64) bool {
	return lat >= MinLat && lat <= MaxLat
}

// ValidLon reports whether lon lies within [-180, 180].
func ValidLon(lon float64) bool {
	return lon >= MinLon && lon <= MaxLon
}

// Exact decimals are rendered at their own scale, so inputs past these
// bounds are refused rather than expanded.
const (
	MaxDecimalExponent = 20
	MaxDecimalDigits   = 40
)

// ValidDecimal reports whether d stays within the exponent and digit bounds.
func ValidDecimal(d decimal.Decimal) bool {
	exp := d.Exponent()
	if exp < -MaxDecimalExponent || exp > MaxDecimalExponent {
		return false
	}
	return d.NumDigits() <= MaxDecimalDigits
}
