package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"sigproxy/internal/types"
)

// Kind selects the engine command variant and therefore the response shape.
type Kind int

const (
	// KindPath is a point-to-point query answered with three scalars.
	KindPath Kind = iota
	// KindProfile is a point-to-point query that also returns the terrain
	// profile series along the path.
	KindProfile
	// KindImage renders a coverage plot; the response is an opaque image.
	KindImage
)

// String returns the lowercase variant name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindPath:
		return "path"
	case KindProfile:
		return "profile"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// Field is the name of one engine input. The value doubles as the query
// parameter name accepted by the HTTP handlers.
type Field string

const (
	FieldLat           Field = "lat"
	FieldLon           Field = "lon"
	FieldTxHeight      Field = "txh"
	FieldFrequency     Field = "f"
	FieldERP           Field = "erp"
	FieldRxHeight      Field = "rxh"
	FieldThreshold     Field = "rt"
	FieldDBm           Field = "dbm"
	FieldMetric        Field = "m"
	FieldHorizontalPol Field = "hp"
	FieldKnifeEdge     Field = "ked"
	FieldPropModel     Field = "pm"
	FieldRxLat         Field = "rla"
	FieldRxLon         Field = "rlo"
	FieldPropEnv       Field = "pe"
	FieldGroundClutter Field = "gc"
	FieldRadius        Field = "R"
	FieldResolution    Field = "res"
	FieldOutput        Field = "o"
)

// Fields lists every recognised field in wire order.
var Fields = []Field{
	FieldLat, FieldLon, FieldTxHeight, FieldFrequency, FieldERP, FieldRxHeight, FieldThreshold,
	FieldDBm, FieldMetric, FieldHorizontalPol, FieldKnifeEdge,
	FieldPropModel, FieldRxLat, FieldRxLon, FieldPropEnv, FieldGroundClutter,
	FieldRadius, FieldResolution, FieldOutput,
}

// fieldSet records which fields were explicitly supplied.
type fieldSet uint32

func bit(f Field) fieldSet {
	for i, known := range Fields {
		if known == f {
			return 1 << i
		}
	}
	return 0
}

func (s fieldSet) has(f Field) bool { return s&bit(f) != 0 }

var commonRequired = []Field{
	FieldLat, FieldLon, FieldTxHeight, FieldFrequency, FieldERP, FieldRxHeight, FieldThreshold, FieldPropModel,
}

// requiredFields returns the fields that must be present for kind.
func requiredFields(kind Kind) []Field {
	req := append([]Field(nil), commonRequired...)
	switch kind {
	case KindPath, KindProfile:
		req = append(req, FieldRxLat, FieldRxLon)
	case KindImage:
		req = append(req, FieldRadius, FieldResolution, FieldOutput)
	}
	return req
}

// ParameterSet is the input to one engine invocation. Decimal fields keep the
// exact text precision supplied by the caller. Values are built with a
// Builder and treated as immutable; WithReceiver returns a modified copy.
type ParameterSet struct {
	Kind Kind

	Lat       decimal.Decimal
	Lon       decimal.Decimal
	TxHeight  decimal.Decimal
	Frequency decimal.Decimal
	ERP       decimal.Decimal
	RxHeight  decimal.Decimal
	Threshold decimal.Decimal
	PropModel decimal.Decimal

	RxLat decimal.Decimal
	RxLon decimal.Decimal

	DBm           bool
	Metric        bool
	HorizontalPol bool
	KnifeEdge     bool

	PropEnv       *int
	GroundClutter *int

	Radius     decimal.Decimal
	Resolution int
	Output     string

	set fieldSet
}

// WithReceiver returns a copy of p with the receiver moved to (lat, lon).
func (p ParameterSet) WithReceiver(lat, lon decimal.Decimal) ParameterSet {
	p.RxLat = lat
	p.RxLon = lon
	p.set |= bit(FieldRxLat) | bit(FieldRxLon)
	return p
}

// Has reports whether f was explicitly supplied.
func (p ParameterSet) Has(f Field) bool {
	return p.set.has(f)
}

// Validate checks that every field required by the kind is present.
func (p ParameterSet) Validate() error {
	if p.Kind < KindPath || p.Kind > KindImage {
		return invalidParameters(fmt.Sprintf("unknown engine request kind %d", p.Kind), nil)
	}
	var missing []string
	for _, f := range requiredFields(p.Kind) {
		if !p.set.has(f) {
			missing = append(missing, string(f))
		}
	}
	if len(missing) > 0 {
		return missingParameters(missing)
	}
	if p.Kind == KindImage && strings.ContainsAny(p.Output, " \t\r\n") {
		return invalidParameters("output name must not contain whitespace", map[string]any{"field": string(FieldOutput)})
	}
	return nil
}

// Encode renders p as a single request line in the engine's flag grammar,
// terminated by CRLF. Flags are emitted only when true and optional integers
// only when present.
func (p ParameterSet) Encode() string {
	var b strings.Builder
	writeDecimal := func(flag string, d decimal.Decimal) {
		b.WriteString(" -")
		b.WriteString(flag)
		b.WriteByte(' ')
		b.WriteString(FormatDecimal(d))
	}
	writeFlag := func(flag string, on bool) {
		if on {
			b.WriteString(" -")
			b.WriteString(flag)
		}
	}
	writeInt := func(flag string, v *int) {
		if v != nil {
			b.WriteString(" -")
			b.WriteString(flag)
			b.WriteByte(' ')
			b.WriteString(strconv.Itoa(*v))
		}
	}

	writeDecimal("lat", p.Lat)
	writeDecimal("lon", p.Lon)
	writeDecimal("txh", p.TxHeight)
	writeDecimal("f", p.Frequency)
	writeDecimal("erp", p.ERP)
	writeDecimal("rxh", p.RxHeight)
	writeDecimal("rt", p.Threshold)
	writeFlag("dbm", p.DBm)
	writeFlag("m", p.Metric)
	writeFlag("hp", p.HorizontalPol)
	writeFlag("ked", p.KnifeEdge)
	writeDecimal("pm", p.PropModel)
	if p.Kind == KindPath || p.Kind == KindProfile {
		writeDecimal("rla", p.RxLat)
		writeDecimal("rlo", p.RxLon)
	}
	writeInt("pe", p.PropEnv)
	writeInt("gc", p.GroundClutter)
	switch p.Kind {
	case KindProfile:
		b.WriteString(" -profile")
	case KindImage:
		writeDecimal("R", p.Radius)
		res := p.Resolution
		writeInt("res", &res)
		b.WriteString(" -o ")
		b.WriteString(p.Output)
	}
	b.WriteString("\r\n")

	// Drop the separator written ahead of the first token.
	return b.String()[1:]
}

// FormatDecimal renders d with its own scale, so "4.0" stays "4.0" and
// "44.73566" is never rounded.
func FormatDecimal(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}

// Builder accumulates fields for a ParameterSet and reports every problem at
// once from Build.
type Builder struct {
	ps      ParameterSet
	invalid map[string]any
}

// NewBuilder starts a ParameterSet of the given kind.
func NewBuilder(kind Kind) *Builder {
	return &Builder{ps: ParameterSet{Kind: kind}}
}

// Decimal sets a decimal field.
func (b *Builder) Decimal(f Field, d decimal.Decimal) *Builder {
	switch f {
	case FieldLat:
		b.ps.Lat = d
	case FieldLon:
		b.ps.Lon = d
	case FieldTxHeight:
		b.ps.TxHeight = d
	case FieldFrequency:
		b.ps.Frequency = d
	case FieldERP:
		b.ps.ERP = d
	case FieldRxHeight:
		b.ps.RxHeight = d
	case FieldThreshold:
		b.ps.Threshold = d
	case FieldPropModel:
		b.ps.PropModel = d
	case FieldRxLat:
		b.ps.RxLat = d
	case FieldRxLon:
		b.ps.RxLon = d
	case FieldRadius:
		b.ps.Radius = d
	default:
		b.reject(f, "not a decimal field")
		return b
	}
	b.ps.set |= bit(f)
	return b
}

// Flag sets a boolean field.
func (b *Builder) Flag(f Field, on bool) *Builder {
	switch f {
	case FieldDBm:
		b.ps.DBm = on
	case FieldMetric:
		b.ps.Metric = on
	case FieldHorizontalPol:
		b.ps.HorizontalPol = on
	case FieldKnifeEdge:
		b.ps.KnifeEdge = on
	default:
		b.reject(f, "not a flag field")
		return b
	}
	b.ps.set |= bit(f)
	return b
}

// Int sets an integer field.
func (b *Builder) Int(f Field, v int) *Builder {
	switch f {
	case FieldPropEnv:
		b.ps.PropEnv = &v
	case FieldGroundClutter:
		b.ps.GroundClutter = &v
	case FieldResolution:
		b.ps.Resolution = v
	default:
		b.reject(f, "not an integer field")
		return b
	}
	b.ps.set |= bit(f)
	return b
}

// Output sets the image output name.
func (b *Builder) Output(name string) *Builder {
	b.ps.Output = name
	b.ps.set |= bit(FieldOutput)
	return b
}

// Parse sets f from its textual form, as received in a query string. An
// empty flag value means the flag is present and on.
func (b *Builder) Parse(f Field, raw string) *Builder {
	switch f {
	case FieldDBm, FieldMetric, FieldHorizontalPol, FieldKnifeEdge:
		if raw == "" {
			return b.Flag(f, true)
		}
		on, err := strconv.ParseBool(raw)
		if err != nil {
			b.reject(f, fmt.Sprintf("%q is not a boolean", raw))
			return b
		}
		return b.Flag(f, on)
	case FieldPropEnv, FieldGroundClutter, FieldResolution:
		v, err := strconv.Atoi(raw)
		if err != nil {
			b.reject(f, fmt.Sprintf("%q is not an integer", raw))
			return b
		}
		return b.Int(f, v)
	case FieldOutput:
		return b.Output(raw)
	}
	if bit(f) == 0 {
		b.reject(f, "unknown field")
		return b
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		b.reject(f, fmt.Sprintf("%q is not a decimal", raw))
		return b
	}
	if !types.ValidDecimal(d) {
		b.reject(f, fmt.Sprintf("%q is out of range", raw))
		return b
	}
	return b.Decimal(f, d)
}

func (b *Builder) reject(f Field, reason string) {
	if b.invalid == nil {
		b.invalid = make(map[string]any)
	}
	b.invalid[string(f)] = reason
}

// Build returns the ParameterSet, or an InvalidParameters error naming every
// unparsable or missing field.
func (b *Builder) Build() (ParameterSet, error) {
	if len(b.invalid) > 0 {
		return ParameterSet{}, invalidParameters("invalid engine parameters", b.invalid)
	}
	if err := b.ps.Validate(); err != nil {
		return ParameterSet{}, err
	}
	return b.ps, nil
}

// BuildTemplate returns a point-to-point ParameterSet whose receiver is left
// to be filled in with WithReceiver. Every other required field must be
// present.
func (b *Builder) BuildTemplate() (ParameterSet, error) {
	if len(b.invalid) > 0 {
		return ParameterSet{}, invalidParameters("invalid engine parameters", b.invalid)
	}
	if b.ps.Kind != KindPath {
		return ParameterSet{}, invalidParameters("templates must be path requests", nil)
	}
	probe := b.ps.WithReceiver(decimal.Zero, decimal.Zero)
	if err := probe.Validate(); err != nil {
		return ParameterSet{}, err
	}
	return b.ps, nil
}
