package coverage

import (
	"fmt"

	"github.com/uber/h3-go/v4"
)

// Cell is an opaque hex grid cell identifier.
type Cell string

// Grid is the hexagonal tiling the search walks over.
type Grid interface {
	// CellAt returns the cell containing (lat, lon) at resolution res.
	CellAt(lat, lon float64, res int) (Cell, error)
	// Centroid returns the centre of c.
	Centroid(c Cell) (lat, lon float64, err error)
	// Neighbors returns the cells at hex distance exactly one from c.
	Neighbors(c Cell) ([]Cell, error)
}

// H3Grid implements Grid with Uber's H3 index. Cell identifiers are the
// lowercase hex form of the H3 index.
type H3Grid struct{}

// CellAt implements Grid.
func (H3Grid) CellAt(lat, lon float64, res int) (Cell, error) {
	if res < 0 || res > 15 {
		return "", fmt.Errorf("h3 resolution %d out of range", res)
	}
	c := h3.LatLngToCell(h3.NewLatLng(lat, lon), res)
	if !c.IsValid() {
		return "", fmt.Errorf("no h3 cell for (%f, %f) at resolution %d", lat, lon, res)
	}
	return Cell(c.String()), nil
}

// Centroid implements Grid.
func (H3Grid) Centroid(c Cell) (float64, float64, error) {
	h, err := parseCell(c)
	if err != nil {
		return 0, 0, err
	}
	ll := h3.CellToLatLng(h)
	return ll.Lat, ll.Lng, nil
}

// Neighbors implements Grid. Pentagons have five neighbours, every other
// cell six.
func (H3Grid) Neighbors(c Cell) ([]Cell, error) {
	h, err := parseCell(c)
	if err != nil {
		return nil, err
	}
	disk := h3.GridDisk(h, 1)
	out := make([]Cell, 0, len(disk))
	for _, n := range disk {
		if n == h || !n.IsValid() {
			continue
		}
		out = append(out, Cell(n.String()))
	}
	return out, nil
}

func parseCell(c Cell) (h3.Cell, error) {
	h := h3.Cell(h3.IndexFromString(string(c)))
	if !h.IsValid() {
		return 0, fmt.Errorf("invalid h3 cell %q", string(c))
	}
	return h, nil
}
