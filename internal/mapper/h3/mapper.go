// Package h3mapper maps query coordinates onto H3 cells.
package h3mapper

import (
	"fmt"
	"math"

	h3 "github.com/uber/h3-go/v4"
)

type Mapper struct {
	res int
}

func New(res int) (*Mapper, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	return &Mapper{res: res}, nil
}

func (m *Mapper) Res() int { return m.res }

// CellForPoint returns the cell containing (lat, lng) at the mapper's
// resolution.
func (m *Mapper) CellForPoint(lat, lng float64) (string, error) {
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return "", fmt.Errorf("point (%v,%v) outside EPSG:4326 bounds", lat, lng)
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, m.res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// CenterOf returns the centre of cell as (lat, lng).
func (m *Mapper) CenterOf(cell string) (float64, float64, error) {
	c, err := parseCell(cell)
	if err != nil {
		return 0, 0, err
	}
	ll, err := c.LatLng()
	if err != nil {
		return 0, 0, fmt.Errorf("h3 cell centre: %w", err)
	}
	return ll.Lat, ll.Lng, nil
}

// Neighbors returns the cells within k grid steps of cell, cell included.
func (m *Mapper) Neighbors(cell string, k int) ([]string, error) {
	if k < 0 {
		return nil, fmt.Errorf("negative grid distance %d", k)
	}
	c, err := parseCell(cell)
	if err != nil {
		return nil, err
	}
	disk, err := h3.GridDisk(c, k)
	if err != nil {
		return nil, fmt.Errorf("h3 grid disk: %w", err)
	}
	out := make([]string, 0, len(disk))
	for _, d := range disk {
		out = append(out, d.String())
	}
	return out, nil
}

func parseCell(cell string) (h3.Cell, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return 0, fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return 0, fmt.Errorf("invalid h3 cell %q", cell)
	}
	return c, nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}
