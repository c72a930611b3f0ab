// Package model defines core domain types shared across the service.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

type Viewport struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Zoom      float64 `json:"zoom"`
	Bearing   float64 `json:"bearing"`
	Pitch     float64 `json:"pitch"`
}

// LngLat is a map click position in [lng, lat] order, as map widgets
// report it.
type LngLat [2]float64

func (p LngLat) Lng() float64 { return p[0] }
func (p LngLat) Lat() float64 { return p[1] }

func (p LngLat) Validate() error {
	if math.IsNaN(p[0]) || math.IsNaN(p[1]) {
		return errors.New("coordinates must be numbers")
	}
	if p[0] < -180 || p[0] > 180 {
		return fmt.Errorf("longitude %v out of [-180,180]", p[0])
	}
	if p[1] < -90 || p[1] > 90 {
		return fmt.Errorf("latitude %v out of [-90,90]", p[1])
	}
	return nil
}

type CriterionKind string

const (
	KindMagnitude CriterionKind = "magnitude"
	KindDay       CriterionKind = "day"
)

// Criterion is either a magnitude threshold or a day selection; Kind says
// which fields are meaningful.
type Criterion struct {
	Kind      CriterionKind `json:"kind"`
	Threshold float64       `json:"threshold,omitempty"`
	AllDay    bool          `json:"allDay,omitempty"`
	DayMillis int64         `json:"selectedTime,omitempty"`
}

func MagnitudeThreshold(v float64) Criterion {
	return Criterion{Kind: KindMagnitude, Threshold: v}
}

func DaySelection(allDay bool, epochMillis int64) Criterion {
	return Criterion{Kind: KindDay, AllDay: allDay, DayMillis: epochMillis}
}

// Day is the selected instant of a day criterion.
func (c Criterion) Day() time.Time { return time.UnixMilli(c.DayMillis) }

// MarshalJSON always emits threshold for magnitude criteria, even at 0.
func (c Criterion) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case KindMagnitude:
		return json.Marshal(struct {
			Kind      CriterionKind `json:"kind"`
			Threshold float64       `json:"threshold"`
		}{c.Kind, c.Threshold})
	case KindDay:
		return json.Marshal(struct {
			Kind      CriterionKind `json:"kind"`
			AllDay    bool          `json:"allDay"`
			DayMillis int64         `json:"selectedTime"`
		}{c.Kind, c.AllDay, c.DayMillis})
	default:
		return []byte(`{"kind":""}`), nil
	}
}
