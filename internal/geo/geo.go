// Package geo decodes GeoJSON payloads into validated orb feature
// collections and exposes typed access to the heatmap properties.
package geo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb/geojson"
)

const (
	PropMagnitude = "magnitude"
	PropTime      = "time"

	typeFeatureCollection = "FeatureCollection"
	typeFeature           = "Feature"
)

// ErrParse matches every *ParseError with errors.Is.
var ErrParse = errors.New("geo: parse error")

type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geo: %s: %v", e.Reason, e.Err)
	}
	return "geo: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

func parseErr(reason string, err error) error {
	return &ParseError{Reason: reason, Err: err}
}

// DecodeCollection parses b as a GeoJSON FeatureCollection. The top level
// must declare type FeatureCollection and carry a features array whose
// members are all of type Feature.
func DecodeCollection(b []byte) (*geojson.FeatureCollection, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, parseErr("empty payload", nil)
	}

	var hdr struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, parseErr("decode feature collection", err)
	}
	if hdr.Type != typeFeatureCollection {
		return nil, parseErr(fmt.Sprintf("unexpected type %q (want %s)", hdr.Type, typeFeatureCollection), nil)
	}
	if hdr.Features == nil {
		return nil, parseErr("missing features array", nil)
	}
	for i, raw := range hdr.Features {
		var fh struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &fh); err != nil {
			return nil, parseErr(fmt.Sprintf("feature %d", i), err)
		}
		if fh.Type != typeFeature {
			return nil, parseErr(fmt.Sprintf("feature %d has type %q", i, fh.Type), nil)
		}
	}

	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, parseErr("decode features", err)
	}
	return fc, nil
}

// DecodeEnvelope unwraps the coordinate endpoint's response: a JSON array
// whose first element is the GeoJSON document encoded as a string.
func DecodeEnvelope(b []byte) (*geojson.FeatureCollection, error) {
	var outer []json.RawMessage
	if err := json.Unmarshal(b, &outer); err != nil {
		return nil, parseErr("decode envelope", err)
	}
	if len(outer) == 0 {
		return nil, parseErr("empty envelope", nil)
	}
	var inner string
	if err := json.Unmarshal(outer[0], &inner); err != nil {
		return nil, parseErr("envelope element 0 is not a string", err)
	}
	return DecodeCollection([]byte(inner))
}

// Collection wraps features in a new FeatureCollection without sharing the
// caller's backing array.
func Collection(features []*geojson.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Features = append(make([]*geojson.Feature, 0, len(features)), features...)
	return fc
}

// Magnitude reports properties.magnitude when it is a finite number.
func Magnitude(f *geojson.Feature) (float64, bool) {
	return number(f, PropMagnitude)
}

// Time reports properties.time (epoch milliseconds) as an instant.
func Time(f *geojson.Feature) (time.Time, bool) {
	ms, ok := number(f, PropTime)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(math.Floor(ms))), true
}

func number(f *geojson.Feature, key string) (float64, bool) {
	if f == nil || f.Properties == nil {
		return 0, false
	}
	var v float64
	switch n := f.Properties[key].(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case json.Number:
		p, err := n.Float64()
		if err != nil {
			return 0, false
		}
		v = p
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
