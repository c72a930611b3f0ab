// Package featurestore holds the full, unfiltered set of features known to
// a session. A Store is an immutable value: Append and Replace return a new
// Store and never touch the receiver's backing array.
package featurestore

import (
	"errors"

	"github.com/paulmach/orb/geojson"
)

// ErrAlreadyLoaded is returned when Replace is called on a store that has
// already been loaded once.
var ErrAlreadyLoaded = errors.New("featurestore: already loaded")

type Store struct {
	features []*geojson.Feature
	loaded   bool
	replaced bool
}

// Len reports the number of stored features.
func (s Store) Len() int { return len(s.features) }

// Loaded reports whether any fetch result has been applied.
func (s Store) Loaded() bool { return s.loaded }

// Features returns a copy of the stored features in arrival order.
func (s Store) Features() []*geojson.Feature {
	return append([]*geojson.Feature(nil), s.features...)
}

// View returns the stored features without copying. Callers must not
// modify the returned slice.
func (s Store) View() []*geojson.Feature { return s.features }

// Append adds fc's features after the existing ones.
func (s Store) Append(fc *geojson.FeatureCollection) Store {
	out := Store{loaded: true, replaced: s.replaced}
	n := len(s.features)
	if fc != nil {
		n += len(fc.Features)
	}
	out.features = make([]*geojson.Feature, 0, n)
	out.features = append(out.features, s.features...)
	if fc != nil {
		for _, f := range fc.Features {
			if f != nil {
				out.features = append(out.features, f)
			}
		}
	}
	return out
}

// Replace swaps in fc wholesale. It succeeds once per store lifetime; the
// second call returns ErrAlreadyLoaded and the receiver unchanged.
func (s Store) Replace(fc *geojson.FeatureCollection) (Store, error) {
	if s.replaced {
		return s, ErrAlreadyLoaded
	}
	out := Store{}.Append(fc)
	out.replaced = true
	return out, nil
}
