package run

import (
	"context"
	"errors"
)

var ErrLocationUnavailable = errors.New("location unavailable")

// LocationSource resolves the device position when a run starts without a
// client-supplied fix. Continuous fixes arrive through ProcessFix instead of
// a watch callback; the transport pushes them in acceptance order.
type LocationSource interface {
	Current(ctx context.Context, highAccuracy bool) (LocationFix, error)
}

// StaticSource always reports the same fix. Used in development setups and
// tests.
type StaticSource struct {
	Fix LocationFix
	Err error
}

func (s StaticSource) Current(_ context.Context, _ bool) (LocationFix, error) {
	if s.Err != nil {
		return LocationFix{}, s.Err
	}
	return s.Fix, nil
}
