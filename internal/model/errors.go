package model

import "errors"

var (
	// ErrDataUnavailable is returned by a BarSource that cannot supply bars right now.
	ErrDataUnavailable = errors.New("bar data unavailable")

	// ErrSymbolUnknown is returned when a symbol cannot be resolved by the source.
	ErrSymbolUnknown = errors.New("symbol unknown")
)
