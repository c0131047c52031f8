package stream

import "errors"

// ErrStreamInit is returned when subscribing or fetching the initial
// history fails during a raising initialization.
var ErrStreamInit = errors.New("stream initialization failed")
