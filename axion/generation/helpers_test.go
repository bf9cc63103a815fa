package generation

import "time"

const (
	testTimeout = 2 * time.Second
	testTick    = 5 * time.Millisecond
)
