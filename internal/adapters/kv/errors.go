package kv

import "errors"

// errSimulated is returned by MemoryStorage when failure injection is on.
var errSimulated = errors.New("kv: simulated storage failure")
