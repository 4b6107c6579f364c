// Package log provides the structured logging abstraction used throughout
// connectsync. Library consumers inject any Logger implementation; the
// engine defaults to a no-op logger so embedding never produces surprise
// output. A zerolog console adapter is included for applications.
package log
