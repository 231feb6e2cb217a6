// Package log is a bit of a ridiculous package for a client library to
// have, but the built in `log` package timestamps everything and fancy
// structured logging isn't what this library needs: it must stay silent
// unless the application asks to see the request pipeline's decisions.
package log

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

var debugEnabled atomic.Bool

var out io.Writer = os.Stderr

// SetDebug turns debug output on or off. Off is the default.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// SetOutput redirects output, which otherwise goes to Stderr.
func SetOutput(w io.Writer) {
	out = w
}

// Debug writes a formatted string with an appended newline, if debug
// output is enabled. Write errors are ignored.
func Debug(format string, a ...interface{}) {
	if !debugEnabled.Load() {
		return
	}
	if format[len(format)-1] != '\n' {
		format = format + "\n"
	}
	fmt.Fprintf(out, format, a...)
}
