package reactor

import (
	"fmt"

	"github.com/driftnet/reactor/rlog"
)

// fatalf logs a formatted message at fatal severity and aborts the
// process, the reactor package's rendering of spec.md §7's "fatal
// programming" / "fatal system" policy: "abort with diagnostic".
func fatalf(l *rlog.Logger, format string, args ...any) {
	rlog.Fatal(l, fmt.Sprintf(format, args...))
}

// logSystemError logs a recoverable multiplexer/syscall failure at error
// severity, per spec.md §7 "all other multiplexer errors are logged as
// system errors and the loop continues".
func logSystemError(l *rlog.Logger, context string, err error) {
	if l == nil {
		l = rlog.Default()
	}
	l.Err().Str("context", context).Err(err).Log("system error")
}
