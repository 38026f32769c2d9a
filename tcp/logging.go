package tcp

import "github.com/driftnet/reactor/rlog"

// logSystemError logs a recoverable syscall failure at error severity,
// mirroring reactor.logSystemError for the tcp package's own collaborators.
func logSystemError(l *rlog.Logger, context string, err error) {
	if l == nil {
		l = rlog.Default()
	}
	l.Err().Str("context", context).Err(err).Log("system error")
}
