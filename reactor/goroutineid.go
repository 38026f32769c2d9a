package reactor

import "runtime"

// currentGoroutineID returns the calling goroutine's id, parsed out of the
// "goroutine NNN [...]" header runtime.Stack prints for the current
// goroutine. Go exposes no public goroutine-identity API; this is the same
// technique eventloop/loop.go's getGoroutineID uses to back its thread-
// affinity assertions, and is how this package implements spec.md §5's
// "every method ... asserts it is on the loop's thread".
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
