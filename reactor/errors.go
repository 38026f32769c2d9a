package reactor

// assertInLoopThread aborts the process if the calling goroutine is not
// the loop's owner, per spec.md §5 "every method ... that mutates per-loop
// state asserts it is on the loop's thread. Violations are fatal (aborts
// with diagnostic)". The owner is a goroutine, not an OS thread: Loop()
// records its goroutine id in ownerGoroutineID (see goroutineid.go) and
// isInLoopThread compares the caller's id against it.
func (l *EventLoop) assertInLoopThread() {
	if !l.isInLoopThread() {
		fatalf(l.logger(), "reactor: EventLoop method called from outside its owning goroutine (loop id=%d)", l.id)
	}
}
