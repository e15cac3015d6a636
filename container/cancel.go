package container

import "sync/atomic"

// cancelFlag is the single process-wide cancellation flag spec.md §5
// allows as global mutable state. It is a lock-free int32 rather than a
// channel because every consumer only ever polls it at a convenient
// boundary (per entry, per sector) — there are no blocking waiters to
// wake.
var cancelFlag int32

// RequestCancel sets the process-wide cancellation flag; a signal
// handler in cmd/cp2 calls this on SIGINT.
func RequestCancel() { atomic.StoreInt32(&cancelFlag, 1) }

// ClearCancel resets the flag between top-level commands.
func ClearCancel() { atomic.StoreInt32(&cancelFlag, 0) }

// CancelRequested reports whether RequestCancel has been called since
// the last ClearCancel.
func CancelRequested() bool { return atomic.LoadInt32(&cancelFlag) != 0 }
