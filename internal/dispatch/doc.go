package dispatch

// Package dispatch runs the validated batch under a global concurrency cap.
//
// Overview
// The Scheduler consumes records in registry order. For every record it
// acquires one of MaxParallel slots, waits for the resource monitor to
// report the host clear, honors the launch stagger, and only then hands the
// record to the Invoker in its own goroutine. The goroutine releases the
// slot when the subprocess terminates and sends exactly one JobOutcome to
// a single collector.
//
// Data flow:
//
//   records        Scheduler                 Invoker            collector
//      |              |                         |                   |
//      |--- next ---->| Acquire(slot)           |                   |
//      |              | Monitor.Check … backoff |                   |
//      |              | Limiter.Wait (stagger)  |                   |
//      |              |---- go Invoke() ------->| subprocess        |
//      |              |                         |---- outcome ----->| append
//      |              | Release(slot) <---------| (process exits)   |
//
// Invariants:
//   - In-flight jobs never exceed MaxParallel.
//   - Launches are at least Stagger apart, slots notwithstanding.
//   - A throttled host admits nothing until a clear poll.
//   - Every launched job yields exactly one outcome; no retries.
//   - Cancellation stops admission, terminates in-flight process groups,
//     and Run still returns every collected outcome with ErrInterrupted.
