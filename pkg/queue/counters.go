package queue

import "sync/atomic"

// counter is a tiny wrapper so Stats reads don't need a mutex.
type counter struct{ v atomic.Int64 }

func (c *counter) inc()      { c.v.Add(1) }
func (c *counter) load() int { return int(c.v.Load()) }

// counters tracks cumulative terminal-status totals across the life
// of the process, independent of the result store's TTL sweep.
type counters struct {
	completed counter
	failed    counter
	cancelled counter
}
