// Package syncgate debounces content synchronization triggered by inbound
// traffic.
//
// A Gate runs its Syncer at most once per minimum interval no matter how many
// requests call MaybeSync concurrently. The common "synced recently" path is
// a single atomic load. When a pull reports new content the gate restarts the
// backend before releasing its mutex, so two near-simultaneous changes cannot
// produce two restarts.
//
// Lock ordering: the gate mutex is taken before the supervisor mutex (via
// Restarter.Restart) and never the reverse.
package syncgate
