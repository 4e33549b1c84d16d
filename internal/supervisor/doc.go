// Package supervisor owns the backend content server process.
//
// A Supervisor holds at most one live process handle. Start spawns the
// backend in its own process group, Stop terminates it gracefully and
// escalates to SIGKILL after a grace period, and Restart composes the two
// under the supervisor mutex so that a watchdog recovery and a sync-triggered
// restart can never leave two processes bound to the backend port.
package supervisor
