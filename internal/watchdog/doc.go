// Package watchdog periodically checks the supervised backend and restarts
// it when it has exited without being asked to.
package watchdog
