// Package backend delivers buffered requests to the single local backend.
// It strips hop-by-hop headers in both directions and retries transport
// failures while the backend is starting up.
package backend
