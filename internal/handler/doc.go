// Package handler implements the proxy's single HTTP entry point. Every
// request passes through the sync gate, is buffered and is then delivered
// to the backend, with the backend's response mirrored back to the client.
package handler
