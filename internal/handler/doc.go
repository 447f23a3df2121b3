// Package handler exposes the distributor over HTTP: inbound GETs are
// forwarded through it, and a small admin surface reports the routing state
// and triggers a probe cycle.
package handler
