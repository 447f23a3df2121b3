// Package connector defines the capability the balancer core consumes from a
// backend endpoint, and an HTTP implementation of it built on httpx.
// A connector only issues calls and classifies the outcome; it holds no
// routing state.
package connector
