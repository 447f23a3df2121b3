// Package strategy picks one connector out of the distributor's active set.
//
//   - Weighted Random: each pick is independent, with probability proportional to weight
//   - Weighted Round Robin: the Nginx smooth algorithm, deterministic interleaving
//
// Candidates with a non-positive weight are never selected.
package strategy
