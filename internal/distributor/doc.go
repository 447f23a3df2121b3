// Package distributor owns the partition of connectors into an active set,
// which receives traffic by weighted selection, and a failed set, which is
// handed to a Tracker for probing. A single failed call demotes a connector;
// AddConnector is the only way back into the active set.
package distributor
