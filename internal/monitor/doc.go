// Package monitor probes connectors the distributor has demoted and hands
// them back once a sliding window of probe outcomes meets the revival
// threshold. Probing runs on a fixed interval; Fire runs one cycle on demand.
package monitor
