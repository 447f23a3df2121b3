// Package config loads the balancer configuration from YAML files and
// environment variables: listen address, backend URLs and weights, selection
// strategy, connector client settings, and the monitor's polling interval,
// ping path and revive threshold. Everything is validated at load time.
package config
