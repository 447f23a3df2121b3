package strategy

import (
	"fmt"

	"github.com/angeloszaimis/balancir/internal/connector"
)

const (
	WeightedRandom     = "weighted-random"
	WeightedRoundRobin = "weighted-round-robin"
)

// Candidate is an active connector together with its relative weight.
type Candidate struct {
	Connector connector.Connector
	Weight    int
}

type Strategy interface {
	Select(candidates []Candidate) connector.Connector
}

// New returns the strategy registered under name.
func New(name string) (Strategy, error) {
	switch name {
	case WeightedRandom, "":
		return NewWeightedRandomStrategy(), nil
	case WeightedRoundRobin:
		return NewWeightedRoundRobinStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
