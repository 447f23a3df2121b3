package strategy

import (
	"sync"

	"github.com/angeloszaimis/balancir/internal/connector"
)

// weightedRoundRobinStrategy implements smooth weighted round-robin.
// Each connector accumulates its weight per pick, the highest current value
// wins and is then reduced by the sum of all weights.
type weightedRoundRobinStrategy struct {
	mutex   sync.Mutex
	current map[connector.Connector]int
}

// NewWeightedRoundRobinStrategy creates a weighted round-robin strategy instance.
func NewWeightedRoundRobinStrategy() Strategy {
	return &weightedRoundRobinStrategy{
		current: make(map[connector.Connector]int),
	}
}

func (w *weightedRoundRobinStrategy) Select(candidates []Candidate) connector.Connector {
	if len(candidates) == 0 {
		return nil
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.cleanup(candidates)

	totalWeight := 0
	var chosen connector.Connector

	for _, c := range candidates {
		if c.Weight <= 0 {
			continue
		}

		w.current[c.Connector] += c.Weight
		totalWeight += c.Weight

		if chosen == nil || w.current[c.Connector] > w.current[chosen] {
			chosen = c.Connector
		}
	}

	if chosen == nil {
		return nil
	}

	w.current[chosen] -= totalWeight
	return chosen
}

// cleanup forgets connectors that left the active set, so a demoted and
// later revived connector starts from zero.
func (w *weightedRoundRobinStrategy) cleanup(candidates []Candidate) {
	alive := make(map[connector.Connector]struct{}, len(candidates))

	for _, c := range candidates {
		alive[c.Connector] = struct{}{}
	}

	for c := range w.current {
		if _, ok := alive[c]; !ok {
			delete(w.current, c)
		}
	}
}
