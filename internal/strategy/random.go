package strategy

import (
	"math/rand/v2"

	"github.com/angeloszaimis/balancir/internal/connector"
)

type weightedRandomStrategy struct{}

func (r *weightedRandomStrategy) Select(candidates []Candidate) connector.Connector {
	total := 0
	for _, c := range candidates {
		if c.Weight > 0 {
			total += c.Weight
		}
	}
	if total == 0 {
		return nil
	}

	pick := rand.IntN(total)
	for _, c := range candidates {
		if c.Weight <= 0 {
			continue
		}
		if pick < c.Weight {
			return c.Connector
		}
		pick -= c.Weight
	}

	return nil
}

func NewWeightedRandomStrategy() Strategy {
	return &weightedRandomStrategy{}
}
