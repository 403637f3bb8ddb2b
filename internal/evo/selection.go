package evo

import (
	"errors"
	"fmt"
	"math/rand"
)

var ErrEmptyPopulation = errors.New("population is empty")

// Selector shrinks a pool of individuals.
type Selector interface {
	Name() string
	Select(rng *rand.Rand, pool []*Individual) ([]*Individual, error)
}

// TournamentSelector shuffles the pool, partitions it into groups of
// TournamentSize without replacement and keeps the best of each group. The
// last group may be smaller.
type TournamentSelector struct {
	TournamentSize int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) Select(rng *rand.Rand, pool []*Individual) ([]*Individual, error) {
	if len(pool) == 0 {
		return nil, ErrEmptyPopulation
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	k := s.TournamentSize
	if k <= 0 {
		return nil, fmt.Errorf("invalid tournament size: %d", k)
	}

	shuffled := append([]*Individual(nil), pool...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	out := make([]*Individual, 0, (len(shuffled)+k-1)/k)
	for start := 0; start < len(shuffled); start += k {
		group := shuffled[start:min(start+k, len(shuffled))]
		best := group[0]
		for _, ind := range group[1:] {
			if ind.Better(best) {
				best = ind
			}
		}
		out = append(out, best)
	}
	return out, nil
}
