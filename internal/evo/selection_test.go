package evo

import (
	"errors"
	"math/rand"
	"testing"
)

func scoredPool(n int) []*Individual {
	pool := make([]*Individual, n)
	for i := range pool {
		pool[i] = &Individual{ID: i, Fitness: float64(n - i), Accuracies: []float64{float64(i%4) / 4}}
	}
	return pool
}

func TestTournamentSelectorKeepsBestOfEachGroup(t *testing.T) {
	pool := scoredPool(23)
	for seed := int64(0); seed < 20; seed++ {
		out, err := TournamentSelector{TournamentSize: 5}.Select(rand.New(rand.NewSource(seed)), pool)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if len(out) != 5 {
			t.Fatalf("expected ceil(23/5)=5 winners, got %d", len(out))
		}
		seen := map[int]bool{}
		for _, ind := range out {
			if seen[ind.ID] {
				t.Fatalf("individual %d selected twice", ind.ID)
			}
			seen[ind.ID] = true
		}
	}
}

func TestTournamentSelectorWinnerNotWorseThanGroup(t *testing.T) {
	pool := scoredPool(12)
	rng := rand.New(rand.NewSource(3))
	out, err := TournamentSelector{TournamentSize: 12}.Select(rng, pool)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one winner, got %d", len(out))
	}
	for _, ind := range pool {
		if ind.Better(out[0]) {
			t.Fatalf("individual %d beats the winner %d", ind.ID, out[0].ID)
		}
	}
}

func TestTournamentSelectorSizeOneKeepsEveryone(t *testing.T) {
	pool := scoredPool(7)
	out, err := TournamentSelector{TournamentSize: 1}.Select(rand.New(rand.NewSource(1)), pool)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(out) != len(pool) {
		t.Fatalf("expected %d survivors, got %d", len(pool), len(out))
	}
}

func TestTournamentSelectorValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := (TournamentSelector{TournamentSize: 3}).Select(rng, nil); !errors.Is(err, ErrEmptyPopulation) {
		t.Fatalf("expected empty population error, got %v", err)
	}
	if _, err := (TournamentSelector{}).Select(rng, scoredPool(3)); err == nil {
		t.Fatal("expected invalid tournament size error")
	}
	if _, err := (TournamentSelector{TournamentSize: 2}).Select(nil, scoredPool(3)); err == nil {
		t.Fatal("expected missing random source error")
	}
}

func TestIndividualBetterOrdering(t *testing.T) {
	a := &Individual{Fitness: 0.5, Accuracies: []float64{1, 0.5}}
	b := &Individual{Fitness: 0.1, Accuracies: []float64{0.5, 0.5}}
	c := &Individual{Fitness: 0.2, Accuracies: []float64{1, 0.5}}
	if !a.Better(b) {
		t.Fatal("higher accuracy should win")
	}
	if !c.Better(a) || a.Better(c) {
		t.Fatal("equal accuracy should prefer lower fitness")
	}
}
