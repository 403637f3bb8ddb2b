package evo

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"enca/internal/dataset"
	"enca/internal/logging"
	"enca/internal/nca"
	"enca/internal/scape"
	"enca/internal/stats"
	"enca/internal/tuning"
)

const (
	InitZero     = "zero"
	InitIdentity = "identity"
	InitRandom   = "random"
)

// Individual is one member of the training pool.
type Individual struct {
	ID         int          `json:"id"`
	Ensemble   nca.Ensemble `json:"ensemble"`
	Fitness    float64      `json:"fitness"`
	Accuracies []float64    `json:"train_accs"`
}

func (i *Individual) MeanAccuracy() float64 {
	return stats.Mean(i.Accuracies)
}

func (i *Individual) Solved() bool {
	return len(i.Accuracies) > 0 && i.MeanAccuracy() == 1
}

// Better orders by mean accuracy, then by lower fitness.
func (i *Individual) Better(other *Individual) bool {
	a, b := i.MeanAccuracy(), other.MeanAccuracy()
	if a != b {
		return a > b
	}
	return i.Fitness < other.Fitness
}

type EpochMetric struct {
	Epoch        int     `json:"epoch"`
	IndividualID int     `json:"individual_id"`
	Fitness      float64 `json:"fitness"`
	MeanAccuracy float64 `json:"mean_accuracy"`
}

type TrainResult struct {
	Individuals []Individual  `json:"individuals"`
	Metrics     []EpochMetric `json:"metrics"`
	Epochs      int           `json:"epochs"`
	Solved      int           `json:"solved"`
}

type TrainerConfig struct {
	Evaluator         scape.Evaluator
	Tuner             tuning.Tuner
	BudgetPolicy      tuning.BudgetPolicy
	Selector          Selector
	Population        int
	Epochs            int
	SubsetSize        int
	MaxFunEvals       int
	InitialSigma      float64
	MaxSteps          int
	Stages            int
	TargetSolved      int
	SelectionPatience int
	InitRule          string
	Workers           int
	Seed              int64
	Verbose           bool
	Logger            logrus.FieldLogger
}

type Trainer struct {
	cfg TrainerConfig
	log logrus.FieldLogger
}

func NewTrainer(cfg TrainerConfig) (*Trainer, error) {
	if cfg.Tuner == nil {
		return nil, fmt.Errorf("tuner is required")
	}
	if cfg.Population <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be > 0")
	}
	if cfg.MaxFunEvals < 0 {
		return nil, fmt.Errorf("max function evaluations must be >= 0")
	}
	if cfg.InitialSigma <= 0 || math.IsInf(cfg.InitialSigma, 0) || math.IsNaN(cfg.InitialSigma) {
		return nil, fmt.Errorf("initial sigma must be finite and > 0")
	}
	if cfg.MaxSteps < 0 {
		return nil, fmt.Errorf("max steps must be >= 0")
	}
	if cfg.Stages <= 0 {
		cfg.Stages = 1
	}
	if cfg.Stages > cfg.Epochs {
		return nil, fmt.Errorf("stages must be <= epochs")
	}
	if cfg.SelectionPatience <= 0 {
		cfg.SelectionPatience = 5
	}
	switch cfg.InitRule {
	case "":
		cfg.InitRule = InitZero
	case InitZero, InitIdentity, InitRandom:
	default:
		return nil, fmt.Errorf("unsupported init rule: %s", cfg.InitRule)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Selector == nil {
		cfg.Selector = TournamentSelector{TournamentSize: 5}
	}
	if cfg.BudgetPolicy == nil {
		cfg.BudgetPolicy = tuning.FixedBudgetPolicy{}
	}
	return &Trainer{cfg: cfg, log: logging.OrDiscard(cfg.Logger)}, nil
}

// Train evolves a pool of ensembles on the train examples of task. Solved
// individuals leave the pool; the result holds every individual sorted by
// mean accuracy and then fitness.
func (t *Trainer) Train(ctx context.Context, task dataset.Task) (TrainResult, error) {
	if len(task.Train) == 0 {
		return TrainResult{}, fmt.Errorf("task %s has no train examples", task.ID)
	}
	cfg := t.cfg
	rng := rand.New(rand.NewSource(cfg.Seed))
	phase := (cfg.Epochs + cfg.Stages - 1) / cfg.Stages

	var (
		active     []*Individual
		solved     []*Individual
		metrics    []EpochMetric
		nextID     int
		stagnation int
		sinceSolve int
		solveGaps  = []int{cfg.SelectionPatience}
		epoch      int
	)

	for epoch = 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return TrainResult{}, err
		}

		if len(active) > 0 && float64(stagnation) > stats.Median(solveGaps) {
			selected, err := cfg.Selector.Select(rng, active)
			if err != nil {
				return TrainResult{}, err
			}
			active = selected
			stagnation = 0
		}

		if epoch > 0 && epoch%phase == 0 {
			for _, ind := range active {
				if len(ind.Ensemble.Rules) < cfg.Stages {
					ind.Ensemble.Rules = append(ind.Ensemble.Rules, nca.Hold(cfg.MaxSteps))
				}
			}
		}

		stages := min(epoch/phase+1, cfg.Stages)
		for target := cfg.Population - len(solved); len(active) < target; nextID++ {
			active = append(active, t.newIndividual(task.ID, nextID, stages))
		}
		if len(active) == 0 {
			break
		}

		if err := t.improvePool(ctx, task, active, epoch); err != nil {
			return TrainResult{}, err
		}

		remaining := active[:0]
		newlySolved := 0
		for _, ind := range active {
			metrics = append(metrics, EpochMetric{
				Epoch:        epoch,
				IndividualID: ind.ID,
				Fitness:      ind.Fitness,
				MeanAccuracy: ind.MeanAccuracy(),
			})
			if ind.Solved() {
				solved = append(solved, ind)
				newlySolved++
				continue
			}
			remaining = append(remaining, ind)
		}
		active = remaining

		sinceSolve++
		if newlySolved > 0 {
			solveGaps = append(solveGaps, sinceSolve)
			sinceSolve = 0
			stagnation = 0
		} else {
			stagnation++
		}

		if cfg.Verbose {
			t.logEpoch(task.ID, epoch, active, solved)
		}
		if cfg.TargetSolved > 0 && len(solved) >= cfg.TargetSolved {
			epoch++
			break
		}
	}

	all := make([]Individual, 0, len(solved)+len(active))
	for _, ind := range solved {
		all = append(all, *ind)
	}
	for _, ind := range active {
		all = append(all, *ind)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Better(&all[j]) })

	return TrainResult{
		Individuals: all,
		Metrics:     metrics,
		Epochs:      epoch,
		Solved:      len(solved),
	}, nil
}

// newIndividual starts from the init rule followed by hold stages, so an
// individual created after a phase boundary has as many stages as the
// survivors and trains only the last one.
func (t *Trainer) newIndividual(taskID string, id, stages int) *Individual {
	var rule nca.Rule
	switch t.cfg.InitRule {
	case InitIdentity:
		rule = nca.Identity(t.cfg.MaxSteps)
	case InitRandom:
		rule = nca.Random(t.cfg.MaxSteps, rand.New(rand.NewSource(individualSeed(t.cfg.Seed, id, -1))))
	default:
		rule = nca.NewRule(t.cfg.MaxSteps)
	}
	rules := []nca.Rule{rule}
	for len(rules) < stages {
		rules = append(rules, nca.Hold(t.cfg.MaxSteps))
	}
	return &Individual{
		ID:       id,
		Ensemble: nca.Ensemble{TaskID: taskID, Rules: rules},
		Fitness:  math.Inf(1),
	}
}

// improvePool runs one optimizer pass per individual on a fixed set of
// workers. The worker index selects the device slot.
func (t *Trainer) improvePool(ctx context.Context, task dataset.Task, pool []*Individual, epoch int) error {
	type result struct {
		idx int
		err error
	}

	jobs := make(chan int)
	results := make(chan result, len(pool))

	workerCount := t.cfg.Workers
	if workerCount > len(pool) {
		workerCount = len(pool)
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func(worker int) {
			defer wg.Done()
			for idx := range jobs {
				if err := ctx.Err(); err != nil {
					results <- result{idx: idx, err: err}
					continue
				}
				err := t.improve(ctx, worker, task, pool[idx], epoch)
				results <- result{idx: idx, err: err}
			}
		}(w)
	}

	for i := range pool {
		jobs <- i
	}
	close(jobs)

	wg.Wait()
	close(results)

	for res := range results {
		if res.err != nil {
			return fmt.Errorf("individual %d: %w", pool[res.idx].ID, res.err)
		}
	}
	return nil
}

// improve tunes a random parameter subset of the individual's last stage and
// keeps the result unless it lowers the mean train accuracy.
func (t *Trainer) improve(ctx context.Context, worker int, task dataset.Task, ind *Individual, epoch int) error {
	rng := rand.New(rand.NewSource(individualSeed(t.cfg.Seed, ind.ID, epoch)))
	ts, err := t.cfg.Evaluator.NewTaskScape(ctx, task.ID, task.Train, ind.Ensemble, worker)
	if err != nil {
		return err
	}
	last := ind.Ensemble.Last()
	baseFitness, baseAccs, err := score(ctx, ts, last)
	if err != nil {
		return err
	}
	ind.Fitness = baseFitness
	ind.Accuracies = baseAccs

	budget := t.cfg.BudgetPolicy.Budget(t.cfg.MaxFunEvals, epoch, t.cfg.Epochs)
	if budget <= 0 {
		return nil
	}

	sub := tuning.RandomSubspace(toFloat64(last.Params()), t.cfg.SubsetSize, rng)
	objective := sub.Objective(func(ctx context.Context, points [][]float64) ([]float64, error) {
		rules := make([]nca.Rule, len(points))
		for i, p := range points {
			r, err := last.WithParams(toFloat32(p))
			if err != nil {
				return nil, err
			}
			rules[i] = r
		}
		scores, err := ts.ScoreBatch(ctx, rules)
		if err != nil {
			return nil, err
		}
		values := make([]float64, len(scores))
		for i, s := range scores {
			values[i] = s.Fitness
		}
		return values, nil
	})

	res, err := t.cfg.Tuner.Tune(ctx, tuning.Problem{
		Mean:      sub.Project(sub.Base),
		Sigma:     t.cfg.InitialSigma,
		Budget:    budget,
		Seed:      rng.Int63(),
		Objective: objective,
	})
	if err != nil {
		return err
	}
	if !res.Improved(baseFitness) {
		return nil
	}

	full, err := sub.Lift(res.Best)
	if err != nil {
		return err
	}
	candidate, err := last.WithParams(toFloat32(full))
	if err != nil {
		return err
	}
	fitness, accs, err := score(ctx, ts, candidate)
	if err != nil {
		return err
	}
	if stats.Mean(accs) >= stats.Mean(baseAccs) {
		ind.Ensemble = ts.WithLast(candidate)
		ind.Fitness = fitness
		ind.Accuracies = accs
	}
	return nil
}

// score evaluates one rule on s and reads the per-example accuracies from
// the trace.
func score(ctx context.Context, s scape.Scape, rule nca.Rule) (float64, []float64, error) {
	fitness, trace, err := s.Evaluate(ctx, rule)
	if err != nil {
		return 0, nil, err
	}
	accs, ok := trace["accuracies"].([]float64)
	if !ok {
		return 0, nil, fmt.Errorf("scape %s: trace has no accuracies", s.Name())
	}
	return float64(fitness), accs, nil
}

func (t *Trainer) logEpoch(taskID string, epoch int, active, solved []*Individual) {
	fields := logrus.Fields{
		"task":   taskID,
		"epoch":  epoch,
		"active": len(active),
		"solved": len(solved),
	}
	pool := append(append([]*Individual(nil), solved...), active...)
	if len(pool) > 0 {
		best := pool[0]
		for _, ind := range pool[1:] {
			if ind.Better(best) {
				best = ind
			}
		}
		fields["best_fitness"] = best.Fitness
		fields["best_acc"] = best.MeanAccuracy()
	}
	t.log.WithFields(fields).Info("epoch finished")
}

// individualSeed mixes the run seed with an individual id and an epoch so
// every optimizer run is reproducible regardless of scheduling.
func individualSeed(seed int64, id, epoch int) int64 {
	x := splitmix64(uint64(seed))
	x = splitmix64(x ^ uint64(id))
	x = splitmix64(x ^ uint64(int64(epoch)))
	return int64(x)
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	z := x
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
