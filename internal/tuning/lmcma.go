package tuning

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// slot is one stored (direction, path) pair of the implicit Cholesky
// factor with its two correction coefficients.
type slot struct {
	v []float64
	p []float64
	b float64
	d float64
}

// LMCMA is the limited memory CMA-ES of Loshchilov with mirrored sampling
// and population success rule step size control. The factor is kept as a
// fixed arena of slots addressed through order (oldest first) and age.
type LMCMA struct {
	opts Options
	f    BatchObjective
	rng  *rand.Rand
	log  logrus.FieldLogger

	n       int
	mean    []float64
	sigma   float64
	mu      int
	weights []float64

	aConst float64
	cConst float64
	bd2    float64
	pc1    float64
	pc2    float64

	pc    []float64
	sPSR  float64
	slots []slot
	order []int
	age   []int
	it    int
	rr    []float64
	prev  []float64

	evals       int
	generations int
	history     []float64
	best        []float64
	bestValue   float64
	started     time.Time
}

func NewLMCMA(mean []float64, sigma float64, opts Options, f BatchObjective) (*LMCMA, error) {
	if err := validateProblem(Problem{Mean: mean, Sigma: sigma, Objective: f}); err != nil {
		return nil, err
	}
	n := len(mean)
	o := opts.resolved(n)

	mu := o.Lambda / 2
	if mu < 1 {
		mu = 1
	}
	weights := make([]float64, mu)
	for i := range weights {
		weights[i] = math.Log(float64(mu)+0.5) - math.Log(float64(i+1))
	}
	floats.Scale(1/floats.Sum(weights), weights)
	mueff := 1 / floats.Dot(weights, weights)

	es := &LMCMA{
		opts:      o,
		f:         f,
		rng:       rand.New(rand.NewSource(o.Seed)),
		log:       o.Logger,
		n:         n,
		mean:      append([]float64(nil), mean...),
		sigma:     sigma,
		mu:        mu,
		weights:   weights,
		aConst:    math.Sqrt(1 - o.C1),
		cConst:    1 / math.Sqrt(1-o.C1),
		bd2:       o.C1 / (1 - o.C1),
		pc1:       1 - o.Cc,
		pc2:       math.Sqrt(o.Cc * (2 - o.Cc) * mueff),
		pc:        make([]float64, n),
		slots:     make([]slot, o.M),
		order:     make([]int, o.M),
		age:       make([]int, o.M),
		rr:        make([]float64, 2*o.Lambda),
		prev:      make([]float64, o.Lambda),
		bestValue: math.Inf(1),
	}
	for i := range es.slots {
		es.slots[i] = slot{v: make([]float64, n), p: make([]float64, n)}
		es.order[i] = i
	}
	for i := range es.rr {
		es.rr[i] = float64(len(es.rr) - 1 - i)
	}
	for i := range es.prev {
		es.prev[i] = math.Inf(1)
	}
	return es, nil
}

// Run iterates generations until a termination criterion holds. The
// context is checked between generations only.
func (es *LMCMA) Run(ctx context.Context) (Result, error) {
	es.started = time.Now()
	lambda := es.opts.Lambda
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if reason, done := es.stopBeforeGeneration(); done {
			return es.result(reason), nil
		}

		points := es.sample()
		values, err := evaluate(ctx, es.f, points)
		if err != nil {
			return Result{}, err
		}
		es.evals += len(points)

		idx := make([]int, lambda)
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

		genBest := values[idx[0]]
		es.history = append(es.history, genBest)
		if genBest < es.bestValue || es.best == nil {
			es.bestValue = genBest
			es.best = append(es.best[:0], points[idx[0]]...)
		}
		if genBest <= es.opts.FunTarget {
			return es.result(ReasonTargetFunctionValue), nil
		}

		next := make([]float64, es.n)
		for i := 0; i < es.mu; i++ {
			floats.AddScaled(next, es.weights[i], points[idx[i]])
		}
		diff := make([]float64, es.n)
		floats.SubTo(diff, next, es.mean)
		floats.Scale(es.pc1, es.pc)
		floats.AddScaled(es.pc, es.pc2/es.sigma, diff)

		if es.generations%es.opts.Period == 0 {
			es.refreshSlots()
		}
		if es.generations > 0 {
			es.adaptSigma(values)
		}
		copy(es.prev, values)
		es.mean = next

		if es.generations%50 == 0 {
			es.log.WithFields(logrus.Fields{
				"evaluations": es.evals,
				"best":        es.bestValue,
				"sigma":       es.sigma,
			}).Debug("lmcma generation")
		}
		es.generations++
	}
}

func (es *LMCMA) stopBeforeGeneration() (TerminationReason, bool) {
	switch {
	case es.opts.TimeLimit > 0 && time.Since(es.started) >= es.opts.TimeLimit:
		return ReasonTimeLimit, true
	case es.sigma <= es.opts.MinSigma:
		return ReasonMinSigma, true
	case es.evals >= es.opts.MaxFunctionEvals:
		return ReasonMaxFunctionEvals, true
	case es.flatHistory():
		return ReasonTolFunHist, true
	}
	return "", false
}

func (es *LMCMA) flatHistory() bool {
	need := 10 + int(math.Ceil(30*float64(es.n)/float64(es.opts.Lambda)))
	if len(es.history) < need {
		return false
	}
	recent := es.history[len(es.history)-need:]
	return floats.Max(recent)-floats.Min(recent) < es.opts.TolFunHist
}

// sample draws lambda mirrored candidates around the mean.
func (es *LMCMA) sample() [][]float64 {
	lambda := es.opts.Lambda
	points := make([][]float64, lambda)
	var az []float64
	sign := 1.0
	for k := 0; k < lambda; k++ {
		if sign > 0 {
			scale := float64(es.opts.BaseM)
			if k == 0 {
				scale *= 10
			}
			back := math.Min(scale*math.Abs(es.rng.NormFloat64()), float64(es.it))
			start := 0
			if es.it > 1 {
				if s := int(math.Floor(float64(es.it) - back)); s > 0 {
					start = s
				}
			}
			az = es.az(es.rademacher(), start)
		}
		x := append([]float64(nil), es.mean...)
		floats.AddScaled(x, sign*es.sigma, az)
		points[k] = x
		sign = -sign
	}
	return points
}

func (es *LMCMA) rademacher() []float64 {
	z := make([]float64, es.n)
	for i := range z {
		if es.rng.Intn(2) == 0 {
			z[i] = 1
		} else {
			z[i] = -1
		}
	}
	return z
}

// az applies the stored factor slots order[start:it] to z.
func (es *LMCMA) az(z []float64, start int) []float64 {
	x := append([]float64(nil), z...)
	for t := start; t < es.it; t++ {
		s := &es.slots[es.order[t]]
		dot := floats.Dot(s.v, z)
		floats.Scale(es.aConst, x)
		floats.AddScaled(x, s.b*dot, s.p)
	}
	zeroNonFinite(x)
	return x
}

// ainvz applies the inverse factor built from the first i ordered slots.
func (es *LMCMA) ainvz(v []float64, i int) []float64 {
	x := append([]float64(nil), v...)
	for t := 0; t < i; t++ {
		s := &es.slots[es.order[t]]
		dot := floats.Dot(s.v, x)
		floats.Scale(es.cConst, x)
		floats.AddScaled(x, -s.d*dot, s.v)
	}
	zeroNonFinite(x)
	return x
}

// refreshSlots stores the evolution path. Once the arena is full the slot
// replaced is the one whose age gap to its predecessor is furthest below
// NSteps, or the oldest if every gap is at least NSteps.
func (es *LMCMA) refreshSlots() {
	m := es.opts.M
	ng := es.generations / es.opts.Period
	iMin := 1
	if ng < m {
		es.order[ng] = ng
	} else if m > 1 {
		dMin := es.age[es.order[1]] - es.age[es.order[0]] - es.opts.NSteps
		for j := 2; j < m; j++ {
			dCur := es.age[es.order[j]] - es.age[es.order[j-1]] - es.opts.NSteps
			if dCur < dMin {
				dMin = dCur
				iMin = j
			}
		}
		if dMin >= 0 {
			iMin = 0
		}
		updated := es.order[iMin]
		copy(es.order[iMin:m-1], es.order[iMin+1:m])
		es.order[m-1] = updated
	}

	es.it = min(m, ng+1)
	last := es.order[es.it-1]
	es.age[last] = ng * es.opts.Period
	copy(es.slots[last].p, es.pc)

	start := iMin
	if iMin == 1 {
		start = 0
	}
	for i := start; i < es.it; i++ {
		s := &es.slots[es.order[i]]
		s.v = es.ainvz(s.p, i)
		vn := math.Max(floats.Dot(s.v, s.v), 1e-32)
		bd3 := math.Sqrt(1 + es.bd2*vn)
		s.b = es.aConst / vn * (bd3 - 1)
		s.d = es.cConst / vn * (1 - 1/bd3)
	}
}

// adaptSigma is the population success rule: rank the current and previous
// generations together and compare their rank sums.
func (es *LMCMA) adaptSigma(values []float64) {
	type ranked struct {
		value   float64
		current bool
	}
	merged := make([]ranked, 0, len(values)+len(es.prev))
	for _, v := range values {
		merged = append(merged, ranked{value: v, current: true})
	}
	for _, v := range es.prev {
		merged = append(merged, ranked{value: v})
	}
	sort.SliceStable(merged, func(a, b int) bool { return merged[a].value < merged[b].value })

	var sumCur, sumPrev float64
	for pos, r := range merged {
		if r.current {
			sumCur += es.rr[pos]
		} else {
			sumPrev += es.rr[pos]
		}
	}
	lambda := float64(es.opts.Lambda)
	z := (sumCur-sumPrev)/(lambda*lambda) - es.opts.ZStar
	es.sPSR = (1-es.opts.Cs)*es.sPSR + es.opts.Cs*z
	es.sigma *= math.Exp(es.sPSR / es.opts.Ds)
}

func (es *LMCMA) result(reason TerminationReason) Result {
	history := make([]float64, len(es.history))
	for i, v := range es.history {
		history[len(history)-1-i] = v
	}
	return Result{
		Best:        append([]float64(nil), es.best...),
		BestValue:   es.bestValue,
		Evaluations: es.evals,
		Reasons:     []TerminationReason{reason},
		History:     history,
	}
}

func zeroNonFinite(x []float64) {
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			x[i] = 0
		}
	}
}

// LMCMATuner runs one LMCMA per Tune call.
type LMCMATuner struct {
	Options Options
}

func (LMCMATuner) Name() string { return "lmcma" }

func (t LMCMATuner) Tune(ctx context.Context, p Problem) (Result, error) {
	opts := t.Options
	opts.Seed = p.Seed
	if p.Budget > 0 {
		opts.MaxFunctionEvals = p.Budget
	}
	es, err := NewLMCMA(p.Mean, p.Sigma, opts, p.Objective)
	if err != nil {
		return Result{}, err
	}
	return es.Run(ctx)
}
