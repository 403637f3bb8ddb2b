package tuning

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"enca/internal/logging"
)

// Options configures an LMCMA run. Zero fields take their defaults; the
// dimension dependent ones are derived from the length of the mean.
type Options struct {
	Lambda           int
	FunTarget        float64
	MaxFunctionEvals int
	TolFunHist       float64
	MinSigma         float64
	TimeLimit        time.Duration
	Seed             int64

	// Number of stored direction vectors.
	M int
	// Lookback scale for the randomized window of Az.
	BaseM int
	// Generations between slot refreshes.
	Period int
	// Target age spacing between successive slots.
	NSteps int
	Cc     float64
	C1     float64
	Cs     float64
	Ds     float64
	ZStar  float64

	Logger logrus.FieldLogger
}

func DefaultOptions() Options {
	return Options{
		FunTarget:        1e-12,
		MaxFunctionEvals: 10000,
		TolFunHist:       1e-12,
		MinSigma:         1e-12,
		Seed:             42,
		BaseM:            4,
		Cs:               0.3,
		Ds:               1,
		ZStar:            0.3,
	}
}

func (o Options) resolved(n int) Options {
	def := DefaultOptions()
	if o.FunTarget == 0 {
		o.FunTarget = def.FunTarget
	}
	if o.MaxFunctionEvals <= 0 {
		o.MaxFunctionEvals = def.MaxFunctionEvals
	}
	if o.TolFunHist == 0 {
		o.TolFunHist = def.TolFunHist
	}
	if o.MinSigma == 0 {
		o.MinSigma = def.MinSigma
	}
	if o.BaseM <= 0 {
		o.BaseM = def.BaseM
	}
	if o.Cs == 0 {
		o.Cs = def.Cs
	}
	if o.Ds == 0 {
		o.Ds = def.Ds
	}
	if o.ZStar == 0 {
		o.ZStar = def.ZStar
	}

	dim := float64(n)
	if o.Lambda <= 0 {
		o.Lambda = int(4 + math.Floor(3*math.Log(dim)))
	}
	if o.Lambda < 2 {
		o.Lambda = 2
	}
	if o.M <= 0 {
		o.M = int(4 + 3*math.Log(dim))
	}
	if o.Period <= 0 {
		o.Period = int(math.Max(math.Log(dim), 1))
	}
	if o.NSteps <= 0 {
		o.NSteps = n
	}
	if o.Cc <= 0 {
		o.Cc = 0.5 / math.Sqrt(dim)
	}
	if o.C1 <= 0 {
		o.C1 = 1 / (10 * math.Log(dim+1))
	}
	o.Logger = logging.OrDiscard(o.Logger)
	return o
}
