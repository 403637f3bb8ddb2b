package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"enca/internal/evo"
	"enca/internal/nca"
	"enca/internal/scape"
	"enca/internal/tuning"
)

// Config holds every training and backend parameter. Files are decoded on
// top of Default, so omitted keys keep their defaults.
type Config struct {
	Population              int           `yaml:"population" json:"population"`
	Epochs                  int           `yaml:"epochs" json:"epochs"`
	TournamentSize          int           `yaml:"tournament_size" json:"tournament_size"`
	SubsetSize              int           `yaml:"subset_size" json:"subset_size"`
	MaxFunEvals             int           `yaml:"max_fun_evals" json:"max_fun_evals"`
	InitialSigma            float64       `yaml:"initial_sigma" json:"initial_sigma"`
	L2Coeff                 float64       `yaml:"l2_coeff" json:"l2_coeff"`
	L1Coeff                 float64       `yaml:"l1_coeff" json:"l1_coeff"`
	OscillationCostCoeff    float64       `yaml:"oscillation_cost_coeff" json:"oscillation_cost_coeff"`
	NonConvergenceCostCoeff float64       `yaml:"non_convergence_cost_coeff" json:"non_convergence_cost_coeff"`
	Backend                 string        `yaml:"backend" json:"backend"`
	MaxSteps                int           `yaml:"max_steps" json:"max_steps"`
	Stages                  int           `yaml:"stages" json:"stages"`
	TargetSolved            int           `yaml:"target_solved" json:"target_solved"`
	SelectionPatience       int           `yaml:"selection_patience" json:"selection_patience"`
	InitRule                string        `yaml:"init_rule" json:"init_rule"`
	Optimizer               string        `yaml:"optimizer" json:"optimizer"`
	BudgetPolicy            string        `yaml:"budget_policy" json:"budget_policy"`
	FunTarget               float64       `yaml:"fun_target" json:"fun_target"`
	TolFunHist              float64       `yaml:"tol_fun_hist" json:"tol_fun_hist"`
	TimeLimit               time.Duration `yaml:"time_limit" json:"time_limit"`
	Workers                 int           `yaml:"workers" json:"workers"`
	Devices                 int           `yaml:"devices" json:"devices"`
	AliveThreshold          float64       `yaml:"alive_threshold" json:"alive_threshold"`
	ConvergenceThreshold    float64       `yaml:"convergence_threshold" json:"convergence_threshold"`
}

func Default() Config {
	costs := scape.DefaultCosts()
	return Config{
		Population:              100,
		Epochs:                  50,
		TournamentSize:          5,
		SubsetSize:              32,
		MaxFunEvals:             20000,
		InitialSigma:            0.2,
		L2Coeff:                 costs.L2,
		L1Coeff:                 costs.L1,
		OscillationCostCoeff:    costs.Oscillation,
		NonConvergenceCostCoeff: costs.NonConvergence,
		Backend:                 string(nca.CPU),
		MaxSteps:                40,
		Stages:                  1,
		TargetSolved:            0,
		SelectionPatience:       5,
		InitRule:                evo.InitZero,
		Optimizer:               "lmcma",
		BudgetPolicy:            "fixed",
		FunTarget:               1e-7,
		TolFunHist:              1e-7,
		Workers:                 0,
		Devices:                 1,
		AliveThreshold:          nca.DefaultAlive,
		ConvergenceThreshold:    nca.DefaultConvergence,
	}
}

// Load decodes path over the defaults. Unknown keys are rejected. JSON
// documents are accepted since they are valid YAML.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Population <= 0:
		return fmt.Errorf("population must be > 0")
	case c.Epochs <= 0:
		return fmt.Errorf("epochs must be > 0")
	case c.TournamentSize <= 0:
		return fmt.Errorf("tournament_size must be > 0")
	case c.SubsetSize < 0:
		return fmt.Errorf("subset_size must be >= 0")
	case c.MaxFunEvals < 0:
		return fmt.Errorf("max_fun_evals must be >= 0")
	case !(c.InitialSigma > 0) || math.IsInf(c.InitialSigma, 0):
		return fmt.Errorf("initial_sigma must be finite and > 0")
	case c.L2Coeff < 0, c.L1Coeff < 0, c.OscillationCostCoeff < 0, c.NonConvergenceCostCoeff < 0:
		return fmt.Errorf("cost coefficients must be >= 0")
	case c.MaxSteps < 0:
		return fmt.Errorf("max_steps must be >= 0")
	case c.Stages <= 0 || c.Stages > c.Epochs:
		return fmt.Errorf("stages must be in [1, epochs]")
	case c.TargetSolved < 0:
		return fmt.Errorf("target_solved must be >= 0")
	case c.SelectionPatience <= 0:
		return fmt.Errorf("selection_patience must be > 0")
	case c.TimeLimit < 0:
		return fmt.Errorf("time_limit must be >= 0")
	case c.Workers < 0:
		return fmt.Errorf("workers must be >= 0")
	case c.Devices <= 0:
		return fmt.Errorf("devices must be > 0")
	case !(c.AliveThreshold > 0) || !(c.ConvergenceThreshold > 0):
		return fmt.Errorf("alive_threshold and convergence_threshold must be > 0")
	}
	if _, err := nca.ParseBackend(c.Backend); err != nil {
		return err
	}
	switch c.InitRule {
	case evo.InitZero, evo.InitIdentity, evo.InitRandom:
	default:
		return fmt.Errorf("unsupported init_rule: %s", c.InitRule)
	}
	if _, err := tuning.TunerFromConfig(c.Optimizer, c.TunerOptions()); err != nil {
		return err
	}
	if _, err := tuning.BudgetPolicyFromConfig(c.BudgetPolicy, 0); err != nil {
		return err
	}
	return nil
}

func (c Config) Kernel() nca.Kernel {
	return nca.Kernel{Alive: float32(c.AliveThreshold), Convergence: float32(c.ConvergenceThreshold)}
}

func (c Config) Costs() scape.Costs {
	return scape.Costs{
		Oscillation:    c.OscillationCostCoeff,
		NonConvergence: c.NonConvergenceCostCoeff,
		L1:             c.L1Coeff,
		L2:             c.L2Coeff,
	}
}

func (c Config) TunerOptions() tuning.Options {
	opts := tuning.DefaultOptions()
	opts.FunTarget = c.FunTarget
	opts.TolFunHist = c.TolFunHist
	opts.TimeLimit = c.TimeLimit
	if c.MaxFunEvals > 0 {
		opts.MaxFunctionEvals = c.MaxFunEvals
	}
	return opts
}
