package enca

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"enca/internal/config"
	"enca/internal/dataset"
	"enca/internal/device"
	"enca/internal/evo"
	"enca/internal/grid"
	"enca/internal/logging"
	"enca/internal/model"
	"enca/internal/nca"
	"enca/internal/scape"
	"enca/internal/stats"
	"enca/internal/storage"
	"enca/internal/substrate"
	"enca/internal/tuning"
)

const (
	defaultArtifactsDir = "runs"
	defaultDBPath       = "enca.db"
	voteAttempts        = 2
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	// Config is the default training configuration. Nil means config.Default.
	Config *config.Config
	Logger logrus.FieldLogger
}

// Client owns the store and the device pool. The pool is built once and
// shared by every call.
type Client struct {
	cfg   config.Config
	store storage.Store
	pool  *device.Pool
	log   logrus.FieldLogger

	artifactsDir string
}

// TaskSolution is the outcome of training on one task and voting over the
// trained ensembles for each test input.
type TaskSolution struct {
	TaskID   string
	Trained  bool
	Attempts []dataset.Attempts
	Report   model.TaskReport
	Result   evo.TrainResult
}

type RunRequest struct {
	Dataset dataset.Dataset
	// TaskID restricts the run to one task.
	TaskID  string
	RunID   string
	Seed    int64
	Verbose bool
	Config  *config.Config
}

type RunResult struct {
	Summary      model.RunSummary
	Submission   dataset.Submission
	ArtifactsDir string
}

type ParityRequest struct {
	Grids    []grid.Grid
	Rules    int
	MaxSteps int
	Seed     int64
}

// ParityReport counts rule-grid pairs whose final substrates differ between
// the CPU and the device backends.
type ParityReport struct {
	Pairs      int
	Mismatches int
}

func New(opts Options) (*Client, error) {
	cfg := config.Default()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(context.Background()); err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, err
	}

	log := logging.OrDiscard(opts.Logger)
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	pool := device.NewPool(device.PoolConfig{
		Devices:          cfg.Devices,
		ThreadsPerDevice: (workers + cfg.Devices - 1) / cfg.Devices,
		Logger:           log,
	})

	return &Client{
		cfg:          cfg,
		store:        store,
		pool:         pool,
		log:          log,
		artifactsDir: artifactsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Config() config.Config { return c.cfg }

func (c *Client) Store() storage.Store { return c.store }

func (c *Client) evaluator(cfg config.Config, backend nca.Backend) (scape.Evaluator, error) {
	var pool *device.Pool
	if backend == nca.GPU {
		if err := c.pool.Init(); err != nil {
			return scape.Evaluator{}, err
		}
		pool = c.pool
	}
	engine, err := nca.NewEngine(backend, cfg.Kernel(), pool)
	if err != nil {
		return scape.Evaluator{}, err
	}
	return scape.Evaluator{Engine: engine, Costs: cfg.Costs()}, nil
}

// Inference runs every stage of m on input with the given backend.
func (c *Client) Inference(ctx context.Context, input grid.Grid, m nca.Model, backend nca.Backend) (grid.Grid, error) {
	ev, err := c.evaluator(c.cfg, backend)
	if err != nil {
		return grid.Grid{}, err
	}
	return ev.Inference(ctx, input, m, 0)
}

// Eval is the fraction of cells of the prediction equal to output.
func (c *Client) Eval(ctx context.Context, input, output grid.Grid, m nca.Model, backend nca.Backend) (float64, error) {
	ev, err := c.evaluator(c.cfg, backend)
	if err != nil {
		return 0, err
	}
	return ev.Eval(ctx, input, output, m, 0)
}

// Train evolves a population on the train examples of task.
func (c *Client) Train(ctx context.Context, task dataset.Task, verbose bool, cfg config.Config, seed int64) (evo.TrainResult, error) {
	trainer, err := c.trainer(cfg, verbose, seed)
	if err != nil {
		return evo.TrainResult{}, err
	}
	return trainer.Train(ctx, task)
}

func (c *Client) trainer(cfg config.Config, verbose bool, seed int64) (*evo.Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backend, err := nca.ParseBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	ev, err := c.evaluator(cfg, backend)
	if err != nil {
		return nil, err
	}
	tuner, err := tuning.TunerFromConfig(cfg.Optimizer, cfg.TunerOptions())
	if err != nil {
		return nil, err
	}
	policy, err := tuning.BudgetPolicyFromConfig(cfg.BudgetPolicy, cfg.MaxFunEvals/10)
	if err != nil {
		return nil, err
	}
	return evo.NewTrainer(evo.TrainerConfig{
		Evaluator:         ev,
		Tuner:             tuner,
		BudgetPolicy:      policy,
		Selector:          evo.TournamentSelector{TournamentSize: cfg.TournamentSize},
		Population:        cfg.Population,
		Epochs:            cfg.Epochs,
		SubsetSize:        cfg.SubsetSize,
		MaxFunEvals:       cfg.MaxFunEvals,
		InitialSigma:      cfg.InitialSigma,
		MaxSteps:          cfg.MaxSteps,
		Stages:            cfg.Stages,
		TargetSolved:      cfg.TargetSolved,
		SelectionPatience: cfg.SelectionPatience,
		InitRule:          cfg.InitRule,
		Workers:           cfg.Workers,
		Seed:              seed,
		Verbose:           verbose,
		Logger:            c.log,
	})
}

// SolveTask trains on task and produces two attempts per test input by
// majority vote over the solved individuals, or over all of them when none
// solved the train examples. When solution is given test accuracies are
// reported for the better of the two attempts. Tasks whose train inputs
// change shape are not trained and get blank attempts.
func (c *Client) SolveTask(ctx context.Context, task dataset.Task, solution *dataset.Solution, verbose bool, cfg config.Config, seed int64) (TaskSolution, error) {
	start := time.Now()
	out := TaskSolution{
		TaskID: task.ID,
		Report: model.TaskReport{
			TaskID:         task.ID,
			NExamplesTrain: len(task.Train),
			NExamplesTest:  len(task.Test),
		},
	}
	if !task.PreservesShape() {
		out.Attempts = blankAttempts(len(task.Test))
		out.Report.TestAccs = make([]float64, len(task.Test))
		return out, nil
	}

	result, err := c.Train(ctx, task, verbose, cfg, seed)
	if err != nil {
		return TaskSolution{}, fmt.Errorf("train %s: %w", task.ID, err)
	}
	if len(result.Individuals) == 0 {
		return TaskSolution{}, fmt.Errorf("train %s: %w", task.ID, evo.ErrEmptyPopulation)
	}
	backend, err := nca.ParseBackend(cfg.Backend)
	if err != nil {
		return TaskSolution{}, err
	}
	ev, err := c.evaluator(cfg, backend)
	if err != nil {
		return TaskSolution{}, err
	}

	candidates := make([]nca.Model, 0, len(result.Individuals))
	for i := range result.Individuals {
		if result.Individuals[i].Solved() {
			candidates = append(candidates, result.Individuals[i].Ensemble)
		}
	}
	if len(candidates) == 0 {
		for i := range result.Individuals {
			candidates = append(candidates, result.Individuals[i].Ensemble)
		}
	}

	out.Trained = true
	out.Result = result
	out.Attempts = make([]dataset.Attempts, len(task.Test))
	for i, problem := range task.Test {
		top, err := ev.Vote(ctx, problem.Input, candidates, voteAttempts, 0)
		if err != nil {
			return TaskSolution{}, fmt.Errorf("vote %s test %d: %w", task.ID, i, err)
		}
		first, err := ev.Inference(ctx, problem.Input, top[0], 0)
		if err != nil {
			return TaskSolution{}, err
		}
		second := first
		if len(top) > 1 {
			if second, err = ev.Inference(ctx, problem.Input, top[1], 0); err != nil {
				return TaskSolution{}, err
			}
		}
		out.Attempts[i] = dataset.Attempts{Attempt1: first, Attempt2: second}

		if solution != nil && i < len(solution.Outputs) {
			want := solution.Outputs[i]
			out.Report.TestAccs = append(out.Report.TestAccs, max(scape.Accuracy(first, want), scape.Accuracy(second, want)))
		}
	}

	trainAccs, err := ev.TrainAccuracies(ctx, task.Train, result.Individuals[0].Ensemble, 0)
	if err != nil {
		return TaskSolution{}, fmt.Errorf("train accuracies %s: %w", task.ID, err)
	}
	out.Report.TrainAccs = trainAccs
	out.Report.Solved = result.Solved
	out.Report.Epochs = result.Epochs
	out.Report.DurationMs = time.Since(start).Milliseconds()
	return out, nil
}

// Run solves every selected task of the dataset in order, persists ranked
// ensembles, epoch metrics and reports, and writes run artifacts.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	cfg := c.cfg
	if req.Config != nil {
		cfg = *req.Config
	}
	if err := cfg.Validate(); err != nil {
		return RunResult{}, err
	}
	tasks := req.Dataset.Tasks
	if req.TaskID != "" {
		task, ok := req.Dataset.Task(req.TaskID)
		if !ok {
			return RunResult{}, fmt.Errorf("task not found: %s", req.TaskID)
		}
		tasks = []dataset.Task{task}
	}
	if len(tasks) == 0 {
		return RunResult{}, errors.New("no tasks to run")
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	start := time.Now()
	summary := model.RunSummary{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           runID,
		CreatedAtUTC:    start.UTC().Format(time.RFC3339Nano),
		Backend:         cfg.Backend,
		NTasks:          len(tasks),
		Seed:            req.Seed,
	}
	submission := dataset.Submission{}
	artifacts := stats.RunArtifacts{Summary: summary, Config: cfg}

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}
		var solution *dataset.Solution
		if sol, ok := req.Dataset.Solution(task.ID); ok {
			solution = &sol
		}
		solved, err := c.SolveTask(ctx, task, solution, req.Verbose, cfg, req.Seed)
		if err != nil {
			return RunResult{}, err
		}
		submission[task.ID] = solved.Attempts

		solved.Report.VersionedRecord = storage.CurrentVersion()
		solved.Report.RunID = runID
		summary.TotalTestGrids += len(task.Test)
		for _, acc := range solved.Report.TestAccs {
			if acc == 1 {
				summary.TotalTestCorrect++
			}
		}

		records := ensembleRecords(runID, task.ID, solved.Result)
		metrics := epochMetrics(solved.Result)
		if err := c.store.SaveTaskReport(ctx, solved.Report); err != nil {
			return RunResult{}, err
		}
		if solved.Trained {
			if err := c.store.SaveEnsembles(ctx, runID, task.ID, records); err != nil {
				return RunResult{}, err
			}
			if err := c.store.SaveEpochMetrics(ctx, runID, task.ID, metrics); err != nil {
				return RunResult{}, err
			}
		}
		artifacts.Tasks = append(artifacts.Tasks, stats.TaskArtifacts{Report: solved.Report, Ensembles: records, Metrics: metrics})

		c.log.WithFields(logrus.Fields{
			"task":      task.ID,
			"trained":   solved.Trained,
			"train_acc": stats.Mean(solved.Report.TrainAccs),
			"test_accs": solved.Report.TestAccs,
		}).Info("task finished")
	}

	if summary.TotalTestGrids > 0 {
		summary.TestAccuracy = float64(summary.TotalTestCorrect) / float64(summary.TotalTestGrids)
	}
	summary.ElapsedMs = time.Since(start).Milliseconds()
	if err := c.store.SaveRunSummary(ctx, summary); err != nil {
		return RunResult{}, err
	}

	artifacts.Summary = summary
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, artifacts)
	if err != nil {
		return RunResult{}, err
	}
	if err := submission.Write(filepath.Join(runDir, "submission.json")); err != nil {
		return RunResult{}, err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:        runID,
		Backend:      summary.Backend,
		NTasks:       summary.NTasks,
		TestAccuracy: summary.TestAccuracy,
		Seed:         summary.Seed,
		CreatedAtUTC: summary.CreatedAtUTC,
	}); err != nil {
		return RunResult{}, err
	}

	return RunResult{Summary: summary, Submission: submission, ArtifactsDir: runDir}, nil
}

// Runs lists stored run summaries, newest first. limit <= 0 lists all.
func (c *Client) Runs(ctx context.Context, limit int) ([]model.RunSummary, error) {
	summaries, err := c.store.ListRunSummaries(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// Parity runs random rules on every grid with both backends in one batch
// each and compares the final substrates exactly.
func (c *Client) Parity(ctx context.Context, req ParityRequest) (ParityReport, error) {
	if len(req.Grids) == 0 {
		return ParityReport{}, errors.New("parity needs at least one grid")
	}
	if req.Rules <= 0 {
		req.Rules = 8
	}
	if req.MaxSteps <= 0 {
		req.MaxSteps = c.cfg.MaxSteps
	}
	if err := c.pool.Init(); err != nil {
		return ParityReport{}, err
	}

	rng := rand.New(rand.NewSource(req.Seed))
	rules := make([]nca.Rule, req.Rules)
	for i := range rules {
		rules[i] = nca.Random(req.MaxSteps, rng)
	}
	seeds := make([]substrate.Substrate, len(req.Grids))
	for i, g := range req.Grids {
		seeds[i] = substrate.FromGrid(g)
	}

	kernel := c.cfg.Kernel()
	cpu, err := nca.CPURunner{Kernel: kernel}.RunBatch(ctx, 0, rules, seeds)
	if err != nil {
		return ParityReport{}, fmt.Errorf("cpu batch: %w", err)
	}
	runner := &nca.DeviceRunner{Pool: c.pool, Kernel: kernel}
	gpu, err := runner.RunBatch(ctx, 0, rules, seeds)
	if err != nil {
		return ParityReport{}, fmt.Errorf("device batch: %w", err)
	}

	report := ParityReport{Pairs: len(rules) * len(seeds)}
	for p := range rules {
		for s := range seeds {
			a, b := cpu[p][s], gpu[p][s]
			if a.Reason != b.Reason || a.Final.MaxAbsDiff(b.Final) != 0 || a.Final.ToGrid().Hash() != b.Final.ToGrid().Hash() {
				report.Mismatches++
				c.log.WithFields(logrus.Fields{"rule": p, "grid": s}).Warn("backend mismatch")
			}
		}
	}
	return report, nil
}

func ensembleRecords(runID, taskID string, result evo.TrainResult) []model.EnsembleRecord {
	records := make([]model.EnsembleRecord, 0, len(result.Individuals))
	for i, ind := range result.Individuals {
		ens := ind.Ensemble.Clone()
		ens.TaskID = taskID
		records = append(records, model.EnsembleRecord{
			VersionedRecord: storage.CurrentVersion(),
			RunID:           runID,
			TaskID:          taskID,
			Rank:            i + 1,
			Ensemble:        ens,
			Fitness:         ind.Fitness,
			TrainAccs:       append([]float64(nil), ind.Accuracies...),
		})
	}
	return records
}

func epochMetrics(result evo.TrainResult) []model.EpochMetric {
	out := make([]model.EpochMetric, len(result.Metrics))
	for i, m := range result.Metrics {
		out[i] = model.EpochMetric{
			Epoch:        m.Epoch,
			IndividualID: m.IndividualID,
			Fitness:      m.Fitness,
			MeanAccuracy: m.MeanAccuracy,
		}
	}
	return out
}

// blankAttempts is the placeholder for tasks that are not trained: a 2x2
// grid of colour 0 for both attempts.
func blankAttempts(n int) []dataset.Attempts {
	blank := grid.MustNew([][]uint8{{0, 0}, {0, 0}})
	out := make([]dataset.Attempts, n)
	for i := range out {
		out[i] = dataset.Attempts{Attempt1: blank, Attempt2: blank}
	}
	return out
}
