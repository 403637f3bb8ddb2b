package scape

import (
	"context"
	"math"
	"testing"

	"enca/internal/dataset"
	"enca/internal/grid"
	"enca/internal/nca"
)

func cpuEvaluator(t *testing.T) Evaluator {
	t.Helper()
	engine, err := nca.NewEngine(nca.CPU, nca.DefaultKernel(), nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return Evaluator{Engine: engine, Costs: DefaultCosts()}
}

func constantRule(maxSteps int, color uint8) nca.Rule {
	r := nca.NewRule(maxSteps)
	switch color {
	case 1:
		r.Biases[0] = 1
	case 2:
		r.Biases[1] = 1
	}
	return r
}

func TestAccuracy(t *testing.T) {
	a := grid.MustNew([][]uint8{{1, 2}, {3, 4}})
	b := grid.MustNew([][]uint8{{1, 2}, {3, 0}})
	if got := Accuracy(a, b); got != 0.75 {
		t.Fatalf("accuracy=%v want 0.75", got)
	}
	if got := Accuracy(a, grid.MustNew([][]uint8{{1, 2, 3, 4}})); got != 0 {
		t.Fatalf("shape mismatch accuracy=%v want 0", got)
	}
}

func TestInferenceRevertsPipeline(t *testing.T) {
	ev := cpuEvaluator(t)
	input := grid.MustNew([][]uint8{{1, 2, 3}, {4, 5, 6}})
	rule := nca.Identity(10)
	rule.Pipeline = grid.Pipeline{{Kind: grid.Rotate90CW}, {Kind: grid.FlipHorizontal}}
	pred, err := ev.Inference(context.Background(), input, rule, 0)
	if err != nil {
		t.Fatalf("inference: %v", err)
	}
	if !pred.Equal(input) {
		t.Fatalf("prediction:\n%s\nwant\n%s", pred, input)
	}
	acc, err := ev.Eval(context.Background(), input, input, rule, 0)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if acc != 1 {
		t.Fatalf("accuracy=%v want 1", acc)
	}
}

func TestTrainAccuraciesPerExample(t *testing.T) {
	ev := cpuEvaluator(t)
	examples := []dataset.Example{
		{Input: grid.MustNew([][]uint8{{1, 2}, {3, 4}}), Output: grid.MustNew([][]uint8{{1, 2}, {3, 4}})},
		{Input: grid.MustNew([][]uint8{{1, 2}, {3, 4}}), Output: grid.MustNew([][]uint8{{1, 2}, {3, 0}})},
		{Input: grid.MustNew([][]uint8{{1, 2}}), Output: grid.MustNew([][]uint8{{1}, {2}})},
	}
	accs, err := ev.TrainAccuracies(context.Background(), examples, nca.Identity(10), 0)
	if err != nil {
		t.Fatalf("train accuracies: %v", err)
	}
	want := []float64{1, 0.75, 0}
	if len(accs) != len(want) {
		t.Fatalf("got %d accuracies, want %d", len(accs), len(want))
	}
	for i := range want {
		if accs[i] != want[i] {
			t.Fatalf("example %d accuracy=%v want %v", i, accs[i], want[i])
		}
	}
}

func TestVoteMajority(t *testing.T) {
	ev := cpuEvaluator(t)
	input := grid.MustNew([][]uint8{{1, 2}})
	models := []nca.Model{
		constantRule(3, 1),
		nca.NewRule(4),
		nca.NewRule(5),
		nca.Identity(6),
	}
	out, err := ev.Vote(context.Background(), input, models, 2, 0)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 winners, got %d", len(out))
	}
	if got := out[0].(nca.Rule).MaxSteps; got != 4 {
		t.Fatalf("expected the first zero rule to win, got max steps %d", got)
	}
	if got := out[1].(nca.Rule).MaxSteps; got != 3 {
		t.Fatalf("expected the constant rule second, got max steps %d", got)
	}
}

func TestVoteFallsBackWithoutWinner(t *testing.T) {
	ev := cpuEvaluator(t)
	input := grid.MustNew([][]uint8{{1, 2}})
	models := []nca.Model{nca.Identity(3), nca.Identity(4), nca.Identity(5)}
	out, err := ev.Vote(context.Background(), input, models, 2, 0)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if len(out) != 2 || out[0].(nca.Rule).MaxSteps != 3 || out[1].(nca.Rule).MaxSteps != 4 {
		t.Fatalf("expected the first two models unchanged, got %d", len(out))
	}
}

func identityTask() []dataset.Example {
	return []dataset.Example{
		{Input: grid.MustNew([][]uint8{{1, 2}, {3, 4}}), Output: grid.MustNew([][]uint8{{1, 2}, {3, 4}})},
		{Input: grid.MustNew([][]uint8{{5, 0, 9}}), Output: grid.MustNew([][]uint8{{5, 0, 9}})},
	}
}

func TestTaskScapeScoresCandidates(t *testing.T) {
	ctx := context.Background()
	ev := cpuEvaluator(t)
	s, err := ev.NewTaskScape(ctx, "id", identityTask(), nca.NewRule(10).AsEnsemble(), 0)
	if err != nil {
		t.Fatalf("task scape: %v", err)
	}
	scores, err := s.ScoreBatch(ctx, []nca.Rule{nca.Identity(10), nca.NewRule(10)})
	if err != nil {
		t.Fatalf("score batch: %v", err)
	}
	identity, zero := scores[0], scores[1]
	if identity.MeanAccuracy() != 1 {
		t.Fatalf("identity accuracy=%v want 1", identity.MeanAccuracy())
	}
	if zero.MeanAccuracy() >= 1 {
		t.Fatalf("zero rule should not solve the task, accuracy=%v", zero.MeanAccuracy())
	}
	if identity.Fitness >= zero.Fitness {
		t.Fatalf("identity fitness %v should beat zero fitness %v", identity.Fitness, zero.Fitness)
	}
	if identity.Fitness <= 0 || identity.Fitness > 1e-3 {
		t.Fatalf("identity fitness should be a small positive penalty, got %v", identity.Fitness)
	}

	fitness, trace, err := s.Evaluate(ctx, nca.Identity(10))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if math.Abs(float64(fitness)-identity.Fitness) > 1e-12 || trace["mean_accuracy"].(float64) != 1 {
		t.Fatalf("evaluate disagrees with batch: %v %v", fitness, trace)
	}
}

func TestTaskScapeShapeMismatchScoresOne(t *testing.T) {
	ctx := context.Background()
	ev := cpuEvaluator(t)
	ev.Costs = Costs{}
	examples := []dataset.Example{{Input: grid.MustNew([][]uint8{{1}}), Output: grid.MustNew([][]uint8{{1, 1}})}}
	s, err := ev.NewTaskScape(ctx, "id", examples, nca.Identity(5).AsEnsemble(), 0)
	if err != nil {
		t.Fatalf("task scape: %v", err)
	}
	scores, err := s.ScoreBatch(ctx, []nca.Rule{nca.Identity(5)})
	if err != nil {
		t.Fatalf("score batch: %v", err)
	}
	if scores[0].Fitness != 1 || scores[0].Accuracies[0] != 0 {
		t.Fatalf("unexpected score %+v", scores[0])
	}
}

func TestTaskScapeUsesFrozenPrefix(t *testing.T) {
	ctx := context.Background()
	ev := cpuEvaluator(t)
	ens := nca.Ensemble{TaskID: "id", Rules: []nca.Rule{nca.Identity(10), nca.NewRule(10)}}
	s, err := ev.NewTaskScape(ctx, "id", identityTask(), ens, 0)
	if err != nil {
		t.Fatalf("task scape: %v", err)
	}
	hold := nca.NewRule(10)
	for i := 0; i < 4; i++ {
		hold.Weights[(2*10+4+i)*6+i] = 1
	}
	scores, err := s.ScoreBatch(ctx, []nca.Rule{hold})
	if err != nil {
		t.Fatalf("score batch: %v", err)
	}
	if scores[0].MeanAccuracy() != 1 {
		t.Fatalf("holding the prefix output should solve the task, accuracy=%v", scores[0].MeanAccuracy())
	}
	pred, err := ev.Inference(ctx, identityTask()[0].Input, s.WithLast(hold), 0)
	if err != nil {
		t.Fatalf("inference: %v", err)
	}
	if !pred.Equal(identityTask()[0].Output) {
		t.Fatalf("inference through ensemble disagrees:\n%s", pred)
	}
}
