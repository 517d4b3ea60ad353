package model

import (
	"math"
	"math/rand"
	"strconv"

	"github.com/ktrdr/ktrdr/internal/kerrors"
	"github.com/ktrdr/ktrdr/pkg/types"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// TrainConfig mirrors config.TrainingHyperparams plus the architecture and
// class-weighting switch, decoupling the model package from the config
// package's YAML-shaped types.
type TrainConfig struct {
	Architecture Architecture
	LearningRate float64
	BatchSize    int
	MaxEpochs    int
	Patience     int
	MinDelta     float64
	WeightDecay  float64
	Seed         int64
	ClassWeights bool
	TrainRatio   float64
	ValRatio     float64
	TestRatio    float64
}

// Split holds the chronologically split, never-shuffled feature/label
// subsets used by the training contract.
type Split struct {
	TrainX, ValX, TestX [][]float64
	TrainY, ValY, TestY []types.Direction
}

// ChronologicalSplit partitions rows/labels in time order (never shuffled,
// to avoid leakage) according to the configured ratios. Labels with
// Valid=false (the ZigZag end-trimmed tail) are excluded first.
func ChronologicalSplit(rows []types.FeatureRow, labels []types.Label, cfg TrainConfig) Split {
	var X [][]float64
	var y []types.Direction
	for i, r := range rows {
		if i >= len(labels) || !labels[i].Valid {
			continue
		}
		X = append(X, r.Values)
		y = append(y, labels[i].Direction)
	}

	n := len(X)
	trainEnd := int(float64(n) * cfg.TrainRatio)
	valEnd := trainEnd + int(float64(n)*cfg.ValRatio)

	return Split{
		TrainX: X[:trainEnd], TrainY: y[:trainEnd],
		ValX: X[trainEnd:valEnd], ValY: y[trainEnd:valEnd],
		TestX: X[valEnd:], TestY: y[valEnd:],
	}
}

// Trainer trains an MLP classifier and produces a versioned model artifact.
type Trainer struct {
	logger *zap.Logger
	cfg    TrainConfig
}

// NewTrainer constructs a Trainer. logger is named "model.trainer" so
// per-epoch log lines carry that component name, matching the teacher's
// `.Named(...)` sub-logger convention.
func NewTrainer(logger *zap.Logger, cfg TrainConfig) *Trainer {
	return &Trainer{logger: logger.Named("model.trainer"), cfg: cfg}
}

// CancelCheck is polled at each epoch boundary; returning true aborts
// training with a kerrors.CancelledError and discards the partial network.
type CancelCheck func() bool

// ProgressFunc is called after each epoch with (epoch, maxEpochs).
type ProgressFunc func(epoch, maxEpochs int)

// Fit trains the network via mini-batch gradient descent with backprop,
// monitoring validation loss for early stopping, and returns the best
// network seen plus its training history. When cfg.ClassWeights is set,
// per-class weights (indexed by types.Direction, inversely proportional to
// each class's frequency in the training split) multiply that class's loss
// contribution — countering HOLD dominance; otherwise every class weighs 1.
func (t *Trainer) Fit(split Split, symbol, timeframe string, cancel CancelCheck, progress ProgressFunc) (*Network, []types.TrainingHistoryEntry, error) {
	rng := rand.New(rand.NewSource(t.cfg.Seed))
	net := NewNetwork(t.cfg.Architecture, rng)

	classWeights := uniformWeights()
	if t.cfg.ClassWeights {
		classWeights = computeClassWeights(split.TrainY)
	}

	var history []types.TrainingHistoryEntry
	var best *Network
	bestValLoss := math.Inf(1)
	epochsWithoutImprovement := 0

	trainX := toMat(split.TrainX)
	valX := toMat(split.ValX)

	for epoch := 0; epoch < t.cfg.MaxEpochs; epoch++ {
		if cancel != nil && cancel() {
			return nil, history, &kerrors.CancelledError{Stage: "training", At: epoch}
		}

		t.trainEpoch(net, trainX, split.TrainY, classWeights, rng)

		trainLoss, trainAcc := evaluate(net, trainX, split.TrainY, classWeights)
		valLoss, valAcc := evaluate(net, valX, split.ValY, classWeights)

		if math.IsNaN(trainLoss) || math.IsInf(trainLoss, 0) || math.IsNaN(valLoss) {
			return nil, history, &kerrors.ModelError{Message: "numerical anomaly (NaN/Inf) in loss at epoch " + strconv.Itoa(epoch)}
		}

		history = append(history, types.TrainingHistoryEntry{
			Epoch: epoch, TrainLoss: trainLoss, ValLoss: valLoss, TrainAcc: trainAcc, ValAcc: valAcc,
		})

		t.logger.Debug("epoch complete",
			zap.String("symbol", symbol), zap.String("timeframe", timeframe),
			zap.Int("epoch", epoch), zap.Float64("train_loss", trainLoss), zap.Float64("val_loss", valLoss))

		if progress != nil {
			progress(epoch, t.cfg.MaxEpochs)
		}

		if valLoss < bestValLoss-t.cfg.MinDelta {
			bestValLoss = valLoss
			best = net.clone()
			epochsWithoutImprovement = 0
		} else {
			epochsWithoutImprovement++
			if epochsWithoutImprovement >= t.cfg.Patience {
				t.logger.Info("early stopping", zap.Int("epoch", epoch), zap.Float64("best_val_loss", bestValLoss))
				break
			}
		}
	}

	if best == nil {
		best = net
	}
	return best, history, nil
}

func (t *Trainer) trainEpoch(net *Network, X *mat.Dense, y []types.Direction, classWeights [3]float64, rng *rand.Rand) {
	n, _ := X.Dims()
	batch := t.cfg.BatchSize
	if batch <= 0 {
		batch = n
	}
	order := rng.Perm(n) // shuffling within an epoch is fine; the chronological constraint is on the split, not the gradient-descent visiting order
	for start := 0; start < n; start += batch {
		end := start + batch
		if end > n {
			end = n
		}
		idx := order[start:end]
		Xb := subRows(X, idx)
		yb := make([]types.Direction, len(idx))
		for i, ix := range idx {
			yb[i] = y[ix]
		}
		net.backwardStep(Xb, yb, classWeights, t.cfg.LearningRate, t.cfg.WeightDecay, rng)
	}
}

func uniformWeights() [3]float64 { return [3]float64{1, 1, 1} }

func computeClassWeights(y []types.Direction) [3]float64 {
	var counts [3]float64
	for _, label := range y {
		counts[label]++
	}
	total := counts[0] + counts[1] + counts[2]
	if total == 0 {
		return uniformWeights()
	}
	var w [3]float64
	for i, c := range counts {
		if c == 0 {
			w[i] = 0
			continue
		}
		w[i] = total / (3 * c)
	}
	return w
}

func evaluate(net *Network, X *mat.Dense, y []types.Direction, classWeights [3]float64) (loss, accuracy float64) {
	if len(y) == 0 {
		return 0, 0
	}
	probs := net.Predict(X)
	rows, _ := probs.Dims()
	correct := 0
	totalWeight := 0.0
	for i := 0; i < rows; i++ {
		label := y[i]
		p := math.Max(probs.At(i, int(label)), 1e-12)
		w := classWeights[label]
		loss += -w * math.Log(p)
		totalWeight += w

		argmax := 0
		best := probs.At(i, 0)
		for j := 1; j < 3; j++ {
			if probs.At(i, j) > best {
				best = probs.At(i, j)
				argmax = j
			}
		}
		if types.Direction(argmax) == label {
			correct++
		}
	}
	if totalWeight == 0 {
		totalWeight = 1
	}
	return loss / totalWeight, float64(correct) / float64(rows)
}

func toMat(rows [][]float64) *mat.Dense {
	if len(rows) == 0 {
		return mat.NewDense(0, 0, nil)
	}
	n, d := len(rows), len(rows[0])
	data := make([]float64, 0, n*d)
	for _, r := range rows {
		data = append(data, r...)
	}
	return mat.NewDense(n, d, data)
}

func subRows(X *mat.Dense, idx []int) *mat.Dense {
	_, cols := X.Dims()
	out := mat.NewDense(len(idx), cols, nil)
	for i, ix := range idx {
		out.SetRow(i, mat.Row(nil, ix, X))
	}
	return out
}
