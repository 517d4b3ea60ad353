// Package tuning searches a strategy's parameter space for the
// configuration that maximizes a chosen performance metric, by repeatedly
// running a backtest (or training run) and scoring its result. Trimmed from
// the teacher's optimizer down to grid search and random search: genetic
// algorithm and Bayesian optimization are dropped (see DESIGN.md), and
// walk-forward validation is left to the backtester's own walk-forward
// pass rather than duplicated here.
package tuning

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Method selects the search strategy.
type Method string

const (
	MethodGrid   Method = "grid"
	MethodRandom Method = "random"
)

// Config configures a tuning run.
type Config struct {
	Method          Method
	MaxIterations   int     // used by random search
	GridResolution  int     // subdivisions per continuous parameter, used by grid search
	Minimize        bool    // true to minimize the objective (e.g. drawdown) instead of maximize
	ParallelWorkers int
	Timeout         time.Duration
	Seed            int64
}

// ParamType distinguishes how a Parameter's range is interpreted.
type ParamType string

const (
	ParamContinuous ParamType = "continuous"
	ParamInteger    ParamType = "integer"
	ParamDiscrete   ParamType = "discrete"
)

// Parameter is one dimension of the search space.
type Parameter struct {
	Name     string
	Type     ParamType
	Min      float64
	Max      float64
	Step     float64
	Discrete []float64
}

// ParamSet is one evaluated point in the search space.
type ParamSet map[string]float64

// ObjectiveFunc scores one parameter set, e.g. by running a backtest and
// reading its Sharpe ratio.
type ObjectiveFunc func(params ParamSet) (float64, error)

// Evaluation is one (params, score) observation.
type Evaluation struct {
	Params   ParamSet
	Score    float64
	Duration time.Duration
}

// Result is the outcome of a tuning run.
type Result struct {
	Method     Method
	BestParams ParamSet
	BestScore  float64
	Trials     []Evaluation
	Duration   time.Duration
}

// Tuner runs a configured search over a parameter space.
type Tuner struct {
	logger *zap.Logger
	cfg    Config
	rng    *rand.Rand
}

func NewTuner(logger *zap.Logger, cfg Config) *Tuner {
	if cfg.ParallelWorkers <= 0 {
		cfg.ParallelWorkers = 4
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &Tuner{logger: logger, cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Run executes the configured search method and returns its best result.
func (t *Tuner) Run(ctx context.Context, params []Parameter, objective ObjectiveFunc) (Result, error) {
	start := time.Now()
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	var result Result
	var err error
	switch t.cfg.Method {
	case MethodRandom:
		result, err = t.randomSearch(ctx, params, objective)
	default:
		result, err = t.gridSearch(ctx, params, objective)
	}
	if err != nil {
		return Result{}, err
	}
	result.Method = t.cfg.Method
	result.Duration = time.Since(start)
	return result, nil
}

func (t *Tuner) gridSearch(ctx context.Context, params []Parameter, objective ObjectiveFunc) (Result, error) {
	combinations := gridCombinations(params, t.cfg.GridResolution)
	t.logger.Info("grid search starting", zap.Int("combinations", len(combinations)))
	return t.evaluateAll(ctx, combinations, objective)
}

func (t *Tuner) randomSearch(ctx context.Context, params []Parameter, objective ObjectiveFunc) (Result, error) {
	n := t.cfg.MaxIterations
	if n <= 0 {
		n = 100
	}
	sets := make([]ParamSet, n)
	for i := range sets {
		sets[i] = t.randomParamSet(params)
	}
	t.logger.Info("random search starting", zap.Int("trials", n))
	return t.evaluateAll(ctx, sets, objective)
}

// evaluateAll scores every param set concurrently, capped at
// cfg.ParallelWorkers in flight, following the teacher's semaphore pattern.
func (t *Tuner) evaluateAll(ctx context.Context, sets []ParamSet, objective ObjectiveFunc) (Result, error) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, t.cfg.ParallelWorkers)
		trials  = make([]Evaluation, 0, len(sets))
		best    = math.Inf(-1)
		bestSet ParamSet
	)
	if t.cfg.Minimize {
		best = math.Inf(1)
	}

	for _, params := range sets {
		select {
		case <-ctx.Done():
			wg.Wait()
			return Result{Trials: trials, BestParams: bestSet, BestScore: best}, ctx.Err()
		default:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(p ParamSet) {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			score, err := objective(p)
			if err != nil {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			trials = append(trials, Evaluation{Params: p, Score: score, Duration: time.Since(start)})
			better := score > best
			if t.cfg.Minimize {
				better = score < best
			}
			if better {
				best = score
				bestSet = p
			}
		}(params)
	}
	wg.Wait()

	return Result{Trials: trials, BestParams: bestSet, BestScore: best}, nil
}

func (t *Tuner) randomParamSet(params []Parameter) ParamSet {
	set := make(ParamSet, len(params))
	for _, p := range params {
		set[p.Name] = t.randomValue(p)
	}
	return set
}

func (t *Tuner) randomValue(p Parameter) float64 {
	switch p.Type {
	case ParamDiscrete:
		if len(p.Discrete) > 0 {
			return p.Discrete[t.rng.Intn(len(p.Discrete))]
		}
	case ParamInteger:
		return math.Round(p.Min + t.rng.Float64()*(p.Max-p.Min))
	}
	return p.Min + t.rng.Float64()*(p.Max-p.Min)
}

func gridCombinations(params []Parameter, resolution int) []ParamSet {
	if resolution <= 0 {
		resolution = 10
	}
	values := make([][]float64, len(params))
	for i, p := range params {
		switch p.Type {
		case ParamDiscrete:
			values[i] = p.Discrete
		case ParamInteger:
			step := p.Step
			if step == 0 {
				step = 1
			}
			var vs []float64
			for v := p.Min; v <= p.Max; v += step {
				vs = append(vs, math.Round(v))
			}
			values[i] = vs
		default:
			step := (p.Max - p.Min) / float64(resolution)
			var vs []float64
			for v := p.Min; v <= p.Max; v += step {
				vs = append(vs, v)
			}
			values[i] = vs
		}
	}
	return cartesian(params, values, 0, ParamSet{})
}

func cartesian(params []Parameter, values [][]float64, idx int, current ParamSet) []ParamSet {
	if idx == len(params) {
		copySet := make(ParamSet, len(current))
		for k, v := range current {
			copySet[k] = v
		}
		return []ParamSet{copySet}
	}
	var out []ParamSet
	for _, v := range values[idx] {
		current[params[idx].Name] = v
		out = append(out, cartesian(params, values, idx+1, current)...)
	}
	return out
}
