// Package config loads and validates the declarative strategy configuration
// that drives a single run of the orchestrator: which indicators to compute,
// how to fuzzify them, the model architecture and training hyperparameters,
// backtest parameters, and risk overlays. Loading goes through a fresh viper
// instance that reads one YAML file; environment variables and CLI flags
// are not bound into it — the same viper dependency the teacher declared in
// go.mod but never wired.
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/ktrdr/ktrdr/internal/kerrors"
	"github.com/spf13/viper"
)

// DataConfig selects inputs and the minimum warmup required to run them.
type DataConfig struct {
	Symbols          []string `mapstructure:"symbols"`
	Timeframes       []string `mapstructure:"timeframes"`
	HistoryRequired  int      `mapstructure:"history_required"`
}

// IndicatorSpec declares one indicator computation by name and parameters.
type IndicatorSpec struct {
	Name       string                 `mapstructure:"name"`
	Parameters map[string]interface{} `mapstructure:"parameters"`
}

// FuzzySetSpec declares one membership function within a fuzzy group.
type FuzzySetSpec struct {
	Type       string    `mapstructure:"type"`
	Parameters []float64 `mapstructure:"parameters"`
}

// FuzzyGroupSpec is the ordered set of named fuzzy sets for one indicator.
// SetOrder is the order the sets are evaluated in; Sets is keyed by name.
// Load fills SetOrder with the set names sorted alphabetically.
type FuzzyGroupSpec struct {
	SetOrder []string
	Sets     map[string]FuzzySetSpec
}

// ArchitectureSpec describes the feed-forward classifier's shape.
type ArchitectureSpec struct {
	HiddenLayers []int   `mapstructure:"hidden_layers"`
	Activation   string  `mapstructure:"activation"` // "relu" | "tanh" | "sigmoid"
	Dropout      float64 `mapstructure:"dropout"`
}

// TrainingHyperparams controls the optimizer and stopping rule.
type TrainingHyperparams struct {
	LearningRate   float64 `mapstructure:"learning_rate"`
	BatchSize      int     `mapstructure:"batch_size"`
	MaxEpochs      int     `mapstructure:"max_epochs"`
	Patience       int     `mapstructure:"patience"`
	MinDelta       float64 `mapstructure:"min_delta"`
	WeightDecay    float64 `mapstructure:"weight_decay"`
	Seed           int64   `mapstructure:"seed"`
}

// FeaturesSpec controls optional feature-assembly expansion.
type FeaturesSpec struct {
	PriceContext  bool `mapstructure:"price_context"`
	VolumeContext bool `mapstructure:"volume_context"`
	Lookback      int  `mapstructure:"lookback"`
}

// ModelSpec is the `model` config section.
type ModelSpec struct {
	Architecture ArchitectureSpec    `mapstructure:"architecture"`
	Training     TrainingHyperparams `mapstructure:"training"`
	Features     FeaturesSpec        `mapstructure:"features"`
}

// DecisionsSpec is the `decisions` config section.
type DecisionsSpec struct {
	OutputFormat       string   `mapstructure:"output_format"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	Filters            []string `mapstructure:"filters"`
}

// LabelsSpec configures the ZigZag labeler.
type LabelsSpec struct {
	Source          string  `mapstructure:"source"`
	ZigzagThreshold float64 `mapstructure:"zigzag_threshold"`
	LabelLookahead  int     `mapstructure:"label_lookahead"`
}

// DataSplitSpec is the chronological train/val/test split, ratios summing
// to 1.0.
type DataSplitSpec struct {
	Train float64 `mapstructure:"train"`
	Val   float64 `mapstructure:"val"`
	Test  float64 `mapstructure:"test"`
}

// TrainingSpec is the `training` config section driving the supervised
// learning harness.
type TrainingSpec struct {
	Method       string        `mapstructure:"method"`
	Labels       LabelsSpec    `mapstructure:"labels"`
	DataSplit    DataSplitSpec `mapstructure:"data_split"`
	ClassWeights bool          `mapstructure:"class_weights"`
}

// TransactionCostsSpec names the relative commission applied on every fill.
type TransactionCostsSpec struct {
	CommissionPct float64 `mapstructure:"commission_pct"`
}

// SlippageSpec names the relative, adverse slippage applied on every fill.
type SlippageSpec struct {
	Model   string  `mapstructure:"model"` // "fixed" | "volume_weighted"
	Pct     float64 `mapstructure:"pct"`
}

// BacktestingSpec is the `backtesting` config section.
type BacktestingSpec struct {
	StartDate        time.Time            `mapstructure:"start_date"`
	EndDate          time.Time            `mapstructure:"end_date"`
	InitialCapital   float64              `mapstructure:"initial_capital"`
	TransactionCosts TransactionCostsSpec `mapstructure:"transaction_costs"`
	Slippage         SlippageSpec         `mapstructure:"slippage"`
}

// PositionSizingSpec selects how entries are sized.
type PositionSizingSpec struct {
	Mode      string  `mapstructure:"mode"` // "fixed_fractional" | "fixed_notional" | "fixed_quantity" | "kelly"
	Fraction  float64 `mapstructure:"fraction"`
	Notional  float64 `mapstructure:"notional"`
	Quantity  float64 `mapstructure:"quantity"`
	KellyFraction float64 `mapstructure:"kelly_fraction"`
}

// RiskManagementSpec is the `risk_management` config section.
type RiskManagementSpec struct {
	PositionSizing  PositionSizingSpec `mapstructure:"position_sizing"`
	StopLossPct     float64            `mapstructure:"stop_loss_pct"`
	TakeProfitPct   float64            `mapstructure:"take_profit_pct"`
	MaxPositionSize float64            `mapstructure:"max_position_size"`
}

// StrategyConfig is the complete declarative strategy document (spec §6).
type StrategyConfig struct {
	Name            string                     `mapstructure:"name"`
	Data            DataConfig                 `mapstructure:"data"`
	Indicators      []IndicatorSpec            `mapstructure:"indicators"`
	FuzzySets       map[string]FuzzyGroupSpec  `mapstructure:"-"` // populated by postProcessFuzzySets
	Model           ModelSpec                  `mapstructure:"model"`
	Decisions       DecisionsSpec              `mapstructure:"decisions"`
	Training        TrainingSpec               `mapstructure:"training"`
	Backtesting     BacktestingSpec            `mapstructure:"backtesting"`
	RiskManagement  RiskManagementSpec         `mapstructure:"risk_management"`
}

// Load reads a YAML strategy config from path through a fresh viper
// instance (never the global one, so concurrent runs stay isolated per
// spec §5), unmarshals it, and validates it. Returns a kerrors.ConfigError
// on any schema violation.
func Load(path string) (*StrategyConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, &kerrors.ConfigError{Message: fmt.Sprintf("reading %s: %v", path, err)}
	}

	var cfg StrategyConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &kerrors.ConfigError{Message: fmt.Sprintf("unmarshalling %s: %v", path, err)}
	}

	rawFuzzy := v.GetStringMap("fuzzy_sets")
	cfg.FuzzySets = make(map[string]FuzzyGroupSpec, len(rawFuzzy))
	for indicatorName := range rawFuzzy {
		var group map[string]FuzzySetSpec
		key := fmt.Sprintf("fuzzy_sets.%s", indicatorName)
		if err := v.UnmarshalKey(key, &group); err != nil {
			return nil, &kerrors.ConfigError{Field: key, Message: err.Error()}
		}
		order := orderedKeys(v, key)
		cfg.FuzzySets[indicatorName] = FuzzyGroupSpec{SetOrder: order, Sets: group}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// orderedKeys returns the child keys of a nested map key in alphabetical
// order. viper decodes YAML mappings into map[string]interface{}, which does
// not keep the order the keys were written in, so the YAML authoring order
// is not recovered; sorting makes the result the same on every load.
func orderedKeys(v *viper.Viper, key string) []string {
	raw := v.Get(key)
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	order := make([]string, 0, len(m))
	for k := range m {
		order = append(order, k)
	}
	sort.Strings(order)
	return order
}

// Validate checks the config against its schema. Called once at load time,
// never per-bar.
func (c *StrategyConfig) Validate() error {
	if c.Name == "" {
		return &kerrors.ConfigError{Field: "name", Message: "strategy name is required"}
	}
	if len(c.Data.Symbols) == 0 {
		return &kerrors.ConfigError{Field: "data.symbols", Message: "at least one symbol is required"}
	}
	if len(c.Data.Timeframes) == 0 {
		return &kerrors.ConfigError{Field: "data.timeframes", Message: "at least one timeframe is required"}
	}
	if len(c.Indicators) == 0 {
		return &kerrors.ConfigError{Field: "indicators", Message: "at least one indicator is required"}
	}
	for _, ind := range c.Indicators {
		if ind.Name == "" {
			return &kerrors.ConfigError{Field: "indicators[].name", Message: "indicator name is required"}
		}
	}
	for indicatorName, group := range c.FuzzySets {
		if len(group.Sets) == 0 {
			return &kerrors.ConfigError{Field: "fuzzy_sets." + indicatorName, Message: "fuzzy group has no sets"}
		}
		for setName, set := range group.Sets {
			if err := validateFuzzySet(indicatorName, setName, set); err != nil {
				return err
			}
		}
	}
	sum := c.Training.DataSplit.Train + c.Training.DataSplit.Val + c.Training.DataSplit.Test
	if c.Training.DataSplit.Train > 0 && (sum < 0.999 || sum > 1.001) {
		return &kerrors.ConfigError{Field: "training.data_split", Message: fmt.Sprintf("train+val+test must sum to 1.0, got %f", sum)}
	}
	if c.Training.Labels.ZigzagThreshold <= 0 || c.Training.Labels.ZigzagThreshold >= 1 {
		return &kerrors.ConfigError{Field: "training.labels.zigzag_threshold", Message: "must be in (0, 1)"}
	}
	if c.Training.Labels.LabelLookahead < 1 {
		return &kerrors.ConfigError{Field: "training.labels.label_lookahead", Message: "must be at least 1"}
	}
	switch c.RiskManagement.PositionSizing.Mode {
	case "", "fixed_fractional", "fixed_notional", "fixed_quantity", "kelly":
	default:
		return &kerrors.ConfigError{Field: "risk_management.position_sizing.mode", Message: "unknown sizing mode " + c.RiskManagement.PositionSizing.Mode}
	}
	return nil
}

func validateFuzzySet(indicator, name string, s FuzzySetSpec) error {
	switch s.Type {
	case "triangular":
		if len(s.Parameters) != 3 {
			return &kerrors.FuzzyConfigError{Group: indicator, Set: name, Message: "triangular requires 3 parameters [a,b,c]"}
		}
		a, b, c := s.Parameters[0], s.Parameters[1], s.Parameters[2]
		if !(a <= b && b <= c) {
			return &kerrors.FuzzyConfigError{Group: indicator, Set: name, Message: "triangular requires a <= b <= c"}
		}
	case "trapezoidal":
		if len(s.Parameters) != 4 {
			return &kerrors.FuzzyConfigError{Group: indicator, Set: name, Message: "trapezoidal requires 4 parameters [a,b,c,d]"}
		}
		a, b, c, d := s.Parameters[0], s.Parameters[1], s.Parameters[2], s.Parameters[3]
		if !(a <= b && b <= c && c <= d) {
			return &kerrors.FuzzyConfigError{Group: indicator, Set: name, Message: "trapezoidal requires a <= b <= c <= d"}
		}
	case "gaussian":
		if len(s.Parameters) != 2 {
			return &kerrors.FuzzyConfigError{Group: indicator, Set: name, Message: "gaussian requires 2 parameters [mu, sigma]"}
		}
		if s.Parameters[1] <= 0 {
			return &kerrors.FuzzyConfigError{Group: indicator, Set: name, Message: "gaussian sigma must be > 0"}
		}
	default:
		return &kerrors.FuzzyConfigError{Group: indicator, Set: name, Message: "unknown fuzzy set type " + s.Type}
	}
	return nil
}
