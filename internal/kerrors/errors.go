// Package kerrors defines the structured error taxonomy surfaced at the
// boundary of the decision pipeline: configuration, data, insufficient-data,
// model, and cancellation errors. Each carries a stable code and the
// contextual fields needed by a caller, and none are retried internally —
// retry/backoff policy belongs to the operations layer that calls the core.
package kerrors

import (
	"errors"
	"fmt"
)

// Code identifies an error kind by a stable, loggable string.
type Code string

const (
	CodeConfig            Code = "config_error"
	CodeData              Code = "data_error"
	CodeInsufficientData  Code = "insufficient_data"
	CodeModel             Code = "model_error"
	CodeCancelled         Code = "cancelled"
	CodeFuzzyConfig       Code = "fuzzy_config_error"
	CodeFeatureSchema     Code = "feature_schema_mismatch"
)

// ConfigError reports a malformed strategy config or an invalid parameter
// schema, detected at load time. Fatal; no partial state is ever produced.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error: %s", e.Message)
	}
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Code() Code { return CodeConfig }

// DataError reports a violated OHLCV invariant: non-monotonic timestamps,
// impossible OHLC ordering, or a negative volume. Carries the offending bar
// index so the caller can locate it without rescanning the series.
type DataError struct {
	Symbol    string
	Timeframe string
	BarIndex  int
	Message   string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error: %s/%s bar %d: %s", e.Symbol, e.Timeframe, e.BarIndex, e.Message)
}

func (e *DataError) Code() Code { return CodeData }

// InsufficientDataError reports fewer bars than the maximum required warmup.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: have %d bars, need at least %d", e.Have, e.Need)
}

func (e *InsufficientDataError) Code() Code { return CodeInsufficientData }

// ModelError reports an artifact schema mismatch, a missing scaler, an
// unknown version, or a numerical anomaly during training. A feature-vector
// width mismatch at inference is reported as a FeatureSchemaMismatchError.
type ModelError struct {
	Version string
	Message string
}

func (e *ModelError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("model error: %s", e.Message)
	}
	return fmt.Sprintf("model error (version %s): %s", e.Version, e.Message)
}

func (e *ModelError) Code() Code { return CodeModel }

// FeatureSchemaMismatchError is raised when an inference feature vector's
// width disagrees with the artifact's declared feature schema.
type FeatureSchemaMismatchError struct {
	Expected int
	Got      int
}

func (e *FeatureSchemaMismatchError) Error() string {
	return fmt.Sprintf("feature schema mismatch: artifact declares %d features, got %d", e.Expected, e.Got)
}

func (e *FeatureSchemaMismatchError) Code() Code { return CodeFeatureSchema }

// CancelledError signals cooperative cancellation of a run. It ends the run
// cleanly; it is not an error in the metric-reporting sense.
type CancelledError struct {
	Stage string // "backtest" or "training"
	At    int    // bar index or epoch at which cancellation was observed
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled during %s at %d", e.Stage, e.At)
}

func (e *CancelledError) Code() Code { return CodeCancelled }

// FuzzyConfigError reports an unknown indicator reference, unknown set name,
// or malformed fuzzy parameters, raised at config-load time.
type FuzzyConfigError struct {
	Group   string
	Set     string
	Message string
}

func (e *FuzzyConfigError) Error() string {
	return fmt.Sprintf("fuzzy config error: %s/%s: %s", e.Group, e.Set, e.Message)
}

func (e *FuzzyConfigError) Code() Code { return CodeFuzzyConfig }

// IsCancelled reports whether err is (or wraps) a CancelledError.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}
