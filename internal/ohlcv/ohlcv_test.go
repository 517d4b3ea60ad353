package ohlcv_test

import (
	"testing"
	"time"

	"github.com/ktrdr/ktrdr/internal/kerrors"
	"github.com/ktrdr/ktrdr/internal/ohlcv"
	"github.com/ktrdr/ktrdr/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func bar(ts time.Time, open, high, low, close, volume float64) types.OHLCV {
	return types.OHLCV{
		Timestamp: ts,
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromFloat(volume),
	}
}

func validBars(n int) []types.OHLCV {
	bars := make([]types.OHLCV, n)
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		price := 100.0 + float64(i)
		bars[i] = bar(start.Add(time.Duration(i)*time.Hour), price, price+1, price-1, price, 1000)
	}
	return bars
}

func TestValidateAcceptsWellFormedSeries(t *testing.T) {
	if err := ohlcv.Validate(validBars(10), "TEST"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsNegativeVolume(t *testing.T) {
	bars := validBars(2)
	bars[1].Volume = decimal.NewFromInt(-1)
	err := ohlcv.Validate(bars, "TEST")
	if err == nil {
		t.Fatal("expected a validation error for negative volume")
	}
	de, ok := err.(*kerrors.DataError)
	if !ok || de.BarIndex != 1 {
		t.Fatalf("expected a DataError at bar index 1, got %#v", err)
	}
}

func TestValidateRejectsLowAboveOpenClose(t *testing.T) {
	bars := validBars(1)
	bars[0].Low = bars[0].Open.Add(decimal.NewFromInt(5))
	if err := ohlcv.Validate(bars, "TEST"); err == nil {
		t.Fatal("expected a validation error for low exceeding min(open,close)")
	}
}

func TestValidateRejectsHighBelowOpenClose(t *testing.T) {
	bars := validBars(1)
	bars[0].High = bars[0].Open.Sub(decimal.NewFromInt(5))
	if err := ohlcv.Validate(bars, "TEST"); err == nil {
		t.Fatal("expected a validation error for high below max(open,close)")
	}
}

func TestValidateRejectsNonIncreasingTimestamps(t *testing.T) {
	bars := validBars(3)
	bars[2].Timestamp = bars[1].Timestamp
	if err := ohlcv.Validate(bars, "TEST"); err == nil {
		t.Fatal("expected a validation error for a non-increasing timestamp")
	}
}

func TestCacheStoreThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cache, err := ohlcv.NewCache(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	bars := validBars(5)
	if err := cache.Store("AAPL", types.Timeframe1h, bars); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := cache.Load("AAPL", types.Timeframe1h, bars[0].Timestamp, bars[len(bars)-1].Timestamp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(bars) {
		t.Fatalf("expected %d bars back, got %d", len(bars), len(got))
	}
}

func TestCacheLoadFiltersByTimeRange(t *testing.T) {
	dir := t.TempDir()
	cache, err := ohlcv.NewCache(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	bars := validBars(10)
	if err := cache.Store("AAPL", types.Timeframe1h, bars); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := cache.Load("AAPL", types.Timeframe1h, bars[2].Timestamp, bars[5].Timestamp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 bars within range, got %d", len(got))
	}
}

func TestCacheStoreRejectsInvalidBars(t *testing.T) {
	dir := t.TempDir()
	cache, err := ohlcv.NewCache(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	bars := validBars(2)
	bars[1].Volume = decimal.NewFromInt(-1)
	if err := cache.Store("AAPL", types.Timeframe1h, bars); err == nil {
		t.Fatal("expected Store to reject invalid bars")
	}
}

func TestCacheEvictForcesReReadFromDisk(t *testing.T) {
	dir := t.TempDir()
	cache, err := ohlcv.NewCache(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	bars := validBars(3)
	if err := cache.Store("AAPL", types.Timeframe1h, bars); err != nil {
		t.Fatalf("Store: %v", err)
	}
	cache.Evict("AAPL", types.Timeframe1h)

	got, err := cache.Load("AAPL", types.Timeframe1h, bars[0].Timestamp, bars[len(bars)-1].Timestamp)
	if err != nil {
		t.Fatalf("Load after evict: %v", err)
	}
	if len(got) != len(bars) {
		t.Fatalf("expected %d bars after re-reading from disk, got %d", len(bars), len(got))
	}
}

func TestInspectNeverFailsOnAlreadyValidSeries(t *testing.T) {
	report := ohlcv.Inspect(validBars(20), "AAPL")
	if report.Score < 0 || report.Score > 100 {
		t.Fatalf("expected a score in [0,100], got %d", report.Score)
	}
}
