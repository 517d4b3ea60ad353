package indicators

func registerSMA() {
	register(Definition{
		Name: "sma",
		Validate: func(params map[string]interface{}) (map[string]interface{}, error) {
			period, err := intParam(params, "period", 20)
			if err != nil {
				return nil, configErr("sma", "period", err.Error())
			}
			if period < 1 {
				return nil, configErr("sma", "period", "must be >= 1")
			}
			return map[string]interface{}{"period": period}, nil
		},
		Warmup: func(params map[string]interface{}) int {
			p, _ := intParam(params, "period", 20)
			return p
		},
		Compute: func(bars Bars, params map[string]interface{}) (map[string]Series, error) {
			p, _ := intParam(params, "period", 20)
			if err := checkLength(len(bars.Close), p); err != nil {
				return nil, err
			}
			return map[string]Series{"sma": {Name: "sma", Values: sma(bars.Close, p)}}, nil
		},
	})
}

func registerEMA() {
	register(Definition{
		Name: "ema",
		Validate: func(params map[string]interface{}) (map[string]interface{}, error) {
			period, err := intParam(params, "period", 20)
			if err != nil {
				return nil, configErr("ema", "period", err.Error())
			}
			if period < 1 {
				return nil, configErr("ema", "period", "must be >= 1")
			}
			return map[string]interface{}{"period": period}, nil
		},
		Warmup: func(params map[string]interface{}) int {
			p, _ := intParam(params, "period", 20)
			return p
		},
		Compute: func(bars Bars, params map[string]interface{}) (map[string]Series, error) {
			p, _ := intParam(params, "period", 20)
			if err := checkLength(len(bars.Close), p); err != nil {
				return nil, err
			}
			return map[string]Series{"ema": {Name: "ema", Values: ema(bars.Close, p)}}, nil
		},
	})
}

func registerRSI() {
	register(Definition{
		Name: "rsi",
		Validate: func(params map[string]interface{}) (map[string]interface{}, error) {
			period, err := intParam(params, "period", 14)
			if err != nil {
				return nil, configErr("rsi", "period", err.Error())
			}
			if period < 1 {
				return nil, configErr("rsi", "period", "must be >= 1")
			}
			return map[string]interface{}{"period": period}, nil
		},
		Warmup: func(params map[string]interface{}) int {
			p, _ := intParam(params, "period", 14)
			return p + 1
		},
		Compute: func(bars Bars, params map[string]interface{}) (map[string]Series, error) {
			p, _ := intParam(params, "period", 14)
			n := len(bars.Close)
			if err := checkLength(n, p+1); err != nil {
				return nil, err
			}
			gains := make([]float64, n)
			losses := make([]float64, n)
			for i := 1; i < n; i++ {
				delta := bars.Close[i] - bars.Close[i-1]
				if delta > 0 {
					gains[i] = delta
				} else {
					losses[i] = -delta
				}
			}
			avgGain := wilderSmooth(gains[1:], p)
			avgLoss := wilderSmooth(losses[1:], p)

			out := fillMissing(n, p+1)
			for i := p - 1; i < n-1; i++ {
				ag := avgGain[i]
				al := avgLoss[i]
				var rsi float64
				if al == 0 {
					rsi = 100
				} else {
					rs := ag / al
					rsi = 100 - 100/(1+rs)
				}
				out[i+1] = rsi
			}
			return map[string]Series{"rsi": {Name: "rsi", Values: out}}, nil
		},
	})
}

func registerMACD() {
	register(Definition{
		Name: "macd",
		Validate: func(params map[string]interface{}) (map[string]interface{}, error) {
			fast, err := intParam(params, "fast_period", 12)
			if err != nil {
				return nil, configErr("macd", "fast_period", err.Error())
			}
			slow, err := intParam(params, "slow_period", 26)
			if err != nil {
				return nil, configErr("macd", "slow_period", err.Error())
			}
			signal, err := intParam(params, "signal_period", 9)
			if err != nil {
				return nil, configErr("macd", "signal_period", err.Error())
			}
			if fast >= slow {
				return nil, configErr("macd", "fast_period", "fast_period must be < slow_period")
			}
			if signal < 1 {
				return nil, configErr("macd", "signal_period", "must be >= 1")
			}
			return map[string]interface{}{"fast_period": fast, "slow_period": slow, "signal_period": signal}, nil
		},
		Warmup: func(params map[string]interface{}) int {
			slow, _ := intParam(params, "slow_period", 26)
			signal, _ := intParam(params, "signal_period", 9)
			return slow + signal - 1
		},
		Compute: func(bars Bars, params map[string]interface{}) (map[string]Series, error) {
			fast, _ := intParam(params, "fast_period", 12)
			slow, _ := intParam(params, "slow_period", 26)
			signal, _ := intParam(params, "signal_period", 9)
			n := len(bars.Close)
			warmup := slow + signal - 1
			if err := checkLength(n, warmup); err != nil {
				return nil, err
			}
			emaFast := ema(bars.Close, fast)
			emaSlow := ema(bars.Close, slow)

			macdLine := fillMissing(n, slow)
			for i := slow - 1; i < n; i++ {
				macdLine[i] = emaFast[i] - emaSlow[i]
			}

			// signal = EMA_g(macd) computed over the valid tail of macdLine.
			validMacd := macdLine[slow-1:]
			emaSignalTail := ema(validMacd, signal)

			signalLine := fillMissing(n, warmup)
			histogram := fillMissing(n, warmup)
			for i := warmup - 1; i < n; i++ {
				s := emaSignalTail[i-(slow-1)]
				signalLine[i] = s
				histogram[i] = macdLine[i] - s
			}

			return map[string]Series{
				"macd":      {Name: "macd", Values: macdLine},
				"signal":    {Name: "signal", Values: signalLine},
				"histogram": {Name: "histogram", Values: histogram},
			}, nil
		},
	})
}

func registerBollinger() {
	register(Definition{
		Name: "bollinger",
		Validate: func(params map[string]interface{}) (map[string]interface{}, error) {
			period, err := intParam(params, "period", 20)
			if err != nil {
				return nil, configErr("bollinger", "period", err.Error())
			}
			k, err := floatParam(params, "k", 2.0)
			if err != nil {
				return nil, configErr("bollinger", "k", err.Error())
			}
			if period < 2 {
				return nil, configErr("bollinger", "period", "must be >= 2")
			}
			return map[string]interface{}{"period": period, "k": k}, nil
		},
		Warmup: func(params map[string]interface{}) int {
			p, _ := intParam(params, "period", 20)
			return p
		},
		Compute: func(bars Bars, params map[string]interface{}) (map[string]Series, error) {
			p, _ := intParam(params, "period", 20)
			k, _ := floatParam(params, "k", 2.0)
			n := len(bars.Close)
			if err := checkLength(n, p); err != nil {
				return nil, err
			}
			middle := sma(bars.Close, p)
			upper := fillMissing(n, p)
			lower := fillMissing(n, p)
			for i := p - 1; i < n; i++ {
				sigma := stddevPopulation(bars.Close, i, p)
				upper[i] = middle[i] + k*sigma
				lower[i] = middle[i] - k*sigma
			}
			return map[string]Series{
				"middle": {Name: "middle", Values: middle},
				"upper":  {Name: "upper", Values: upper},
				"lower":  {Name: "lower", Values: lower},
			}, nil
		},
	})
}

func registerATR() {
	register(Definition{
		Name: "atr",
		Validate: func(params map[string]interface{}) (map[string]interface{}, error) {
			period, err := intParam(params, "period", 14)
			if err != nil {
				return nil, configErr("atr", "period", err.Error())
			}
			if period < 1 {
				return nil, configErr("atr", "period", "must be >= 1")
			}
			return map[string]interface{}{"period": period}, nil
		},
		Warmup: func(params map[string]interface{}) int {
			p, _ := intParam(params, "period", 14)
			return p + 1
		},
		Compute: func(bars Bars, params map[string]interface{}) (map[string]Series, error) {
			p, _ := intParam(params, "period", 14)
			n := len(bars.High)
			if err := checkLength(n, p+1); err != nil {
				return nil, err
			}
			tr := make([]float64, n)
			for i := 1; i < n; i++ {
				highLow := bars.High[i] - bars.Low[i]
				highClose := abs(bars.High[i] - bars.Close[i-1])
				lowClose := abs(bars.Low[i] - bars.Close[i-1])
				tr[i] = max3(highLow, highClose, lowClose)
			}
			smoothed := wilderSmooth(tr[1:], p)
			out := fillMissing(n, p+1)
			for i := p - 1; i < n-1; i++ {
				out[i+1] = smoothed[i]
			}
			return map[string]Series{"atr": {Name: "atr", Values: out}}, nil
		},
	})
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
