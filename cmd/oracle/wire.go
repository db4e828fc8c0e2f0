package main

import (
	"github.com/rs/zerolog"

	"oracle-go/internal/candles"
	"oracle-go/internal/config"
	"oracle-go/internal/engine"
	"oracle-go/internal/market"
	"oracle-go/internal/paper"
	"oracle-go/internal/risk"
	"oracle-go/internal/strategy"
)

func pipelineConfig(ind config.Indicators) strategy.PipelineConfig {
	return strategy.PipelineConfig{
		MinPoints:    ind.MinPoints,
		RSIPeriod:    ind.RSIPeriod,
		RSIScale:     ind.RSIScale,
		MACDScale:    ind.MACDScale,
		ROCPeriod:    ind.ROCPeriod,
		ROCScale:     ind.ROCScale,
		FundingScale: ind.FundingScale,
	}
}

func weights(w config.Weights) strategy.Weights {
	return strategy.Weights{
		strategy.FactorRSI:       w.RSI,
		strategy.FactorMACD:      w.MACD,
		strategy.FactorBollinger: w.Bollinger,
		strategy.FactorROC:       w.ROC,
		strategy.FactorOrderFlow: w.OrderFlow,
		strategy.FactorFunding:   w.Funding,
		strategy.FactorSentiment: w.Sentiment,
	}
}

// fetchPolicy bounds one-shot REST retries. Stream reconnects have their own window.
func fetchPolicy(ex config.Exchange) engine.FetchPolicy {
	return engine.FetchPolicy{
		Attempts: ex.FetchAttempts,
		MinDelay: config.Millis(ex.FetchMinDelayMs),
		MaxDelay: config.Millis(ex.FetchMaxDelayMs),
	}
}

// buildState constructs the single EngineState shared by the loop and the API.
func buildState(cfg *config.Config, source candles.Source, ledger *paper.Ledger, log zerolog.Logger) (*engine.State, error) {
	combiner, err := strategy.NewCombiner(weights(cfg.Weights))
	if err != nil {
		return nil, err
	}
	predictions := paper.NewEngine(
		cfg.Exchange.Symbols,
		cfg.SignalHorizons(),
		paper.EngineConfig{
			Stake:      cfg.Prediction.Stake,
			Volatility: cfg.Prediction.Volatility,
			Gate:       risk.Gate{MinRawScore: cfg.Prediction.MinRawScore},
		},
		ledger,
		log.With().Str("component", "predictions").Logger(),
	)
	return engine.NewState(
		market.NewStore(),
		candles.NewCache(source, cfg.Indicators.CandleWindow),
		strategy.NewPipeline(pipelineConfig(cfg.Indicators)),
		combiner,
		predictions,
		ledger,
	), nil
}
