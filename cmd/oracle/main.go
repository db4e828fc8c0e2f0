package main

import (
	"context"
	"errors"
	"flag"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"oracle-go/internal/api"
	"oracle-go/internal/config"
	"oracle-go/internal/engine"
	"oracle-go/internal/exchange"
	"oracle-go/internal/metrics"
	"oracle-go/internal/paper"
	sig "oracle-go/internal/signal"
	"oracle-go/internal/store"
	"oracle-go/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to the YAML config")
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath, *envFile)
	if err != nil {
		bootLog := util.NewLogger("info", "json")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat).With().Str("app", cfg.App.Name).Logger()

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("oracle stopped")
	}
	log.Info().Msg("shutting down")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	ledger, closeSinks, err := openLedger(cfg, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	market, err := exchange.NewMarketSource(cfg.Exchange.Provider, cfg.Exchange.RESTURL, cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	if err != nil {
		return err
	}
	state, err := buildState(cfg, market, ledger, log)
	if err != nil {
		return err
	}

	ecfg := engine.Config{
		Provider:          cfg.Exchange.Provider,
		Symbols:           cfg.Exchange.Symbols,
		Horizons:          cfg.SignalHorizons(),
		Market:            market,
		Fetch:             fetchPolicy(cfg.Exchange),
		ScanInterval:      config.Millis(cfg.Exchange.ScanIntervalMs),
		RefreshInterval:   config.Millis(cfg.Exchange.RefreshIntervalMs),
		SentimentInterval: config.Millis(cfg.Sentiment.RefreshIntervalMs),
	}
	if cfg.Sentiment.Enabled {
		// the stub source serves its own offline reading
		if s, ok := market.(exchange.SentimentSource); ok {
			ecfg.Sentiment = s
		} else {
			ecfg.Sentiment = exchange.NewFearGreed(cfg.Sentiment.URL)
		}
	}
	eng, err := engine.New(state, ecfg, log.With().Str("component", "engine").Logger())
	if err != nil {
		return err
	}

	feed, err := exchange.NewFeed(cfg.Exchange.Provider, cfg.Exchange.Symbols, log.With().Str("component", "feed").Logger(),
		exchange.WithURL(cfg.Exchange.StreamURL),
		exchange.WithReconnect(config.Millis(cfg.Exchange.ReconnectMinMs), config.Millis(cfg.Exchange.ReconnectMaxMs)),
		exchange.WithPingInterval(config.Millis(cfg.Exchange.PingIntervalMs)),
		exchange.WithStateHandler(func(s exchange.State) { state.SetFeedState(s.String()) }),
	)
	if err != nil {
		return err
	}

	srv := api.New(eng, log.With().Str("component", "api").Logger())
	srv.Start(cfg.App.APIAddr)
	defer func() {
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("api shutdown")
		}
	}()

	ticks := make(chan sig.Tick, 1024)
	go func() {
		if err := feed.Run(ctx, ticks); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("feed stopped")
		}
	}()

	log.Info().
		Str("provider", cfg.Exchange.Provider).
		Strs("symbols", cfg.Exchange.Symbols).
		Int("horizons", len(ecfg.Horizons)).
		Msg("oracle started")
	return eng.Run(ctx, ticks)
}

// openLedger builds the settlement ledger, restores it from the journal and
// attaches every configured sink. The returned func closes the sinks.
func openLedger(cfg *config.Config, log zerolog.Logger) (*paper.Ledger, func(), error) {
	ledger := paper.NewLedger(cfg.Prediction.HistorySize, log.With().Str("component", "ledger").Logger())
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn().Err(err).Msg("close sink")
			}
		}
	}

	if path := cfg.Storage.JournalPath; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, err
		}
		journal, err := paper.OpenJournal(path)
		if err != nil {
			return nil, nil, err
		}
		if err := journal.RestoreInto(ledger, cfg.Prediction.HistorySize); err != nil {
			log.Warn().Err(err).Msg("journal restore failed")
		} else {
			st := ledger.Stats()
			log.Info().Int("total", st.Total).Float64("total_pl", st.TotalPL).Msg("ledger restored")
		}
		ledger.AddSink(journal)
		closers = append(closers, journal.Close)
	}
	if path := cfg.Storage.TradesPath; path != "" {
		rec, err := paper.NewJSONLRecorder(path)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		ledger.AddSink(rec)
		closers = append(closers, rec.Close)
	}
	if addr := cfg.Storage.RedisAddr; addr != "" {
		pub, err := store.NewPublisher(store.RedisConfig{
			Addr:     addr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			Channel:  cfg.Storage.RedisChannel,
		})
		if err != nil {
			// settlements still reach the local sinks
			log.Warn().Err(err).Str("addr", addr).Msg("redis publisher disabled")
		} else {
			ledger.AddSink(pub)
			closers = append(closers, pub.Close)
		}
	}

	return ledger, closeAll, nil
}
