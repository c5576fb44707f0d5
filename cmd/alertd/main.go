// Command alertd ingests live FX prices and fires threshold and
// moving-average-cross alerts over Telegram with email fallback.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/fxsentry/fxsentry/internal/config"
	"github.com/fxsentry/fxsentry/internal/history"
	"github.com/fxsentry/fxsentry/internal/notify"
	"github.com/fxsentry/fxsentry/internal/observ"
	"github.com/fxsentry/fxsentry/internal/quotes"
	"github.com/fxsentry/fxsentry/internal/rules"
	"github.com/fxsentry/fxsentry/internal/sched"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observ.Log("config_load_failed", map[string]any{"path": *configPath, "error": err.Error()})
		os.Exit(1)
	}

	observ.Log("alertd_starting", map[string]any{
		"streaming":  cfg.Provider.Streaming,
		"rules":      len(cfg.Rules),
		"monitoring": cfg.Monitoring.Enabled,
	})
	for _, warning := range cfg.Warnings() {
		observ.Log("config_warning", map[string]any{"warning": warning})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := rules.NewMemoryStore(buildRules(cfg.Rules), rules.MonitoringConfig{
		Enabled:              cfg.Monitoring.Enabled,
		Symbols:              cfg.Monitoring.Symbols,
		TimeFrames:           cfg.Monitoring.TimeFrames,
		Periods:              cfg.Monitoring.Periods,
		CheckIntervalSeconds: cfg.Monitoring.CheckIntervalSeconds,
	})

	token := os.Getenv(cfg.Provider.TokenEnv)
	pollCfg := quotes.PollingConfig{
		RestURL:            cfg.Provider.RestURL,
		AccountID:          cfg.Provider.AccountID,
		Token:              token,
		RateLimitPerSecond: float64(cfg.Provider.RateLimitPerSecond),
		TimeoutSeconds:     cfg.Provider.TimeoutSeconds,
		MaxRetries:         3,
	}

	poller, err := quotes.NewPollingAdapter(pollCfg)
	if err != nil {
		observ.Log("polling_adapter_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	candles, err := quotes.NewCandlesAdapter(pollCfg)
	if err != nil {
		observ.Log("candles_adapter_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	cache := quotes.NewPriceCache()
	router := quotes.NewRouter(cache, poller, cfg.Provider.Streaming)

	dispatcher := buildDispatcher(cfg)
	alerter := notify.NewAlerter(dispatcher)
	sink := buildHistorySink(ctx, cfg)

	threshold := rules.NewThresholdEvaluator(store, router, alerter, sink)
	cross := rules.NewCrossEvaluator(store, candles, alerter, sink, rules.KindEMA)

	var loops []*sched.Loop

	if cfg.Monitoring.Enabled {
		crossLoop := sched.NewAligned("cross",
			time.Duration(cfg.Monitoring.CheckIntervalSeconds)*time.Second,
			cross.EvaluatePass)
		crossLoop.Start(ctx)
		loops = append(loops, crossLoop)
	}

	symbols := ruleSymbols(cfg)
	var stream *quotes.StreamClient

	if cfg.Provider.Streaming && len(symbols) > 0 {
		stream, err = quotes.NewStreamClient(quotes.StreamConfig{
			StreamURL:  cfg.Provider.StreamURL,
			AccountID:  cfg.Provider.AccountID,
			Token:      token,
			BaseDelay:  time.Duration(cfg.Provider.BackoffBaseSeconds) * time.Second,
			MaxRetries: cfg.Provider.MaxRetries,
		})
		if err != nil {
			observ.Log("stream_client_failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}

		stream.OnPriceUpdate(func(u quotes.PriceUpdate) {
			cache.Update(u.Symbol, quotes.PriceQuote{
				Symbol:     u.Symbol,
				Bid:        u.Bid,
				Ask:        u.Ask,
				ObservedAt: u.ObservedAt,
				Source:     "stream",
			})
			threshold.HandlePriceUpdate(u)
		})
		stream.OnConnectionStatus(func(up bool) {
			observ.Log("stream_status", map[string]any{"connected": up})
		})

		if err := stream.Start(symbols); err != nil {
			observ.Log("stream_start_failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
		go superviseStream(ctx, stream, symbols)
	} else {
		// No streaming: evaluate thresholds on a fixed poll cadence instead
		// of per tick.
		pollLoop := sched.NewFixed("threshold",
			time.Duration(cfg.Provider.PollIntervalSecs)*time.Second,
			threshold.EvaluatePass)
		pollLoop.Start(ctx)
		loops = append(loops, pollLoop)
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr)
	}

	<-ctx.Done()
	observ.Log("alertd_stopping", nil)

	if stream != nil {
		stream.Stop()
	}
	for _, l := range loops {
		l.Stop()
	}
	observ.Log("alertd_stopped", nil)
}

// superviseStream restarts the stream after its retry loop gives up. The
// cooldown keeps a hard provider outage from turning into a tight loop.
func superviseStream(ctx context.Context, stream *quotes.StreamClient, symbols []string) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stream.IsRunning() {
				continue
			}
			observ.Log("stream_supervisor_restarting", map[string]any{"cooldown_s": 30})
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			if err := stream.Start(symbols); err != nil {
				observ.Log("stream_supervisor_start_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

func buildRules(in []config.Rule) []rules.PriceRule {
	out := make([]rules.PriceRule, 0, len(in))
	for _, r := range in {
		kind := rules.KindFixedPrice
		switch r.Kind {
		case "ema":
			kind = rules.KindEMA
		case "ma":
			kind = rules.KindMA
		}
		direction := rules.Above
		if r.Direction == "below" {
			direction = rules.Below
		}
		out = append(out, rules.PriceRule{
			ID:              r.ID,
			Symbol:          r.Symbol,
			Kind:            kind,
			TargetPrice:     r.TargetPrice,
			IndicatorPeriod: r.Period,
			Direction:       direction,
			TimeFrame:       r.TimeFrame,
			Enabled:         r.Enabled,
		})
	}
	return out
}

func buildDispatcher(cfg config.Root) *notify.Dispatcher {
	var primary, secondary notify.Channel

	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegramChannel(os.Getenv(cfg.Telegram.TokenEnv), cfg.Telegram.ChatID)
		if err != nil {
			observ.Log("telegram_channel_failed", map[string]any{"error": err.Error()})
		} else {
			primary = tg
		}
	}
	if cfg.Email.Enabled {
		em, err := notify.NewEmailChannel(notify.EmailConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
			Password: os.Getenv(cfg.Email.PasswordEnv),
		})
		if err != nil {
			observ.Log("email_channel_failed", map[string]any{"error": err.Error()})
		} else {
			secondary = em
		}
	}
	return notify.NewDispatcher(primary, secondary, cfg.Email.AcceptFallback, cfg.Email.AlwaysCopy)
}

func buildHistorySink(ctx context.Context, cfg config.Root) rules.HistorySink {
	var sinks []rules.HistorySink

	file, err := history.NewFileSink(cfg.History.FilePath)
	if err != nil {
		observ.Log("history_file_sink_failed", map[string]any{"error": err.Error()})
	} else {
		sinks = append(sinks, file)
	}

	if cfg.History.Postgres.Enabled {
		pg, err := history.NewPostgresSink(ctx, os.Getenv(cfg.History.Postgres.DSNEnv))
		if err != nil {
			observ.Log("history_postgres_sink_failed", map[string]any{"error": err.Error()})
		} else {
			sinks = append(sinks, pg)
		}
	}
	return history.NewMultiSink(sinks...)
}

// ruleSymbols unions the threshold rule symbols with the monitored symbols
// so both sets flow through the stream subscription.
func ruleSymbols(cfg config.Root) []string {
	set := make(map[string]struct{})
	for _, r := range cfg.Rules {
		if r.Enabled && r.Symbol != "" {
			set[r.Symbol] = struct{}{}
		}
	}
	if cfg.Monitoring.Enabled {
		for _, s := range cfg.Monitoring.Symbols {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/healthz", observ.HealthHandler())
	observ.Log("metrics_listening", map[string]any{"addr": addr})
	if err := http.ListenAndServe(addr, mux); err != nil {
		observ.Log("metrics_server_failed", map[string]any{"error": err.Error()})
	}
}
