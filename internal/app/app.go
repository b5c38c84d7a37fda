package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"ema-price-alerts/internal/alerting"
	"ema-price-alerts/internal/config"
	"ema-price-alerts/internal/fetcher"
	"ema-price-alerts/internal/scheduler"
	"ema-price-alerts/internal/service"
	"ema-price-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newCoinbase() *fetcher.Coinbase {
	cb := a.Config.Market.Coinbase
	return fetcher.NewCoinbase(fetcher.CoinbaseOptions{
		BaseURL:     cb.BaseURL,
		Granularity: cb.Granularity,
		Timeout:     cb.RequestTimeout,
		MaxRetries:  cb.MaxRetries,
		RetryWait:   cb.RetryWait,
		UserAgent:   cb.UserAgent,
	}, a.Logger)
}

func (a *App) newSource() fetcher.Source {
	if a.Config.Market.Source == "chainlink" {
		cl := a.Config.Market.Chainlink
		return fetcher.NewChainlink(fetcher.ChainlinkOptions{
			RPCURL:      cl.RPCURL,
			Timeout:     cl.RequestTimeout,
			Interval:    a.Config.Scheduler.Interval,
			MaxRounds:   cl.MaxRounds,
			Concurrency: cl.Concurrency,
		}, a.Logger)
	}
	return a.newCoinbase()
}

// newNotifier builds the fan-out for the configured channels; it is empty
// when no channel is usable.
func (a *App) newNotifier() *alerting.MultiNotifier {
	multi := alerting.NewMultiNotifier()
	cfg := a.Config.Alerting

	wantTelegram := cfg.Telegram.Enabled
	for _, ch := range cfg.Channels {
		switch ch {
		case "slack":
			if cfg.Slack.WebhookURL == "" {
				a.Logger.Warn().Msg("slack channel requested but alerting.slack.webhook_url is empty")
				continue
			}
			multi.Add("slack", alerting.NewSlackNotifier(cfg.Slack.WebhookURL, cfg.Slack.Channel, cfg.Slack.Username, cfg.Slack.Timeout, a.Logger))
		case "telegram":
			wantTelegram = true
		default:
			a.Logger.Warn().Str("channel", ch).Msg("unknown alert channel ignored")
		}
	}
	if wantTelegram {
		if cfg.Telegram.BotToken == "" || cfg.Telegram.ChatID == "" {
			a.Logger.Warn().Msg("telegram channel requested but bot_token/chat_id missing")
		} else {
			multi.Add("telegram", alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Telegram.Timeout, a.Logger))
		}
	}
	return multi
}

// stores bundles the configured persistence backends.
type stores struct {
	states storage.StateStore
	// alerts is nil unless database.dsn is configured.
	alerts storage.AlertStore
	close  func()
}

func (a *App) openStores(ctx context.Context) (*stores, error) {
	var pg *storage.Postgres
	if a.Config.Database.DSN != "" {
		var err error
		if pg, err = storage.OpenPostgres(ctx, a.Config.Database); err != nil {
			return nil, err
		}
	}
	closePG := func() {
		if pg != nil {
			pg.Close()
		}
	}

	out := &stores{close: closePG}
	if pg != nil {
		out.alerts = pg
	}

	switch a.Config.State.Backend {
	case "postgres":
		if pg == nil {
			return nil, errors.New("postgres state backend requires database.dsn")
		}
		out.states = pg
	case "redis":
		r := storage.NewRedis(a.Config.State.Redis)
		out.states = r
		out.close = func() {
			if err := r.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("failed to close redis client")
			}
			closePG()
		}
	case "file":
		out.states = storage.NewFile(a.Config.State.Dir)
	default:
		closePG()
		return nil, fmt.Errorf("state.backend %q is not supported", a.Config.State.Backend)
	}
	return out, nil
}

func (a *App) newService(ctx context.Context, sched *scheduler.Scheduler) (*service.Service, func(), error) {
	st, err := a.openStores(ctx)
	if err != nil {
		return nil, nil, err
	}
	if st.alerts == nil {
		a.Logger.Info().Msg("database.dsn not configured; alert audit disabled")
	}

	var notifier alerting.Notifier
	if multi := a.newNotifier(); multi.Len() > 0 {
		notifier = multi
	} else if a.Config.Alerting.Enabled {
		a.Logger.Warn().Msg("alerting enabled but no channel configured")
	}

	svc, err := service.New(a.Config, sched, a.newSource(), st.states, st.alerts, notifier, a.Logger)
	if err != nil {
		st.close()
		return nil, nil, err
	}
	return svc, st.close, nil
}

// Run executes the long-running evaluation service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
		RunOnStart:    a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	svc, closeStores, err := a.newService(ctx, sched)
	if err != nil {
		return err
	}
	defer closeStores()

	a.Logger.Info().Int("jobs", len(a.Config.Jobs)).Str("source", a.Config.Market.Source).Msg("starting evaluation service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("evaluation service stopped")
	return nil
}

// ExportOptions hold parameters for exporting the price and EMA series.
type ExportOptions struct {
	Job       string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// AlertsOptions configure the alerts command.
type AlertsOptions struct {
	Limit int
}

// ReplayOptions configure a dry replay of the engine over history.
type ReplayOptions struct {
	Job     string
	Periods int
}
