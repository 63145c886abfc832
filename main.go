package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	commandx "github.com/tanpawarit/account-lease-bot/lease/command"
	contractx "github.com/tanpawarit/account-lease-bot/lease/contract"
	httpapix "github.com/tanpawarit/account-lease-bot/lease/httpapi"
	metricsx "github.com/tanpawarit/account-lease-bot/lease/metrics"
	notifyx "github.com/tanpawarit/account-lease-bot/lease/notify"
	registryx "github.com/tanpawarit/account-lease-bot/lease/registry"
	rosterx "github.com/tanpawarit/account-lease-bot/lease/roster"
	statsx "github.com/tanpawarit/account-lease-bot/lease/stats"
	configx "github.com/tanpawarit/account-lease-bot/pkg/config"
	httpserverx "github.com/tanpawarit/account-lease-bot/pkg/httpserver"
	logx "github.com/tanpawarit/account-lease-bot/pkg/logger"
	_ "github.com/tanpawarit/account-lease-bot/pkg/logger/autoload"
	qstashx "github.com/tanpawarit/account-lease-bot/pkg/qstash"
	redisx "github.com/tanpawarit/account-lease-bot/pkg/redis"
)

type AppConfig struct {
	CommandPrefix string `split_words:"true" default:"/"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("leasebot stopped")
	}
}

func run(ctx context.Context) error {
	// autoload ran before the .env file was exported; re-init with the full config.
	logx.Init(*configx.MustNew[logx.Config]("LOG"))

	appCfg := configx.MustNew[AppConfig]("APP")
	serverCfg := configx.MustNew[httpserverx.Config]("HTTP")
	rosterCfg := configx.MustNew[rosterx.Config]("ROSTER")
	dmCfg := configx.MustNew[notifyx.Config]("DM")
	redisCfg := configx.MustNew[redisx.Config]("REDIS")
	journalCfg := configx.MustNew[statsx.Config]("JOURNAL")

	accounts, err := loadRoster(ctx, *rosterCfg)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := metricsx.New(promReg)

	recorders := contractx.Recorders{metrics}
	var history httpapix.History

	rdb, err := redisx.New(ctx, *redisCfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		journal := statsx.NewRedisJournal(rdb, journalCfg.Options()...)
		recorders = append(recorders, journal)
		history = journal
	}

	notifier, direct, err := buildNotifier(*dmCfg)
	if err != nil {
		return err
	}

	registry, err := registryx.New(accounts,
		registryx.WithNotifier(notifier),
		registryx.WithRecorder(recorders),
	)
	if err != nil {
		return err
	}
	metrics.SetAccountsTotal(len(registry.Accounts()))

	adapterOpts := []commandx.Option{commandx.WithPrefix(appCfg.CommandPrefix)}
	if direct {
		adapterOpts = append(adapterOpts, commandx.WithNotifier(notifier))
	}
	adapter, err := commandx.New(registry, adapterOpts...)
	if err != nil {
		return err
	}

	apiOpts := []httpapix.Option{httpapix.WithGatherer(promReg), httpapix.WithRequestTimeout(serverCfg.WriteTimeout)}
	if history != nil {
		apiOpts = append(apiOpts, httpapix.WithHistory(history))
	}
	api, err := httpapix.New(adapter, registry, apiOpts...)
	if err != nil {
		return err
	}

	log.Info().
		Strs("accounts", accountNames(registry.Accounts())).
		Bool("direct_messages", direct).
		Bool("journal", rdb != nil).
		Msg("leasebot ready")

	srv := httpserverx.New(*serverCfg, api.Router())
	return httpserverx.Run(ctx, srv, serverCfg.ShutdownTimeout)
}

func loadRoster(ctx context.Context, cfg rosterx.Config) ([]contractx.Account, error) {
	var src rosterx.Source = rosterx.FileSource{Path: cfg.File}

	if strings.TrimSpace(cfg.DSN) != "" {
		db, err := rosterx.OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, err
		}
		defer db.Close()

		pg, err := rosterx.NewPostgresSource(db, cfg.Table)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		src = pg
	}
	return src.Load(ctx)
}

func accountNames(accounts []contractx.Account) []string {
	out := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, acc.String())
	}
	return out
}

// buildNotifier returns the QStash-backed messenger when a DM destination is
// configured, and the log notifier otherwise. A destination without a usable
// QSTASH section is a configuration error.
func buildNotifier(dmCfg notifyx.Config) (contractx.Notifier, bool, error) {
	if strings.TrimSpace(dmCfg.Destination) == "" {
		log.Warn().Msg("direct messages disabled, notifications are only logged")
		return notifyx.LogNotifier{}, false, nil
	}

	qstashCfg, err := configx.New[qstashx.Config]("QSTASH")
	if err != nil {
		return nil, false, fmt.Errorf("direct messages need qstash: %w", err)
	}
	client, err := qstashx.NewClient(*qstashCfg)
	if err != nil {
		return nil, false, err
	}
	messenger, err := notifyx.NewDirectMessenger(client, dmCfg)
	if err != nil {
		return nil, false, err
	}
	return messenger, true, nil
}
