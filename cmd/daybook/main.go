package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"daybook/internal/agenda"
	"daybook/internal/config"
	"daybook/internal/ics"
	"daybook/internal/layout"
	appLog "daybook/internal/log"
	"daybook/internal/storage"
	"daybook/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	seedPath   string
	once       bool
	debug      bool
}

func main() {
	_ = godotenv.Load()

	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	if err := run(flags); err != nil {
		appLog.Error("daybook failed", err)
		os.Exit(1)
	}
}

func run(flags flagConfig) error {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	conf.ApplyEnv()
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	conf.Normalize()
	if err := conf.Validate(); err != nil {
		return err
	}
	if !flags.debug {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"database", conf.DatabasePath,
		"ics_count", len(conf.ICS),
		"once", flags.once,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(conf.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if flags.seedPath != "" {
		if err := seed(ctx, store, flags.seedPath, conf.Location()); err != nil {
			return err
		}
	}

	svc := agenda.New(store, ics.NewFetcher(conf.CacheDir), agenda.Options{
		Location:       conf.Location(),
		WeekStart:      conf.FirstWeekday(),
		HorizonDays:    conf.HorizonDays,
		BackfillDays:   conf.BackfillDays,
		MaxOccurrences: conf.MaxOccurrences,
		Layout: layout.Options{
			MinutesPerUnit: conf.Layout.MinutesPerUnit,
			MinHeightUnits: conf.Layout.MinHeightUnits,
		},
		Sources: sources(conf),
	})

	if _, err := svc.Refresh(ctx); err != nil {
		return err
	}

	if flags.once {
		return printSummary(svc)
	}

	sched, err := agenda.NewScheduler(svc, conf.RefreshCron, 2*time.Minute)
	if err != nil {
		return err
	}
	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Stop(stopCtx)
	}()

	srv := web.NewServer(conf, svc)
	err = srv.Serve(ctx, conf.Listen)
	appLog.Info("daybook exiting")
	return err
}

func seed(ctx context.Context, store *storage.Store, path string, loc *time.Location) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = store.Seed(ctx, f, loc)
	return err
}

func sources(conf *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		label := c.Label
		if label == "" {
			label = c.Name
		}
		out = append(out, ics.Source{ID: c.ID, URL: c.URL, Color: c.Color, Label: label})
	}
	return out
}

// printSummary writes today's agenda and upcoming payments as JSON.
func printSummary(svc *agenda.Service) error {
	now := time.Now().In(svc.Location())
	today := svc.Calendar().StartOfDay(now)

	occ, err := svc.Occurrences(today, today.AddDate(0, 0, 1).Add(-time.Nanosecond))
	if err != nil {
		return err
	}
	payments, err := svc.UpcomingPayments(now)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"snapshot": svc.Snapshot(),
		"today":    occ,
		"payments": payments,
	})
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./daybook.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.seedPath, "seed", "", "Import events and payments from a YAML file before starting")
	flag.BoolVar(&cfg.once, "once", false, "Refresh once, print a JSON summary and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()
	return cfg
}
