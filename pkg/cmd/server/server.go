package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // by design
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pgx-contrib/pgxtrace"
	"github.com/spf13/cobra"
	"github.com/stephenafamo/bob"
	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/bus"
	"github.com/mpapenbr/lapcounter-go/pkg/bus/local"
	"github.com/mpapenbr/lapcounter-go/pkg/bus/natsbus"
	"github.com/mpapenbr/lapcounter-go/pkg/config"
	"github.com/mpapenbr/lapcounter-go/pkg/control"
	dbmigrate "github.com/mpapenbr/lapcounter-go/pkg/db/migrate"
	"github.com/mpapenbr/lapcounter-go/pkg/db/postgres"
	"github.com/mpapenbr/lapcounter-go/pkg/endpoints/public"
	"github.com/mpapenbr/lapcounter-go/pkg/model"
	"github.com/mpapenbr/lapcounter-go/pkg/processing/fold"
	"github.com/mpapenbr/lapcounter-go/pkg/processing/racelog"
	"github.com/mpapenbr/lapcounter-go/pkg/processing/teamstate"
	"github.com/mpapenbr/lapcounter-go/pkg/reader"
	"github.com/mpapenbr/lapcounter-go/pkg/repository/api"
	bobRepos "github.com/mpapenbr/lapcounter-go/pkg/repository/bob"
	bobRacelog "github.com/mpapenbr/lapcounter-go/pkg/repository/bob/racelog"
	"github.com/mpapenbr/lapcounter-go/pkg/status"
	"github.com/mpapenbr/lapcounter-go/pkg/utils"
)

//nolint:funlen // by design
func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "starts the lap counter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startServer(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&config.RaceConfigFile,
		"race-config",
		"r",
		"race.yml",
		"race configuration file (track, readers, teams)")
	cmd.Flags().BoolVar(&config.WatchRaceCfg,
		"watch-race-config",
		false,
		"add tags of teams added to the race configuration while running")
	cmd.Flags().StringVar(&config.HTTPAddr,
		"http-addr",
		"localhost:8081",
		"listen address of the read-only http api (empty to disable)")
	cmd.Flags().StringVar(&config.CloneDB,
		"clone-db",
		"",
		"restore the race log from this database instead of the own one")
	cmd.Flags().BoolVar(&config.ClearDB,
		"clear-db",
		false,
		"removes all race data before starting")
	cmd.Flags().BoolVar(&config.Migrate,
		"migrate",
		false,
		"apply database migrations on start")
	cmd.Flags().StringVar(&config.LogLevel,
		"log-level",
		"info",
		"controls the log level (debug, info, warn, error, fatal)")
	cmd.Flags().StringVar(&config.SQLLogLevel,
		"sql-log-level",
		"debug",
		"controls the log level for sql methods")
	cmd.Flags().StringVar(&config.LogFormat,
		"log-format",
		"json",
		"controls the log output format")
	cmd.Flags().StringVar(&config.LogFilter,
		"log-filter",
		"",
		"zapfilter rules, e.g. \"info+:* debug+:racelog\"")
	cmd.Flags().BoolVar(&config.EnableTelemetry,
		"enable-telemetry",
		false,
		"enables telemetry")
	cmd.Flags().StringVar(&config.TelemetryEndpoint,
		"telemetry-endpoint",
		"localhost:4317",
		"Endpoint that receives open telemetry data (\"stdout\" to print)")
	cmd.Flags().IntVar(&config.ProfilingPort,
		"profiling-port",
		0,
		"port to use for providing profiling data")
	return cmd
}

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

func setupLogging() (logger, sqlLogger *log.Logger) {
	opts := []log.Option{log.WithCaller(true), log.AddCallerSkip(1)}
	if config.LogFilter != "" {
		opts = append(opts, log.WithFilter(config.LogFilter))
	}
	switch config.LogFormat {
	case "json":
		logger = log.New(os.Stderr, parseLogLevel(config.LogLevel, log.InfoLevel), opts...)
		sqlLogger = log.New(os.Stderr, parseLogLevel(config.SQLLogLevel, log.InfoLevel), opts...)
	default:
		logger = log.DevLogger(os.Stderr, parseLogLevel(config.LogLevel, log.DebugLevel), opts...)
		sqlLogger = log.DevLogger(os.Stderr, parseLogLevel(config.SQLLogLevel, log.InfoLevel), opts...)
	}
	log.ResetDefault(logger)
	return logger, sqlLogger.Named("sql")
}

//nolint:funlen,cyclop // by design
func startServer(parent context.Context) error {
	logger, sqlLogger := setupLogging()
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.AddToContext(ctx, logger)

	raceCfg, err := config.LoadRaceConfig(config.RaceConfigFile)
	if err != nil {
		log.Error("race config not usable", log.ErrorField(err))
		return err
	}
	channels := raceCfg.Channels(config.Instance)
	log.Debug("Config:",
		log.String("db", config.DB),
		log.String("nats", config.NatsURL),
		log.String("instance", config.Instance),
		log.Any("channels", channels),
		log.Int("readers", len(raceCfg.Readers)),
		log.Int("teams", len(raceCfg.Teams)),
	)

	if config.ProfilingPort > 0 {
		log.Info("Starting profiling server on port", log.Int("port", config.ProfilingPort))
		go func() {
			//nolint:gosec // by design
			err := http.ListenAndServe(
				fmt.Sprintf("localhost:%d", config.ProfilingPort),
				nil)
			if err != nil {
				log.Error("Profiling server stopped", log.ErrorField(err))
			}
		}()
	}

	waitForRequiredServices(ctx)

	pgTracer := pgxtrace.CompositeQueryTracer{
		postgres.NewMyTracer(sqlLogger, log.DebugLevel),
	}
	var telemetry *config.Telemetry
	if config.EnableTelemetry {
		log.Info("Enabling telemetry")
		if telemetry, err = config.SetupTelemetry(ctx); err == nil {
			pgTracer = append(pgTracer, postgres.NewOtlpTracer())
			defer telemetry.Shutdown()
		} else {
			log.Warn("Could not setup telemetry", log.ErrorField(err))
		}
		err = otlpruntime.Start(otlpruntime.WithMinimumReadMemStatsInterval(time.Second))
		if err != nil {
			log.Warn("Could not start runtime metrics", log.ErrorField(err))
		}
	}

	if config.Migrate {
		log.Info("Applying migrations")
		if err := dbmigrate.MigrateDB(config.DB); err != nil {
			log.Error("migration failed", log.ErrorField(err))
			return err
		}
	}
	pool, err := postgres.InitWithURL(config.DB, postgres.WithTracer(pgTracer))
	if err != nil {
		log.Error("database not usable", log.ErrorField(err))
		return err
	}
	defer pool.Close()
	db := bob.NewDB(stdlib.OpenDBFromPool(pool))
	repo := bobRacelog.NewRaceLogRepository(db)
	tx := bobRepos.NewTransactionManager(db)

	if config.ClearDB {
		log.Warn("Removing all race data")
		if err := tx.RunInTx(ctx, repo.Clear); err != nil {
			log.Error("could not clear database", log.ErrorField(err))
			return err
		}
	}

	b, feed, cache, err := setupBus(ctx, channels)
	if err != nil {
		log.Error("bus not usable", log.ErrorField(err))
		return err
	}
	defer b.Close()
	reporter := status.NewReporter(b, channels.Status)

	engine, err := teamstate.NewEngine(raceCfg.Track(), raceCfg.EngineOptions())
	if err != nil {
		return err
	}
	procOpts := []racelog.Option{
		racelog.WithReporter(reporter),
		racelog.WithInitialTags(raceCfg.TeamTags()),
	}
	if cache != nil {
		procOpts = append(procOpts, racelog.WithSnapshotCache(cache))
	}
	if config.CloneDB != "" {
		clone, cErr := cloneRepository(config.CloneDB)
		if cErr != nil {
			log.Error("clone database not usable", log.ErrorField(cErr))
			return cErr
		}
		procOpts = append(procOpts, racelog.WithCloneRepository(clone))
	}
	proc := racelog.NewProcessor(fold.NewFolder(engine), repo, tx, procOpts...)
	proc.Start(ctx)
	defer proc.Stop()

	cp := control.NewCommandProcessor(b, channels, reporter)
	control.RegisterProcessorHandlers(cp, proc)
	if err := cp.Start(ctx); err != nil {
		log.Error("could not listen for commands", log.ErrorField(err))
		return err
	}
	defer cp.Stop()

	var wg sync.WaitGroup
	listeners := make([]*reader.Listener, 0, len(raceCfg.Readers))
	for _, id := range raceCfg.ReaderIDs() {
		listeners = append(listeners, reader.NewListener(id, channels, feed, repo, proc,
			reader.WithRetryInterval(raceCfg.RetryInterval)))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		reader.RunAll(ctx, listeners...)
	}()

	if config.WatchRaceCfg {
		watchRaceConfig(ctx, raceCfg, proc)
	}

	var srv *http.Server
	if config.HTTPAddr != "" {
		srv = public.NewServer(config.HTTPAddr,
			public.NewHandler(proc, engine.NbReaders(), public.WithTeamNames(raceCfg.TeamNames())))
		go func() {
			log.Info("Starting http server", log.String("addr", config.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server stopped", log.ErrorField(err))
			}
		}()
	}

	log.Info("Server started")
	setupGoRoutinesDump()
	<-ctx.Done()
	log.Info("Shutting down")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http server shutdown", log.ErrorField(err))
		}
	}
	wg.Wait()
	log.Info("Server terminated")
	return nil
}

// setupBus uses nats if configured, the in-process bus otherwise.
// The snapshot cache is only available with nats.
//
//nolint:whitespace // false positive
func setupBus(ctx context.Context, channels bus.Channels) (
	b bus.Bus, feed reader.Feed, cache *natsbus.SnapshotCache, err error,
) {
	if config.NatsURL == "" {
		log.Info("No nats url configured, using in-process bus")
		lb := local.New()
		return lb, reader.BusFeed{Bus: lb}, nil, nil
	}
	nb, err := natsbus.Connect(config.NatsURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if cache, err = natsbus.NewSnapshotCache(ctx, nb.Conn(), config.Instance); err != nil {
		nb.Close()
		return nil, nil, nil, err
	}
	stream, err := natsbus.NewUpdateStream(ctx, nb.Conn(), channels.Update)
	if err != nil {
		nb.Close()
		return nil, nil, nil, err
	}
	return nb, stream, cache, nil
}

func cloneRepository(url string) (api.RaceLogRepository, error) {
	log.Info("Restoring from clone database")
	pool, err := postgres.InitWithURL(url)
	if err != nil {
		return nil, err
	}
	return bobRacelog.NewRaceLogRepository(bob.NewDB(stdlib.OpenDBFromPool(pool))), nil
}

// watchRaceConfig binds tags added to the race configuration file
func watchRaceConfig(ctx context.Context, current *config.RaceConfig, proc *racelog.Processor) {
	err := config.WatchRaceConfig(ctx, config.RaceConfigFile, func(next *config.RaceConfig) {
		now := time.Now().UTC().Truncate(time.Millisecond)
		for _, tt := range config.AddedTags(current, next) {
			for _, tag := range tt.Tags {
				log.Info("Adding tag from race config",
					log.String("tag", tag.String()), log.Int("team", tt.TeamNb))
				proc.Post(model.AddTag{At: now, Tag: tag, TeamNb: tt.TeamNb})
			}
		}
		current = next
	})
	if err != nil {
		log.Warn("Could not watch race config", log.ErrorField(err))
	}
}

func setupGoRoutinesDump() {
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGQUIT)
		buf := make([]byte, 1<<20)
		for {
			<-sigs
			stacklen := runtime.Stack(buf, true)
			fmt.Printf("=== received SIGQUIT ===\n*** goroutine dump...\n%s\n*** end\n",
				buf[:stacklen])
		}
	}()
}

func waitForRequiredServices(ctx context.Context) {
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		log.Warn("Invalid duration value. Setting default 60s", log.ErrorField(err))
		timeout = 60 * time.Second
	}

	wg := sync.WaitGroup{}
	checkTCP := func(addr string) {
		defer wg.Done()
		if err := utils.WaitForTCP(ctx, addr, timeout); err != nil {
			log.Fatal("required services not ready", log.ErrorField(err))
		}
	}

	for _, addr := range []string{
		utils.ExtractFromDBURL(config.DB),
		utils.ExtractFromDBURL(config.CloneDB),
		utils.ExtractFromNatsURL(config.NatsURL),
	} {
		if addr != "" {
			wg.Add(1)
			go checkTCP(addr)
		}
	}
	log.Debug("Waiting for connection checks to return")
	wg.Wait()
	log.Debug("Required services are available")
}
