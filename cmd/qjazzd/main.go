// Command qjazzd is the map-server worker-pool daemon (spec section
// 1): it owns worker.num_processes long-lived rendering-engine child
// processes, dispatches incoming OWS/API requests to them over a fair
// queue, and exposes an admin control plane — all over one gRPC
// listener (pkg/server). It re-execs its own binary as the child
// process, a hidden "__child-worker" subcommand that drives
// internal/engine against the socket it inherits on fd 3.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/3liz/qjazz/internal/admin"
	"github.com/3liz/qjazz/internal/child"
	"github.com/3liz/qjazz/internal/dispatcher"
	"github.com/3liz/qjazz/internal/engine"
	"github.com/3liz/qjazz/internal/restore"
	"github.com/3liz/qjazz/internal/rpcapi"
	"github.com/3liz/qjazz/internal/supervisor"
	"github.com/3liz/qjazz/pkg/config"
	"github.com/3liz/qjazz/pkg/logger"
	"github.com/3liz/qjazz/pkg/metrics"
	"github.com/3liz/qjazz/pkg/server"
)

const childWorkerUse = "__child-worker"

// allowedEnvVars is the allow-list GetEnv surfaces (spec 4.5); nothing
// in spec.md names a source for it, so it's fixed to the variables
// that actually shape engine behavior, not the whole environment.
var allowedEnvVars = []string{
	"QJAZZ_CONFIG_PATH",
	"QGIS_PLUGINPATH",
	"QGIS_SERVER_PARALLEL_RENDERING",
	"LANG",
}

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "qjazzd",
		Short: "qjazz map-server worker-pool daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to qjazz.yaml (defaults to QJAZZ_CONFIG_PATH or the built-in search list)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "run the daemon until a termination signal or sustained failure pressure",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "validate-config",
		Short: "load and validate the configuration, then exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runValidateConfig(configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:    childWorkerUse + " [id]",
		Hidden: true, // re-exec target, never invoked directly by an operator
		Args:   cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, _ []string) error {
			return runChildWorker()
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (*config.Config, error) {
	var opts []config.LoaderOption
	if configPath != "" {
		opts = append(opts, config.WithConfigPaths(configPath))
	}
	return config.NewLoader(opts...).Load()
}

func runValidateConfig(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration invalid:", err)
		os.Exit(supervisor.ExitConfigInvalid)
	}
	fmt.Printf("configuration OK: %s listening on %s, %d worker process(es)\n",
		cfg.App.Name, cfg.Server.Listen, cfg.Worker.NumProcesses)
	return nil
}

func runServe(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration invalid:", err)
		os.Exit(supervisor.ExitConfigInvalid)
	}

	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	log := logger.Log
	log.Info("starting qjazzd", "version", cfg.App.Version, "environment", cfg.App.Environment)

	m := metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
	m.SetServiceInfo(cfg.App.Version, cfg.App.Environment)
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartMetricsServer(cfg.Metrics.Port); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	selfPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving own executable path: %w", err)
	}

	spawnChild := func(ctx context.Context, id int) (*child.Host, error) {
		h := child.NewHost(id, child.Options{
			Spawner:      childSpawner(selfPath, configPath),
			MaxFrameSize: uint32(cfg.Worker.Engine.MaxChunkSize),
			StartTimeout: cfg.Worker.ProcessStartTimeout,
			CancelGrace:  cfg.Worker.CancelTimeout,
			Logger:       log,
		})
		if err := h.Start(ctx); err != nil {
			m.RecordBannerTimeout()
			return nil, err
		}
		m.RecordChildSpawn("start")
		return h, nil
	}

	pool := dispatcher.New(dispatcher.Options{
		NumProcesses:       cfg.Worker.NumProcesses,
		MaxWaitingRequests: cfg.Worker.MaxWaitingRequests,
		RequestTimeout:     cfg.Server.Timeout,
		CancelGrace:        cfg.Worker.CancelTimeout,
		MaxFailurePressure: cfg.Worker.MaxFailurePressure,
		RespawnRatePerMin:  cfg.Worker.RespawnRateLimit.RatePerMinute,
		RespawnBurst:       cfg.Worker.RespawnRateLimit.Burst,
		Spawn:              spawnChild,
		Logger:             log,
		Metrics:            m,
	})

	sup := supervisor.New(cfg, pool, spawnChild, log)

	startupCtx, cancelStartup := context.WithCancel(context.Background())
	defer cancelStartup()
	if err := sup.Startup(startupCtx); err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(supervisor.ExitStartupTimeout)
	}

	adm := admin.New(admin.Options{
		Pool:             pool,
		Config:           cfg,
		Reload:           sup.RollingReplace,
		MaxConcurrentOps: 8,
		Logger:           log,
		Metrics:          m,
	})

	srv := server.New(cfg)
	dataSvc := rpcapi.NewService(pool, cfg.Server.Timeout)
	srv.GetEngine().RegisterService(&rpcapi.DataPlane_ServiceDesc, dataSvc)

	if cfg.Server.EnableAdminServices {
		setServing := func(serving bool) {
			status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
			if serving {
				status = grpc_health_v1.HealthCheckResponse_SERVING
			}
			srv.SetServingStatus(status)
		}
		adminSvc := rpcapi.NewAdminService(adm, pool, setServing, allowedEnvVars)
		desc := rpcapi.AdminPlaneServiceDesc(adminSvc)
		srv.GetEngine().RegisterService(&desc, adminSvc)
	}

	go func() {
		if err := srv.Run(); err != nil {
			log.Error("gRPC server stopped", "error", err)
		}
	}()

	restoreCtx := context.Background()
	restoreURIs, err := restore.Load(restoreCtx, cfg.Worker.RestoreProjectsSource)
	if err != nil {
		log.Warn("failed to load restore list, starting with an empty pinned set", "error", err)
	}
	restoreURIs = append(append([]string{}, cfg.Worker.RestoreProjects...), restoreURIs...)
	for _, uri := range restoreURIs {
		adm.Checkout(restoreCtx, uri, true, true)
	}
	log.Info("restore list applied", "pinned_projects", len(restoreURIs))

	watcher, err := restore.NewWatcher(
		[]string{configPath, cfg.Worker.RestoreProjectsSource},
		func() {
			log.Info("watched file changed, rolling every child")
			if err := sup.RollingReplace(context.Background()); err != nil {
				log.Error("rolling replace failed", "error", err)
			}
		},
		log,
	)
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	if err != nil {
		log.Warn("failed to start config/restore-list watcher", "error", err)
	} else {
		go watcher.Run(watchCtx)
	}

	healthTicker := time.NewTicker(2 * time.Second)
	defer healthTicker.Stop()
	go func() {
		for range healthTicker.C {
			if sup.Healthy() {
				srv.SetServingStatus(grpc_health_v1.HealthCheckResponse_SERVING)
			} else {
				srv.SetServingStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
			}
		}
	}()
	srv.SetServingStatus(grpc_health_v1.HealthCheckResponse_SERVING)

	reason, abort := sup.Run(restoreCtx)
	log.Info("shutting down", "reason", reason)

	srv.SetServingStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGracePeriod+5*time.Second)
	defer cancelShutdown()
	sup.Shutdown(shutdownCtx)
	srv.GracefulStop()

	if abort {
		os.Exit(supervisor.ExitFailurePressure)
	}
	return nil
}

// childSpawner builds the re-exec Spawner the parent's child.Host uses
// to start each engine subprocess: the daemon's own binary invoked as
// "__child-worker <id>", inheriting the socketpair half at fd 3 (the
// first entry of exec.Cmd.ExtraFiles, set by child.Host.Start itself).
func childSpawner(selfPath, configPath string) child.Spawner {
	return func(id int, _ uintptr) *exec.Cmd {
		cmd := exec.Command(selfPath, childWorkerUse, strconv.Itoa(id))
		cmd.Env = os.Environ()
		if configPath != "" {
			cmd.Env = append(cmd.Env, "QJAZZ_CONFIG_PATH="+configPath)
		}
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd
	}
}

func runChildWorker() error {
	cfg, err := loadConfig("")
	if err != nil {
		return fmt.Errorf("child worker: loading config: %w", err)
	}
	logger.InitWithConfig(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "stderr"})

	conn, err := engine.ConnFromFD(3)
	if err != nil {
		return fmt.Errorf("child worker: %w", err)
	}

	eng := engine.New(conn, engine.Options{
		Cache:        engine.BuildCache(cfg.Worker.Engine),
		MaxFrameSize: uint32(cfg.Worker.Engine.MaxChunkSize),
		Version:      cfg.App.Version,
		Logger:       logger.Log,
	})
	return eng.Run(context.Background())
}
