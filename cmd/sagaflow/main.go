// Command sagaflow serves saga process instances over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goclaw/sagaflow/config"
	"github.com/goclaw/sagaflow/pkg/logger"
	"github.com/goclaw/sagaflow/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")
	watchFlag   = flag.Bool("watch", true, "Reload log level and executor settings when the config file changes")

	// CLI overrides
	appName     = flag.String("app-name", "", "Override app name")
	serverPort  = flag.Int("port", 0, "Override server port")
	logLevel    = flag.String("log-level", "", "Override log level")
	storageType = flag.String("storage", "", "Override storage type (memory, badger, redis)")
	debugMode   = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath, buildOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)
	defer log.Close()

	log.Info("starting sagaflow",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	if source := loader.Source(); *watchFlag && source != "" {
		watcher, err := config.NewWatcher(source, loader, config.WithWatcherLogger(log))
		if err != nil {
			log.Warn("config watcher disabled", "error", err)
		} else {
			watcher.OnChange(a.reload)
			go func() {
				if err := watcher.Watch(ctx); err != nil {
					log.Warn("config watcher stopped", "error", err)
				}
			}()
			defer watcher.Stop()
		}
	}

	if err := a.run(ctx); err != nil {
		log.Error("sagaflow stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("sagaflow stopped gracefully")
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *storageType != "" {
		overrides["storage.type"] = *storageType
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("Sagaflow - event-sourced saga engine\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("Sagaflow - event-sourced saga engine with a retrying command executor\n\n")
	fmt.Printf("Usage: sagaflow [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  sagaflow                                  # Run with default config\n")
	fmt.Printf("  sagaflow -config config.yaml              # Use specific config file\n")
	fmt.Printf("  sagaflow -storage badger -log-level debug # Override specific options\n")
	fmt.Printf("  sagaflow -version                         # Print version info\n")
}
