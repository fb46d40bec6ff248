package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/prdigest/pr-digest/pkg/config"
	"github.com/prdigest/pr-digest/pkg/fetch"
	"github.com/prdigest/pr-digest/pkg/github"
	"github.com/prdigest/pr-digest/pkg/orchestrate"
	"github.com/prdigest/pr-digest/pkg/serve"
	"github.com/prdigest/pr-digest/pkg/site"
	"github.com/prdigest/pr-digest/pkg/storage"
	"github.com/prdigest/pr-digest/pkg/summarize"
	"github.com/prdigest/pr-digest/pkg/utils"
	"github.com/prdigest/pr-digest/pkg/watch"
)

const version = "1.0.0"

// How often the state DB runs value log GC in long-running commands
const dbGCInterval = 10 * time.Minute

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "generate":
		runGenerate(os.Args[2:])
	case "build":
		runBuild(os.Args[2:])
	case "analyze":
		runAnalyze(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("prdigest %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `prdigest - Daily digest of merged GitHub pull requests

Usage:
  prdigest <command> [options]

Commands:
  generate    Summarize yesterday's merged pull requests and rebuild the site
  build       Rebuild the HTML site from the markdown archives
  analyze     Print the analysis of one digest as YAML
  validate    Validate configuration file
  watch       Generate digests on a schedule
  serve       Serve the generated site with a JSON API
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Run 'prdigest <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Debugf("Setting log level to: %s", level.String())
	}

	return log
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) *config.AppConfig {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	return appCfg
}

// signalContext returns a context cancelled on SIGINT/SIGTERM. A second signal
// or a stuck shutdown forces exit.
func signalContext(log *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		var sig os.Signal
		select {
		case sig = <-sigChan:
		case <-ctx.Done():
			return
		}
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// openStore opens the repository's state DB and starts its GC loop.
func openStore(ctx context.Context, appCfg *config.AppConfig, reset bool, log *logrus.Logger) *storage.BadgerStore {
	store, err := storage.NewBadgerStore(appCfg.StateDir, appCfg.Repository.FullName(), reset, log.WithField("component", "storage"))
	if err != nil {
		log.Fatalf("Failed to open state DB: %v", err)
	}
	go store.RunGC(ctx, dbGCInterval)
	return store
}

// newGenerator wires the GitHub client, the summarizer and the site builder.
func newGenerator(appCfg *config.AppConfig, store storage.Store, builder orchestrate.SiteBuilder, log *logrus.Entry) (*orchestrate.Generator, error) {
	ghClient, err := github.NewClient(github.NewHTTPClient(appCfg, log), appCfg, log)
	if err != nil {
		return nil, err
	}

	tok, err := summarize.NewTokenizer(appCfg.LLM.TokenEncoding)
	if err != nil {
		return nil, err
	}
	model, err := summarize.NewModel(appCfg.LLM, fetch.NewClient(appCfg.HTTPClientSettings, log))
	if err != nil {
		return nil, err
	}
	summarizer := summarize.NewSummarizer(model, appCfg, summarize.NewBudget(tok, appCfg.LLM.MaxPromptTokens), log)

	var summaryStore storage.SummaryStore
	if store != nil {
		summaryStore = store
	}
	return orchestrate.NewGenerator(appCfg, ghClient, summarizer, summaryStore, builder, log), nil
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: Repository:%s, Workers:%d, Archives:%s, Outputs:%s, StateDir:%s",
		appCfg.Repository.FullName(), appCfg.NumWorkers, appCfg.ArchivesDir, appCfg.OutputsDir, appCfg.StateDir)
	log.Infof("Global Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v, GitHubDelay:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay, config.GetEffectiveGitHubDelay(*appCfg))
	log.Infof("Global Config LLM: Provider:%s, Model:%s, MaxTokens:%d, Timeout:%v, PromptBudget:%d (%s)",
		appCfg.LLM.Provider, appCfg.LLM.Model, appCfg.LLM.MaxTokens, appCfg.LLM.Timeout,
		appCfg.LLM.MaxPromptTokens, appCfg.LLM.TokenEncoding)
	log.Infof("Global Config Cache: Summaries:%t, IncrementalBuild:%t, StatsYAML:%t ('%s')",
		appCfg.EnableSummaryCache, appCfg.EnableIncrementalBuild,
		config.GetEffectiveEnableStatsYAML(appCfg.Site, *appCfg), config.GetEffectiveStatsYAMLFilename(appCfg.Site, *appCfg))
	log.Infof("Global Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
}

// runGenerate handles the generate subcommand
func runGenerate(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	date := fs.String("date", "", "Digest date as YYYY-MM-DD (defaults to yesterday, UTC)")
	noCache := fs.Bool("no-cache", false, "Ignore cached summaries")
	noSite := fs.Bool("no-site", false, "Write the markdown archive only, skip the site rebuild")
	resetState := fs.Bool("reset-state", false, "Delete the state DB before running")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: prdigest generate [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  prdigest generate\n")
		fmt.Fprintf(os.Stderr, "  prdigest generate -date 2025-03-01 -no-cache\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	now := time.Now()
	if *date != "" {
		day, err := time.Parse(time.DateOnly, *date)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid -date '%s', expected YYYY-MM-DD\n", *date)
			os.Exit(1)
		}
		// The pipeline digests the UTC day before now
		now = day.AddDate(0, 0, 1)
	}

	os.Exit(executeGenerate(*configFile, now, *noCache, *noSite, *resetState, *logLevel))
}

// executeGenerate runs one generation and returns the exit code
func executeGenerate(configFile string, now time.Time, noCache, noSite, resetState bool, logLevelStr string) int {
	log := setupLogger(logLevelStr)
	appCfg := loadAndValidateConfig(configFile, log)
	if noCache {
		appCfg.EnableSummaryCache = false
		log.Info("Summary cache disabled via CLI flag")
	}
	logAppConfig(appCfg, log)

	ctx, cancel := signalContext(log)
	defer cancel()

	store := openStore(ctx, appCfg, resetState, log)
	defer store.Close()

	logEntry := log.WithField("component", "generate")
	var builder orchestrate.SiteBuilder
	if !noSite {
		builder = site.NewBuilder(appCfg, store, logEntry)
	}
	generator, err := newGenerator(appCfg, store, builder, logEntry)
	if err != nil {
		log.Errorf("Failed to initialize generator: %v", err)
		return 1
	}

	_, err = generator.Run(ctx, now)
	return exitCode(err, log)
}

// exitCode maps a pipeline error to the process exit code
func exitCode(err error, log *logrus.Logger) int {
	switch {
	case err == nil:
		log.Info("Completed successfully.")
		return 0
	case errors.Is(err, utils.ErrNoPullRequests):
		return 0
	case errors.Is(err, context.Canceled):
		log.Warn("Cancelled gracefully.")
		return 0
	case errors.Is(err, context.DeadlineExceeded):
		log.Error("Timed out (global timeout).")
		return 1
	default:
		log.Errorf("Finished with error [%s]: %v", utils.CategorizeError(err), err)
		return 1
	}
}

// runBuild handles the build subcommand
func runBuild(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	full := fs.Bool("full", false, "Re-render every page (ignore incremental build state)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: prdigest build [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel)
	appCfg := loadAndValidateConfig(*configFile, log)
	if *full {
		appCfg.EnableIncrementalBuild = false
		log.Info("Full build forced via CLI flag")
	}

	ctx, cancel := signalContext(log)
	defer cancel()

	store := openStore(ctx, appCfg, false, log)
	defer store.Close()

	builder := site.NewBuilder(appCfg, store, log.WithField("component", "build"))
	_, err := builder.Build(ctx)
	code := exitCode(err, log)
	store.Close()
	os.Exit(code)
}

// runAnalyze handles the analyze subcommand
func runAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	date := fs.String("date", "", "Digest date as YYYY-MM-DD (defaults to the newest digest)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: prdigest analyze [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doAnalyze(*configFile, *date, time.Now().UTC(), os.Stdout, os.Stderr))
}

// doAnalyze writes the YAML analysis of one digest.
// Returns exit code (0 = success, 1 = error).
func doAnalyze(configPath, date string, now time.Time, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := appCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var d site.Digest
	if date == "" {
		digests, err := site.ListDigests(appCfg.ArchivesDir)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if len(digests) == 0 {
			fmt.Fprintf(stderr, "Error: no digests in %s\n", appCfg.ArchivesDir)
			return 1
		}
		d = digests[0]
	} else {
		day, err := time.Parse(time.DateOnly, date)
		if err != nil {
			fmt.Fprintf(stderr, "Error: invalid date '%s', expected YYYY-MM-DD\n", date)
			return 1
		}
		if d, err = site.FindDigest(appCfg.ArchivesDir, day); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	res, err := site.AnalyzeFile(d.Path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(site.ViewOf(d, res, now)); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := enc.Close(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: prdigest validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	if _, err := summarize.NewTokenizer(appCfg.LLM.TokenEncoding); err != nil {
		fmt.Fprintf(stderr, "ERROR: llm.token_encoding: %v\n", err)
		return 1
	}
	if os.Getenv(appCfg.GitHub.TokenEnv) == "" {
		fmt.Fprintf(stdout, "WARN: %s is not set, GitHub API access will be unauthenticated\n", appCfg.GitHub.TokenEnv)
	}
	if os.Getenv(appCfg.LLM.APIKeyEnv) == "" {
		fmt.Fprintf(stdout, "WARN: %s is not set, generate will fail\n", appCfg.LLM.APIKeyEnv)
	}

	fmt.Fprintf(stdout, "OK: [%s] %s/%s\n", appCfg.Repository.FullName(), appCfg.LLM.Provider, appCfg.LLM.Model)
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	interval := fs.String("interval", "1h", "Check interval (e.g., 30m, 1h, 1d)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: prdigest watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  prdigest watch --interval 1h\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel)
	intervalDur, err := watch.ParseInterval(*interval)
	if err != nil {
		log.Fatalf("Invalid interval: %v", err)
	}

	appCfg := loadAndValidateConfig(*configFile, log)
	logAppConfig(appCfg, log)

	ctx, cancel := signalContext(log)
	defer cancel()

	store := openStore(ctx, appCfg, false, log)
	defer store.Close()

	logEntry := log.WithField("component", "generate")
	generator, err := newGenerator(appCfg, store, site.NewBuilder(appCfg, store, logEntry), logEntry)
	if err != nil {
		log.Fatalf("Failed to initialize generator: %v", err)
	}

	scheduler := watch.NewScheduler(appCfg, generator, intervalDur, log.WithField("repo", appCfg.Repository.FullName()))
	if err := scheduler.Run(ctx); err != nil {
		log.Errorf("Watch error: %v", err)
		store.Close()
		os.Exit(1)
	}
	log.Info("Watch mode stopped.")
}

// runServe handles the serve subcommand
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	addr := fs.String("addr", "localhost:8080", "Listen address")
	watchArchives := fs.Bool("watch", false, "Rebuild the site when archive markdown changes")
	buildFirst := fs.Bool("build", true, "Build the site before serving")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: prdigest serve [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  prdigest serve -addr :8080 -watch\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel)
	appCfg := loadAndValidateConfig(*configFile, log)

	ctx, cancel := signalContext(log)
	defer cancel()

	store := openStore(ctx, appCfg, false, log)
	defer store.Close()

	logEntry := log.WithField("component", "serve")
	srv := serve.NewServer(appCfg, site.NewBuilder(appCfg, store, logEntry), logEntry)

	if *buildFirst {
		if _, err := srv.Rebuild(ctx); err != nil {
			log.Warnf("Initial build finished with errors: %v", err)
		}
	}

	if *watchArchives {
		watcher, err := serve.NewArchiveWatcher(appCfg.ArchivesDir, 0, func(ctx context.Context) {
			srv.Rebuild(ctx)
		}, logEntry)
		if err != nil {
			log.Fatalf("Failed to create archive watcher: %v", err)
		}
		defer watcher.Stop()
		if err := watcher.Start(ctx); err != nil {
			log.Fatalf("Failed to start archive watcher: %v", err)
		}
	}

	if err := srv.ListenAndServe(ctx, *addr); err != nil {
		log.Errorf("Server error: %v", err)
		store.Close()
		os.Exit(1)
	}
}
