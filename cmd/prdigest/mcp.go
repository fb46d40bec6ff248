package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/prdigest/pr-digest/pkg/mcp"
	"github.com/prdigest/pr-digest/pkg/site"
	"github.com/prdigest/pr-digest/pkg/storage"
)

const mcpUsage = `Usage: prdigest mcp-server [options]

Serve the digest archive to MCP clients (editors, agents).

Options:
%s
Tools:
  list_digests      archived days, newest first
  get_digest_stats  entry, bot and label counts of one day
  get_label_groups  label groups of one day
  search_digests    find entries by title text
  build_site        re-render the HTML site (background job)
  generate_digest   summarize one day of merged PRs (background job, needs LLM key)
  get_job_status    poll a background job

Examples:
  prdigest mcp-server -config config.yaml
  prdigest mcp-server -config config.yaml -transport sse -port 8080
`

func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	transport := fs.String("transport", "stdio", "Transport: stdio or sse")
	port := fs.Int("port", 8080, "Listen port for the sse transport")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")
	fs.Usage = func() {
		var defaults strings.Builder
		fs.SetOutput(&defaults)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, mcpUsage, defaults.String())
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doMcpServer(*configFile, *transport, *port, *logLevel, os.Stdout, os.Stderr))
}

// doMcpServer runs the MCP server until the client disconnects. stdout
// belongs to the stdio transport, so every log line goes to stderr.
func doMcpServer(configPath, transport string, port int, logLevel string, stdout, stderr io.Writer) int {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid log level: %s\n", logLevel)
		return 1
	}
	log := logrus.New()
	log.SetOutput(stderr)
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})

	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error validating config: %v\n", err)
		return 1
	}
	if transport != "stdio" && transport != "sse" {
		fmt.Fprintf(stderr, "MCP server error: unknown transport: %s (supported: stdio, sse)\n", transport)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entry := log.WithField("component", "mcp")
	store, err := storage.NewBadgerStore(appCfg.StateDir, appCfg.Repository.FullName(), false, entry)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening state DB: %v\n", err)
		return 1
	}
	defer store.Close()
	go store.RunGC(ctx, dbGCInterval)

	builder := site.NewBuilder(appCfg, store, entry)
	serverCfg := &mcp.ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: configPath,
		Transport:  transport,
		Port:       port,
		Logger:     log,
		Builder:    builder,
	}
	// Reading tools work without credentials; only generation needs them.
	if gen, err := newGenerator(appCfg, store, builder, entry); err != nil {
		log.Warnf("generate_digest disabled: %v", err)
	} else {
		serverCfg.Generator = gen
	}

	server, err := mcp.NewServer(serverCfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}
	defer server.Shutdown(ctx)

	log.WithFields(logrus.Fields{"transport": transport, "repository": appCfg.Repository.FullName()}).Info("Starting MCP server")
	if err := server.Run(); err != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", err)
		return 1
	}
	return 0
}
