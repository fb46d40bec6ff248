package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/prdigest/pr-digest/pkg/config"
	"github.com/prdigest/pr-digest/pkg/orchestrate"
	"github.com/prdigest/pr-digest/pkg/site"
)

const (
	serverName    = "pr-digest"
	serverVersion = "1.0.0"
)

// SiteBuilder rebuilds the HTML site from the archives
type SiteBuilder interface {
	Build(ctx context.Context) (*site.BuildResult, error)
}

// DigestGenerator runs the daily pipeline for the day before now
type DigestGenerator interface {
	Run(ctx context.Context, now time.Time) (*orchestrate.RunResult, error)
}

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger
	Builder    SiteBuilder     // nil disables build_site
	Generator  DigestGenerator // nil disables generate_digest
}

// Server exposes the digest archive and site pipeline as MCP tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
	now        func() time.Time
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        cfg.Logger.WithField("component", "mcp"),
		jobManager: NewJobManager(),
		now:        time.Now,
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	count := 0
	add := func(tool mcp.Tool, handler server.ToolHandlerFunc) {
		s.mcpServer.AddTool(tool, handler)
		count++
	}

	add(mcp.NewTool("list_digests",
		mcp.WithDescription("List archived daily digests, newest first"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of digests to return (default: all)"),
		),
	), s.handleListDigests)

	add(mcp.NewTool("get_digest_stats",
		mcp.WithDescription("Analyze one daily digest: entry counts, bot and community entries, label groups"),
		mcp.WithString("date",
			mcp.Description("Digest date as YYYY-MM-DD (defaults to the newest digest)"),
		),
	), s.handleGetDigestStats)

	add(mcp.NewTool("get_label_groups",
		mcp.WithDescription("List the label groups of one daily digest, largest first"),
		mcp.WithString("date",
			mcp.Description("Digest date as YYYY-MM-DD (defaults to the newest digest)"),
		),
		mcp.WithString("label",
			mcp.Description("Return only this label (exact name)"),
		),
	), s.handleGetLabelGroups)

	add(mcp.NewTool("search_digests",
		mcp.WithDescription("Search archived digest entries by pull request title or number"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query (case-insensitive substring match)"),
		),
		mcp.WithString("label",
			mcp.Description("Limit results to entries carrying this label"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of results to return (default: 10, max: 100)"),
		),
	), s.handleSearchDigests)

	if s.cfg.Builder != nil {
		add(mcp.NewTool(JobKindBuild,
			mcp.WithDescription("Rebuild the HTML site in the background. Returns immediately with a job ID."),
		), s.handleBuildSite)
	}

	if s.cfg.Generator != nil {
		add(mcp.NewTool(JobKindGenerate,
			mcp.WithDescription("Generate the digest of one day's merged pull requests in the background. Returns immediately with a job ID."),
			mcp.WithString("date",
				mcp.Description("Digest date as YYYY-MM-DD (defaults to yesterday, UTC)"),
			),
		), s.handleGenerateDigest)
	}

	add(mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status of a build_site or generate_digest job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned when the job was started"),
		),
	), s.handleGetJobStatus)

	s.log.Infof("Registered %d MCP tools", count)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()
	return nil
}
