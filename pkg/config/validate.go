package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/prdigest/pr-digest/pkg/utils"
)

// Supported LLM providers and the API key variables they read by default
var defaultAPIKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// Repository (required)
	c.Repository.Owner = strings.TrimSpace(c.Repository.Owner)
	c.Repository.Name = strings.TrimSpace(c.Repository.Name)
	if c.Repository.Owner == "" || c.Repository.Name == "" {
		return warnings, fmt.Errorf("%w: repository needs owner and name", utils.ErrConfigValidation)
	}
	if strings.Contains(c.Repository.Owner, "/") || strings.Contains(c.Repository.Name, "/") {
		return warnings, fmt.Errorf("%w: repository owner and name must not contain '/'", utils.ErrConfigValidation)
	}

	// NumWorkers
	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 4")
		c.NumWorkers = 4
	}

	// Directories
	if c.ArchivesDir == "" {
		warnings = append(warnings, "archives_dir is empty, defaulting to './archives'")
		c.ArchivesDir = "./archives"
	}
	if c.OutputsDir == "" {
		warnings = append(warnings, "outputs_dir is empty, defaulting to './outputs'")
		c.OutputsDir = "./outputs"
	}
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './state'")
		c.StateDir = "./state"
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// DefaultDelayPerHost
	if c.DefaultDelayPerHost < 0 {
		warnings = append(warnings, "default_delay_per_host cannot be negative, setting to 0")
		c.DefaultDelayPerHost = 0
	}

	// GlobalTimeout
	if c.GlobalTimeout < 0 {
		warnings = append(warnings, "global_timeout cannot be negative, disabling timeout")
		c.GlobalTimeout = 0
	}

	c.validateHTTPClientSettings()
	warnings = append(warnings, c.validateGitHub()...)

	llmWarnings, err := c.validateLLM()
	warnings = append(warnings, llmWarnings...)
	if err != nil {
		return warnings, err
	}

	c.validateSite()

	// Stats YAML filename
	if c.EnableStatsYAML && c.StatsYAMLFilename == "" {
		warnings = append(warnings,
			"Global 'enable_stats_yaml' is true but 'stats_yaml_filename' is empty. "+
				"Defaulting to 'stats.yaml'")
		c.StatsYAMLFilename = "stats.yaml"
	}

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 10
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

func (c *AppConfig) validateGitHub() (warnings []string) {
	g := &c.GitHub
	if g.TokenEnv == "" {
		g.TokenEnv = "GITHUB_TOKEN"
	}
	if g.UserAgent == "" {
		g.UserAgent = "pr-digest/1.0"
	}
	if g.PerPage <= 0 {
		g.PerPage = 100
	} else if g.PerPage > 100 {
		warnings = append(warnings, "github.per_page cannot exceed 100, clamping")
		g.PerPage = 100
	}
	if g.MaxFiles <= 0 {
		g.MaxFiles = 30
	}
	if g.DelayPerHost < 0 {
		warnings = append(warnings, "github.delay_per_host cannot be negative, using default_delay_per_host")
		g.DelayPerHost = 0
	}
	return warnings
}

func (c *AppConfig) validateLLM() (warnings []string, err error) {
	l := &c.LLM
	l.Provider = strings.ToLower(strings.TrimSpace(l.Provider))
	if l.Provider == "" {
		l.Provider = "anthropic"
	}
	keyEnv, ok := defaultAPIKeyEnv[l.Provider]
	if !ok {
		return warnings, fmt.Errorf("%w: unsupported llm.provider %q", utils.ErrConfigValidation, l.Provider)
	}
	if l.APIKeyEnv == "" {
		l.APIKeyEnv = keyEnv
	}
	if l.Model == "" {
		if l.Provider == "anthropic" {
			l.Model = "claude-haiku-4-5"
		} else {
			warnings = append(warnings, "llm.model is empty, defaulting to 'gpt-4o-mini'")
			l.Model = "gpt-4o-mini"
		}
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = 1024
	}
	if l.Timeout <= 0 {
		l.Timeout = 5 * time.Minute
	}
	if l.MaxRetries == 0 {
		l.MaxRetries = 3
	} else if l.MaxRetries < 0 {
		warnings = append(warnings, "llm.max_retries cannot be negative, setting to 0")
		l.MaxRetries = 0
	}
	if l.MaxPromptTokens <= 0 {
		l.MaxPromptTokens = 6000
	}
	if l.TokenEncoding == "" {
		l.TokenEncoding = "cl100k_base"
	}
	return warnings, nil
}

func (c *AppConfig) validateSite() {
	s := &c.Site
	if s.Title == "" {
		s.Title = "PR Digest"
	}
	if s.Subtitle == "" {
		s.Subtitle = c.Repository.FullName() + "にマージされたPull RequestをAIで日本語要約"
	}
	if s.Description == "" {
		s.Description = s.Subtitle
	}
	s.BaseURL = strings.TrimSuffix(s.BaseURL, "/")
}
