package config

import "time"

// RepositoryConfig identifies the GitHub repository digests are generated for
type RepositoryConfig struct {
	Owner string `yaml:"owner"`
	Name  string `yaml:"name"`
}

// FullName returns "owner/name"
func (r RepositoryConfig) FullName() string {
	return r.Owner + "/" + r.Name
}

// GitHubConfig holds settings for the GitHub REST client
type GitHubConfig struct {
	TokenEnv     string        `yaml:"token_env,omitempty"`      // Environment variable holding the API token
	UserAgent    string        `yaml:"user_agent,omitempty"`     // User-Agent sent with every API request
	BaseURL      string        `yaml:"base_url,omitempty"`       // API base URL override (GitHub Enterprise)
	PerPage      int           `yaml:"per_page,omitempty"`       // Page size for search and list calls
	MaxFiles     int           `yaml:"max_files,omitempty"`      // Changed files listed per prompt before the overflow line
	DelayPerHost time.Duration `yaml:"delay_per_host,omitempty"` // Minimum delay between API calls (0 = use default_delay_per_host)
}

// LLMConfig holds settings for the summarization model
type LLMConfig struct {
	Provider        string        `yaml:"provider,omitempty"`          // "anthropic" or "openai"
	Model           string        `yaml:"model,omitempty"`             // Model name passed to the provider
	APIKeyEnv       string        `yaml:"api_key_env,omitempty"`       // Environment variable holding the API key
	BaseURL         string        `yaml:"base_url,omitempty"`          // Provider endpoint override
	MaxTokens       int           `yaml:"max_tokens,omitempty"`        // Completion token limit
	Timeout         time.Duration `yaml:"timeout,omitempty"`           // Timeout for a single model call
	MaxRetries      int           `yaml:"max_retries,omitempty"`       // Attempts after the first failed call
	MaxPromptTokens int           `yaml:"max_prompt_tokens,omitempty"` // PR body budget before truncation
	TokenEncoding   string        `yaml:"token_encoding,omitempty"`    // tiktoken encoding used for counting
}

// SiteConfig holds presentation settings for the generated HTML site
type SiteConfig struct {
	Title             string `yaml:"title,omitempty"`
	Subtitle          string `yaml:"subtitle,omitempty"`
	BaseURL           string `yaml:"base_url,omitempty"`
	Author            string `yaml:"author,omitempty"`
	Description       string `yaml:"description,omitempty"`
	EnableStatsYAML   *bool  `yaml:"enable_stats_yaml,omitempty"`
	StatsYAMLFilename string `yaml:"stats_yaml_filename,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	Repository             RepositoryConfig `yaml:"repository"`
	ArchivesDir            string           `yaml:"archives_dir"`
	OutputsDir             string           `yaml:"outputs_dir"`
	StateDir               string           `yaml:"state_dir"`
	NumWorkers             int              `yaml:"num_workers"`
	MaxRetries             int              `yaml:"max_retries,omitempty"`
	InitialRetryDelay      time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay          time.Duration    `yaml:"max_retry_delay,omitempty"`
	DefaultDelayPerHost    time.Duration    `yaml:"default_delay_per_host,omitempty"`
	GlobalTimeout          time.Duration    `yaml:"global_timeout,omitempty"`
	HTTPClientSettings     HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	GitHub                 GitHubConfig     `yaml:"github,omitempty"`
	LLM                    LLMConfig        `yaml:"llm,omitempty"`
	Site                   SiteConfig       `yaml:"site,omitempty"`
	EnableSummaryCache     bool             `yaml:"enable_summary_cache,omitempty"`
	EnableIncrementalBuild bool             `yaml:"enable_incremental_build,omitempty"`
	EnableStatsYAML        bool             `yaml:"enable_stats_yaml,omitempty"`
	StatsYAMLFilename      string           `yaml:"stats_yaml_filename,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// GetEffectiveEnableStatsYAML determines if a stats YAML file is written next to each page
func GetEffectiveEnableStatsYAML(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.EnableStatsYAML != nil {
		return *siteCfg.EnableStatsYAML
	}
	return appCfg.EnableStatsYAML
}

// GetEffectiveStatsYAMLFilename determines the filename suffix for page stats
// Site config (if non-empty) overrides global
func GetEffectiveStatsYAMLFilename(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.StatsYAMLFilename != "" {
		return siteCfg.StatsYAMLFilename
	}
	if appCfg.StatsYAMLFilename != "" {
		return appCfg.StatsYAMLFilename
	}
	return "stats.yaml"
}

// GetEffectiveGitHubDelay returns the delay between GitHub API calls
func GetEffectiveGitHubDelay(appCfg AppConfig) time.Duration {
	if appCfg.GitHub.DelayPerHost > 0 {
		return appCfg.GitHub.DelayPerHost
	}
	return appCfg.DefaultDelayPerHost
}
