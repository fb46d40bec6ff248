package summarize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/prdigest/pr-digest/pkg/config"
	"github.com/prdigest/pr-digest/pkg/models"
	"github.com/prdigest/pr-digest/pkg/utils"
)

// Model is the part of a langchaingo LLM the summarizer calls.
type Model interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// NewModel builds the configured provider's client. The API key is read from
// the environment variable named by cfg.APIKeyEnv.
func NewModel(cfg config.LLMConfig, httpClient *http.Client) (Model, error) {
	token := os.Getenv(cfg.APIKeyEnv)
	if token == "" {
		return nil, fmt.Errorf("%w: environment variable %s is not set", utils.ErrConfigValidation, cfg.APIKeyEnv)
	}

	switch cfg.Provider {
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithToken(token), anthropic.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		if httpClient != nil {
			opts = append(opts, anthropic.WithHTTPClient(httpClient))
		}
		return anthropic.New(opts...)
	case "openai":
		opts := []openai.Option{openai.WithToken(token), openai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if httpClient != nil {
			opts = append(opts, openai.WithHTTPClient(httpClient))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unsupported llm.provider %q", utils.ErrConfigValidation, cfg.Provider)
	}
}

// Summarizer turns collected pull request data into markdown summaries.
type Summarizer struct {
	model        Model
	modelName    string
	prompts      PromptBuilder
	maxTokens    int
	timeout      time.Duration
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	log          *logrus.Entry
}

// NewSummarizer wires model to the prompt and retry settings of cfg.
// budget may be nil to disable description truncation.
func NewSummarizer(model Model, cfg *config.AppConfig, budget *Budget, log *logrus.Entry) *Summarizer {
	return &Summarizer{
		model:     model,
		modelName: cfg.LLM.Model,
		prompts: PromptBuilder{
			Repository: cfg.Repository.FullName(),
			MaxFiles:   cfg.GitHub.MaxFiles,
			Budget:     budget,
		},
		maxTokens:    cfg.LLM.MaxTokens,
		timeout:      cfg.LLM.Timeout,
		maxRetries:   cfg.LLM.MaxRetries,
		initialDelay: cfg.InitialRetryDelay,
		maxDelay:     cfg.MaxRetryDelay,
		log:          log.WithField("component", "summarizer"),
	}
}

// ModelName returns the configured model identifier.
func (s *Summarizer) ModelName() string {
	return s.modelName
}

// Prompt returns the user prompt sent for info.
func (s *Summarizer) Prompt(info *models.PullRequestInfo) (string, error) {
	return s.prompts.Build(info)
}

// PromptHash identifies a prompt together with the system prompt and model,
// so cached summaries are invalidated when any of them changes.
func (s *Summarizer) PromptHash(prompt string) string {
	return utils.HashParts(s.modelName, SystemPrompt, prompt)
}

// Summarize builds the prompt for info and returns the model's summary.
func (s *Summarizer) Summarize(ctx context.Context, info *models.PullRequestInfo) (string, error) {
	prompt, err := s.Prompt(info)
	if err != nil {
		return "", fmt.Errorf("%w: #%d: %w", utils.ErrSummarize, info.Number, err)
	}
	out, err := s.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("#%d: %w", info.Number, err)
	}
	return out, nil
}

// Complete sends prompt with the system prompt, retrying failed calls with backoff.
// Each attempt is bounded by the configured timeout.
func (s *Summarizer) Complete(ctx context.Context, prompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.retryDelay(attempt)
			s.log.WithFields(logrus.Fields{"attempt": attempt, "max_retries": s.maxRetries, "delay": delay}).
				Warnf("Retrying model call after error: %v", lastErr)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return "", fmt.Errorf("%w: %w (last error: %v)", utils.ErrSummarize, ctx.Err(), lastErr)
			}
		}

		var out string
		out, lastErr = s.call(ctx, messages)
		if lastErr == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", utils.ErrSummarize, ctx.Err())
		}
	}
	return "", fmt.Errorf("%w: after %d attempts: %w", utils.ErrSummarize, s.maxRetries+1, lastErr)
}

var errEmptyCompletion = errors.New("model returned no text")

func (s *Summarizer) call(ctx context.Context, messages []llms.MessageContent) (string, error) {
	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	opts := []llms.CallOption{}
	if s.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(s.maxTokens))
	}
	resp, err := s.model.GenerateContent(callCtx, messages, opts...)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if resp != nil {
		for _, c := range resp.Choices {
			if c != nil {
				b.WriteString(c.Content)
			}
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", errEmptyCompletion
	}
	return out, nil
}

func (s *Summarizer) retryDelay(attempt int) time.Duration {
	delay := s.initialDelay
	if delay <= 0 {
		delay = time.Second
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if s.maxDelay > 0 && delay >= s.maxDelay {
			return s.maxDelay
		}
	}
	if s.maxDelay > 0 && delay > s.maxDelay {
		return s.maxDelay
	}
	return delay
}
