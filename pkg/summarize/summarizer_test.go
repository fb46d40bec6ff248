package summarize

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/prdigest/pr-digest/pkg/config"
	"github.com/prdigest/pr-digest/pkg/models"
	"github.com/prdigest/pr-digest/pkg/utils"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// fakeModel fails the first `failures` calls, then answers with reply.
type fakeModel struct {
	mu       sync.Mutex
	failures int
	reply    string
	calls    int
	messages []llms.MessageContent
	opts     llms.CallOptions
	deadline bool
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.messages = messages
	for _, opt := range options {
		opt(&f.opts)
	}
	_, f.deadline = ctx.Deadline()
	if f.calls <= f.failures {
		return nil, errors.New("overloaded")
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func testConfig(retries int) *config.AppConfig {
	return &config.AppConfig{
		Repository:        config.RepositoryConfig{Owner: "dotnet", Name: "runtime"},
		InitialRetryDelay: time.Millisecond,
		MaxRetryDelay:     2 * time.Millisecond,
		GitHub:            config.GitHubConfig{MaxFiles: 30},
		LLM: config.LLMConfig{
			Model:      "claude-haiku-4-5",
			MaxTokens:  1024,
			Timeout:    time.Minute,
			MaxRetries: retries,
		},
	}
}

func samplePR() *models.PullRequestInfo {
	return &models.PullRequestInfo{
		Number: 42,
		Title:  "Vectorize IndexOf",
		Author: "alice",
		Body:   "Uses Vector128.",
		Files:  []models.FileChange{{Filename: "src/a.cs", Additions: 3, Deletions: 1, Changes: 4}},
	}
}

func TestSummarize_SendsSystemAndUserMessages(t *testing.T) {
	model := &fakeModel{reply: "  #### 概要\n速くなりました。\n"}
	s := NewSummarizer(model, testConfig(0), nil, testLogger())

	out, err := s.Summarize(context.Background(), samplePR())
	require.NoError(t, err)
	assert.Equal(t, "#### 概要\n速くなりました。", out)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)

	system, ok := model.messages[0].Parts[0].(llms.TextContent)
	require.True(t, ok)
	assert.Equal(t, SystemPrompt, system.Text)

	user, ok := model.messages[1].Parts[0].(llms.TextContent)
	require.True(t, ok)
	assert.Contains(t, user.Text, "- Vectorize IndexOf #42")

	assert.Equal(t, 1024, model.opts.MaxTokens)
	assert.True(t, model.deadline, "each call should carry the configured timeout")
}

func TestSummarize_RetriesThenSucceeds(t *testing.T) {
	model := &fakeModel{failures: 2, reply: "ok"}
	s := NewSummarizer(model, testConfig(3), nil, testLogger())

	out, err := s.Summarize(context.Background(), samplePR())
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, model.calls)
}

func TestSummarize_GivesUpAfterMaxRetries(t *testing.T) {
	model := &fakeModel{failures: 10, reply: "never"}
	s := NewSummarizer(model, testConfig(2), nil, testLogger())

	_, err := s.Summarize(context.Background(), samplePR())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrSummarize)
	assert.Contains(t, err.Error(), "overloaded")
	assert.Contains(t, err.Error(), "#42")
	assert.Equal(t, 3, model.calls)
	assert.Equal(t, "LLM_Summarize", utils.CategorizeError(err))
}

func TestSummarize_EmptyCompletionIsAnError(t *testing.T) {
	model := &fakeModel{reply: "   "}
	s := NewSummarizer(model, testConfig(1), nil, testLogger())

	_, err := s.Summarize(context.Background(), samplePR())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrSummarize)
	assert.ErrorIs(t, err, errEmptyCompletion)
	assert.Equal(t, 2, model.calls)
}

func TestSummarize_CancelledContext(t *testing.T) {
	model := &fakeModel{failures: 10}
	cfg := testConfig(5)
	cfg.InitialRetryDelay = time.Hour
	cfg.MaxRetryDelay = time.Hour
	s := NewSummarizer(model, cfg, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := s.Summarize(ctx, samplePR())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, utils.ErrSummarize)
	assert.Equal(t, 1, model.calls)
}

func TestPromptHash(t *testing.T) {
	s := NewSummarizer(&fakeModel{}, testConfig(0), nil, testLogger())
	h1 := s.PromptHash("prompt")
	assert.Len(t, h1, 64)
	assert.Equal(t, h1, s.PromptHash("prompt"))
	assert.NotEqual(t, h1, s.PromptHash("prompt 2"))

	other := testConfig(0)
	other.LLM.Model = "another-model"
	s2 := NewSummarizer(&fakeModel{}, other, nil, testLogger())
	assert.NotEqual(t, h1, s2.PromptHash("prompt"))
}

func TestRetryDelay(t *testing.T) {
	s := &Summarizer{initialDelay: time.Second, maxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, s.retryDelay(1))
	assert.Equal(t, 2*time.Second, s.retryDelay(2))
	assert.Equal(t, 4*time.Second, s.retryDelay(3))
	assert.Equal(t, 5*time.Second, s.retryDelay(4))
	assert.Equal(t, 5*time.Second, s.retryDelay(10))
}

func TestNewModel(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		t.Setenv("PRDIGEST_TEST_LLM_KEY", "")
		_, err := NewModel(config.LLMConfig{Provider: "anthropic", Model: "m", APIKeyEnv: "PRDIGEST_TEST_LLM_KEY"}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrConfigValidation)
	})

	t.Run("unknown provider", func(t *testing.T) {
		t.Setenv("PRDIGEST_TEST_LLM_KEY", "secret")
		_, err := NewModel(config.LLMConfig{Provider: "bard", Model: "m", APIKeyEnv: "PRDIGEST_TEST_LLM_KEY"}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrConfigValidation)
	})

	for _, provider := range []string{"anthropic", "openai"} {
		t.Run(provider, func(t *testing.T) {
			t.Setenv("PRDIGEST_TEST_LLM_KEY", "secret")
			m, err := NewModel(config.LLMConfig{Provider: provider, Model: "m", APIKeyEnv: "PRDIGEST_TEST_LLM_KEY"}, nil)
			require.NoError(t, err)
			assert.NotNil(t, m)
		})
	}
}
