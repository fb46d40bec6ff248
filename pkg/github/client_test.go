package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prdigest/pr-digest/pkg/config"
	"github.com/prdigest/pr-digest/pkg/models"
	"github.com/prdigest/pr-digest/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testConfig(baseURL string) *config.AppConfig {
	cfg := &config.AppConfig{
		Repository:        config.RepositoryConfig{Owner: "dotnet", Name: "runtime"},
		ArchivesDir:       "a",
		OutputsDir:        "o",
		StateDir:          "s",
		NumWorkers:        2,
		MaxRetries:        1,
		InitialRetryDelay: time.Millisecond,
		MaxRetryDelay:     5 * time.Millisecond,
		GitHub:            config.GitHubConfig{BaseURL: baseURL, TokenEnv: "PRDIGEST_TEST_TOKEN"},
	}
	if _, err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

// fakeGitHub serves the endpoints used by Collect for PR numbers 1 and 2.
func fakeGitHub(t *testing.T, searchPages []string) (*httptest.Server, *atomic.Value) {
	t.Helper()
	lastAuth := &atomic.Value{}
	lastAuth.Store("")
	mux := http.NewServeMux()

	var server *httptest.Server
	mux.HandleFunc("/search/issues", func(w http.ResponseWriter, r *http.Request) {
		lastAuth.Store(r.Header.Get("Authorization"))
		page := 1
		fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)
		if page < len(searchPages) {
			w.Header().Set("Link", fmt.Sprintf(`<%s/search/issues?page=%d>; rel="next"`, server.URL, page+1))
		}
		io.WriteString(w, searchPages[page-1])
	})
	for _, n := range []int{1, 2} {
		mux.HandleFunc(fmt.Sprintf("/repos/dotnet/runtime/pulls/%d", n), func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"number":%d,"merged_at":"2025-03-01T1%d:00:00Z","body":"from pulls"}`, n, n)
		})
		mux.HandleFunc(fmt.Sprintf("/repos/dotnet/runtime/pulls/%d/files", n), func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `[{"filename":"src/a.cs","status":"modified","additions":3,"deletions":1,"changes":4}]`)
		})
		mux.HandleFunc(fmt.Sprintf("/repos/dotnet/runtime/issues/%d/comments", n), func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `[{"user":{"login":"bob"},"body":"LGTM","created_at":"2025-03-01T08:00:00Z"}]`)
		})
		mux.HandleFunc(fmt.Sprintf("/repos/dotnet/runtime/pulls/%d/reviews", n), func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `[{"user":{"login":"copilot-pull-request-reviewer[bot]"},"state":"COMMENTED","body":"overview","submitted_at":"2025-03-01T07:00:00Z"}]`)
		})
	}

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, lastAuth
}

const (
	searchPage1 = `{"total_count":2,"items":[{"number":1,"title":"Fix parser","html_url":"https://github.com/dotnet/runtime/pull/1",
		"user":{"login":"alice","html_url":"https://github.com/alice"},"body":"body one","created_at":"2025-02-27T09:30:00Z",
		"labels":[{"name":"bug","color":"d73a4a"}]}]}`
	searchPage2 = `{"total_count":2,"items":[{"number":2,"title":"Bump deps","html_url":"https://github.com/dotnet/runtime/pull/2",
		"user":{"login":"dependabot[bot]","html_url":"https://github.com/apps/dependabot"},"created_at":"2025-02-28T09:30:00Z"}]}`
)

func TestTargetWindow(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "mid day",
			now:       time.Date(2025, 3, 2, 15, 4, 5, 0, time.UTC),
			wantStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 3, 1, 23, 59, 59, 0, time.UTC),
		},
		{
			name:      "month boundary",
			now:       time.Date(2025, 3, 1, 0, 0, 1, 0, time.UTC),
			wantStart: time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 2, 28, 23, 59, 59, 0, time.UTC),
		},
		{
			name:      "non-UTC input normalized",
			now:       time.Date(2025, 3, 2, 8, 0, 0, 0, time.FixedZone("JST", 9*3600)),
			wantStart: time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 2, 28, 23, 59, 59, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := TargetWindow(tt.now)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestSearchQuery(t *testing.T) {
	start, end := TargetWindow(time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC))
	assert.Equal(t,
		"repo:dotnet/runtime is:pr is:merged merged:2025-03-01T00:00:00Z..2025-03-01T23:59:59Z",
		searchQuery("dotnet", "runtime", start, end))
}

func TestSearchMerged_Paginates(t *testing.T) {
	server, _ := fakeGitHub(t, []string{searchPage1, searchPage2})
	c, err := NewClient(server.Client(), testConfig(server.URL), testLogger())
	require.NoError(t, err)

	start, end := TargetWindow(time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	hits, err := c.SearchMerged(context.Background(), start, end)
	require.NoError(t, err)

	require.Len(t, hits, 2)
	assert.Equal(t, 1, hits[0].Number)
	assert.Equal(t, "alice", hits[0].Author)
	assert.Equal(t, "https://github.com/alice", hits[0].AuthorURL)
	assert.Equal(t, []models.Label{{Name: "bug", Color: "d73a4a"}}, hits[0].Labels)
	assert.Equal(t, "dependabot[bot]", hits[1].Author)
	assert.Empty(t, hits[1].Labels)
}

func TestSearchMerged_Empty(t *testing.T) {
	server, _ := fakeGitHub(t, []string{`{"total_count":0,"items":[]}`})
	c, err := NewClient(server.Client(), testConfig(server.URL), testLogger())
	require.NoError(t, err)

	_, err = c.SearchMerged(context.Background(), time.Now(), time.Now())
	require.ErrorIs(t, err, utils.ErrNoPullRequests)
}

func TestCollect(t *testing.T) {
	server, _ := fakeGitHub(t, []string{searchPage1, searchPage2})
	c, err := NewClient(server.Client(), testConfig(server.URL), testLogger())
	require.NoError(t, err)

	hits, err := c.SearchMerged(context.Background(), time.Now(), time.Now())
	require.NoError(t, err)

	infos, err := c.Collect(context.Background(), hits)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	first := infos[0]
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, "body one", first.Body, "search body preferred")
	assert.Equal(t, time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC), first.MergedAt.UTC())
	assert.Equal(t, []models.FileChange{{Filename: "src/a.cs", Status: "modified", Additions: 3, Deletions: 1, Changes: 4}}, first.Files)
	require.Len(t, first.Comments, 1)
	assert.Equal(t, "bob", first.Comments[0].Author)
	require.Len(t, first.Reviews, 1)
	assert.Equal(t, "copilot-pull-request-reviewer[bot]", first.Reviews[0].Reviewer)
	assert.Equal(t, "overview", first.Reviews[0].Body)

	assert.Equal(t, 2, infos[1].Number)
	assert.Equal(t, "from pulls", infos[1].Body, "falls back to pull request body")
}

func TestCollect_MissingPullRequest(t *testing.T) {
	server, _ := fakeGitHub(t, []string{searchPage1})
	c, err := NewClient(server.Client(), testConfig(server.URL), testLogger())
	require.NoError(t, err)

	_, err = c.Collect(context.Background(), []SearchHit{{Number: 404}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pull request #404")
}

func TestNewHTTPClient_SendsToken(t *testing.T) {
	t.Setenv("PRDIGEST_TEST_TOKEN", "s3cret")
	server, lastAuth := fakeGitHub(t, []string{searchPage1})
	cfg := testConfig(server.URL)

	c, err := NewClient(NewHTTPClient(cfg, testLogger()), cfg, testLogger())
	require.NoError(t, err)

	_, err = c.SearchMerged(context.Background(), time.Now(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", lastAuth.Load())
}

func TestNewClient_BadBaseURL(t *testing.T) {
	cfg := testConfig("://bad")
	_, err := NewClient(http.DefaultClient, cfg, testLogger())
	require.ErrorIs(t, err, utils.ErrConfigValidation)
}
