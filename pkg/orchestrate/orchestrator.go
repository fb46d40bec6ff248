package orchestrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/prdigest/pr-digest/pkg/config"
	"github.com/prdigest/pr-digest/pkg/digest"
	"github.com/prdigest/pr-digest/pkg/github"
	"github.com/prdigest/pr-digest/pkg/models"
	"github.com/prdigest/pr-digest/pkg/site"
	"github.com/prdigest/pr-digest/pkg/storage"
	"github.com/prdigest/pr-digest/pkg/utils"
)

// Source finds and collects the pull requests merged in a window.
type Source interface {
	SearchMerged(ctx context.Context, start, end time.Time) ([]github.SearchHit, error)
	Collect(ctx context.Context, hits []github.SearchHit) ([]*models.PullRequestInfo, error)
}

// Summarizer produces the summary text of one pull request.
type Summarizer interface {
	Prompt(info *models.PullRequestInfo) (string, error)
	PromptHash(prompt string) string
	Complete(ctx context.Context, prompt string) (string, error)
	ModelName() string
}

// SiteBuilder regenerates the HTML site after a digest is written.
type SiteBuilder interface {
	Build(ctx context.Context) (*site.BuildResult, error)
}

// RunResult describes one generation run
type RunResult struct {
	Date        time.Time // digest day (UTC midnight)
	Entries     int       // pull requests in the digest
	Cached      int       // summaries reused from the cache
	ArchivePath string    // written markdown file, empty if nothing was generated
	Duration    time.Duration
	Site        *site.BuildResult
}

// Generator runs the daily pipeline: search, collect, summarize, write the
// archive markdown and rebuild the site.
type Generator struct {
	appCfg     *config.AppConfig
	source     Source
	summarizer Summarizer
	store      storage.SummaryStore
	builder    SiteBuilder
	conv       digest.Conventions
	log        *logrus.Entry
}

// NewGenerator wires the pipeline. store and builder may be nil: a nil store
// disables the summary cache, a nil builder skips the site rebuild.
func NewGenerator(appCfg *config.AppConfig, source Source, summarizer Summarizer, store storage.SummaryStore, builder SiteBuilder, log *logrus.Entry) *Generator {
	return &Generator{
		appCfg:     appCfg,
		source:     source,
		summarizer: summarizer,
		store:      store,
		builder:    builder,
		conv:       digest.DefaultConventions(),
		log:        log.WithField("component", "generator"),
	}
}

// Run generates the digest of the UTC day before now.
// When nothing was merged it returns the result together with an error
// wrapping utils.ErrNoPullRequests, and writes no files.
func (g *Generator) Run(ctx context.Context, now time.Time) (*RunResult, error) {
	startTime := time.Now()
	start, end := github.TargetWindow(now)
	result := &RunResult{Date: start}
	runLog := g.log.WithField("date", start.Format(time.DateOnly))

	if g.appCfg.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.appCfg.GlobalTimeout)
		defer cancel()
	}

	hits, err := g.source.SearchMerged(ctx, start, end)
	if err != nil {
		if errors.Is(err, utils.ErrNoPullRequests) {
			runLog.Infof("There were no PRs merged into %s between %s and %s.",
				g.appCfg.Repository.FullName(), start.Format("2006/01/02"), end.Format("2006/01/02"))
		}
		result.Duration = time.Since(startTime)
		return result, err
	}

	infos, err := g.source.Collect(ctx, hits)
	if err != nil {
		result.Duration = time.Since(startTime)
		return result, err
	}

	entries, cached, err := g.summarizeAll(ctx, infos)
	result.Cached = cached
	if err != nil {
		result.Duration = time.Since(startTime)
		return result, err
	}
	result.Entries = len(entries)

	path, err := g.writeArchive(start, entries)
	if err != nil {
		result.Duration = time.Since(startTime)
		return result, err
	}
	result.ArchivePath = path
	runLog.WithField("file", path).Infof("Wrote digest of %d pull requests", len(entries))

	if g.builder != nil {
		result.Site, err = g.builder.Build(ctx)
		if err != nil {
			result.Duration = time.Since(startTime)
			return result, fmt.Errorf("rebuilding site: %w", err)
		}
	}

	result.Duration = time.Since(startTime)
	g.logSummary(result)
	return result, nil
}

// summarizeAll summarizes infos with at most num_workers model calls in
// flight. Entries keep the search order. The first failure cancels the calls
// still running or queued and is returned.
func (g *Generator) summarizeAll(ctx context.Context, infos []*models.PullRequestInfo) ([]models.DigestEntry, int, error) {
	entries := make([]models.DigestEntry, len(infos))
	fromCache := make([]bool, len(infos))

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel(err)
		}
		mu.Unlock()
	}

	sem := semaphore.NewWeighted(int64(max(g.appCfg.NumWorkers, 1)))
	var wg sync.WaitGroup
	for i, info := range infos {
		if err := sem.Acquire(ctx, 1); err != nil {
			fail(err)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			summary, hit, err := g.summarize(ctx, info)
			if err != nil {
				fail(err)
				return
			}
			fromCache[i] = hit
			entries[i] = models.NewDigestEntry(info, summary)
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, 0, firstErr
	}

	cached := 0
	for _, hit := range fromCache {
		if hit {
			cached++
		}
	}
	return entries, cached, nil
}

// summarize returns the summary of info, reusing a cached one built from the
// same prompt. The bool reports a cache hit.
func (g *Generator) summarize(ctx context.Context, info *models.PullRequestInfo) (string, bool, error) {
	prLog := g.log.WithField("pr", info.Number)

	prompt, err := g.summarizer.Prompt(info)
	if err != nil {
		return "", false, fmt.Errorf("%w: #%d: %w", utils.ErrSummarize, info.Number, err)
	}
	hash := g.summarizer.PromptHash(prompt)
	key := storage.SummaryKey(g.appCfg.Repository.Owner, g.appCfg.Repository.Name, info.Number)

	useCache := g.appCfg.EnableSummaryCache && g.store != nil
	if useCache {
		status, entry, err := g.store.GetSummary(key)
		switch {
		case err != nil:
			prLog.Warnf("Summary cache lookup failed: %v", err)
		case status == models.SummaryStatusSuccess && entry.PromptHash == hash && entry.Summary != "":
			prLog.Debug("Using cached summary")
			return entry.Summary, true, nil
		}
	}

	prLog.Debug("Requesting summary")
	summary, err := g.summarizer.Complete(ctx, prompt)
	now := time.Now().UTC()
	if err != nil {
		if useCache && ctx.Err() == nil {
			g.putSummary(prLog, key, &models.SummaryDBEntry{
				Status:      models.SummaryStatusFailure,
				Model:       g.summarizer.ModelName(),
				PromptHash:  hash,
				ErrorType:   utils.CategorizeError(err),
				LastAttempt: now,
			})
		}
		return "", false, fmt.Errorf("#%d: %w", info.Number, err)
	}

	if useCache {
		g.putSummary(prLog, key, &models.SummaryDBEntry{
			Status:      models.SummaryStatusSuccess,
			Summary:     summary,
			Model:       g.summarizer.ModelName(),
			PromptHash:  hash,
			ProcessedAt: now,
			LastAttempt: now,
		})
	}
	return summary, false, nil
}

func (g *Generator) putSummary(log *logrus.Entry, key string, entry *models.SummaryDBEntry) {
	if err := g.store.PutSummary(key, entry); err != nil {
		log.Warnf("Could not cache summary: %v", err)
	}
}

func (g *Generator) writeArchive(day time.Time, entries []models.DigestEntry) (string, error) {
	var buf bytes.Buffer
	if err := digest.WriteMarkdown(&buf, entries, g.conv); err != nil {
		return "", fmt.Errorf("%w: writing digest markdown: %w", utils.ErrRender, err)
	}

	path := filepath.Join(g.appCfg.ArchivesDir, filepath.FromSlash(utils.DayRelPath(day, ".md")))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("%w: creating archive dir: %w", utils.ErrFilesystem, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, path, err)
	}
	return path, nil
}

// logSummary logs a summary of the run
func (g *Generator) logSummary(r *RunResult) {
	g.log.Info("============================================")
	g.log.Infof("Digest for %s generated in %v", r.Date.Format(time.DateOnly), r.Duration)
	g.log.Infof("  Pull requests: %d (%d summaries from cache)", r.Entries, r.Cached)
	g.log.Infof("  Archive: %s", r.ArchivePath)
	if r.Site != nil {
		g.log.Infof("  Site: %d pages rendered, %d skipped, %d failed", r.Site.Rendered, r.Site.Skipped, r.Site.Failed)
	}
	g.log.Info("============================================")
}
