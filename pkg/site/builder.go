package site

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/prdigest/pr-digest/pkg/config"
	"github.com/prdigest/pr-digest/pkg/digest"
	"github.com/prdigest/pr-digest/pkg/models"
	"github.com/prdigest/pr-digest/pkg/render"
	"github.com/prdigest/pr-digest/pkg/storage"
	"github.com/prdigest/pr-digest/pkg/utils"
)

// IndexFile is the name of the generated site index.
const IndexFile = "index.html"

// BuildResult summarizes one site build.
type BuildResult struct {
	Digests  int
	Rendered int
	Skipped  int
	Failed   int
	Latest   string // archive path of the newest digest, empty if none
	Duration time.Duration
}

// Builder regenerates the HTML site from the archive tree.
type Builder struct {
	appCfg *config.AppConfig
	site   render.Site
	store  storage.PageStore
	log    *logrus.Entry
	now    func() time.Time
}

// NewBuilder creates a builder. store may be nil, which disables incremental builds.
func NewBuilder(appCfg *config.AppConfig, store storage.PageStore, log *logrus.Entry) *Builder {
	return &Builder{
		appCfg: appCfg,
		site:   render.SiteFromConfig(appCfg),
		store:  store,
		log:    log.WithField("component", "site"),
		now:    time.Now,
	}
}

// Build renders every archived digest with at most num_workers pages in
// flight, then writes the index. Page failures are logged and counted; the
// index is still written and the returned error reports how many pages failed.
func (b *Builder) Build(ctx context.Context) (*BuildResult, error) {
	start := time.Now()
	result := &BuildResult{}

	digests, err := ListDigests(b.appCfg.ArchivesDir)
	if err != nil {
		return result, err
	}
	result.Digests = len(digests)
	if err := os.MkdirAll(b.appCfg.OutputsDir, 0755); err != nil {
		return result, fmt.Errorf("%w: creating outputs dir '%s': %w", utils.ErrFilesystem, b.appCfg.OutputsDir, err)
	}

	var rendered, skipped, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(b.appCfg.NumWorkers, 1))
	for _, d := range digests {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			status, err := b.buildPage(d)
			switch status {
			case models.PageStatusRendered:
				rendered.Add(1)
			case models.PageStatusSkipped:
				skipped.Add(1)
			default:
				failed.Add(1)
				b.log.WithFields(logrus.Fields{"file": d.RelPath, "error_type": utils.CategorizeError(err)}).
					Errorf("Failed to render page: %v", err)
			}
			return nil
		})
	}
	err = g.Wait()
	result.Rendered = int(rendered.Load())
	result.Skipped = int(skipped.Load())
	result.Failed = int(failed.Load())
	if err != nil {
		return result, err
	}

	if len(digests) > 0 {
		result.Latest = digests[0].RelPath
	}
	if err := b.writeIndex(digests); err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	b.log.WithFields(logrus.Fields{
		"digests":  result.Digests,
		"rendered": result.Rendered,
		"skipped":  result.Skipped,
		"failed":   result.Failed,
		"duration": result.Duration,
	}).Info("Site build finished")

	if result.Failed > 0 {
		return result, fmt.Errorf("%w: %d of %d pages failed", utils.ErrRender, result.Failed, result.Digests)
	}
	return result, nil
}

// BuildPage renders a single digest, ignoring incremental state.
func (b *Builder) BuildPage(d Digest) error {
	src, err := os.ReadFile(d.Path)
	if err != nil {
		return fmt.Errorf("%w: reading '%s': %w", utils.ErrFilesystem, d.Path, err)
	}
	return b.renderPage(d, src, utils.ContentHash(src))
}

func (b *Builder) buildPage(d Digest) (models.PageStatus, error) {
	src, err := os.ReadFile(d.Path)
	if err != nil {
		return models.PageStatusFailure, fmt.Errorf("%w: reading '%s': %w", utils.ErrFilesystem, d.Path, err)
	}
	hash := utils.ContentHash(src)

	if b.unchanged(d, hash) {
		b.log.WithField("file", d.RelPath).Debug("Source unchanged, skipping page")
		return models.PageStatusSkipped, nil
	}

	if err := b.renderPage(d, src, hash); err != nil {
		b.recordPage(d, &models.PageDBEntry{Status: models.PageStatusFailure})
		return models.PageStatusFailure, err
	}
	return models.PageStatusRendered, nil
}

func (b *Builder) renderPage(d Digest, src []byte, hash string) error {
	page, res, err := render.Page(d.Day, src, b.site)
	if err != nil {
		return err
	}

	outPath := filepath.Join(b.appCfg.OutputsDir, filepath.FromSlash(d.PageRelPath()))
	if err := writeFile(outPath, page); err != nil {
		return err
	}

	if config.GetEffectiveEnableStatsYAML(b.appCfg.Site, *b.appCfg) {
		if err := b.writeStats(d, res); err != nil {
			return err
		}
	}

	b.recordPage(d, &models.PageDBEntry{Status: models.PageStatusRendered, ContentHash: hash, RenderedAt: b.now().UTC()})
	b.log.WithFields(logrus.Fields{"file": d.RelPath, "entries": res.TotalEntryCount()}).Debug("Rendered page")
	return nil
}

// unchanged reports whether the page was rendered from the same source before
// and its output still exists.
func (b *Builder) unchanged(d Digest, hash string) bool {
	if !b.appCfg.EnableIncrementalBuild || b.store == nil {
		return false
	}
	stored, ok, err := b.store.GetPageHash(d.PageRelPath())
	if err != nil {
		b.log.WithField("file", d.RelPath).Warnf("Could not read page state: %v", err)
		return false
	}
	if !ok || stored != hash {
		return false
	}
	_, err = os.Stat(filepath.Join(b.appCfg.OutputsDir, filepath.FromSlash(d.PageRelPath())))
	return err == nil
}

func (b *Builder) recordPage(d Digest, entry *models.PageDBEntry) {
	if b.store == nil {
		return
	}
	if err := b.store.PutPage(d.PageRelPath(), entry); err != nil {
		b.log.WithField("file", d.RelPath).Warnf("Could not record page state: %v", err)
	}
}

// StatsPath returns where the stats YAML of d is written.
func (b *Builder) StatsPath(d Digest) string {
	name := utils.SanitizeFilename(config.GetEffectiveStatsYAMLFilename(b.appCfg.Site, *b.appCfg))
	day := fmt.Sprintf("%02d", d.Day.Day())
	return filepath.Join(b.appCfg.OutputsDir, d.Day.Format("2006"), d.Day.Format("01"), day+"."+name)
}

func (b *Builder) writeStats(d Digest, res *digest.AnalysisResult) error {
	data, err := yaml.Marshal(StatsFor(d, res, b.now().UTC()))
	if err != nil {
		return fmt.Errorf("%w: encoding stats YAML for '%s': %w", utils.ErrParsing, d.RelPath, err)
	}
	return writeFile(b.StatsPath(d), data)
}

func (b *Builder) writeIndex(digests []Digest) error {
	months := MonthGroups(digests)

	var latest *render.LatestDigest
	if len(digests) > 0 {
		d := digests[0]
		latest = &render.LatestDigest{DayLink: dayLink(d)}
		if res, err := AnalyzeFile(d.Path); err != nil {
			b.log.WithField("file", d.RelPath).Warnf("Could not analyze latest digest: %v", err)
		} else {
			stats := render.StatsOf(res)
			latest.Stats = &stats
		}
	}

	page, err := render.Index(months, latest, b.site)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(b.appCfg.OutputsDir, IndexFile), page)
}

// MonthGroups groups digests (newest first) into year/month lists for the index.
func MonthGroups(digests []Digest) []render.MonthGroup {
	var groups []render.MonthGroup
	for _, d := range digests {
		year, month := d.Day.Format("2006"), d.Day.Format("01")
		if n := len(groups); n == 0 || groups[n-1].Year != year || groups[n-1].Month != month {
			groups = append(groups, render.MonthGroup{Year: year, Month: month})
		}
		last := &groups[len(groups)-1]
		last.Days = append(last.Days, dayLink(d))
	}
	return groups
}

func dayLink(d Digest) render.DayLink {
	return render.DayLink{
		Href:  "./" + d.PageRelPath(),
		Label: utils.JapaneseDate(d.Day),
	}
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: creating directory for '%s': %w", utils.ErrFilesystem, path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, path, err)
	}
	return nil
}
