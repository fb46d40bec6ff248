package site

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/prdigest/pr-digest/pkg/config"
	"github.com/prdigest/pr-digest/pkg/digest"
	"github.com/prdigest/pr-digest/pkg/models"
	"github.com/prdigest/pr-digest/pkg/utils"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

type memPageStore struct {
	mu    sync.Mutex
	pages map[string]models.PageDBEntry
	puts  int
}

func newMemPageStore() *memPageStore {
	return &memPageStore{pages: make(map[string]models.PageDBEntry)}
}

func (m *memPageStore) GetPageHash(relPath string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.pages[relPath]
	if !ok || e.Status != models.PageStatusRendered || e.ContentHash == "" {
		return "", false, nil
	}
	return e.ContentHash, true, nil
}

func (m *memPageStore) PutPage(relPath string, entry *models.PageDBEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[relPath] = *entry
	m.puts++
	return nil
}

func testAppConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	root := t.TempDir()
	cfg := &config.AppConfig{
		Repository:  config.RepositoryConfig{Owner: "dotnet", Name: "runtime"},
		ArchivesDir: filepath.Join(root, "archives"),
		OutputsDir:  filepath.Join(root, "outputs"),
		StateDir:    filepath.Join(root, "state"),
		NumWorkers:  2,
	}
	_, err := cfg.Validate()
	require.NoError(t, err)
	return cfg
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func writeDigest(t *testing.T, cfg *config.AppConfig, when time.Time, entries ...models.DigestEntry) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, digest.WriteMarkdown(&buf, entries, digest.DefaultConventions()))
	path := filepath.Join(cfg.ArchivesDir, filepath.FromSlash(utils.DayRelPath(when, ".md")))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func entry(number int, author string, labels ...models.Label) models.DigestEntry {
	return models.DigestEntry{
		Number:    number,
		Title:     "Change " + author,
		URL:       "https://github.com/dotnet/runtime/pull/1",
		Author:    author,
		AuthorURL: "https://github.com/" + author,
		CreatedAt: day(2025, 2, 27),
		MergedAt:  day(2025, 2, 28),
		Labels:    labels,
		Summary:   "#### 概要\n要約です。",
	}
}

func TestListDigests(t *testing.T) {
	cfg := testAppConfig(t)
	writeDigest(t, cfg, day(2025, 2, 28), entry(1, "alice"))
	writeDigest(t, cfg, day(2025, 3, 2), entry(2, "bob"))
	writeDigest(t, cfg, day(2024, 12, 31), entry(3, "carol"))

	// Ignored: wrong depth, bad name, wrong extension.
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ArchivesDir, "README.md"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ArchivesDir, "2025", "03", "notes.md"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ArchivesDir, "2025", "03", "03.txt"), []byte("x"), 0644))

	digests, err := ListDigests(cfg.ArchivesDir)
	require.NoError(t, err)
	require.Len(t, digests, 3)
	assert.Equal(t, "2025/03/02.md", digests[0].RelPath)
	assert.Equal(t, "2025/02/28.md", digests[1].RelPath)
	assert.Equal(t, "2024/12/31.md", digests[2].RelPath)
	assert.Equal(t, "2025/03/02.html", digests[0].PageRelPath())
}

func TestListDigests_MissingDir(t *testing.T) {
	digests, err := ListDigests(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, digests)
}

func TestFindDigest(t *testing.T) {
	cfg := testAppConfig(t)
	writeDigest(t, cfg, day(2025, 3, 1), entry(1, "alice"))

	d, err := FindDigest(cfg.ArchivesDir, time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2025/03/01.md", d.RelPath)
	assert.Equal(t, day(2025, 3, 1), d.Day)

	_, err = FindDigest(cfg.ArchivesDir, day(2025, 3, 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrFilesystem)
}

func TestMonthGroups(t *testing.T) {
	digests := []Digest{
		{Day: day(2025, 3, 2), RelPath: "2025/03/02.md"},
		{Day: day(2025, 3, 1), RelPath: "2025/03/01.md"},
		{Day: day(2025, 2, 28), RelPath: "2025/02/28.md"},
		{Day: day(2024, 12, 31), RelPath: "2024/12/31.md"},
	}
	groups := MonthGroups(digests)
	require.Len(t, groups, 3)
	assert.Equal(t, "2025", groups[0].Year)
	assert.Equal(t, "03", groups[0].Month)
	require.Len(t, groups[0].Days, 2)
	assert.Equal(t, "./2025/03/02.html", groups[0].Days[0].Href)
	assert.Equal(t, "2025年03月02日", groups[0].Days[0].Label)
	assert.Equal(t, "02", groups[1].Month)
	assert.Equal(t, "2024", groups[2].Year)
	assert.Equal(t, "12", groups[2].Month)
}

func TestBuild(t *testing.T) {
	cfg := testAppConfig(t)
	bug := models.Label{Name: "bug", Color: "d73a4a"}
	writeDigest(t, cfg, day(2025, 2, 28), entry(1, "alice"))
	writeDigest(t, cfg, day(2025, 3, 1), entry(10, "alice", bug), entry(11, "dependabot[bot]"))

	b := NewBuilder(cfg, nil, testLogger())
	res, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Digests)
	assert.Equal(t, 2, res.Rendered)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, "2025/03/01.md", res.Latest)

	page, err := os.ReadFile(filepath.Join(cfg.OutputsDir, "2025", "03", "01.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "Pull Request on 2025年03月01日")
	assert.Contains(t, string(page), "Bot PRs")

	index, err := os.ReadFile(filepath.Join(cfg.OutputsDir, IndexFile))
	require.NoError(t, err)
	html := string(index)
	assert.Contains(t, html, `<a href="./2025/03/01.html">2025年03月01日</a>`)
	assert.Contains(t, html, "2025年02月")
	assert.Contains(t, html, `<div class="stat-value">2</div>`)
	assert.Contains(t, html, `<div class="stat-value">1</div>`)

	_, err = os.Stat(b.StatsPath(Digest{Day: day(2025, 3, 1)}))
	assert.True(t, os.IsNotExist(err), "stats YAML is off by default")
}

func TestBuild_EmptyArchive(t *testing.T) {
	cfg := testAppConfig(t)
	res, err := NewBuilder(cfg, nil, testLogger()).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Digests)
	assert.Empty(t, res.Latest)

	index, err := os.ReadFile(filepath.Join(cfg.OutputsDir, IndexFile))
	require.NoError(t, err)
	assert.NotContains(t, string(index), "最新のダイジェスト")
}

func TestBuild_Incremental(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.EnableIncrementalBuild = true
	writeDigest(t, cfg, day(2025, 3, 1), entry(1, "alice"))
	path := writeDigest(t, cfg, day(2025, 3, 2), entry(2, "bob"))

	store := newMemPageStore()
	b := NewBuilder(cfg, store, testLogger())

	res, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rendered)
	assert.Equal(t, models.PageStatusRendered, store.pages["2025/03/02.html"].Status)

	res, err = b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Rendered)
	assert.Equal(t, 2, res.Skipped)

	// Changing a source re-renders only that page.
	var buf bytes.Buffer
	require.NoError(t, digest.WriteMarkdown(&buf, []models.DigestEntry{entry(2, "bob"), entry(3, "carol")}, digest.DefaultConventions()))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	res, err = b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rendered)
	assert.Equal(t, 1, res.Skipped)

	// A deleted output is rebuilt even when the source is unchanged.
	require.NoError(t, os.Remove(filepath.Join(cfg.OutputsDir, "2025", "03", "01.html")))
	res, err = b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rendered)
}

func TestBuild_IncrementalDisabledIgnoresStore(t *testing.T) {
	cfg := testAppConfig(t)
	writeDigest(t, cfg, day(2025, 3, 1), entry(1, "alice"))
	b := NewBuilder(cfg, newMemPageStore(), testLogger())

	for range 2 {
		res, err := b.Build(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, res.Rendered)
	}
}

func TestBuild_StatsYAML(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.EnableStatsYAML = true
	cfg.StatsYAMLFilename = "stats.yaml"
	bug := models.Label{Name: "bug", Color: "d73a4a"}
	writeDigest(t, cfg, day(2025, 3, 1), entry(10, "alice", bug), entry(11, "renovate[bot]", bug))

	b := NewBuilder(cfg, nil, testLogger())
	_, err := b.Build(context.Background())
	require.NoError(t, err)

	path := b.StatsPath(Digest{Day: day(2025, 3, 1)})
	assert.Equal(t, filepath.Join(cfg.OutputsDir, "2025", "03", "01.stats.yaml"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var stats models.DigestStats
	require.NoError(t, yaml.Unmarshal(data, &stats))
	assert.Equal(t, "2025-03-01", stats.Date)
	assert.Equal(t, "2025/03/01.md", stats.SourceFile)
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.BotEntries)
	assert.Equal(t, 1, stats.LabelCount)
	require.Len(t, stats.Labels, 1)
	assert.Equal(t, "bug", stats.Labels[0].Name)
	assert.Equal(t, "#d73a4a", stats.Labels[0].Color)
	assert.Equal(t, 2, stats.Labels[0].Entries)
}

func TestBuild_CancelledContext(t *testing.T) {
	cfg := testAppConfig(t)
	writeDigest(t, cfg, day(2025, 3, 1), entry(1, "alice"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(cfg, nil, testLogger()).Build(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeFile(t *testing.T) {
	cfg := testAppConfig(t)
	path := writeDigest(t, cfg, day(2025, 3, 1), entry(1, "alice"), entry(2, "github-actions[bot]"))

	res, err := AnalyzeFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalEntryCount())
	assert.Equal(t, 1, res.BotEntryCount())

	_, err = AnalyzeFile(filepath.Join(cfg.ArchivesDir, "missing.md"))
	assert.ErrorIs(t, err, utils.ErrFilesystem)
}

func TestViewOf(t *testing.T) {
	cfg := testAppConfig(t)
	bug := models.Label{Name: "bug", Color: "d73a4a"}
	perf := models.Label{Name: "tenet-performance", Color: "aaaaaa"}
	path := writeDigest(t, cfg, day(2025, 3, 1),
		entry(10, "alice", perf),
		entry(11, "dependabot[bot]", bug),
		entry(12, "bob", bug))

	res, err := AnalyzeFile(path)
	require.NoError(t, err)
	generated := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	v := ViewOf(Digest{Day: day(2025, 3, 1), RelPath: "2025/03/01.md"}, res, generated)

	assert.Equal(t, 3, v.Stats.TotalEntries)
	assert.Equal(t, generated, v.Stats.GeneratedAt)
	assert.Equal(t, []EntryView{{AnchorID: "10", DisplayText: "#10 Change alice"}, {AnchorID: "12", DisplayText: "#12 Change bob"}}, v.Community)
	assert.Equal(t, []EntryView{{AnchorID: "11", DisplayText: "#11 Change dependabot[bot]"}}, v.Bot)

	require.Len(t, v.LabelGroups, 2)
	assert.Equal(t, "bug", v.LabelGroups[0].Name)
	assert.Equal(t, "#d73a4a", v.LabelGroups[0].Color)
	assert.Len(t, v.LabelGroups[0].Entries, 2)
	assert.Equal(t, "tenet-performance", v.LabelGroups[1].Name)
}
