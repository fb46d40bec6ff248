package site

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/prdigest/pr-digest/pkg/digest"
	"github.com/prdigest/pr-digest/pkg/models"
	"github.com/prdigest/pr-digest/pkg/parse"
	"github.com/prdigest/pr-digest/pkg/utils"
)

// Digest is one markdown file of the archive tree.
type Digest struct {
	Day     time.Time // UTC midnight of the digest day
	RelPath string    // "yyyy/mm/dd.md", slash-separated
	Path    string    // filesystem path
}

// PageRelPath is the "yyyy/mm/dd.html" output path of the digest.
func (d Digest) PageRelPath() string {
	return utils.DayRelPath(d.Day, ".html")
}

// ListDigests finds every yyyy/mm/dd.md file under archivesDir, newest first.
// Other files are ignored. A missing directory yields no digests.
func ListDigests(archivesDir string) ([]Digest, error) {
	var out []Digest
	err := filepath.WalkDir(archivesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == archivesDir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		rel, err := filepath.Rel(archivesDir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		day, err := utils.ParseDayRelPath(rel)
		if err != nil || utils.DayRelPath(day, ".md") != rel {
			return nil
		}
		out = append(out, Digest{Day: day, RelPath: rel, Path: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scanning archives '%s': %w", utils.ErrFilesystem, archivesDir, err)
	}

	slices.SortFunc(out, func(a, b Digest) int { return b.Day.Compare(a.Day) })
	return out, nil
}

// FindDigest returns the archive entry for day, if the file exists.
func FindDigest(archivesDir string, day time.Time) (Digest, error) {
	rel := utils.DayRelPath(day, ".md")
	path := filepath.Join(archivesDir, filepath.FromSlash(rel))
	if _, err := os.Stat(path); err != nil {
		return Digest{}, fmt.Errorf("%w: digest for %s: %w", utils.ErrFilesystem, day.Format(time.DateOnly), err)
	}
	y, m, dd := day.UTC().Date()
	return Digest{Day: time.Date(y, m, dd, 0, 0, 0, 0, time.UTC), RelPath: rel, Path: path}, nil
}

// AnalyzeFile reads a digest markdown file and analyzes it.
func AnalyzeFile(path string) (*digest.AnalysisResult, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading digest '%s': %w", utils.ErrFilesystem, path, err)
	}
	return digest.Analyze(parse.ParseDocument(src)), nil
}

// StatsFor builds the exported stats record of one analyzed digest.
func StatsFor(d Digest, res *digest.AnalysisResult, generatedAt time.Time) models.DigestStats {
	stats := models.DigestStats{
		Date:         d.Day.Format(time.DateOnly),
		SourceFile:   d.RelPath,
		TotalEntries: res.TotalEntryCount(),
		BotEntries:   res.BotEntryCount(),
		LabelCount:   res.LabelCount(),
		GeneratedAt:  generatedAt,
	}
	for _, g := range res.LabelsBySize() {
		stats.Labels = append(stats.Labels, models.LabelStat{Name: g.Name, Color: g.Color, Entries: len(g.Headings)})
	}
	return stats
}
