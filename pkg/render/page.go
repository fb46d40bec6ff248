package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/prdigest/pr-digest/pkg/config"
	"github.com/prdigest/pr-digest/pkg/digest"
	"github.com/prdigest/pr-digest/pkg/parse"
	"github.com/prdigest/pr-digest/pkg/utils"
)

//go:embed templates/*
var templateFS embed.FS

var (
	templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))
	styleCSS  = template.CSS(mustReadAsset("templates/style.css"))
)

func mustReadAsset(name string) string {
	b, err := templateFS.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// Site carries the values shared by every generated page.
type Site struct {
	Title       string
	Subtitle    string
	Description string
	Author      string
	BaseURL     string
	Repository  string // owner/name
	RepoURL     string
}

// SiteFromConfig builds page settings from a validated config.
func SiteFromConfig(cfg *config.AppConfig) Site {
	repo := cfg.Repository.FullName()
	return Site{
		Title:       cfg.Site.Title,
		Subtitle:    cfg.Site.Subtitle,
		Description: cfg.Site.Description,
		Author:      cfg.Site.Author,
		BaseURL:     cfg.Site.BaseURL,
		Repository:  repo,
		RepoURL:     "https://github.com/" + repo,
	}
}

// DayLink is one entry of the index month lists.
type DayLink struct {
	Href  string
	Label string
}

// MonthGroup lists the digests of one month.
type MonthGroup struct {
	Year  string
	Month string
	Days  []DayLink
}

// LatestDigest is the newest digest shown at the top of the index.
// Stats is nil when its markdown source could not be read.
type LatestDigest struct {
	DayLink
	Stats *Stats
}

type layoutData struct {
	Title      string
	Site       Site
	Root       string
	CSS        template.CSS
	Content    template.HTML
	ViewScript bool
}

type dailyData struct {
	Site     Site
	TOC      template.HTML
	Category template.HTML
	Label    template.HTML
	Details  template.HTML
}

// Page renders the HTML page for one day's digest markdown.
// The returned analysis is the one used for the category and label views.
func Page(day time.Time, markdown []byte, site Site) ([]byte, *digest.AnalysisResult, error) {
	doc, fragment, err := parse.Render(markdown)
	if err != nil {
		return nil, nil, err
	}
	res := digest.Analyze(doc)

	toc, details, err := SplitContent(Sanitize(fragment))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: splitting HTML content: %w", utils.ErrParsing, err)
	}

	var content bytes.Buffer
	err = templates.ExecuteTemplate(&content, "daily.html", dailyData{
		Site:     site,
		TOC:      template.HTML(toc),
		Category: template.HTML(CategorizedView(res)),
		Label:    template.HTML(LabelView(res)),
		Details:  template.HTML(details),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: daily template: %w", utils.ErrRender, err)
	}

	out, err := layout(layoutData{
		Title:      "Pull Request on " + utils.JapaneseDate(day),
		Site:       site,
		Root:       "../../",
		Content:    template.HTML(content.String()),
		ViewScript: true,
	})
	if err != nil {
		return nil, nil, err
	}
	return out, res, nil
}

// Index renders the site index page. months must already be in display order.
func Index(months []MonthGroup, latest *LatestDigest, site Site) ([]byte, error) {
	var content bytes.Buffer
	err := templates.ExecuteTemplate(&content, "index.html", struct {
		Latest *LatestDigest
		Months []MonthGroup
	}{latest, months})
	if err != nil {
		return nil, fmt.Errorf("%w: index template: %w", utils.ErrRender, err)
	}

	return layout(layoutData{
		Title:   site.Title,
		Site:    site,
		Root:    "./",
		Content: template.HTML(content.String()),
	})
}

func layout(data layoutData) ([]byte, error) {
	data.CSS = styleCSS
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		return nil, fmt.Errorf("%w: layout template: %w", utils.ErrRender, err)
	}
	return buf.Bytes(), nil
}
