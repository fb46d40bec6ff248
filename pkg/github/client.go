package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	gh "github.com/google/go-github/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/prdigest/pr-digest/pkg/config"
	"github.com/prdigest/pr-digest/pkg/fetch"
	"github.com/prdigest/pr-digest/pkg/models"
	"github.com/prdigest/pr-digest/pkg/utils"
)

// SearchHit is one merged pull request returned by the search API
type SearchHit struct {
	Number    int
	Title     string
	URL       string
	Author    string
	AuthorURL string
	Body      string
	CreatedAt time.Time
	Labels    []models.Label
}

// Client retrieves merged pull requests for one repository
type Client struct {
	gh      *gh.Client
	owner   string
	repo    string
	perPage int
	workers int
	log     *logrus.Entry
}

// NewHTTPClient builds the API transport: retrying fetcher, per-host rate limit,
// token from the configured environment variable.
func NewHTTPClient(cfg *config.AppConfig, log *logrus.Entry) *http.Client {
	base := fetch.NewClient(cfg.HTTPClientSettings, log)
	token := os.Getenv(cfg.GitHub.TokenEnv)
	if token == "" {
		log.Warnf("%s is not set, using unauthenticated GitHub API access", cfg.GitHub.TokenEnv)
	}
	return &http.Client{
		Timeout: cfg.HTTPClientSettings.Timeout,
		Transport: &fetch.Transport{
			Fetcher:   fetch.NewFetcher(base, cfg, log),
			Limiter:   fetch.NewRateLimiter(cfg.DefaultDelayPerHost, log),
			Delay:     config.GetEffectiveGitHubDelay(*cfg),
			Token:     token,
			UserAgent: cfg.GitHub.UserAgent,
		},
	}
}

// NewClient creates a Client for the configured repository using httpClient for transport.
func NewClient(httpClient *http.Client, cfg *config.AppConfig, log *logrus.Entry) (*Client, error) {
	c := gh.NewClient(httpClient)
	if cfg.GitHub.BaseURL != "" {
		base := cfg.GitHub.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("%w: github.base_url %q: %w", utils.ErrConfigValidation, cfg.GitHub.BaseURL, err)
		}
		c.BaseURL = u
	}
	if cfg.GitHub.UserAgent != "" {
		c.UserAgent = cfg.GitHub.UserAgent
	}
	return &Client{
		gh:      c,
		owner:   cfg.Repository.Owner,
		repo:    cfg.Repository.Name,
		perPage: cfg.GitHub.PerPage,
		workers: cfg.NumWorkers,
		log:     log.WithField("repo", cfg.Repository.FullName()),
	}, nil
}

// TargetWindow returns the previous UTC day relative to now: 00:00:00 through 23:59:59.
func TargetWindow(now time.Time) (start, end time.Time) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -1), today.Add(-time.Second)
}

// searchQuery builds the issue search query for pull requests merged in [start, end].
func searchQuery(owner, repo string, start, end time.Time) string {
	const layout = "2006-01-02T15:04:05Z07:00"
	return fmt.Sprintf("repo:%s/%s is:pr is:merged merged:%s..%s",
		owner, repo, start.UTC().Format(layout), end.UTC().Format(layout))
}

// SearchMerged lists pull requests merged in [start, end], following pagination.
// Returns utils.ErrNoPullRequests when nothing matched.
func (c *Client) SearchMerged(ctx context.Context, start, end time.Time) ([]SearchHit, error) {
	query := searchQuery(c.owner, c.repo, start, end)
	opts := &gh.SearchOptions{ListOptions: gh.ListOptions{PerPage: c.perPage}}
	c.log.WithField("query", query).Debug("Searching merged pull requests")

	var hits []SearchHit
	for {
		res, resp, err := c.gh.Search.Issues(ctx, query, opts)
		if err != nil {
			return nil, fmt.Errorf("searching merged pull requests: %w", err)
		}
		for _, iss := range res.Issues {
			user := iss.GetUser()
			hit := SearchHit{
				Number:    iss.GetNumber(),
				Title:     iss.GetTitle(),
				URL:       iss.GetHTMLURL(),
				Author:    user.GetLogin(),
				AuthorURL: user.GetHTMLURL(),
				Body:      iss.GetBody(),
				CreatedAt: iss.GetCreatedAt(),
			}
			for _, l := range iss.Labels {
				hit.Labels = append(hit.Labels, models.Label{Name: l.GetName(), Color: l.GetColor()})
			}
			hits = append(hits, hit)
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if len(hits) == 0 {
		return nil, fmt.Errorf("%w: %s/%s between %s and %s", utils.ErrNoPullRequests,
			c.owner, c.repo, start.Format("2006/01/02"), end.Format("2006/01/02"))
	}
	c.log.Infof("%d pull requests were merged between %s and %s", len(hits), start.Format("2006/01/02"), end.Format("2006/01/02"))
	return hits, nil
}

// Collect fetches the pull request, changed files, issue comments and reviews for every hit.
// At most num_workers pull requests are fetched at once; the result keeps the order of hits.
func (c *Client) Collect(ctx context.Context, hits []SearchHit) ([]*models.PullRequestInfo, error) {
	infos := make([]*models.PullRequestInfo, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.workers, 1))

	for i, hit := range hits {
		g.Go(func() error {
			info, err := c.collectOne(gctx, hit)
			if err != nil {
				return fmt.Errorf("pull request #%d: %w", hit.Number, err)
			}
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return infos, nil
}

func (c *Client) collectOne(ctx context.Context, hit SearchHit) (*models.PullRequestInfo, error) {
	log := c.log.WithField("pr", hit.Number)
	log.Debug("Collecting pull request")

	pr, _, err := c.gh.PullRequests.Get(ctx, c.owner, c.repo, hit.Number)
	if err != nil {
		return nil, fmt.Errorf("getting pull request: %w", err)
	}

	info := &models.PullRequestInfo{
		Number:    hit.Number,
		Title:     hit.Title,
		URL:       hit.URL,
		Author:    hit.Author,
		AuthorURL: hit.AuthorURL,
		Body:      hit.Body,
		CreatedAt: hit.CreatedAt,
		MergedAt:  pr.GetMergedAt(),
		Labels:    hit.Labels,
	}
	if info.Body == "" {
		info.Body = pr.GetBody()
	}

	if info.Files, err = c.listFiles(ctx, hit.Number); err != nil {
		return nil, err
	}
	if info.Comments, err = c.listComments(ctx, hit.Number); err != nil {
		return nil, err
	}
	if info.Reviews, err = c.listReviews(ctx, hit.Number); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"files": len(info.Files), "comments": len(info.Comments), "reviews": len(info.Reviews),
	}).Debug("Collected pull request")
	return info, nil
}

func (c *Client) listFiles(ctx context.Context, number int) ([]models.FileChange, error) {
	opts := &gh.ListOptions{PerPage: c.perPage}
	var out []models.FileChange
	for {
		files, resp, err := c.gh.PullRequests.ListFiles(ctx, c.owner, c.repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing files: %w", err)
		}
		for _, f := range files {
			out = append(out, models.FileChange{
				Filename:  f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Changes:   f.GetChanges(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

func (c *Client) listComments(ctx context.Context, number int) ([]models.Comment, error) {
	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: c.perPage}}
	var out []models.Comment
	for {
		comments, resp, err := c.gh.Issues.ListComments(ctx, c.owner, c.repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing comments: %w", err)
		}
		for _, cm := range comments {
			out = append(out, models.Comment{
				Author:    cm.GetUser().GetLogin(),
				Body:      cm.GetBody(),
				CreatedAt: cm.GetCreatedAt(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

func (c *Client) listReviews(ctx context.Context, number int) ([]models.Review, error) {
	opts := &gh.ListOptions{PerPage: c.perPage}
	var out []models.Review
	for {
		reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, c.owner, c.repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing reviews: %w", err)
		}
		for _, r := range reviews {
			out = append(out, models.Review{
				Reviewer:    r.GetUser().GetLogin(),
				State:       r.GetState(),
				Body:        r.GetBody(),
				SubmittedAt: r.GetSubmittedAt(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}
