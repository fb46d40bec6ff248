package models

import "time"

// Label is a pull request label. Color is the hex value without a leading '#'.
type Label struct {
	Name  string `json:"name" yaml:"name"`
	Color string `json:"color,omitempty" yaml:"color,omitempty"`
}

// FileChange is one changed file of a pull request
type FileChange struct {
	Filename  string `json:"filename"`
	Status    string `json:"status,omitempty"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
}

// Review is a submitted pull request review
type Review struct {
	Reviewer    string    `json:"reviewer"`
	State       string    `json:"state,omitempty"`
	Body        string    `json:"body,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Comment is an issue comment on a pull request
type Comment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// PullRequestInfo holds everything collected for one merged pull request
type PullRequestInfo struct {
	Number    int          `json:"number"`
	Title     string       `json:"title"`
	URL       string       `json:"url"`
	Author    string       `json:"author"`
	AuthorURL string       `json:"author_url,omitempty"`
	Body      string       `json:"body,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	MergedAt  time.Time    `json:"merged_at"`
	Labels    []Label      `json:"labels,omitempty"`
	Files     []FileChange `json:"files,omitempty"`
	Comments  []Comment    `json:"comments,omitempty"`
	Reviews   []Review     `json:"reviews,omitempty"`
}

// DigestEntry is one section of a daily digest document
type DigestEntry struct {
	Number    int
	Title     string
	URL       string
	Author    string
	AuthorURL string
	CreatedAt time.Time
	MergedAt  time.Time
	Labels    []Label
	Summary   string
}

// NewDigestEntry builds the digest section for info with the given summary
func NewDigestEntry(info *PullRequestInfo, summary string) DigestEntry {
	return DigestEntry{
		Number:    info.Number,
		Title:     info.Title,
		URL:       info.URL,
		Author:    info.Author,
		AuthorURL: info.AuthorURL,
		CreatedAt: info.CreatedAt,
		MergedAt:  info.MergedAt,
		Labels:    info.Labels,
		Summary:   summary,
	}
}

// SummaryDBEntry stores the result of summarizing one pull request in the database
type SummaryDBEntry struct {
	Status      SummaryStatus `json:"status"`                 // "success" or "failure"
	Summary     string        `json:"summary,omitempty"`      // Model output (on success)
	Model       string        `json:"model,omitempty"`        // Model that produced the summary
	PromptHash  string        `json:"prompt_hash,omitempty"`  // Hash of the prompt the summary was built from
	ErrorType   string        `json:"error_type,omitempty"`   // Error category (on failure)
	ProcessedAt time.Time     `json:"processed_at,omitempty"` // Timestamp of successful summarization
	LastAttempt time.Time     `json:"last_attempt"`           // Timestamp of the last attempt
}

// PageDBEntry stores the content hash of a rendered page in the database
type PageDBEntry struct {
	Status      PageStatus `json:"status"`
	ContentHash string     `json:"content_hash,omitempty"` // SHA256 of the source markdown
	RenderedAt  time.Time  `json:"rendered_at,omitempty"`
}

// DigestStats is the per-day analysis written next to rendered pages.
type DigestStats struct {
	Date         string      `yaml:"date" json:"date"`
	SourceFile   string      `yaml:"source_file" json:"source_file"`
	TotalEntries int         `yaml:"total_entries" json:"total_entries"`
	BotEntries   int         `yaml:"bot_entries" json:"bot_entries"`
	LabelCount   int         `yaml:"label_count" json:"label_count"`
	Labels       []LabelStat `yaml:"labels,omitempty" json:"labels,omitempty"`
	GeneratedAt  time.Time   `yaml:"generated_at" json:"generated_at"`
}

// LabelStat is one label row of DigestStats
type LabelStat struct {
	Name    string `yaml:"name" json:"name"`
	Color   string `yaml:"color,omitempty" json:"color,omitempty"`
	Entries int    `yaml:"entries" json:"entries"`
}
