package models

// SummaryStatus represents the summarization status of a pull request in the database
type SummaryStatus string

const (
	SummaryStatusUnset    SummaryStatus = ""          // Zero value = unset/unknown
	SummaryStatusPending  SummaryStatus = "pending"   // Summary requested but not stored
	SummaryStatusSuccess  SummaryStatus = "success"   // Summary stored successfully
	SummaryStatusFailure  SummaryStatus = "failure"   // Summarization failed
	SummaryStatusNotFound SummaryStatus = "not_found" // Pull request not in database
	SummaryStatusDBError  SummaryStatus = "db_error"  // Database error occurred
)

// String implements fmt.Stringer for logging
func (s SummaryStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s SummaryStatus) IsValid() bool {
	switch s {
	case SummaryStatusPending, SummaryStatusSuccess, SummaryStatusFailure:
		return true
	}
	return false
}

// PageStatus represents the render status of a daily page
type PageStatus string

const (
	PageStatusUnset    PageStatus = ""          // Zero value = unset/unknown
	PageStatusRendered PageStatus = "rendered"  // Page written to the output tree
	PageStatusSkipped  PageStatus = "skipped"   // Source unchanged since last render
	PageStatusFailure  PageStatus = "failure"   // Rendering failed
	PageStatusNotFound PageStatus = "not_found" // Page not in database
	PageStatusDBError  PageStatus = "db_error"  // Database error occurred
)

// String implements fmt.Stringer for logging
func (s PageStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s PageStatus) IsValid() bool {
	switch s {
	case PageStatusRendered, PageStatusSkipped, PageStatusFailure:
		return true
	}
	return false
}
