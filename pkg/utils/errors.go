package utils

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// Sentinel errors. Callers wrap them with fmt.Errorf("%w: ...") so the
// category survives and CategorizeError can report it.
var (
	ErrRetryFailed      = errors.New("request failed after all retries")
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")
	ErrOtherHTTPError   = errors.New("other HTTP error (non-2xx)")
	ErrRateLimited      = errors.New("rate limited by remote API")
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrParsing          = errors.New("parsing error")
	ErrRender           = errors.New("page rendering failed")
	ErrFilesystem       = errors.New("filesystem error")
	ErrDatabase         = errors.New("database error")
	ErrConfigValidation = errors.New("configuration validation error")
	ErrSummarize        = errors.New("summarization failed")
	ErrNoPullRequests   = errors.New("no merged pull requests in window")
)

type category struct {
	sentinel error
	name     string
	detail   func(err error) string // optional refinement, "" keeps name
}

// Order matters: retry failures wrap HTTP errors and must be checked first.
var categories = []category{
	{ErrRetryFailed, "RetryFailed", retryDetail},
	{ErrClientHTTPError, "HTTP_4xx", statusDetail},
	{ErrServerHTTPError, "HTTP_5xx", nil},
	{ErrOtherHTTPError, "HTTP_OtherStatus", nil},
	{ErrRateLimited, "HTTP_RateLimited", nil},
	{ErrNoPullRequests, "GitHub_NoPullRequests", nil},
	{ErrSummarize, "LLM_Summarize", nil},
	{ErrParsing, "Digest_Parsing", parsingDetail},
	{ErrRender, "Digest_Render", nil},
	{ErrFilesystem, "Filesystem_Other", filesystemDetail},
	{ErrDatabase, "Cache_Database", nil},
	{ErrRequestCreation, "Internal_RequestCreation", nil},
	{ErrConfigValidation, "Config_Validation", nil},
}

// CategorizeError maps an error to a short category string for log fields.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}
	for _, c := range categories {
		if !errors.Is(err, c.sentinel) {
			continue
		}
		if c.detail != nil {
			if d := c.detail(err); d != "" {
				return d
			}
		}
		return c.name
	}

	switch {
	case errors.Is(err, context.Canceled):
		return "System_ContextCanceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "System_ContextDeadlineExceeded"
	}
	if n := networkDetail(err); n != "" {
		return "Network_" + n
	}
	return "Unknown"
}

func retryDetail(err error) string {
	switch {
	case errors.Is(err, ErrServerHTTPError):
		return "RetryFailed_HTTPServer"
	case errors.Is(err, ErrRateLimited):
		return "RetryFailed_RateLimited"
	case errors.Is(err, ErrClientHTTPError):
		return "RetryFailed_HTTPClient"
	case err == ErrRetryFailed:
		return "RetryFailed_Unknown"
	}
	if n := networkDetail(err); n != "" {
		return "RetryFailed_Network" + n
	}
	return "RetryFailed_NetworkOther"
}

func statusDetail(err error) string {
	msg := err.Error()
	for _, code := range []string{"401", "403", "404", "422", "429"} {
		if strings.Contains(msg, " "+code+" ") {
			return "HTTP_" + code
		}
	}
	return ""
}

func parsingDetail(err error) string {
	msg := err.Error()
	for _, kind := range []string{"markdown", "HTML", "JSON", "YAML"} {
		if strings.Contains(msg, kind) {
			return "Digest_Parsing" + strings.ToUpper(kind[:1]) + kind[1:]
		}
	}
	return ""
}

func filesystemDetail(err error) string {
	switch {
	case errors.Is(err, os.ErrPermission):
		return "Filesystem_Permission"
	case errors.Is(err, os.ErrNotExist):
		return "Filesystem_NotExist"
	case errors.Is(err, os.ErrExist):
		return "Filesystem_Exist"
	}
	return ""
}

// networkDetail classifies transport failures that reached us unwrapped.
func networkDetail(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Timeout"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "Timeout"
	case strings.Contains(msg, "connection refused"):
		return "ConnectionRefused"
	case strings.Contains(msg, "no such host"):
		return "DNSLookup"
	case strings.Contains(msg, "reset by peer"):
		return "ConnectionReset"
	case strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"):
		return "TLS"
	}
	return ""
}
