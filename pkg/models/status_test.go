package models

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type status interface {
	fmt.Stringer
	IsValid() bool
}

func TestStatuses(t *testing.T) {
	tests := []struct {
		status    status
		wantStr   string
		wantValid bool
	}{
		{SummaryStatusUnset, "unset", false},
		{SummaryStatusPending, "pending", true},
		{SummaryStatusSuccess, "success", true},
		{SummaryStatusFailure, "failure", true},
		{SummaryStatusNotFound, "not_found", false},
		{SummaryStatusDBError, "db_error", false},
		{SummaryStatus("stale"), "stale", false},
		{PageStatusUnset, "unset", false},
		{PageStatusRendered, "rendered", true},
		{PageStatusSkipped, "skipped", true},
		{PageStatusFailure, "failure", true},
		{PageStatusNotFound, "not_found", false},
		{PageStatusDBError, "db_error", false},
		{PageStatus("queued"), "queued", false},
	}
	for _, tt := range tests {
		name := fmt.Sprintf("%T/%s", tt.status, tt.wantStr)
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.wantStr, tt.status.String())
			assert.Equal(t, tt.wantValid, tt.status.IsValid())
		})
	}
}
