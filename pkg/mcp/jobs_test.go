package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestJob(t *testing.T, jm *JobManager, kind string) *Job {
	t.Helper()
	job, created := jm.CreateJob(kind)
	require.True(t, created)
	require.NotNil(t, job)
	return job
}

func TestNewJobManager(t *testing.T) {
	jm := NewJobManager()
	require.NotNil(t, jm)
	assert.Empty(t, jm.ListJobs())
}

func TestCreateJob(t *testing.T) {
	t.Run("new job fields correct", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, JobKindBuild)

		assert.NotEmpty(t, job.ID)
		assert.Equal(t, JobKindBuild, job.Kind)
		assert.Equal(t, JobStatusPending, job.Status)
		assert.False(t, job.StartedAt.IsZero())
		assert.True(t, job.CompletedAt.IsZero())
		assert.Equal(t, int64(0), job.Processed)
		assert.Equal(t, int64(0), job.Total)
		assert.Empty(t, job.ErrorMessage)
	})

	t.Run("duplicate running kind returns same job", func(t *testing.T) {
		jm := NewJobManager()
		job1 := createTestJob(t, jm, JobKindBuild)
		job2, created := jm.CreateJob(JobKindBuild)
		assert.False(t, created)
		assert.Equal(t, job1.ID, job2.ID)
	})

	t.Run("new job allowed after completion", func(t *testing.T) {
		jm := NewJobManager()
		job1 := createTestJob(t, jm, JobKindBuild)
		jm.UpdateStatus(job1.ID, JobStatusCompleted, "")

		job2 := createTestJob(t, jm, JobKindBuild)
		assert.NotEqual(t, job1.ID, job2.ID)
	})

	t.Run("different kinds independent", func(t *testing.T) {
		jm := NewJobManager()
		job1 := createTestJob(t, jm, JobKindBuild)
		job2 := createTestJob(t, jm, JobKindGenerate)
		assert.NotEqual(t, job1.ID, job2.ID)
	})
}

func TestGetJob(t *testing.T) {
	jm := NewJobManager()

	t.Run("exists returns snapshot", func(t *testing.T) {
		job := createTestJob(t, jm, JobKindBuild)
		got := jm.GetJob(job.ID)
		require.NotNil(t, got)
		assert.Equal(t, job.ID, got.ID)

		jm.UpdateProgress(job.ID, 3, 4)
		assert.Equal(t, int64(0), got.Processed, "snapshot must not change")
	})

	t.Run("missing returns nil", func(t *testing.T) {
		assert.Nil(t, jm.GetJob("nonexistent-id"))
	})
}

func TestGetJobByKind(t *testing.T) {
	jm := NewJobManager()

	t.Run("exists returns job", func(t *testing.T) {
		job := createTestJob(t, jm, JobKindBuild)
		got := jm.GetJobByKind(JobKindBuild)
		require.NotNil(t, got)
		assert.Equal(t, job.ID, got.ID)
	})

	t.Run("missing returns nil", func(t *testing.T) {
		assert.Nil(t, jm.GetJobByKind("nonexistent"))
	})

	t.Run("returns nil after completion", func(t *testing.T) {
		job := createTestJob(t, jm, JobKindGenerate)
		jm.UpdateStatus(job.ID, JobStatusCompleted, "")
		assert.Nil(t, jm.GetJobByKind(JobKindGenerate))
	})
}

func TestIsRunning(t *testing.T) {
	tests := []struct {
		name   string
		status JobStatus
		want   bool
	}{
		{"pending", JobStatusPending, true},
		{"running", JobStatusRunning, true},
		{"completed", JobStatusCompleted, false},
		{"failed", JobStatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jm := NewJobManager()
			job := createTestJob(t, jm, JobKindBuild)
			if tt.status != JobStatusPending {
				jm.UpdateStatus(job.ID, tt.status, "")
			}
			assert.Equal(t, tt.want, jm.IsRunning(JobKindBuild))
		})
	}

	t.Run("cancelled", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, JobKindBuild)
		jm.CancelJob(job.ID)
		assert.False(t, jm.IsRunning(JobKindBuild))
	})

	t.Run("nonexistent", func(t *testing.T) {
		assert.False(t, NewJobManager().IsRunning("ghost"))
	})
}

func TestUpdateStatus(t *testing.T) {
	t.Run("to running", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, JobKindBuild)
		jm.UpdateStatus(job.ID, JobStatusRunning, "")
		assert.Equal(t, JobStatusRunning, jm.GetJob(job.ID).Status)
		assert.NoError(t, jm.GetContext(job.ID).Err())
	})

	t.Run("to completed sets CompletedAt and releases kind", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, JobKindBuild)
		jm.UpdateStatus(job.ID, JobStatusCompleted, "")

		got := jm.GetJob(job.ID)
		assert.Equal(t, JobStatusCompleted, got.Status)
		assert.False(t, got.CompletedAt.IsZero())
		assert.Nil(t, jm.GetJobByKind(JobKindBuild))
		assert.Error(t, jm.GetContext(job.ID).Err())
	})

	t.Run("to failed sets ErrorMessage", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, JobKindGenerate)
		jm.UpdateStatus(job.ID, JobStatusFailed, "rate limited")

		got := jm.GetJob(job.ID)
		assert.Equal(t, JobStatusFailed, got.Status)
		assert.Equal(t, "rate limited", got.ErrorMessage)
		assert.False(t, got.CompletedAt.IsZero())
	})

	t.Run("cancelled job keeps status", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, JobKindBuild)
		jm.CancelJob(job.ID)
		jm.UpdateStatus(job.ID, JobStatusFailed, "context canceled")

		got := jm.GetJob(job.ID)
		assert.Equal(t, JobStatusCancelled, got.Status)
		assert.Empty(t, got.ErrorMessage)
	})

	t.Run("nonexistent is no-op", func(t *testing.T) {
		jm := NewJobManager()
		jm.UpdateStatus("fake-id", JobStatusRunning, "")
	})
}

func TestUpdateProgressAndResult(t *testing.T) {
	jm := NewJobManager()
	job := createTestJob(t, jm, JobKindBuild)
	jm.UpdateProgress(job.ID, 42, 100)
	jm.SetResult(job.ID, "42 rendered")

	got := jm.GetJob(job.ID)
	assert.Equal(t, int64(42), got.Processed)
	assert.Equal(t, int64(100), got.Total)
	assert.Equal(t, "42 rendered", got.Result)

	// Should not panic
	jm.UpdateProgress("fake-id", 1, 2)
	jm.SetResult("fake-id", "x")
}

func TestCancelJob(t *testing.T) {
	t.Run("running job cancelled", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, JobKindBuild)
		jm.UpdateStatus(job.ID, JobStatusRunning, "")

		assert.True(t, jm.CancelJob(job.ID))

		got := jm.GetJob(job.ID)
		assert.Equal(t, JobStatusCancelled, got.Status)
		assert.False(t, got.CompletedAt.IsZero())
		assert.Error(t, jm.GetContext(job.ID).Err())
	})

	t.Run("completed job not cancellable", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, JobKindBuild)
		jm.UpdateStatus(job.ID, JobStatusCompleted, "")
		assert.False(t, jm.CancelJob(job.ID))
	})

	t.Run("nonexistent returns false", func(t *testing.T) {
		assert.False(t, NewJobManager().CancelJob("nope"))
	})
}

func TestCancelAll(t *testing.T) {
	jm := NewJobManager()
	job1 := createTestJob(t, jm, JobKindBuild)
	job2 := createTestJob(t, jm, JobKindGenerate)
	jm.UpdateStatus(job2.ID, JobStatusCompleted, "")

	jm.CancelAll()

	assert.Equal(t, JobStatusCancelled, jm.GetJob(job1.ID).Status)
	assert.Equal(t, JobStatusCompleted, jm.GetJob(job2.ID).Status)

	newJob := createTestJob(t, jm, JobKindBuild)
	assert.NotEqual(t, job1.ID, newJob.ID)
}

func TestListJobs(t *testing.T) {
	jm := NewJobManager()
	job1 := createTestJob(t, jm, JobKindBuild)
	job2 := createTestJob(t, jm, JobKindGenerate)

	ids := make(map[string]bool)
	for _, j := range jm.ListJobs() {
		ids[j.ID] = true
	}
	assert.Len(t, ids, 2)
	assert.True(t, ids[job1.ID])
	assert.True(t, ids[job2.ID])
}

func TestGetContext(t *testing.T) {
	t.Run("valid job returns live context", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, JobKindBuild)
		assert.NoError(t, jm.GetContext(job.ID).Err())
	})

	t.Run("nonexistent returns background context", func(t *testing.T) {
		ctx := NewJobManager().GetContext("nope")
		require.NoError(t, ctx.Err())
		assert.Equal(t, context.Background(), ctx)
	})
}
