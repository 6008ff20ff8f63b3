package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kestrelhq/kestrel/internal/model"
)

func TestSeverityRankOrdering(t *testing.T) {
	assert.Less(t, model.SeverityLow.Rank(), model.SeverityMedium.Rank())
	assert.Less(t, model.SeverityMedium.Rank(), model.SeverityHigh.Rank())
	assert.Less(t, model.SeverityHigh.Rank(), model.SeverityCritical.Rank())
	assert.Equal(t, -1, model.Severity("bogus").Rank())
}

func TestSeverityUrgent(t *testing.T) {
	assert.False(t, model.SeverityLow.Urgent())
	assert.False(t, model.SeverityMedium.Urgent())
	assert.True(t, model.SeverityHigh.Urgent())
	assert.True(t, model.SeverityCritical.Urgent())
}

func TestIssueStatusActive(t *testing.T) {
	assert.True(t, model.IssueOpen.Active())
	assert.True(t, model.IssueInvestigating.Active())
	assert.False(t, model.IssueResolved.Active())
	assert.False(t, model.IssueFalsePositive.Active())
}

func TestNewIssueDefaults(t *testing.T) {
	issue := model.NewIssue(model.IssuePipelineFailure, model.SeverityHigh, "Pipeline failure in CI")
	assert.Equal(t, model.IssueOpen, issue.Status)
	assert.False(t, issue.DetectedAt.IsZero())
	assert.Nil(t, issue.ResolvedAt)
}
