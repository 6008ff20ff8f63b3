package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/kestrel/internal/model"
	"github.com/kestrelhq/kestrel/internal/storage"
	"github.com/kestrelhq/kestrel/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "test DB: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func seconds(v float64) *float64 { return &v }

func sampleRun(externalID string) model.RunRecord {
	return model.NewRunRecord(model.RunSnapshot{
		ExternalID:      externalID,
		WorkflowName:    "CI",
		Status:          "completed",
		Conclusion:      model.ConclusionFailure,
		DurationSeconds: seconds(321),
		Branch:          "main",
		CommitSHA:       "abc1234",
		CommitMessage:   "fix build",
		Actor:           "dev",
		Jobs: []model.JobOutcome{
			{ExternalID: 1, Name: "test", Status: "completed", Conclusion: model.ConclusionFailure},
			{ExternalID: 2, Name: "build", Status: "completed", Conclusion: model.ConclusionSuccess},
		},
	})
}

func TestCreateRunOncePerExternalID(t *testing.T) {
	ctx := context.Background()

	first, created, err := testDB.CreateRun(ctx, sampleRun("run-once-1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)

	// The same external id is not recorded twice; the existing row comes back.
	again, created, err := testDB.CreateRun(ctx, sampleRun("run-once-1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	require.Len(t, again.Jobs, 2)
	assert.Equal(t, "test", again.Jobs[0].Name)
}

func TestGetRunByExternalID(t *testing.T) {
	ctx := context.Background()

	saved, _, err := testDB.CreateRun(ctx, sampleRun("run-lookup-1"))
	require.NoError(t, err)

	got, err := testDB.GetRunByExternalID(ctx, "run-lookup-1")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, got.ID)
	assert.Equal(t, model.ConclusionFailure, got.Conclusion)
	require.NotNil(t, got.DurationSeconds)
	assert.Equal(t, 321.0, *got.DurationSeconds)

	_, err = testDB.GetRunByExternalID(ctx, "no-such-run")
	require.Error(t, err)
}

func TestUpsertDeploymentReplacesState(t *testing.T) {
	ctx := context.Background()

	first, err := testDB.UpsertDeployment(ctx, model.NewDeploymentRecord(model.DeploymentSnapshot{
		Name: "api", Namespace: "upsert-test", Image: "api:v1",
		DesiredReplicas: 3, AvailableReplicas: 3,
		Conditions: []model.Condition{{Type: "Available", Status: "True"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentRunning, first.Status)

	second, err := testDB.UpsertDeployment(ctx, model.NewDeploymentRecord(model.DeploymentSnapshot{
		Name: "api", Namespace: "upsert-test", Image: "api:v2",
		DesiredReplicas: 3, AvailableReplicas: 0,
		Conditions: []model.Condition{{Type: "Progressing", Status: "False"}},
	}))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same pair keeps its row")
	assert.Equal(t, "api:v2", second.Image)
	assert.Equal(t, model.DeploymentFailed, second.Status)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())

	got, err := testDB.GetDeployment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "api:v2", got.Image)
}

func TestIssueLifecycle(t *testing.T) {
	ctx := context.Background()

	run, _, err := testDB.CreateRun(ctx, sampleRun("run-issue-1"))
	require.NoError(t, err)

	issue := model.NewIssue(model.IssuePipelineFailure, model.SeverityHigh, "Pipeline failure in CI")
	issue.Description = "Pipeline run run-issue-1 failed with 1 failed jobs"
	issue.RunID = &run.ID
	issue.Affected = []model.AffectedEntity{
		{Kind: model.EntityJob, Name: "test", Detail: "failure"},
	}
	issue.Raw = map[string]any{"branch": "main"}

	saved, err := testDB.CreateIssue(ctx, issue)
	require.NoError(t, err)
	require.NotZero(t, saved.ID)

	exists, err := testDB.HasActiveIssue(ctx, model.IssuePipelineFailure, &run.ID, nil)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = testDB.HasActiveIssue(ctx, model.IssueDeploymentFailure, &run.ID, nil)
	require.NoError(t, err)
	assert.False(t, exists, "type must match")

	got, err := testDB.GetIssue(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IssueOpen, got.Status)
	require.Len(t, got.Affected, 1)
	assert.Equal(t, model.EntityJob, got.Affected[0].Kind)
	assert.Equal(t, "main", got.Raw["branch"])

	// resolved stamps resolved_at and ends the active window.
	require.NoError(t, testDB.UpdateIssueStatus(ctx, saved.ID, model.IssueResolved))
	got, err = testDB.GetIssue(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IssueResolved, got.Status)
	require.NotNil(t, got.ResolvedAt)

	exists, err = testDB.HasActiveIssue(ctx, model.IssuePipelineFailure, &run.ID, nil)
	require.NoError(t, err)
	assert.False(t, exists)

	// Reopening clears resolved_at again.
	require.NoError(t, testDB.UpdateIssueStatus(ctx, saved.ID, model.IssueInvestigating))
	got, err = testDB.GetIssue(ctx, saved.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ResolvedAt)
}

func TestListIssuesFilters(t *testing.T) {
	ctx := context.Background()

	a := model.NewIssue(model.IssueLongRunningJob, model.SeverityMedium, "Long running job: test")
	a.Status = model.IssueFalsePositive
	_, err := testDB.CreateIssue(ctx, a)
	require.NoError(t, err)

	b := model.NewIssue(model.IssueLongRunningJob, model.SeverityMedium, "Long running job: build")
	_, err = testDB.CreateIssue(ctx, b)
	require.NoError(t, err)

	issues, total, err := testDB.ListIssues(ctx, storage.IssueFilter{
		Type:   model.IssueLongRunningJob,
		Status: model.IssueFalsePositive,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, issues, 1)
	assert.Equal(t, "Long running job: test", issues[0].Title)

	_, total, err = testDB.ListIssues(ctx, storage.IssueFilter{Type: model.IssueLongRunningJob})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 2)
}

func TestSetIssueFix(t *testing.T) {
	ctx := context.Background()

	saved, err := testDB.CreateIssue(ctx,
		model.NewIssue(model.IssueHealthCheckMissing, model.SeverityMedium, "Missing health checks: api"))
	require.NoError(t, err)

	fix := model.SuggestedFix{
		Summary: "Missing health checks can leave application failures undetected.",
		Actions: []model.FixAction{
			{Description: "Add a liveness probe"},
		},
		Confidence: 0.9,
		Source:     "advisory",
	}
	require.NoError(t, testDB.SetIssueFix(ctx, saved.ID, fix))

	got, err := testDB.GetIssue(ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Fix)
	assert.Equal(t, "advisory", got.Fix.Source)
	require.Len(t, got.Fix.Actions, 1)
}

func TestNotificationTimestamps(t *testing.T) {
	ctx := context.Background()

	saved, err := testDB.CreateIssue(ctx,
		model.NewIssue(model.IssueDeploymentFailure, model.SeverityCritical, "Deployment failure: api"))
	require.NoError(t, err)

	last, err := testDB.LastAlertAt(ctx, saved.ID)
	require.NoError(t, err)
	assert.Nil(t, last, "no notifications yet")

	alertTime := time.Now().UTC().Add(-30 * time.Minute).Truncate(time.Millisecond)
	_, err = testDB.CreateNotification(ctx, model.NotificationRecord{
		IssueID: saved.ID, Channel: model.ChannelSlack,
		Subject: "[URGENT] Deployment failure: api",
		Status:  model.DeliverySent, SentAt: &alertTime,
		CreatedAt: alertTime,
	})
	require.NoError(t, err)

	// Failed attempts have no sent_at and never count toward dedup.
	_, err = testDB.CreateNotification(ctx, model.NotificationRecord{
		IssueID: saved.ID, Channel: model.ChannelEmail,
		Subject: "[URGENT] Deployment failure: api",
		Status:  model.DeliveryFailed, Error: "connection refused",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	reminderTime := time.Now().UTC().Add(-5 * time.Minute).Truncate(time.Millisecond)
	_, err = testDB.CreateNotification(ctx, model.NotificationRecord{
		IssueID: saved.ID, Channel: model.ChannelSlack,
		Subject: "REMINDER: Deployment failure: api", Reminder: true,
		Status: model.DeliverySent, SentAt: &reminderTime,
		CreatedAt: reminderTime,
	})
	require.NoError(t, err)

	last, err = testDB.LastAlertAt(ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, alertTime.Unix(), last.Unix(), "reminders do not advance the alert clock")

	lastReminder, err := testDB.LastReminderAt(ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, lastReminder)
	assert.Equal(t, reminderTime.Unix(), lastReminder.Unix())

	records, err := testDB.ListNotificationsByIssue(ctx, saved.ID)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestRecordAndListActions(t *testing.T) {
	ctx := context.Background()

	action := model.NewAgentAction(model.ActionMonitoring, model.ActionCompleted,
		"monitoring cycle over 2 capabilities", map[string]any{"capabilities": 2})
	saved, err := testDB.RecordAction(ctx, action)
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)

	actions, err := testDB.ListActions(ctx, 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, actions)
}

func TestSweepOlderThan(t *testing.T) {
	ctx := context.Background()

	// An old resolved issue and its notification are swept; an old open
	// issue survives, and so does the run it references.
	oldRun, _, err := testDB.CreateRun(ctx, sampleRun("run-sweep-old"))
	require.NoError(t, err)

	resolved := model.NewIssue(model.IssuePipelineFailure, model.SeverityLow, "Pipeline failure in CI")
	resolved.Status = model.IssueResolved
	resolvedSaved, err := testDB.CreateIssue(ctx, resolved)
	require.NoError(t, err)

	open := model.NewIssue(model.IssueDeploymentFailure, model.SeverityHigh, "Deployment failure: api")
	open.RunID = &oldRun.ID
	openSaved, err := testDB.CreateIssue(ctx, open)
	require.NoError(t, err)

	_, err = testDB.CreateNotification(ctx, model.NotificationRecord{
		IssueID: resolvedSaved.ID, Channel: model.ChannelSlack,
		Status: model.DeliverySent, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	// Everything above was created "now"; a future cutoff makes it aged.
	cutoff := time.Now().UTC().Add(time.Hour)
	res, err := testDB.SweepOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Greater(t, res.Total(), int64(0))

	_, err = testDB.GetIssue(ctx, resolvedSaved.ID)
	require.Error(t, err, "resolved issue is swept")

	got, err := testDB.GetIssue(ctx, openSaved.ID)
	require.NoError(t, err, "open issue survives any age")
	assert.Equal(t, model.IssueOpen, got.Status)

	_, err = testDB.GetRun(ctx, oldRun.ID)
	require.NoError(t, err, "runs referenced by issues survive")
}
