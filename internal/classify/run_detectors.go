package classify

import (
	"fmt"
	"strings"

	"github.com/kestrelhq/kestrel/internal/model"
)

// Per-job duration ceilings in seconds, keyed by lowercased job name.
var jobDurationCeilings = map[string]float64{
	"test":   600,
	"build":  900,
	"deploy": 1200,
}

const (
	defaultJobCeiling    = 1800.0
	pipelineDurationCeil = 3600.0
)

// Job name fragments that identify security tooling.
var securityJobPatterns = []string{
	"security-scan", "vulnerability-scan", "trivy", "bandit", "safety",
}

type runDetector struct {
	name   string
	detect func(run model.RunRecord) []candidate
}

// runDetectors is the ordered detector set for pipeline runs. Order is
// stable for reproducible audit trails; detectors are independent.
var runDetectors = []runDetector{
	{name: "run_failure", detect: detectRunFailure},
	{name: "long_running_job", detect: detectLongRunningJobs},
	{name: "security_scan_failure", detect: detectSecurityFailures},
	{name: "pipeline_performance", detect: detectPipelinePerformance},
}

// detectRunFailure emits one pipeline_failure candidate for a run that
// concluded with failing jobs. Severity comes from the keyword rule table
// over the failing job names; when no rule matches the advisory hint
// decides.
func detectRunFailure(run model.RunRecord) []candidate {
	if run.Conclusion != model.ConclusionFailure {
		return nil
	}
	failed := run.FailedJobs()
	if len(failed) == 0 {
		return nil
	}

	issue := model.NewIssue(model.IssuePipelineFailure, model.SeverityLow,
		fmt.Sprintf("Pipeline failure in %s", run.WorkflowName))
	issue.Description = fmt.Sprintf("Pipeline run %s failed with %d failed jobs",
		run.ExternalID, len(failed))
	issue.RunID = &run.ID
	for _, j := range failed {
		issue.Affected = append(issue.Affected, model.AffectedEntity{
			Kind: model.EntityJob, Name: j.Name, Detail: string(j.Conclusion),
		})
	}
	issue.Raw = map[string]any{
		"external_id": run.ExternalID,
		"branch":      run.Branch,
		"commit_sha":  run.CommitSHA,
		"actor":       run.Actor,
		"failed_jobs": failed,
	}

	sev, conclusive := runFailureSeverity(failed)
	issue.Severity = sev
	return []candidate{{
		issue:         issue,
		severityKnown: conclusive,
		wantAdvisory:  true,
		detectorName:  "run_failure",
	}}
}

// detectLongRunningJobs emits one medium long_running_job candidate per
// job whose duration exceeds its ceiling. Mechanical check, no advisory.
func detectLongRunningJobs(run model.RunRecord) []candidate {
	var out []candidate
	for _, j := range run.Jobs {
		if j.DurationSeconds == nil {
			continue
		}
		ceiling, ok := jobDurationCeilings[strings.ToLower(j.Name)]
		if !ok {
			ceiling = defaultJobCeiling
		}
		if *j.DurationSeconds <= ceiling {
			continue
		}

		issue := model.NewIssue(model.IssueLongRunningJob, model.SeverityMedium,
			fmt.Sprintf("Long running job: %s", j.Name))
		issue.Description = fmt.Sprintf("Job %s took %.0f seconds to complete",
			j.Name, *j.DurationSeconds)
		issue.RunID = &run.ID
		issue.Affected = []model.AffectedEntity{
			{Kind: model.EntityJob, Name: j.Name},
		}
		issue.Raw = map[string]any{
			"duration_seconds": *j.DurationSeconds,
			"ceiling_seconds":  ceiling,
		}
		issue.Fix = &model.SuggestedFix{
			Summary: "Job exceeded its expected duration ceiling.",
			Actions: []model.FixAction{
				{Description: "Optimize the job steps or parallelize tasks"},
				{Description: "Use larger runners or more resources"},
				{Description: "Cache dependencies and build artifacts"},
			},
			Source: "long_running_job",
		}
		out = append(out, candidate{
			issue:         issue,
			severityKnown: true,
			detectorName:  "long_running_job",
		})
	}
	return out
}

// detectSecurityFailures emits one high security_vulnerability candidate
// per failed job whose name matches a known security tool.
func detectSecurityFailures(run model.RunRecord) []candidate {
	var out []candidate
	for _, j := range run.Jobs {
		if !j.Failed() || !isSecurityJob(j.Name) {
			continue
		}

		issue := model.NewIssue(model.IssueSecurityVulnerability, model.SeverityHigh,
			fmt.Sprintf("Security scan failed: %s", j.Name))
		issue.Description = fmt.Sprintf(
			"Security scan job %s failed, potential vulnerabilities detected", j.Name)
		issue.RunID = &run.ID
		issue.Affected = []model.AffectedEntity{
			{Kind: model.EntityJob, Name: j.Name},
		}
		issue.Fix = &model.SuggestedFix{
			Summary: "Security scan failure indicates potential vulnerabilities.",
			Actions: []model.FixAction{
				{Description: "Review the security scan logs for specific vulnerabilities"},
				{Description: "Update vulnerable dependencies to latest secure versions"},
				{Description: "Review code changes for potential security issues"},
			},
			Source: "security_scan_failure",
		}
		out = append(out, candidate{
			issue:         issue,
			severityKnown: true,
			detectorName:  "security_scan_failure",
		})
	}
	return out
}

// detectPipelinePerformance emits one medium pipeline_performance
// candidate when the whole run exceeds the pipeline ceiling.
func detectPipelinePerformance(run model.RunRecord) []candidate {
	if run.DurationSeconds == nil || *run.DurationSeconds <= pipelineDurationCeil {
		return nil
	}

	issue := model.NewIssue(model.IssuePipelinePerformance, model.SeverityMedium,
		"Pipeline performance degradation")
	issue.Description = fmt.Sprintf("Pipeline took %.0f seconds to complete", *run.DurationSeconds)
	issue.RunID = &run.ID
	for _, j := range run.Jobs {
		issue.Affected = append(issue.Affected, model.AffectedEntity{
			Kind: model.EntityJob, Name: j.Name,
		})
	}
	issue.Fix = &model.SuggestedFix{
		Summary: "Pipeline duration exceeds optimal thresholds.",
		Actions: []model.FixAction{
			{Description: "Run independent jobs in parallel"},
			{Description: "Review and optimize individual job steps"},
			{Description: "Implement a comprehensive caching strategy"},
		},
		Source: "pipeline_performance",
	}
	return []candidate{{
		issue:         issue,
		severityKnown: true,
		detectorName:  "pipeline_performance",
	}}
}

func isSecurityJob(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range securityJobPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
