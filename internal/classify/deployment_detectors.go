package classify

import (
	"fmt"

	"github.com/kestrelhq/kestrel/internal/model"
)

type deploymentDetector struct {
	name   string
	detect func(d model.DeploymentRecord) []candidate
}

// deploymentDetectors is the ordered detector set for deployments.
var deploymentDetectors = []deploymentDetector{
	{name: "deployment_failure", detect: detectDeploymentFailure},
	{name: "replica_shortfall", detect: detectReplicaShortfall},
	{name: "missing_resource_requests", detect: detectMissingResourceRequests},
	{name: "missing_health_checks", detect: detectMissingHealthChecks},
}

// detectDeploymentFailure emits one deployment_failure candidate when the
// derived status is failed. Severity comes from the condition and event
// rule table, which is always conclusive for deployments.
func detectDeploymentFailure(d model.DeploymentRecord) []candidate {
	if d.Status != model.DeploymentFailed {
		return nil
	}

	issue := model.NewIssue(model.IssueDeploymentFailure,
		deploymentSeverity(d.Conditions, d.Provider.Events),
		fmt.Sprintf("Deployment failure: %s", d.Name))
	issue.Description = fmt.Sprintf("Deployment %s failed to deploy successfully", d.Name)
	issue.DeploymentID = &d.ID
	issue.Affected = []model.AffectedEntity{
		{Kind: model.EntityDeployment, Name: d.Name, Namespace: d.Namespace},
	}
	issue.Raw = map[string]any{
		"conditions": d.Conditions,
		"pod_events": d.Provider.Events,
	}
	return []candidate{{
		issue:         issue,
		severityKnown: true,
		wantAdvisory:  true,
		detectorName:  "deployment_failure",
	}}
}

// detectReplicaShortfall emits one medium scaling_issue candidate when
// fewer replicas are available than desired.
func detectReplicaShortfall(d model.DeploymentRecord) []candidate {
	if d.DesiredReplicas == 0 || d.AvailableReplicas >= d.DesiredReplicas {
		return nil
	}

	issue := model.NewIssue(model.IssueScaling, model.SeverityMedium,
		fmt.Sprintf("Scaling issue: %s", d.Name))
	issue.Description = fmt.Sprintf("Deployment has %d/%d replicas available",
		d.AvailableReplicas, d.DesiredReplicas)
	issue.DeploymentID = &d.ID
	issue.Affected = []model.AffectedEntity{
		{Kind: model.EntityDeployment, Name: d.Name, Namespace: d.Namespace},
	}
	issue.Fix = &model.SuggestedFix{
		Summary: "Deployment is not running the desired number of replicas.",
		Actions: []model.FixAction{
			{Description: "Check if there are sufficient cluster resources"},
			{Description: "Inspect pod startup failures and scheduling events"},
		},
		Source: "replica_shortfall",
	}
	return []candidate{{
		issue:         issue,
		severityKnown: true,
		detectorName:  "replica_shortfall",
	}}
}

// detectMissingResourceRequests emits one low resource_configuration
// candidate per container without resource requests.
func detectMissingResourceRequests(d model.DeploymentRecord) []candidate {
	var out []candidate
	for _, c := range d.Provider.Containers {
		if c.HasResourceRequests {
			continue
		}

		issue := model.NewIssue(model.IssueResourceConfiguration, model.SeverityLow,
			fmt.Sprintf("Missing resource requests: %s", d.Name))
		issue.Description = fmt.Sprintf("Container %s is missing resource requests", c.Name)
		issue.DeploymentID = &d.ID
		issue.Affected = []model.AffectedEntity{
			{Kind: model.EntityDeployment, Name: d.Name, Namespace: d.Namespace},
			{Kind: model.EntityContainer, Name: c.Name},
		}
		issue.Fix = &model.SuggestedFix{
			Summary: "Missing resource requests can lead to resource contention.",
			Actions: []model.FixAction{
				{Description: "Add resource requests to the container specification"},
				{Description: "Consider adding resource limits as well"},
			},
			Source: "missing_resource_requests",
		}
		out = append(out, candidate{
			issue:         issue,
			severityKnown: true,
			detectorName:  "missing_resource_requests",
		})
	}
	return out
}

// detectMissingHealthChecks emits one medium health_check_missing
// candidate per container that has neither a liveness nor a readiness
// probe.
func detectMissingHealthChecks(d model.DeploymentRecord) []candidate {
	var out []candidate
	for _, c := range d.Provider.Containers {
		if c.HasLivenessProbe || c.HasReadinessProbe {
			continue
		}

		issue := model.NewIssue(model.IssueHealthCheckMissing, model.SeverityMedium,
			fmt.Sprintf("Missing health checks: %s", d.Name))
		issue.Description = fmt.Sprintf("Container %s is missing health checks", c.Name)
		issue.DeploymentID = &d.ID
		issue.Affected = []model.AffectedEntity{
			{Kind: model.EntityDeployment, Name: d.Name, Namespace: d.Namespace},
			{Kind: model.EntityContainer, Name: c.Name},
		}
		issue.Fix = &model.SuggestedFix{
			Summary: "Missing health checks can leave application failures undetected.",
			Actions: []model.FixAction{
				{Description: "Add a liveness probe to detect deadlocked applications"},
				{Description: "Add a readiness probe so traffic only reaches ready pods"},
			},
			Source: "missing_health_checks",
		}
		out = append(out, candidate{
			issue:         issue,
			severityKnown: true,
			detectorName:  "missing_health_checks",
		})
	}
	return out
}
