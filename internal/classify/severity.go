package classify

import (
	"strings"

	"github.com/kestrelhq/kestrel/internal/model"
)

// deploymentSeverity is the deterministic rule table for deployment
// failures. Condition rules outrank event rules, and within the condition
// rules priority goes by rule, not by slice order: an unavailable
// deployment is critical no matter which other conditions it carries.
func deploymentSeverity(conditions []model.Condition, events []model.PodEvent) model.Severity {
	for _, c := range conditions {
		if c.Type == "Available" && c.Status == "False" {
			return model.SeverityCritical
		}
	}
	for _, c := range conditions {
		if c.Type == "Progressing" && c.Status == "False" {
			return model.SeverityHigh
		}
	}
	for _, e := range events {
		switch {
		case e.Type == "Warning" && strings.Contains(e.Reason, "Failed"):
			return model.SeverityHigh
		case e.Type == "Normal" && !strings.Contains(e.Reason, "Scheduled"):
			return model.SeverityMedium
		}
	}
	return model.SeverityLow
}

// runFailureSeverity applies the keyword rule table to the failing jobs of
// a run. Unlike the deployment table it can be inconclusive, in which case
// the advisory hint decides.
func runFailureSeverity(failed []model.JobOutcome) (model.Severity, bool) {
	for _, j := range failed {
		if isSecurityJob(j.Name) {
			return model.SeverityCritical, true
		}
	}
	for _, j := range failed {
		if strings.Contains(strings.ToLower(j.Name), "deploy") {
			return model.SeverityHigh, true
		}
	}
	return model.SeverityLow, false
}
