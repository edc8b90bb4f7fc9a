package deploy

// DeployDecision explains whether an accepted event triggers a deploy.
type DeployDecision struct {
	Deploy bool
	Reason string
}

// DecideDeploy applies the dispatch rule: only push events on the configured
// branch of an auto-deploy configuration are deployed.
func DecideDeploy(event ParsedEvent, autoDeploy bool, deployBranch string) DeployDecision {
	switch {
	case !autoDeploy:
		return DeployDecision{Reason: "auto deploy disabled"}
	case event.Type != EventPush:
		return DeployDecision{Reason: "event type " + string(event.Type) + " is not deployable"}
	case event.Branch != deployBranch:
		return DeployDecision{Reason: "branch " + event.Branch + " is not the deploy branch " + deployBranch}
	default:
		return DeployDecision{Deploy: true, Reason: "push to " + deployBranch}
	}
}
