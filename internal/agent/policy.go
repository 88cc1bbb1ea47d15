package agent

// LoopPolicy selects the loop's behavior for one deployment.
type LoopPolicy struct {
	// MaxSteps bounds tool-call iterations. Values below 1 are treated
	// as 1. After MaxSteps one more decision is requested to force a
	// final answer.
	MaxSteps int

	// AllowRepeats permits calling the same tool more than once per
	// cycle, for requests like "show me 2 dog images". When false a
	// repeated call is rejected with a corrective message.
	AllowRepeats bool

	// InferRequiredTools makes one auxiliary model call at cycle start
	// to estimate which tools the request needs. The estimate only
	// appears in progress summaries.
	InferRequiredTools bool

	// MalformedRetries is how many unparsable decisions per cycle are
	// answered with a corrective message instead of ending the cycle.
	// These retries do not consume steps.
	MalformedRetries int
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() LoopPolicy {
	return LoopPolicy{MaxSteps: 8, AllowRepeats: true}
}

func (p LoopPolicy) normalized() LoopPolicy {
	if p.MaxSteps < 1 {
		p.MaxSteps = 1
	}
	if p.MalformedRetries < 0 {
		p.MalformedRetries = 0
	}
	return p
}
