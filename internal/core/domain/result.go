package domain

// ForwardOutcome is the tagged result of a backend's forward attempt. The
// source runtime models this with exceptions (a fallback "signal" raised
// before any byte reaches the client); here it's an ordinary return value
// the fallback controller switches on.
type ForwardOutcome int

const (
	// OutcomeCompleted means the backend relayed the session to completion
	// (or a post-start failure that is fatal for the session, not retryable).
	OutcomeCompleted ForwardOutcome = iota
	// OutcomeFallback means the backend failed before any byte reached the
	// client; the controller should record the reason and try another pick.
	OutcomeFallback
	// OutcomeNotHTTP means a plaintext-HTTP backend discovered mid-flow that
	// the session isn't actually HTTP; the controller falls back to DIRECT
	// exactly once.
	OutcomeNotHTTP
)

// DelayedPenalty is a side effect queued during selection (e.g. black-listing
// a host) that fires only once the session actually starts forwarding bytes.
type DelayedPenalty func()

// ForwardResult is returned by Backend.Forward.
type ForwardResult struct {
	Outcome ForwardOutcome
	Reason  string
	// Silent suppresses logging of a Fallback outcome, used for policy
	// refusals (us_ip_only, direct-access disabled) rather than real faults.
	Silent bool
	// DelayedPenalty is carried back on a Fallback result from the relay;
	// the fallback controller does not invoke it, since forwarding never started.
	DelayedPenalty DelayedPenalty
}

func Completed() ForwardResult {
	return ForwardResult{Outcome: OutcomeCompleted}
}

func Fallback(reason string, silent bool, penalty DelayedPenalty) ForwardResult {
	return ForwardResult{Outcome: OutcomeFallback, Reason: reason, Silent: silent, DelayedPenalty: penalty}
}

func NotHTTP(reason string) ForwardResult {
	return ForwardResult{Outcome: OutcomeNotHTTP, Reason: reason}
}
