package audithook

import "log/slog"

// Option configures the audit extension.
type Option func(*Extension)

// WithLogger sets the logger used for recorder failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEnabledActions restricts auditing to the given actions only.
func WithEnabledActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.enabled[a] = true
		}
	}
}

// WithDisabledActions audits everything except the given actions.
func WithDisabledActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool)
		for _, a := range allActions() {
			e.enabled[a] = true
		}
		for _, a := range actions {
			delete(e.enabled, a)
		}
	}
}

func allActions() []string {
	return []string{
		ActionSettlementCompleted,
		ActionSettlementFailed,
		ActionObligationPaid,
		ActionObligationRegistered,
		ActionSourceRegistered,
		ActionAutopayCompleted,
	}
}
