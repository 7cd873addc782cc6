package app

// OutcomeKind classifies how an invocation ended.
type OutcomeKind int

const (
	Success OutcomeKind = iota
	// Failure carries a message for stderr.
	Failure
	// SilentFailure exits non-zero without printing; the flag parser
	// already reported the problem.
	SilentFailure
)

// Outcome is the result of one CLI invocation.
type Outcome struct {
	Kind    OutcomeKind
	Message string
}

func succeeded() Outcome           { return Outcome{Kind: Success} }
func failed(msg string) Outcome    { return Outcome{Kind: Failure, Message: msg} }
func silentlyFailed() Outcome      { return Outcome{Kind: SilentFailure} }
func failedWith(err error) Outcome { return failed(err.Error()) }

// ExitCode maps the outcome to a process exit status.
func (o Outcome) ExitCode() int {
	if o.Kind == Success {
		return 0
	}
	return 1
}

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case SilentFailure:
		return "silent failure"
	default:
		return "unknown"
	}
}
