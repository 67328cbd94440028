package recovery

import "context"

// Strategy decides what happens when a structural failure is found while
// building the object index.
type Strategy interface {
	OnError(ctx context.Context, err error, location Location) Action
}

type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

type Action int

const (
	// ActionFail returns the error to the caller.
	ActionFail Action = iota
	// ActionSkip ignores the failing item and keeps going.
	ActionSkip
	// ActionFix repairs the damage, e.g. by rebuilding the xref table.
	ActionFix
	// ActionWarn records the failure and repairs like ActionFix.
	ActionWarn
)

func (a Action) String() string {
	switch a {
	case ActionFail:
		return "fail"
	case ActionSkip:
		return "skip"
	case ActionFix:
		return "fix"
	case ActionWarn:
		return "warn"
	default:
		return "unknown"
	}
}

// Recovers reports whether the caller may carry on past the failure. Every
// action but ActionFail does.
func (a Action) Recovers() bool { return a != ActionFail }

// DuplicatePolicy picks between two definitions of the same object number
// met during a linear rebuild scan.
type DuplicatePolicy int

const (
	// LastWins keeps the definition found furthest into the file, matching
	// append-only incremental updates.
	LastWins DuplicatePolicy = iota
	// FirstWins keeps the earliest definition.
	FirstWins
)

func (p DuplicatePolicy) String() string {
	if p == FirstWins {
		return "first-wins"
	}
	return "last-wins"
}

// Replace reports whether a newly scanned definition replaces one already
// recorded for the same object number.
func (p DuplicatePolicy) Replace() bool { return p != FirstWins }
