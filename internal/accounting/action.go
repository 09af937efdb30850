package accounting

import (
	"strings"

	"aitrader/internal/simulation"
)

type Signal string

const (
	SignalBullish Signal = "bullish"
	SignalBearish Signal = "bearish"
	SignalNeutral Signal = "neutral"
)

// ParseSignal accepts the interpretation returned by an AI provider in any case.
func ParseSignal(raw string) (Signal, bool) {
	switch Signal(strings.ToLower(strings.TrimSpace(raw))) {
	case SignalBullish:
		return SignalBullish, true
	case SignalBearish:
		return SignalBearish, true
	case SignalNeutral:
		return SignalNeutral, true
	default:
		return "", false
	}
}

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

func (s Side) sign() int64 {
	if s == SideShort {
		return -1
	}
	return 1
}

type ActionKind string

const (
	ActionNone         ActionKind = "none"
	ActionHold         ActionKind = "hold"
	ActionOpenLong     ActionKind = "open_long"
	ActionIncreaseLong ActionKind = "increase_long"
	ActionCloseLong    ActionKind = "close_long"
	ActionOpenShort    ActionKind = "open_short"
	ActionCloseShort   ActionKind = "close_short"
	ActionReverseLong  ActionKind = "reverse_to_long"
	ActionReverseShort ActionKind = "reverse_to_short"
	// ActionSkippedUnsupported is a bearish signal on spot with nothing to close.
	ActionSkippedUnsupported ActionKind = "skipped_unsupported"
)

type Action struct {
	Kind   ActionKind `json:"kind"`
	Signal Signal     `json:"signal"`
}

// Closes reports whether the action closes the current position first.
func (a Action) Closes() bool {
	switch a.Kind {
	case ActionCloseLong, ActionCloseShort, ActionReverseLong, ActionReverseShort:
		return true
	}
	return false
}

// Opens returns the side the action opens or adds to.
func (a Action) Opens() (Side, bool) {
	switch a.Kind {
	case ActionOpenLong, ActionIncreaseLong, ActionReverseLong:
		return SideLong, true
	case ActionOpenShort, ActionReverseShort:
		return SideShort, true
	}
	return "", false
}

// RequiresOrder is false for none, hold and skipped outcomes.
func (a Action) RequiresOrder() bool {
	_, opens := a.Opens()
	return opens || a.Closes()
}

// Decide maps a signal to an action. Spot never shorts: bearish and neutral
// close an open long. Futures treat the signal as the target position.
func Decide(venue simulation.Venue, signal Signal, pos Position) Action {
	out := Action{Kind: ActionNone, Signal: signal}
	if venue == simulation.VenueFutures {
		switch signal {
		case SignalBullish:
			switch pos.Side {
			case SideLong:
				out.Kind = ActionHold
			case SideShort:
				out.Kind = ActionReverseLong
			default:
				out.Kind = ActionOpenLong
			}
		case SignalBearish:
			switch pos.Side {
			case SideShort:
				out.Kind = ActionHold
			case SideLong:
				out.Kind = ActionReverseShort
			default:
				out.Kind = ActionOpenShort
			}
		case SignalNeutral:
			switch pos.Side {
			case SideLong:
				out.Kind = ActionCloseLong
			case SideShort:
				out.Kind = ActionCloseShort
			}
		}
		return out
	}

	switch signal {
	case SignalBullish:
		if pos.Open() {
			out.Kind = ActionIncreaseLong
		} else {
			out.Kind = ActionOpenLong
		}
	case SignalBearish:
		if pos.Open() {
			out.Kind = ActionCloseLong
		} else {
			out.Kind = ActionSkippedUnsupported
		}
	case SignalNeutral:
		if pos.Open() {
			out.Kind = ActionCloseLong
		}
	}
	return out
}
