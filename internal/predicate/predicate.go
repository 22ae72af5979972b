// Package predicate implements the composable event filters evaluated by
// the bus before a listener's handler is invoked: AllOf/AnyOf/Not, identity
// matchers, state-change delta matchers, and string/glob/regex matchers.
package predicate

import (
	"path"
	"regexp"
	"strings"

	"github.com/NodeJSmith/hassette-go/internal/event"
)

// Predicate filters an event before dispatch. A nil Predicate matches
// everything; callers should prefer the zero value (Where(nil...)) rather
// than constructing an always-true predicate by hand.
type Predicate func(e event.Event) bool

// Sentinel distinguishes "argument not specified" from "must equal nil",
// since state values are themselves `any` and legitimately can be nil.
type sentinelType struct{}

// Sentinel is the shared "unset" marker for ChangedFrom/ChangedTo/AttrChanged
// optional value arguments.
var Sentinel = sentinelType{}

// Where folds zero or more predicates into one via AllOf. A nil result
// (zero predicates given) matches every event and signals "no filter" to
// callers that special-case it.
func Where(preds ...Predicate) Predicate {
	filtered := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return AllOf(filtered...)
}

// AllOf matches iff every predicate matches, short-circuiting on the first
// failure.
func AllOf(preds ...Predicate) Predicate {
	return func(e event.Event) bool {
		for _, p := range preds {
			if p != nil && !p(e) {
				return false
			}
		}
		return true
	}
}

// AnyOf matches iff at least one predicate matches, short-circuiting on the
// first success.
func AnyOf(preds ...Predicate) Predicate {
	return func(e event.Event) bool {
		for _, p := range preds {
			if p != nil && p(e) {
				return true
			}
		}
		return false
	}
}

// Not negates a predicate. Not(nil) matches nothing.
func Not(p Predicate) Predicate {
	return func(e event.Event) bool {
		if p == nil {
			return false
		}
		return !p(e)
	}
}

// Guard wraps an arbitrary function as a Predicate; it exists so call sites
// reading `predicate.Guard(fn)` document intent the same way the source
// material's Guard() combinator did, even though in Go a bare func value
// already satisfies the Predicate type.
func Guard(fn func(event.Event) bool) Predicate {
	return Predicate(fn)
}

func stateChangedPayload(e event.Event) (event.StateChanged, bool) {
	sc, ok := e.Payload.(event.StateChanged)
	return sc, ok
}

// EntityIs matches state-change events for exactly this entity.
func EntityIs(entityID string) Predicate {
	return func(e event.Event) bool {
		sc, ok := stateChangedPayload(e)
		return ok && sc.EntityID == entityID
	}
}

// DomainIs matches state-change events whose entity_id's domain (the
// component before the first '.') equals domain.
func DomainIs(domain string) Predicate {
	return func(e event.Event) bool {
		sc, ok := stateChangedPayload(e)
		if !ok {
			return false
		}
		idx := strings.IndexByte(sc.EntityID, '.')
		if idx < 0 {
			return false
		}
		return sc.EntityID[:idx] == domain
	}
}

// Changed matches any state-change event where old and new state strings
// differ (including the case where one side is absent).
func Changed() Predicate {
	return func(e event.Event) bool {
		sc, ok := stateChangedPayload(e)
		if !ok {
			return false
		}
		var oldVal, newVal string
		present := false
		if sc.OldState != nil {
			oldVal = sc.OldState.State
			present = true
		}
		if sc.NewState != nil {
			newVal = sc.NewState.State
			present = true
		}
		if !present {
			return false
		}
		return (sc.OldState == nil) != (sc.NewState == nil) || oldVal != newVal
	}
}

// ChangedFrom matches state-change events whose old state equals value.
// Pass Sentinel to mean "must have been absent" is not supported; use a
// literal empty string or the source's own state vocabulary instead, since
// "old_state == nil" is expressed as a separate condition in practice.
func ChangedFrom(value string) Predicate {
	return func(e event.Event) bool {
		sc, ok := stateChangedPayload(e)
		if !ok || sc.OldState == nil {
			return false
		}
		return sc.OldState.State == value
	}
}

// ChangedTo matches state-change events whose new state equals value.
func ChangedTo(value string) Predicate {
	return func(e event.Event) bool {
		sc, ok := stateChangedPayload(e)
		if !ok || sc.NewState == nil {
			return false
		}
		return sc.NewState.State == value
	}
}

// AttrChangedOption configures AttrChanged.
type AttrChangedOption func(*attrChangedOpts)

type attrChangedOpts struct {
	from any
	to   any
}

// From requires the attribute's prior value to equal value. Pass Sentinel
// (the default) to not constrain the prior value.
func From(value any) AttrChangedOption {
	return func(o *attrChangedOpts) { o.from = value }
}

// To requires the attribute's new value to equal value. Pass Sentinel (the
// default) to not constrain the new value.
func To(value any) AttrChangedOption {
	return func(o *attrChangedOpts) { o.to = value }
}

// AttrChanged matches state-change events where attribute name differs
// between old and new state, optionally constrained by From/To.
func AttrChanged(name string, opts ...AttrChangedOption) Predicate {
	cfg := attrChangedOpts{from: Sentinel, to: Sentinel}
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(e event.Event) bool {
		sc, ok := stateChangedPayload(e)
		if !ok {
			return false
		}
		var oldVal, newVal any
		if sc.OldState != nil {
			oldVal = sc.OldState.Attributes[name]
		}
		if sc.NewState != nil {
			newVal = sc.NewState.Attributes[name]
		}
		if cfg.from != Sentinel && oldVal != cfg.from {
			return false
		}
		if cfg.to != Sentinel && newVal != cfg.to {
			return false
		}
		return oldVal != newVal
	}
}

// Present matches when value is not the Sentinel (i.e. was specified).
func Present(value any) bool { return value != Sentinel }

// Missing matches when value is the Sentinel (i.e. was not specified).
func Missing(value any) bool { return value == Sentinel }

// GlobMatch reports whether topic matches the shell glob pattern (path.Match
// semantics: '*' matches any run of non-separator characters, '?' matches
// one, '[...]' is a character class). Hassette topics are dot-separated,
// not slash-separated, but path.Match operates byte-wise and does not treat
// '.' specially, so it is reused as-is.
func GlobMatch(pattern, topic string) bool {
	ok, err := path.Match(pattern, topic)
	return err == nil && ok
}

// IsGlob reports whether a topic string contains glob metacharacters and
// therefore belongs in the router's glob index rather than its exact index.
func IsGlob(topic string) bool {
	return strings.ContainsAny(topic, "*?[")
}

// HasPrefix, HasSuffix, Contains and Regexp are predicate builders over a
// state-change event's new state string, for apps that want to filter on
// the value itself rather than structural deltas.
func HasPrefix(prefix string) Predicate {
	return func(e event.Event) bool {
		sc, ok := stateChangedPayload(e)
		return ok && sc.NewState != nil && strings.HasPrefix(sc.NewState.State, prefix)
	}
}

func HasSuffix(suffix string) Predicate {
	return func(e event.Event) bool {
		sc, ok := stateChangedPayload(e)
		return ok && sc.NewState != nil && strings.HasSuffix(sc.NewState.State, suffix)
	}
}

func Contains(substr string) Predicate {
	return func(e event.Event) bool {
		sc, ok := stateChangedPayload(e)
		return ok && sc.NewState != nil && strings.Contains(sc.NewState.State, substr)
	}
}

func Regexp(re *regexp.Regexp) Predicate {
	return func(e event.Event) bool {
		sc, ok := stateChangedPayload(e)
		return ok && sc.NewState != nil && re.MatchString(sc.NewState.State)
	}
}
