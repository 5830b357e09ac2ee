// Package debounce turns sampled signals into discrete transitions.
//
// Every function here is pure. Callers load the previous per-subscriber state,
// decide, dispatch the resulting notifications and then persist the returned
// updates in a single write.
package debounce

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Status is the voting status of a validator. The zero value means unset.
type Status string

const (
	StatusUnset      Status = ""
	StatusCurrent    Status = "current"
	StatusDelinquent Status = "delinquent"
)

// ParseStatus validates a persisted status value.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusUnset, StatusCurrent, StatusDelinquent:
		return Status(s), nil
	default:
		return StatusUnset, fmt.Errorf("unknown validator status %q", s)
	}
}

// Transition names the context of a status change notification.
type Transition string

const (
	TransitionNone       Transition = ""
	TransitionDelinquent Transition = "delinquent"
	TransitionResolved   Transition = "resolved"
)

// StatusDecision is the outcome of comparing two statuses.
type StatusDecision struct {
	Transition Transition
	// Record is true when the new status must be persisted.
	Record bool
}

// Notify reports whether subscribers should hear about the change.
func (d StatusDecision) Notify() bool { return d.Transition != TransitionNone }

// DecideStatus compares the stored status with the sampled one. A first
// observation is recorded without notifying anyone.
func DecideStatus(previous, current Status) StatusDecision {
	if previous == current || current == StatusUnset {
		return StatusDecision{}
	}
	switch {
	case previous == StatusCurrent && current == StatusDelinquent:
		return StatusDecision{Transition: TransitionDelinquent, Record: true}
	case previous == StatusDelinquent && current == StatusCurrent:
		return StatusDecision{Transition: TransitionResolved, Record: true}
	default:
		return StatusDecision{Record: true}
	}
}

// DecideFlag reports whether a boolean signal changed.
func DecideFlag(previous, current bool) bool {
	return previous != current
}

// Below reports whether value is strictly under threshold.
func Below(value, threshold decimal.Decimal) bool {
	return value.LessThan(threshold)
}

// DecideThreshold returns the sampled low flag and whether it differs from previous.
func DecideThreshold(previous bool, value, threshold decimal.Decimal) (low bool, changed bool) {
	low = Below(value, threshold)
	return low, DecideFlag(previous, low)
}

// LowCredit reports whether each of the last window credits is below floor.
// ok is false when fewer than window samples exist.
func LowCredit(credits []float64, window int, floor float64) (low bool, ok bool) {
	if window <= 0 || len(credits) < window {
		return false, false
	}
	for _, c := range credits[len(credits)-window:] {
		if c >= floor {
			return false, true
		}
	}
	return true, true
}

// Flags maps subscriber ids to their last emitted low flag. Missing entries read as false.
type Flags map[string]bool

// Get returns the flag of a subscriber.
func (f Flags) Get(subscriber string) bool {
	if f == nil {
		return false
	}
	return f[subscriber]
}

// Subscriber is one recipient of a per-entity threshold signal.
type Subscriber struct {
	ID        string
	Threshold decimal.Decimal
}

// Group holds subscribers that share one transition direction and threshold.
type Group struct {
	Low         bool
	Threshold   decimal.Decimal
	Subscribers []string
}

// Batch is the outcome of one sampling pass over every subscriber of an entity.
type Batch struct {
	Value  decimal.Decimal
	Groups []Group
	// Updates holds only the subscribers whose flag changed.
	Updates Flags
}

// Empty reports whether nobody transitioned.
func (b Batch) Empty() bool { return len(b.Updates) == 0 }

// EvaluateThresholds decides the same sampled value against every subscriber.
// A subscriber listed twice is evaluated once.
func EvaluateThresholds(value decimal.Decimal, subscribers []Subscriber, state Flags) Batch {
	batch := Batch{Value: value, Updates: Flags{}}

	type groupKey struct {
		low       bool
		threshold string
	}
	index := make(map[groupKey]int)
	seen := make(map[string]struct{}, len(subscribers))

	for _, sub := range subscribers {
		if _, dup := seen[sub.ID]; dup {
			continue
		}
		seen[sub.ID] = struct{}{}

		low, changed := DecideThreshold(state.Get(sub.ID), value, sub.Threshold)
		if !changed {
			continue
		}
		batch.Updates[sub.ID] = low

		key := groupKey{low: low, threshold: sub.Threshold.String()}
		i, ok := index[key]
		if !ok {
			i = len(batch.Groups)
			index[key] = i
			batch.Groups = append(batch.Groups, Group{Low: low, Threshold: sub.Threshold})
		}
		batch.Groups[i].Subscribers = append(batch.Groups[i].Subscribers, sub.ID)
	}

	sort.SliceStable(batch.Groups, func(i, j int) bool {
		if batch.Groups[i].Low != batch.Groups[j].Low {
			return batch.Groups[i].Low
		}
		return batch.Groups[i].Threshold.LessThan(batch.Groups[j].Threshold)
	})
	return batch
}
