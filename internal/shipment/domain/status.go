package domain

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusPickedUp       Status = "picked_up"
	StatusInTransit      Status = "in_transit"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusFailed         Status = "failed"
	StatusReturned       Status = "returned"
	StatusCancelled      Status = "cancelled"
)

var knownStatuses = map[Status]struct{}{
	StatusPending:        {},
	StatusPickedUp:       {},
	StatusInTransit:      {},
	StatusOutForDelivery: {},
	StatusDelivered:      {},
	StatusFailed:         {},
	StatusReturned:       {},
	StatusCancelled:      {},
}

// terminalDeltas maps each terminal status to the score delta it applies.
// failed is deliberately absent: it is not terminal for scoring.
var terminalDeltas = map[Status]int{
	StatusDelivered: 1,
	StatusReturned:  -1,
	StatusCancelled: -1,
}

// ParseStatus accepts only the closed set of shipment statuses.
func ParseStatus(value string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
	return status, nil
}

func (s Status) Valid() bool {
	_, ok := knownStatuses[s]
	return ok
}

func (s Status) IsTerminal() bool {
	_, ok := terminalDeltas[s]
	return ok
}

func (s Status) String() string {
	return string(s)
}

// DeltaFor returns the score delta for a terminal status.
func DeltaFor(status Status) (int, bool) {
	delta, ok := terminalDeltas[status]
	return delta, ok
}

// Qualifies reports whether moving from one status to another crosses into a terminal
// state. Terminal to terminal corrections never qualify.
func Qualifies(from, to Status) bool {
	return !from.IsTerminal() && to.IsTerminal()
}

// TerminalStatuses lists the statuses counted as completed shipments.
func TerminalStatuses() []Status {
	return []Status{StatusDelivered, StatusReturned, StatusCancelled}
}

// Transition is a validated status change.
type Transition struct {
	From Status
	To   Status
}

// NewTransition validates both ends of a status change.
func NewTransition(from, to Status) (Transition, error) {
	if !from.Valid() {
		return Transition{}, fmt.Errorf("%w: from %q", ErrInvalidStatus, from)
	}
	if !to.Valid() {
		return Transition{}, fmt.Errorf("%w: to %q", ErrInvalidStatus, to)
	}
	return Transition{From: from, To: to}, nil
}

func (t Transition) IsNoop() bool {
	return t.From == t.To
}

func (t Transition) Qualifies() bool {
	return Qualifies(t.From, t.To)
}

// Delta returns the delta the transition applies. ok is false for
// non-qualifying transitions.
func (t Transition) Delta() (delta int, ok bool) {
	if !t.Qualifies() {
		return 0, false
	}
	return DeltaFor(t.To)
}
