package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStatusRejectsUnknown(t *testing.T) {
	status, err := ParseStatus(" Delivered ")
	assert.NoError(t, err)
	assert.Equal(t, StatusDelivered, status)

	_, err = ParseStatus("lost")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestTerminalSet(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusPickedUp, StatusInTransit, StatusOutForDelivery, StatusFailed} {
		assert.False(t, status.IsTerminal(), status)
	}
	for _, status := range TerminalStatuses() {
		assert.True(t, status.IsTerminal(), status)
	}
}

func TestDeltaFor(t *testing.T) {
	cases := map[Status]int{
		StatusDelivered: 1,
		StatusReturned:  -1,
		StatusCancelled: -1,
	}
	for status, want := range cases {
		got, ok := DeltaFor(status)
		assert.True(t, ok)
		assert.Equal(t, want, got, status)
	}
	_, ok := DeltaFor(StatusFailed)
	assert.False(t, ok)
}

func TestQualifies(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusDelivered, true},
		{StatusInTransit, StatusReturned, true},
		{StatusFailed, StatusCancelled, true},
		{StatusPending, StatusFailed, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusReturned, StatusDelivered, false},
		{StatusDelivered, StatusDelivered, false},
		{StatusPending, StatusInTransit, false},
	}
	for _, tc := range cases {
		if got := Qualifies(tc.from, tc.to); got != tc.want {
			t.Fatalf("Qualifies(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTransition(t *testing.T) {
	tr, err := NewTransition(StatusOutForDelivery, StatusDelivered)
	assert.NoError(t, err)
	delta, ok := tr.Delta()
	assert.True(t, ok)
	assert.Equal(t, 1, delta)

	tr, err = NewTransition(StatusDelivered, StatusCancelled)
	assert.NoError(t, err)
	_, ok = tr.Delta()
	assert.False(t, ok)

	_, err = NewTransition("archived", StatusDelivered)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
