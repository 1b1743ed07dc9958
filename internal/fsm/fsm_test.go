package fsm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []Status{Searching, OpenGap, Approaching, Joining, JoinedFollower, JoinedLeader, Maintaining, Leaving}

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		from    Status
		trigger Trigger
		want    Status
	}{
		{Searching, JoinAccepted, Approaching},
		{Searching, Formed, Maintaining},
		{Approaching, AlignmentReached, Joining},
		{Approaching, Abort, Searching},
		{Joining, Abort, Searching},
		{Joining, MergedAsFollower, JoinedFollower},
		{Joining, MergedAsLeader, JoinedLeader},
		{JoinedFollower, Confirmed, Maintaining},
		{JoinedLeader, Confirmed, Maintaining},
		{Maintaining, GapRequested, OpenGap},
		{OpenGap, GapReleased, Maintaining},
		{OpenGap, Demoted, JoinedFollower},
		{Maintaining, Demoted, JoinedFollower},
		{Maintaining, LeaveRequested, Leaving},
		{Leaving, LeftPlatoon, Searching},
		{Maintaining, LeaderLost, Searching},
		{OpenGap, Released, Searching},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.trigger.String(), func(t *testing.T) {
			got, err := Transition(tt.from, tt.trigger)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransition_RejectsUnlistedPairs(t *testing.T) {
	tests := []struct {
		from    Status
		trigger Trigger
	}{
		{Searching, AlignmentReached},
		{Searching, LeaveRequested},
		{Searching, LeaderLost},
		{Approaching, MergedAsLeader},
		{Joining, Confirmed},
		{Maintaining, Abort},
		{Leaving, GapRequested},
		{JoinedLeader, LeaveRequested},
	}

	for _, tt := range tests {
		got, err := Transition(tt.from, tt.trigger)
		assert.ErrorIs(t, err, ErrInvalidTransition, "%s on %s", tt.trigger, tt.from)
		assert.Equal(t, tt.from, got)
	}
}

func TestTransition_MemberStatusesPreserveInvariant(t *testing.T) {
	// Every allowed transition either keeps membership or goes through a trigger the
	// platoon manager pairs with a membership change.
	membershipChanging := map[Trigger]bool{
		Formed: true, MergedAsFollower: true, MergedAsLeader: true,
		LeftPlatoon: true, LeaderLost: true, Released: true,
	}
	for _, from := range allStatuses {
		for tr := JoinAccepted; tr <= Released; tr++ {
			to, err := Transition(from, tr)
			if err != nil {
				continue
			}
			if from.IsMember() != to.IsMember() {
				assert.True(t, membershipChanging[tr], "%s -> %s via %s changes membership", from, to, tr)
			}
		}
	}
}

func TestTransition_EveryStatusCanReachSearching(t *testing.T) {
	for _, s := range allStatuses {
		if s == Searching {
			continue
		}
		reached := false
		for _, tr := range []Trigger{Abort, LeaderLost, Released, LeftPlatoon} {
			if to, err := Transition(s, tr); err == nil && to == Searching {
				reached = true
			}
		}
		assert.True(t, reached, "%s has no way back to SEARCHING", s)
	}
}

func TestMachine_FireAppliesAndNotifies(t *testing.T) {
	m := New(Searching)
	var changes []Change
	m.OnChange(func(c Change) { changes = append(changes, c) })

	_, err := m.Fire(JoinAccepted)
	require.NoError(t, err)
	_, err = m.Fire(AlignmentReached)
	require.NoError(t, err)

	assert.Equal(t, Joining, m.Status())
	require.Len(t, changes, 2)
	assert.Equal(t, Change{From: Searching, To: Approaching, Trigger: JoinAccepted}, changes[0])
	assert.Equal(t, Change{From: Approaching, To: Joining, Trigger: AlignmentReached}, changes[1])
}

func TestMachine_FireRejectedKeepsStatus(t *testing.T) {
	m := New(Maintaining)
	called := false
	m.OnChange(func(Change) { called = true })

	_, err := m.Fire(JoinAccepted)

	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, Maintaining, m.Status())
	assert.False(t, called)
}

func TestMachine_ZeroValueIsSearching(t *testing.T) {
	var m Machine
	assert.Equal(t, Searching, m.Status())
}

func TestParseStatus(t *testing.T) {
	for _, s := range allStatuses {
		got, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	got, err := ParseStatus("maintaining")
	require.NoError(t, err)
	assert.Equal(t, Maintaining, got)

	_, err = ParseStatus("FOLLOWING")
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestStatusPredicates(t *testing.T) {
	assert.False(t, Searching.IsMember())
	assert.False(t, Approaching.IsMember())
	assert.True(t, Maintaining.IsMember())
	assert.True(t, OpenGap.IsMember())
	assert.True(t, Leaving.IsMember())
	assert.True(t, Joining.IsManeuvering())
	assert.False(t, JoinedLeader.IsManeuvering())
	assert.Equal(t, "Status(42)", Status(42).String())
}
