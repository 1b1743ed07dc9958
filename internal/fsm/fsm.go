// Package fsm defines the platooning state machine every vehicle manager runs.
//
// A vehicle's status can only change through Machine.Fire, which looks the
// (status, trigger) pair up in a fixed transition table. Pairs missing from the
// table are rejected with ErrInvalidTransition and leave the status untouched.
package fsm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTransition is returned when a trigger is not allowed in the current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrUnknownStatus is returned by ParseStatus for unrecognised names.
var ErrUnknownStatus = errors.New("unknown status")

// Status is the platooning state of one vehicle.
type Status uint8

const (
	Searching Status = iota
	OpenGap
	Approaching
	Joining
	JoinedFollower
	JoinedLeader
	Maintaining
	Leaving
)

var statusNames = [...]string{
	Searching:      "SEARCHING",
	OpenGap:        "OPEN_GAP",
	Approaching:    "APPROACHING",
	Joining:        "JOINING",
	JoinedFollower: "JOINED_FOLLOWER",
	JoinedLeader:   "JOINED_LEADER",
	Maintaining:    "MAINTAINING",
	Leaving:        "LEAVING",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// ParseStatus converts a status name (case-insensitive) back to a Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, name) {
			return Status(i), nil
		}
	}
	return Searching, fmt.Errorf("%w: %q", ErrUnknownStatus, name)
}

// IsMember reports whether a vehicle in this status belongs to a platoon.
func (s Status) IsMember() bool {
	switch s {
	case OpenGap, JoinedFollower, JoinedLeader, Maintaining, Leaving:
		return true
	}
	return false
}

// IsManeuvering reports whether the status is a candidate-side join phase.
func (s Status) IsManeuvering() bool {
	return s == Approaching || s == Joining
}

// Trigger is an event that may move a vehicle to another status.
type Trigger uint8

const (
	JoinAccepted Trigger = iota
	Formed
	AlignmentReached
	Abort
	MergedAsFollower
	MergedAsLeader
	Confirmed
	GapRequested
	GapReleased
	Demoted
	LeaveRequested
	LeftPlatoon
	LeaderLost
	Released
)

var triggerNames = [...]string{
	JoinAccepted:     "join_accepted",
	Formed:           "formed",
	AlignmentReached: "alignment_reached",
	Abort:            "abort",
	MergedAsFollower: "merged_as_follower",
	MergedAsLeader:   "merged_as_leader",
	Confirmed:        "confirmed",
	GapRequested:     "gap_requested",
	GapReleased:      "gap_released",
	Demoted:          "demoted",
	LeaveRequested:   "leave_requested",
	LeftPlatoon:      "left_platoon",
	LeaderLost:       "leader_lost",
	Released:         "released",
}

func (t Trigger) String() string {
	if int(t) < len(triggerNames) {
		return triggerNames[t]
	}
	return fmt.Sprintf("Trigger(%d)", uint8(t))
}

type edge struct {
	from    Status
	trigger Trigger
}

var transitions = map[edge]Status{
	{Searching, JoinAccepted}: Approaching,
	{Searching, Formed}:       Maintaining,

	{Approaching, AlignmentReached}: Joining,
	{Approaching, Abort}:            Searching,
	{Joining, Abort}:                Searching,

	{Joining, MergedAsFollower}: JoinedFollower,
	{Joining, MergedAsLeader}:   JoinedLeader,

	{JoinedFollower, Confirmed}: Maintaining,
	{JoinedLeader, Confirmed}:   Maintaining,

	{Maintaining, GapRequested}: OpenGap,
	{OpenGap, GapReleased}:      Maintaining,
	{OpenGap, Demoted}:          JoinedFollower,
	{Maintaining, Demoted}:      JoinedFollower,

	{Maintaining, LeaveRequested}: Leaving,
	{Leaving, LeftPlatoon}:        Searching,
}

func init() {
	// Losing the leader or the platoon itself drops every member status back to searching.
	for _, s := range []Status{OpenGap, JoinedFollower, JoinedLeader, Maintaining, Leaving} {
		transitions[edge{s, LeaderLost}] = Searching
		transitions[edge{s, Released}] = Searching
	}
}

// Transition returns the status reached by firing t in from.
func Transition(from Status, t Trigger) (Status, error) {
	to, ok := transitions[edge{from, t}]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, t, from)
	}
	return to, nil
}

// Can reports whether t is allowed in from.
func Can(from Status, t Trigger) bool {
	_, ok := transitions[edge{from, t}]
	return ok
}

// Change describes one applied transition.
type Change struct {
	From    Status
	To      Status
	Trigger Trigger
}

// Machine holds the status of one vehicle. The zero value is a machine in Searching.
type Machine struct {
	status Status
	onFire func(Change)
}

// New returns a machine starting in initial.
func New(initial Status) *Machine {
	return &Machine{status: initial}
}

// OnChange registers a callback invoked after every applied transition.
func (m *Machine) OnChange(fn func(Change)) {
	m.onFire = fn
}

// Status returns the current status.
func (m *Machine) Status() Status {
	return m.status
}

// Fire applies t. The status is unchanged when the transition is not allowed.
func (m *Machine) Fire(t Trigger) (Change, error) {
	to, err := Transition(m.status, t)
	if err != nil {
		return Change{}, err
	}
	c := Change{From: m.status, To: to, Trigger: t}
	m.status = to
	if m.onFire != nil {
		m.onFire(c)
	}
	return c, nil
}
