package vehicle

import (
	"fmt"

	"github.com/OCAP2/platoon/internal/fsm"
	"github.com/OCAP2/platoon/pkg/core"
)

// The methods in this file are called by the platoon manager. They are the only
// way membership and follow targets change; each one fires its own transition.

// JoinPlatoon makes a searching vehicle a member at rank without a maneuver.
// Used for static formation.
func (m *Manager) JoinPlatoon(platoonID string, rank int) error {
	if err := m.checkFree(); err != nil {
		return err
	}
	m.lastPlatoonID = platoonID
	if _, err := m.machine.Fire(fsm.Formed); err != nil {
		return err
	}
	m.platoonID, m.rank = platoonID, rank
	m.cooldownUntil = 0
	return nil
}

// CheckFree returns why the vehicle cannot become a member right now, or nil.
func (m *Manager) CheckFree() error { return m.checkFree() }

func (m *Manager) checkFree() error {
	if m.destroyed {
		return ErrDestroyed
	}
	if m.platoonID != "" {
		return fmt.Errorf("%w: %s is in %s", ErrAlreadyMember, m.id, m.platoonID)
	}
	if m.Status().IsManeuvering() || m.maneuver != nil {
		return fmt.Errorf("%w: %s", ErrVehicleBusy, m.id)
	}
	return nil
}

// Merge completes the candidate side of a join. The candidate becomes JOINED_LEADER
// when asLeader is set and JOINED_FOLLOWER otherwise.
func (m *Manager) Merge(platoonID string, rank int, asLeader bool) error {
	if m.maneuver == nil || m.maneuver.PlatoonID != platoonID {
		return fmt.Errorf("%w: %s has no maneuver towards %s", ErrNotMember, m.id, platoonID)
	}
	t := fsm.MergedAsFollower
	if asLeader {
		t = fsm.MergedAsLeader
	}
	if _, err := m.machine.Fire(t); err != nil {
		return err
	}
	m.platoonID, m.rank = platoonID, rank
	m.joinedTick = m.world.Tick()
	m.maneuver, m.slot, m.dwell = nil, nil, 0
	m.pid.Reset()
	return nil
}

// Demote moves the former leader to follower rank after a frontal join.
func (m *Manager) Demote(rank int) error {
	if m.platoonID == "" {
		return ErrNotMember
	}
	if _, err := m.machine.Fire(fsm.Demoted); err != nil {
		return err
	}
	m.agent.ClearSpeedLimit()
	m.extraGap = 0
	m.rank = rank
	m.joinedTick = m.world.Tick()
	m.pid.Reset()
	return nil
}

// SetRank updates the rank after a composition change.
func (m *Manager) SetRank(rank int) {
	if m.platoonID != "" {
		m.rank = rank
	}
}

// SetFollowTarget stores the leader and predecessor state for this tick.
func (m *Manager) SetFollowTarget(t FollowTarget) {
	m.target = &t
}

// OpenGap asks the member to make room for a joining vehicle. A leader relaxes
// its cruise speed to relax times the target; a follower adds extra metres of gap.
func (m *Manager) OpenGap(extra, relax float64) error {
	if m.platoonID == "" {
		return ErrNotMember
	}
	if _, err := m.machine.Fire(fsm.GapRequested); err != nil {
		return err
	}
	if m.rank == 0 {
		m.agent.SetSpeedLimit(relax * m.agent.TargetSpeed())
	} else {
		m.extraGap = extra
	}
	return nil
}

// ReleaseGap cancels OpenGap.
func (m *Manager) ReleaseGap() error {
	if m.Status() != fsm.OpenGap {
		return nil
	}
	if _, err := m.machine.Fire(fsm.GapReleased); err != nil {
		return err
	}
	m.agent.ClearSpeedLimit()
	m.extraGap = 0
	return nil
}

// RequestLeave starts a voluntary exit. The platoon detaches the vehicle on its
// next update.
func (m *Manager) RequestLeave() error {
	if m.platoonID == "" {
		return ErrNotMember
	}
	if _, err := m.machine.Fire(fsm.LeaveRequested); err != nil {
		return err
	}
	if m.target != nil && m.target.Destination != nil {
		m.agent.SetDestination(m.state.Transform.Location, *m.target.Destination, true)
	}
	m.world.Recorder().RecordManeuverEvent(core.ManeuverEvent{
		Kind:        core.ManeuverLeft,
		Tick:        m.world.Tick(),
		Time:        m.world.Now(),
		PlatoonID:   m.platoonID,
		CandidateID: m.id,
		Reason:      "requested",
	})
	return nil
}

// Detach completes a voluntary exit.
func (m *Manager) Detach() error {
	if m.Status() != fsm.Leaving {
		return fmt.Errorf("%w: %s is %s", fsm.ErrInvalidTransition, m.id, m.Status())
	}
	if _, err := m.machine.Fire(fsm.LeftPlatoon); err != nil {
		return err
	}
	m.clearMembership()
	return nil
}

// Release drops the vehicle out of its platoon, which is being destroyed or has
// replaced it. The vehicle keeps driving on its own.
func (m *Manager) Release() error {
	if m.platoonID == "" {
		return nil
	}
	if _, err := m.machine.Fire(fsm.Released); err != nil {
		return err
	}
	m.routeToSharedDestination()
	m.clearMembership()
	return nil
}

func (m *Manager) loseLeader(now uint64) error {
	age := m.target.Leader.Age(now)
	if _, err := m.machine.Fire(fsm.LeaderLost); err != nil {
		return err
	}
	m.logger.Warn("leader state stale, leaving platoon",
		"platoon", m.platoonID,
		"leader", m.target.Leader.VehicleID,
		"age", age)
	m.routeToSharedDestination()
	m.clearMembership()
	return nil
}

func (m *Manager) routeToSharedDestination() {
	if m.target == nil || m.target.Destination == nil || !m.published {
		return
	}
	m.agent.SetDestination(m.state.Transform.Location, *m.target.Destination, true)
}

// clearMembership also starts the retry cooldown so a vehicle that just left does
// not rejoin in the same breath.
func (m *Manager) clearMembership() {
	m.cooldownUntil = m.world.Tick() + m.cfg.RetryCooldownTicks
	m.agent.ClearSpeedLimit()
	m.platoonID, m.rank = "", -1
	m.target = nil
	m.extraGap = 0
	m.pid.Reset()
}
