package vehicle

import (
	"errors"
	"math"
	"slices"

	"github.com/OCAP2/platoon/internal/fsm"
	"github.com/OCAP2/platoon/internal/world"
	"github.com/OCAP2/platoon/pkg/core"
)

// JoinTarget is the coordinator side of the join protocol, implemented by the
// platoon manager. A registered world.Platoon that does not implement it cannot
// be joined.
type JoinTarget interface {
	world.Platoon
	// RequestJoin asks to insert c at slotIndex. On success the returned maneuver
	// is the context the candidate drives until merge or abort.
	RequestJoin(c *Manager, insert core.InsertPosition, slotIndex int) (core.Maneuver, error)
	// JoinSlot returns the pose the candidate converges on this tick.
	JoinSlot(c *Manager) (core.Slot, error)
	// CompleteJoin merges the candidate into the platoon.
	CompleteJoin(c *Manager) error
	// AbortJoin releases the gap opened for c and forgets the pending join.
	AbortJoin(c *Manager, reason string)
}

// Abort reasons.
const (
	AbortTimeout       = "timeout"
	AbortUnsafeGap     = "unsafe gap"
	AbortLeaderStale   = "leader stale"
	AbortPlatoonGone   = "platoon gone"
	AbortCandidateGone = "candidate gone"
)

type candidate struct {
	target    JoinTarget
	insert    core.InsertPosition
	slotIndex int
	distance  float64
}

// search looks for the nearest joinable platoon and requests a slot in it.
func (m *Manager) search(now uint64) {
	if now < m.cooldownUntil || now%uint64(m.cfg.UpdateFreq) != 0 {
		return
	}
	best, ok := m.bestPlatoon()
	if !ok {
		return
	}
	mv, err := best.target.RequestJoin(m, best.insert, best.slotIndex)
	if err != nil {
		m.cooldownUntil = now + m.cfg.RetryCooldownTicks
		m.logger.Debug("join request rejected", "platoon", best.target.ID(), "error", err)
		return
	}
	m.maneuver = &mv
	m.lastPlatoonID = mv.PlatoonID
	m.dwell = 0
	m.pid.Reset()
	if _, err := m.machine.Fire(fsm.JoinAccepted); err != nil {
		// unreachable from Searching; undo the request so the platoon is not left pending
		best.target.AbortJoin(m, err.Error())
		m.maneuver = nil
		return
	}
	m.logger.Info("join accepted",
		"platoon", mv.PlatoonID,
		"insert", string(mv.Insert),
		"slot", mv.SlotIndex,
		"deadline", mv.DeadlineTick)
}

func (m *Manager) bestPlatoon() (candidate, bool) {
	var best candidate
	found := false
	self := m.state.Transform.Location
	for _, p := range m.world.Platoons() {
		jt, ok := p.(JoinTarget)
		if !ok {
			continue
		}
		ids := jt.MemberIDs()
		if len(ids) == 0 {
			continue
		}
		leader, ok := m.world.FreshState(ids[0], 1)
		if !ok {
			continue
		}
		d := leader.Transform.Location.Distance(self)
		if d > m.cfg.SearchRadius || (found && d >= best.distance) {
			continue
		}
		insert, idx := m.insertPosition(leader, ids)
		best = candidate{target: jt, insert: insert, slotIndex: idx, distance: d}
		found = true
	}
	return best, found
}

// insertPosition picks front, cut-in or back from where the vehicle sits along
// the leader's heading.
func (m *Manager) insertPosition(leader core.VehicleState, ids []string) (core.InsertPosition, int) {
	lon, _ := leader.Transform.Offsets(m.state.Transform.Location)
	if lon > 0 {
		return core.InsertFront, 0
	}
	for i := 1; i < len(ids); i++ {
		s, ok := m.world.State(ids[i])
		if !ok {
			continue
		}
		lonI, _ := leader.Transform.Offsets(s.Transform.Location)
		if lon > lonI {
			return core.InsertCutIn, i
		}
	}
	return core.InsertBack, len(ids)
}

// advanceManeuver runs the candidate phases: safety checks, then alignment and
// dwell tracking against the slot the platoon reports.
func (m *Manager) advanceManeuver(now uint64) {
	mv := m.maneuver
	p, ok := m.world.Platoon(mv.PlatoonID)
	if !ok {
		m.abort(nil, AbortPlatoonGone)
		return
	}
	jt, ok := p.(JoinTarget)
	if !ok {
		m.abort(nil, AbortPlatoonGone)
		return
	}
	if mv.Expired(now) {
		m.abort(jt, AbortTimeout)
		return
	}
	slot, err := jt.JoinSlot(m)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, ErrLeaderStale) {
			reason = AbortLeaderStale
		}
		m.abort(jt, reason)
		return
	}
	if other, ok := m.collisionRisk(slot); ok {
		m.logger.Warn("collision risk during join", "other", other.VehicleID, "tick", now)
		m.abort(jt, AbortUnsafeGap)
		return
	}
	m.slot = &slot

	lon, lat := slot.Transform.Offsets(m.state.Transform.Location)
	switch m.Status() {
	case fsm.Approaching:
		if math.Abs(lon) <= m.cfg.ApproachTolerance && math.Abs(lat) <= m.cfg.LateralTolerance {
			if _, err := m.machine.Fire(fsm.AlignmentReached); err != nil {
				return
			}
			mv.Phase = core.PhaseJoining
			m.recordManeuver(core.ManeuverAligned, "")
		}
	case fsm.Joining:
		aligned := math.Abs(lon) <= m.cfg.JoinTolerance &&
			math.Abs(lat) <= m.cfg.JoinLateralTolerance &&
			math.Abs(m.state.Speed-slot.Speed) <= m.cfg.SpeedTolerance
		if !aligned {
			m.dwell = 0
			return
		}
		m.dwell++
		mv.DwellTicks = m.dwell
		if m.dwell >= m.cfg.DwellTicks {
			if err := jt.CompleteJoin(m); err != nil {
				m.logger.Warn("completing join failed", "platoon", mv.PlatoonID, "error", err)
				m.abort(jt, err.Error())
			}
		}
	}
}

// collisionRisk returns a vehicle in the candidate's corridor whose bumper gap is
// below MinSafetyDistance or whose time to collision at the current closing speed
// is below MinTimeToCollision. The slot neighbours are always considered.
func (m *Manager) collisionRisk(slot core.Slot) (core.VehicleState, bool) {
	self := m.state
	horizon := m.cfg.MinSafetyDistance + m.cfg.MinTimeToCollision*m.cfg.Limits.MaxSpeed + 2*self.Length
	others := m.world.Nearby(self.Transform.Location, horizon, m.id)
	for _, n := range []*core.VehicleState{slot.Ahead, slot.Behind} {
		if n != nil && n.VehicleID != m.id && !slices.ContainsFunc(others, func(o core.VehicleState) bool { return o.VehicleID == n.VehicleID }) {
			others = append(others, *n)
		}
	}

	for _, o := range others {
		lon, lat := self.Transform.Offsets(o.Transform.Location)
		if math.Abs(lat) >= m.cfg.CorridorWidth {
			continue
		}
		var gap, closing float64
		if lon >= 0 {
			gap = self.BumperGap(o)
			closing = self.Speed - o.Speed
		} else {
			gap = -lon - self.Length/2 - o.Length/2
			closing = o.Speed - self.Speed
		}
		if gap < m.cfg.MinSafetyDistance {
			return o, true
		}
		if closing > 0 && gap/closing < m.cfg.MinTimeToCollision {
			return o, true
		}
	}
	return core.VehicleState{}, false
}

// CancelManeuver aborts the active join, if any. The platoon calls it for a
// candidate that vanished or overran its deadline; the manager calls it when its
// own actor goes away.
func (m *Manager) CancelManeuver(reason string) {
	if m.maneuver == nil {
		return
	}
	var jt JoinTarget
	if p, ok := m.world.Platoon(m.maneuver.PlatoonID); ok {
		jt, _ = p.(JoinTarget)
	}
	m.abort(jt, reason)
}

// abort reverts the candidate to SEARCHING. It is the single place an aborted
// maneuver is recorded.
func (m *Manager) abort(jt JoinTarget, reason string) {
	mv := *m.maneuver
	if jt != nil {
		jt.AbortJoin(m, reason)
	}
	if _, err := m.machine.Fire(fsm.Abort); err != nil {
		m.logger.Error("aborting maneuver", "error", err)
	}
	m.maneuver, m.slot, m.dwell = nil, nil, 0
	m.pid.Reset()
	now := m.world.Tick()
	m.cooldownUntil = now + m.cfg.RetryCooldownTicks

	m.logger.Warn("join aborted",
		"platoon", mv.PlatoonID,
		"maneuver", mv.ID,
		"reason", reason,
		"phase", string(mv.Phase))
	m.world.Recorder().RecordManeuverEvent(core.ManeuverEvent{
		ManeuverID:  mv.ID,
		Kind:        core.ManeuverAborted,
		Tick:        now,
		Time:        m.world.Now(),
		PlatoonID:   mv.PlatoonID,
		CandidateID: m.id,
		Insert:      mv.Insert,
		Reason:      reason,
	})
}

func (m *Manager) recordManeuver(kind core.ManeuverEventKind, reason string) {
	mv := m.maneuver
	m.world.Recorder().RecordManeuverEvent(core.ManeuverEvent{
		ManeuverID:  mv.ID,
		Kind:        kind,
		Tick:        m.world.Tick(),
		Time:        m.world.Now(),
		PlatoonID:   mv.PlatoonID,
		CandidateID: m.id,
		Insert:      mv.Insert,
		Reason:      reason,
	})
}
