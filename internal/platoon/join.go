package platoon

import (
	"fmt"
	"slices"

	"github.com/OCAP2/platoon/internal/fsm"
	"github.com/OCAP2/platoon/internal/vehicle"
	"github.com/OCAP2/platoon/pkg/core"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// RequestJoin validates a join request and, on acceptance, asks the member that
// has to make room to open a gap: the leader for a frontal join, the member that
// will end up behind the candidate for a cut-in.
func (p *Manager) RequestJoin(c *vehicle.Manager, insert core.InsertPosition, slotIndex int) (core.Maneuver, error) {
	now := p.world.Tick()
	p.metrics.add(p.metrics.requested, p.id, attribute.String("insert", string(insert)))
	p.recordEvent(core.ManeuverEvent{Kind: core.ManeuverRequested, CandidateID: c.ID(), Insert: insert})

	mv, gapMember, err := p.acceptJoin(c, insert, slotIndex, now)
	if err != nil {
		p.metrics.add(p.metrics.rejected, p.id, attribute.String("insert", string(insert)))
		p.recordEvent(core.ManeuverEvent{Kind: core.ManeuverRejected, CandidateID: c.ID(), Insert: insert, Reason: err.Error()})
		p.logger.Debug("join rejected", "candidate", c.ID(), "insert", string(insert), "error", err)
		return core.Maneuver{}, err
	}

	p.pending = &pendingJoin{candidate: c, maneuver: mv, gapMember: gapMember}
	p.metrics.add(p.metrics.accepted, p.id, attribute.String("insert", string(insert)))
	p.recordEvent(core.ManeuverEvent{ManeuverID: mv.ID, Kind: core.ManeuverAccepted, CandidateID: c.ID(), Insert: insert})
	p.logger.Info("join accepted", "candidate", c.ID(), "maneuver", mv.ID, "insert", string(insert), "slot", mv.SlotIndex)
	return mv, nil
}

func (p *Manager) acceptJoin(c *vehicle.Manager, insert core.InsertPosition, slotIndex int, now uint64) (core.Maneuver, *vehicle.Manager, error) {
	switch {
	case p.destroyed:
		return core.Maneuver{}, nil, ErrDestroyed
	case !insert.Valid():
		return core.Maneuver{}, nil, fmt.Errorf("%w: %q", ErrInvalidInsert, insert)
	case len(p.members) == 0:
		return core.Maneuver{}, nil, ErrNoLeader
	case p.contains(c):
		return core.Maneuver{}, nil, fmt.Errorf("%w: %s", ErrAlreadyMember, c.ID())
	case p.pending != nil:
		return core.Maneuver{}, nil, fmt.Errorf("%w: %s", ErrManeuverInProgress, p.pending.candidate.ID())
	case len(p.members) >= p.cfg.MaxSize:
		return core.Maneuver{}, nil, fmt.Errorf("%w: %d members", ErrPlatoonFull, len(p.members))
	}
	if err := c.CheckFree(); err != nil {
		return core.Maneuver{}, nil, err
	}
	if ls := p.members[0].Snapshot(); !p.members[0].HasSnapshot() || ls.Age(now) > 1 {
		return core.Maneuver{}, nil, ErrLeaderStale
	}

	var gapMember *vehicle.Manager
	extra := 0.0
	switch insert {
	case core.InsertFront:
		slotIndex = 0
		gapMember = p.members[0]
	case core.InsertBack:
		slotIndex = len(p.members)
	case core.InsertCutIn:
		if slotIndex < 1 || slotIndex >= len(p.members) {
			return core.Maneuver{}, nil, fmt.Errorf("%w: cut-in at %d of %d", ErrInvalidInsert, slotIndex, len(p.members))
		}
		gapMember = p.members[slotIndex]
		extra = p.cfg.CutInGapExtra
	}
	if gapMember != nil {
		if !fsm.Can(gapMember.Status(), fsm.GapRequested) {
			return core.Maneuver{}, nil, fmt.Errorf("%w: %s is %s", ErrManeuverInProgress, gapMember.ID(), gapMember.Status())
		}
		if err := gapMember.OpenGap(extra, p.cfg.RelaxFactor); err != nil {
			return core.Maneuver{}, nil, err
		}
	}

	return core.Maneuver{
		ID:           uuid.NewString(),
		PlatoonID:    p.id,
		CandidateID:  c.ID(),
		Insert:       insert,
		SlotIndex:    slotIndex,
		Phase:        core.PhaseApproaching,
		StartTick:    now,
		DeadlineTick: now + p.cfg.JoinTimeoutTicks,
	}, gapMember, nil
}

// JoinSlot computes the target pose of the pending candidate from this tick's
// member snapshots.
func (p *Manager) JoinSlot(c *vehicle.Manager) (core.Slot, error) {
	if p.destroyed {
		return core.Slot{}, ErrDestroyed
	}
	if p.pending == nil || p.pending.candidate != c {
		return core.Slot{}, fmt.Errorf("%w: no pending join for %s", ErrNotMember, c.ID())
	}
	now := p.world.Tick()
	leader := p.members[0].Snapshot()
	if leader.Age(now) > 1 {
		return core.Slot{}, ErrLeaderStale
	}

	spacing := c.Config()
	cand := c.Snapshot()
	gap := func(v float64) float64 { return spacing.SampleResolution + spacing.TimeGap*v }
	mv := p.pending.maneuver

	var slot core.Slot
	switch mv.Insert {
	case core.InsertFront:
		off := leader.Length/2 + gap(leader.Speed) + cand.Length/2
		slot.Transform = core.Transform{Location: leader.Transform.Project(off, 0), Rotation: leader.Transform.Rotation}
		slot.Behind = &leader
	default:
		idx := min(mv.SlotIndex, len(p.members))
		ahead := p.members[idx-1].Snapshot()
		off := ahead.Length/2 + gap(ahead.Speed) + cand.Length/2
		slot.Transform = core.Transform{Location: ahead.Transform.Project(-off, 0), Rotation: ahead.Transform.Rotation}
		slot.Ahead = &ahead
		if idx < len(p.members) {
			behind := p.members[idx].Snapshot()
			slot.Behind = &behind
		}
	}
	slot.Speed = leader.Speed
	return slot, nil
}

// CompleteJoin merges the pending candidate. For a frontal join the candidate
// becomes leader and the former leader rank 1; other members keep their order.
func (p *Manager) CompleteJoin(c *vehicle.Manager) error {
	if p.destroyed {
		return ErrDestroyed
	}
	if p.pending == nil || p.pending.candidate != c {
		return fmt.Errorf("%w: no pending join for %s", ErrNotMember, c.ID())
	}
	pj := p.pending
	mv := pj.maneuver
	if len(p.members) == 0 {
		return ErrNoLeader
	}

	var next []*vehicle.Manager
	switch mv.Insert {
	case core.InsertFront:
		old := p.members[0]
		if !fsm.Can(old.Status(), fsm.Demoted) {
			return fmt.Errorf("%w: leader %s is %s", fsm.ErrInvalidTransition, old.ID(), old.Status())
		}
		if p.destination != nil {
			if err := c.SetDestination(*p.destination, true); err != nil {
				return err
			}
		}
		if err := c.Merge(p.id, 0, true); err != nil {
			return err
		}
		if err := old.Demote(1); err != nil {
			return err
		}
		next = make([]*vehicle.Manager, 0, len(p.members)+1)
		next = append(next, c)
		next = append(next, p.members...)
	default:
		idx := min(mv.SlotIndex, len(p.members))
		if err := c.Merge(p.id, idx, false); err != nil {
			return err
		}
		if pj.gapMember != nil {
			if err := pj.gapMember.ReleaseGap(); err != nil {
				p.logger.Error("releasing gap", "vehicle", pj.gapMember.ID(), "error", err)
			}
		}
		next = slices.Insert(slices.Clone(p.members), idx, c)
	}

	p.swap(next)
	p.pending = nil
	p.refreshTargets()

	p.metrics.add(p.metrics.completed, p.id, attribute.String("insert", string(mv.Insert)))
	p.recordEvent(core.ManeuverEvent{ManeuverID: mv.ID, Kind: core.ManeuverCompleted, CandidateID: c.ID(), Insert: mv.Insert})
	p.logger.Info("join completed", "candidate", c.ID(), "maneuver", mv.ID, "insert", string(mv.Insert), "members", p.MemberIDs())
	return nil
}

// AbortJoin cancels the pending join of c and releases the gap opened for it.
// Recording the abort is left to the candidate.
func (p *Manager) AbortJoin(c *vehicle.Manager, reason string) {
	if p.pending == nil || p.pending.candidate != c {
		return
	}
	if gm := p.pending.gapMember; gm != nil {
		if err := gm.ReleaseGap(); err != nil {
			p.logger.Error("releasing gap", "vehicle", gm.ID(), "error", err)
		}
	}
	p.metrics.add(p.metrics.aborted, p.id,
		attribute.String("insert", string(p.pending.maneuver.Insert)),
		attribute.String("reason", reason))
	p.pending = nil
}

// expirePending cancels a join whose candidate is gone or overran its deadline.
// Either way the candidate may never update again, so the platoon cannot wait
// for it to abort on its own.
func (p *Manager) expirePending(now uint64) {
	pj := p.pending
	if pj == nil {
		return
	}
	var reason string
	switch {
	case !pj.candidate.Alive():
		reason = vehicle.AbortCandidateGone
	case pj.maneuver.Expired(now):
		reason = vehicle.AbortTimeout
	default:
		return
	}
	p.logger.Warn("cancelling pending join", "candidate", pj.candidate.ID(), "maneuver", pj.maneuver.ID, "reason", reason)
	pj.candidate.CancelManeuver(reason)
	if p.pending == pj {
		// candidate held no context for it
		p.AbortJoin(pj.candidate, reason)
	}
}

// refreshTargets rewrites follow targets after a composition change inside a tick
// so merged vehicles have a predecessor before their next update.
func (p *Manager) refreshTargets() {
	if len(p.members) == 0 {
		return
	}
	ls := p.members[0].Snapshot()
	path := p.Path()
	for i, f := range p.members[1:] {
		f.SetFollowTarget(vehicle.FollowTarget{
			Leader:      ls,
			Predecessor: p.members[i].Snapshot(),
			Path:        path,
			Destination: p.destination,
		})
	}
}

func (p *Manager) recordEvent(e core.ManeuverEvent) {
	e.Tick = p.world.Tick()
	e.Time = p.world.Now()
	e.PlatoonID = p.id
	p.world.Recorder().RecordManeuverEvent(e)
}
