package scenario

import (
	"errors"
	"fmt"
	"slices"

	"github.com/OCAP2/platoon/internal/vehicle"
	"github.com/OCAP2/platoon/pkg/core"
	"github.com/samber/lo"
)

var ErrUnknownScenario = errors.New("unknown scenario")

// Scenario is a scripted run: Setup spawns and wires everything, OnTick runs
// after every step.
type Scenario struct {
	Name        string
	Description string
	MapName     string
	Ticks       int // default run length
	Setup       func(r *Runner) error
	OnTick      func(r *Runner, tick uint64) error
}

// Role names used by the bundled scenarios.
const (
	RoleLeader     = "leader"
	RoleFollower1  = "follower-1"
	RoleFollower2  = "follower-2"
	RoleCandidate  = "candidate"
	RoleBackground = "background"
)

// LeaderLossTick is when the leader-loss scenario removes the leader.
const LeaderLossTick = 100

const (
	ego       = "vehicle.lincoln.mkz2017"
	black     = "0, 0, 0"
	white     = "255, 255, 255"
	green     = "0, 255, 0"
	laneY     = 139.51
	passLaneY = 143.51
	spawnZ    = 0.3
)

var (
	platoonDestination   = core.Location{X: 630, Y: 141.39, Z: spawnZ}
	candidateDestination = core.Location{X: 606.87, Y: 145.39, Z: spawnZ}
)

var registry = map[string]Scenario{
	"static": {
		Name:        "static",
		Description: "three vehicle platoon driving in formation to its destination",
		MapName:     "Town06",
		Ticks:       1200,
		Setup:       setupConvoy,
	},
	"frontal-joining": {
		Name:        "frontal-joining",
		Description: "a free vehicle ahead of the platoon searches and joins at the front",
		MapName:     "Town06",
		Ticks:       2400,
		Setup:       setupFrontalJoining,
	},
	"leader-loss": {
		Name:        "leader-loss",
		Description: "the platoon leader disappears and the followers fall back to searching",
		MapName:     "Town06",
		Ticks:       400,
		Setup:       setupConvoy,
		OnTick:      removeLeaderAt(LeaderLossTick),
	},
}

// Get returns the bundled scenario called name.
func Get(name string) (Scenario, error) {
	s, ok := registry[name]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownScenario, name, Names())
	}
	return s, nil
}

// Names lists the bundled scenarios.
func Names() []string {
	names := lo.Keys(registry)
	slices.Sort(names)
	return names
}

func at(x, y float64) core.Transform {
	return core.Transform{Location: core.Location{X: x, Y: y, Z: spawnZ}}
}

func leaderConfig(c *vehicle.Config) {
	c.SampleResolution = 6.5
	c.BufferSize = 8
	c.IgnoreTrafficLight = true
}

func setupConvoy(r *Runner) error {
	specs := []VehicleSpec{
		{Blueprint: ego, Color: black, Role: RoleLeader, Transform: at(47.7194, laneY), Configure: leaderConfig},
		{Blueprint: ego, Color: white, Role: RoleFollower1, Transform: at(37.7194, laneY)},
		{Blueprint: ego, Color: white, Role: RoleFollower2, Transform: at(27.7194, laneY)},
	}
	vs := make([]*vehicle.Manager, 0, len(specs))
	for _, spec := range specs {
		v, err := r.SpawnVehicle(spec)
		if err != nil {
			return err
		}
		vs = append(vs, v)
	}
	_, err := r.NewPlatoon(platoonDestination, vs[0], vs[1:]...)
	return err
}

func setupFrontalJoining(r *Runner) error {
	r.Sim().SetGlobalDistanceToLeadingVehicle(1.0)

	if err := setupConvoy(r); err != nil {
		return err
	}
	c, err := r.SpawnVehicle(VehicleSpec{
		Blueprint: ego,
		Color:     white,
		Role:      RoleCandidate,
		Transform: at(67.7194, passLaneY),
		Configure: func(c *vehicle.Config) {
			c.SampleResolution = 6.5
			c.BufferSize = 8
			c.DebugTrajectory = true
			c.Debug = true
			c.UpdateFreq = 15
			c.OvertakeAllowed = true
		},
	})
	if err != nil {
		return err
	}
	if _, err := r.SpawnBackground(VehicleSpec{
		Blueprint: ego,
		Color:     green,
		Role:      RoleBackground,
		Transform: at(141.7194, passLaneY),
	}); err != nil {
		return err
	}
	r.Sim().SetGlobalSpeedDifference(-80)

	return c.SetDestination(candidateDestination, true)
}

func removeLeaderAt(tick uint64) func(*Runner, uint64) error {
	return func(r *Runner, now uint64) error {
		if now != tick {
			return nil
		}
		l, ok := r.Vehicle(RoleLeader)
		if !ok {
			return nil
		}
		a, ok := r.Actor(l.ID())
		if !ok {
			return nil
		}
		r.logger.Info("removing platoon leader", "vehicle", l.ID(), "tick", now)
		return a.Destroy()
	}
}
