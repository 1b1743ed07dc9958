package vehicle

import (
	"fmt"
	"strings"

	"github.com/OCAP2/platoon/internal/control"
	"github.com/OCAP2/platoon/internal/fsm"
)

// Config holds the per-vehicle platooning options and control tunables.
type Config struct {
	SampleResolution   float64 // m between leader path samples, also the standstill gap
	BufferSize         int     // leader path samples kept
	Debug              bool
	DebugTrajectory    bool
	IgnoreTrafficLight bool
	UpdateFreq         int // ticks between platoon searches
	OvertakeAllowed    bool
	Status             string // initial status
	TargetSpeed        float64

	TimeGap      float64
	GapGain      float64
	Kp, Ki, Kd   float64
	ApproachGain float64
	JoinGain     float64
	StaleBrake   float64 // brake fraction while the leader snapshot is late

	ApproachTolerance    float64
	LateralTolerance     float64
	JoinTolerance        float64
	JoinLateralTolerance float64
	SpeedTolerance       float64
	DwellTicks           int
	MinSafetyDistance    float64 // m bumper to bumper
	MinTimeToCollision   float64 // s at the current closing speed
	CorridorWidth        float64 // m either side of the candidate checked for collision risk
	StaleTicks           uint64
	SearchRadius         float64
	RetryCooldownTicks   uint64

	Limits control.Limits
}

// DefaultConfig returns the defaults every option falls back to.
func DefaultConfig() Config {
	return Config{
		SampleResolution: 4.5,
		BufferSize:       16,
		UpdateFreq:       1,
		Status:           fsm.Searching.String(),
		TargetSpeed:      12,

		TimeGap:      0.6,
		GapGain:      0.4,
		Kp:           1.2,
		Ki:           0.05,
		ApproachGain: 0.6,
		JoinGain:     0.9,
		StaleBrake:   0.3,

		ApproachTolerance:    3.0,
		LateralTolerance:     1.0,
		JoinTolerance:        1.0,
		JoinLateralTolerance: 0.3,
		SpeedTolerance:       0.5,
		DwellTicks:           10,
		MinSafetyDistance:    2.5,
		MinTimeToCollision:   1.0,
		CorridorWidth:        2.5,
		StaleTicks:           5,
		SearchRadius:         80,
		RetryCooldownTicks:   40,

		Limits: control.DefaultLimits(),
	}
}

// Validate checks the options a caller may get wrong.
func (c Config) Validate() error {
	if c.Status != "" {
		s, err := fsm.ParseStatus(c.Status)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		if s != fsm.Searching {
			return fmt.Errorf("%w: initial status must be %s, got %s", ErrInvalidConfig, fsm.Searching, strings.ToUpper(c.Status))
		}
	}
	switch {
	case c.SampleResolution <= 0:
		return fmt.Errorf("%w: sample resolution must be positive", ErrInvalidConfig)
	case c.BufferSize < 1:
		return fmt.Errorf("%w: buffer size must be at least 1", ErrInvalidConfig)
	case c.UpdateFreq < 1:
		return fmt.Errorf("%w: update frequency must be at least 1", ErrInvalidConfig)
	case c.StaleTicks < 1:
		return fmt.Errorf("%w: stale ticks must be at least 1", ErrInvalidConfig)
	case c.DwellTicks < 1:
		return fmt.Errorf("%w: dwell ticks must be at least 1", ErrInvalidConfig)
	case c.MinSafetyDistance < 0 || c.MinTimeToCollision < 0:
		return fmt.Errorf("%w: safety margins must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c Config) spacing() control.Spacing {
	return control.Spacing{Standstill: c.SampleResolution, TimeGap: c.TimeGap, GapGain: c.GapGain}
}
