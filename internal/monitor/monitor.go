// Package monitor periodically writes a status file describing the running
// session and, for database backends, a performance row.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/OCAP2/platoon/internal/model"
	"github.com/OCAP2/platoon/internal/session"
	"github.com/OCAP2/platoon/internal/world"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StatusFileName is written into Dependencies.StatusDir.
const StatusFileName = "status.txt"

// DefaultInterval is used when Dependencies.Interval is zero.
const DefaultInterval = time.Second

// Recorder reports the state of the recording pipeline. worker.Manager
// implements it.
type Recorder interface {
	QueueDepths() map[string]int
	LastWriteDuration() float64
}

// Store is implemented by database backends. When the storage backend
// satisfies it, every sample is also written as a model.RunPerformance row.
type Store interface {
	DB() *gorm.DB
	SessionID() uint
	QueueLengths() model.WriteQueueLengths
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	World     *world.World
	Session   *session.Context
	Recorder  Recorder
	Backend   any // checked for Store
	StatusDir string
	Interval  time.Duration
	Logger    *slog.Logger
}

// PlatoonStatus is one platoon composition in the status file.
type PlatoonStatus struct {
	ID      string   `json:"id"`
	Members []string `json:"members"`
}

// Status is one monitor sample.
type Status struct {
	Time                time.Time                `json:"time"`
	Session             string                   `json:"session"`
	Tick                uint64                   `json:"tick"`
	Vehicles            int                      `json:"vehicles"`
	Platoons            []PlatoonStatus          `json:"platoons"`
	DispatcherQueues    map[string]int           `json:"dispatcherQueues"`
	WriteQueues         *model.WriteQueueLengths `json:"writeQueues,omitempty"`
	LastWriteDurationMs float64                  `json:"lastWriteDurationMs"`
}

// Service manages status monitoring
type Service struct {
	deps   Dependencies
	logger *slog.Logger

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{deps: deps, logger: logger.With("component", "monitor")}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Sample collects the current status.
func (s *Service) Sample() Status {
	st := Status{
		Time:             time.Now(),
		Platoons:         []PlatoonStatus{},
		DispatcherQueues: map[string]int{},
	}
	if s.deps.Session != nil {
		st.Session = s.deps.Session.GetSession().Name
		st.Tick = s.deps.Session.Tick()
	}
	if s.deps.World != nil {
		st.Vehicles = len(s.deps.World.Vehicles())
		for _, p := range s.deps.World.Platoons() {
			st.Platoons = append(st.Platoons, PlatoonStatus{ID: p.ID(), Members: p.MemberIDs()})
		}
	}
	if s.deps.Recorder != nil {
		st.DispatcherQueues = s.deps.Recorder.QueueDepths()
		st.LastWriteDurationMs = s.deps.Recorder.LastWriteDuration()
	}
	if store, ok := s.deps.Backend.(Store); ok {
		q := store.QueueLengths()
		st.WriteQueues = &q
	}
	return st
}

// WriteStatus writes one sample to the status file, replacing its contents.
func (s *Service) WriteStatus(st Status) error {
	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	path := filepath.Join(s.deps.StatusDir, StatusFileName)
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	return nil
}

func (s *Service) writePerformance(st Status) error {
	store, ok := s.deps.Backend.(Store)
	if !ok || store.DB() == nil || store.SessionID() == 0 {
		return nil
	}
	queues, err := json.Marshal(st.DispatcherQueues)
	if err != nil {
		return err
	}
	perf := model.RunPerformance{
		Time:                st.Time,
		SessionID:           store.SessionID(),
		Tick:                st.Tick,
		DispatcherQueues:    datatypes.JSON(queues),
		LastWriteDurationMs: st.LastWriteDurationMs,
	}
	if st.WriteQueues != nil {
		perf.WriteQueueLengths = *st.WriteQueues
	}
	return store.DB().Create(&perf).Error
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	if s.deps.StatusDir != "" {
		if err := os.MkdirAll(s.deps.StatusDir, 0o755); err != nil {
			return fmt.Errorf("create status dir: %w", err)
		}
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(s.stopChan, s.done)
	return nil
}

func (s *Service) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	s.logger.Debug("starting status monitor", "interval", s.deps.Interval)

	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			st := s.Sample()
			if st.Session == "" {
				continue
			}
			if s.deps.StatusDir != "" {
				if err := s.WriteStatus(st); err != nil {
					s.logger.Error("error writing status file", "error", err)
				}
			}
			if err := s.writePerformance(st); err != nil {
				s.logger.Error("error writing performance row", "error", err)
			}
		}
	}
}

// Stop stops the status monitor and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
