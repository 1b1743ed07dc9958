// Package gormstorage implements storage.Backend on GORM with per-table write
// queues drained by a background writer. The postgres and sqlite backends
// embed it and only differ in how the connection is made.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OCAP2/platoon/internal/database"
	"github.com/OCAP2/platoon/internal/model"
	"github.com/OCAP2/platoon/internal/model/convert"
	"github.com/OCAP2/platoon/internal/queue"
	"github.com/OCAP2/platoon/pkg/core"
	"gorm.io/gorm"
)

// DefaultWriteInterval is how often queued rows are written.
const DefaultWriteInterval = 2 * time.Second

// ErrNoSession is returned when rows are written before StartSession.
var ErrNoSession = errors.New("no session started")

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	WriteInterval time.Duration
}

type queues struct {
	Vehicles          *queue.Queue[model.Vehicle]
	VehicleStates     *queue.Queue[model.VehicleState]
	Platoons          *queue.Queue[model.Platoon]
	PlatoonSnapshots  *queue.Queue[model.PlatoonSnapshot]
	StatusTransitions *queue.Queue[model.StatusTransition]
	ManeuverEvents    *queue.Queue[model.ManeuverEvent]
}

func newQueues() *queues {
	return &queues{
		Vehicles:          queue.New[model.Vehicle](),
		VehicleStates:     queue.New[model.VehicleState](),
		Platoons:          queue.New[model.Platoon](),
		PlatoonSnapshots:  queue.New[model.PlatoonSnapshot](),
		StatusTransitions: queue.New[model.StatusTransition](),
		ManeuverEvents:    queue.New[model.ManeuverEvent](),
	}
}

// Backend implements storage.Backend with queue-based batch writes.
// With a nil DB it only queues, which is how the unit tests drive it.
type Backend struct {
	deps   Dependencies
	queues *queues
	logger *slog.Logger

	sessionID atomic.Uint64
	lastWrite atomic.Int64 // nanoseconds

	flushMu sync.Mutex
	stop    chan struct{}
	done    chan struct{}
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.WriteInterval <= 0 {
		deps.WriteInterval = DefaultWriteInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		deps:   deps,
		queues: newQueues(),
		logger: logger.With("component", "gormstorage"),
	}
}

// SetDB injects the connection when it is made after New.
func (b *Backend) SetDB(db *gorm.DB) {
	b.deps.DB = db
}

// DB returns the underlying connection, nil in queue-only mode.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init migrates the schema and starts the writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB != nil {
		if err := database.Migrate(b.deps.DB); err != nil {
			return fmt.Errorf("failed to setup DB: %w", err)
		}
	}

	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.writer()
	return nil
}

// Close stops the writer and writes whatever is still queued.
func (b *Backend) Close() error {
	if b.stop == nil {
		return nil
	}
	select {
	case <-b.stop:
		return nil
	default:
	}
	close(b.stop)
	<-b.done
	return b.Flush()
}

// StartSession inserts the session row synchronously; every queued row is
// stamped with its ID.
func (b *Backend) StartSession(s *core.Session) error {
	if b.deps.DB == nil {
		b.sessionID.Store(1)
		return nil
	}
	row := convert.CoreToSession(*s)
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert new session: %w", err)
	}
	b.sessionID.Store(uint64(row.ID))
	b.logger.Info("Session stored", "session", s.Name, "id", row.ID)
	return nil
}

// SessionID returns the database ID of the current session, 0 before StartSession.
func (b *Backend) SessionID() uint {
	return uint(b.sessionID.Load())
}

// EndSession writes everything queued for the session.
func (b *Backend) EndSession() error {
	err := b.Flush()
	b.sessionID.Store(0)
	return err
}

func (b *Backend) AddVehicle(v *core.Vehicle) error {
	b.queues.Vehicles.Push(convert.CoreToVehicle(*v))
	return nil
}

func (b *Backend) AddPlatoon(p *core.Platoon) error {
	b.queues.Platoons.Push(convert.CoreToPlatoon(*p))
	return nil
}

func (b *Backend) RecordVehicleState(s *core.VehicleState) error {
	b.queues.VehicleStates.Push(convert.CoreToVehicleState(*s))
	return nil
}

func (b *Backend) RecordPlatoonSnapshot(s *core.PlatoonSnapshot) error {
	b.queues.PlatoonSnapshots.Push(convert.CoreToPlatoonSnapshot(*s))
	return nil
}

func (b *Backend) RecordStatusTransition(t *core.StatusTransition) error {
	b.queues.StatusTransitions.Push(convert.CoreToStatusTransition(*t))
	return nil
}

func (b *Backend) RecordManeuverEvent(e *core.ManeuverEvent) error {
	b.queues.ManeuverEvents.Push(convert.CoreToManeuverEvent(*e))
	return nil
}

// QueueLengths reports how many rows wait in each write queue.
func (b *Backend) QueueLengths() model.WriteQueueLengths {
	return model.WriteQueueLengths{
		Vehicles:          b.queues.Vehicles.Len(),
		VehicleStates:     b.queues.VehicleStates.Len(),
		Platoons:          b.queues.Platoons.Len(),
		PlatoonSnapshots:  b.queues.PlatoonSnapshots.Len(),
		StatusTransitions: b.queues.StatusTransitions.Len(),
		ManeuverEvents:    b.queues.ManeuverEvents.Len(),
	}
}

// LastWriteDuration returns how long the last write cycle took, in milliseconds.
func (b *Backend) LastWriteDuration() float64 {
	return float64(b.lastWrite.Load()) / float64(time.Millisecond)
}

// Flush writes every queue now. Rows of a failed batch go back on their queue
// and the error is returned.
func (b *Backend) Flush() error {
	if b.deps.DB == nil {
		return nil
	}
	id := uint(b.sessionID.Load())
	if id == 0 {
		if b.QueueLengths().Total() == 0 {
			return nil
		}
		return ErrNoSession
	}

	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	start := time.Now()
	db := b.deps.DB
	err := errors.Join(
		writeQueue(db, b.queues.Vehicles, "vehicles", func(r *model.Vehicle) { r.SessionID = id }),
		writeQueue(db, b.queues.Platoons, "platoons", func(r *model.Platoon) { r.SessionID = id }),
		writeQueue(db, b.queues.VehicleStates, "vehicle states", func(r *model.VehicleState) { r.SessionID = id }),
		writeQueue(db, b.queues.PlatoonSnapshots, "platoon snapshots", func(r *model.PlatoonSnapshot) { r.SessionID = id }),
		writeQueue(db, b.queues.StatusTransitions, "status transitions", func(r *model.StatusTransition) { r.SessionID = id }),
		writeQueue(db, b.queues.ManeuverEvents, "maneuver events", func(r *model.ManeuverEvent) { r.SessionID = id }),
	)
	b.lastWrite.Store(int64(time.Since(start)))
	return err
}

// writeQueue writes all items of q in one transaction.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, stamp func(*T)) error {
	if q.Empty() {
		return nil
	}
	items := q.Drain(0)
	for i := range items {
		stamp(&items[i])
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&items).Error
	})
	if err != nil {
		q.Push(items...)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func (b *Backend) writer() {
	defer close(b.done)

	ticker := time.NewTicker(b.deps.WriteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			if b.sessionID.Load() == 0 {
				continue
			}
			if err := b.Flush(); err != nil {
				b.logger.Error("DB write failed", "error", err)
			}
		}
	}
}
