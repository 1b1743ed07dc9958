// Package influx writes platoon telemetry to InfluxDB, falling back to a
// gzipped line-protocol backup file when the server cannot be reached.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/OCAP2/platoon/internal/config"
	"github.com/OCAP2/platoon/pkg/core"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
)

const (
	BucketTelemetry   = "platoon_telemetry"
	BucketManeuvers   = "platoon_maneuvers"
	BucketPerformance = "sim_performance"
)

// DefaultBucketNames are the buckets created on connect.
var DefaultBucketNames = []string{
	BucketTelemetry,
	BucketManeuvers,
	BucketPerformance,
}

// ErrDisabled is returned by Connect when influx is turned off in config.
var ErrDisabled = errors.New("influx is disabled")

// Manager handles InfluxDB connections and writes.
type Manager struct {
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketNames  []string
	Logger       zerolog.Logger
	BackupPath   string

	cfg        config.InfluxConfig
	backupFile *os.File
	backupMu   sync.Mutex
}

// NewManager creates a new InfluxDB manager.
func NewManager(cfg config.InfluxConfig, log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		Writers:     make(map[string]influxdb2_api.WriteAPI),
		BucketNames: DefaultBucketNames,
		Logger:      log.With().Str("component", "influx").Logger(),
		BackupPath:  backupPath,
		cfg:         cfg,
	}
}

// Connect establishes a connection to InfluxDB. When the server does not
// answer a ping, points go to the backup file instead and no error is returned.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}

	m.Client = influxdb2.NewClientWithOptions(
		m.cfg.URL(),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	running, err := m.Client.Ping(pingCtx)
	cancel()

	if err != nil || !running {
		m.IsValid = false
		if m.BackupWriter == nil {
			m.Logger.Info().Str("backupPath", m.BackupPath).
				Msg("Failed to initialize InfluxDB client, writing to backup file")

			file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("error creating backup file: %w", err)
			}
			m.backupFile = file
			m.BackupWriter = gzip.NewWriter(file)
		}
		m.Logger.Warn().Msg("InfluxDB client failed to initialize, using backup writer")
		return nil
	}

	m.IsValid = true
	if err := m.setupOrganizationAndBuckets(ctx); err != nil {
		return err
	}
	m.CreateWriters()
	m.Logger.Info().Str("url", m.cfg.URL()).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) setupOrganizationAndBuckets(ctx context.Context) error {
	orgName := m.cfg.Org

	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		influxOrg, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	// ensure buckets exist with 30 day retention
	for _, bucket := range m.BucketNames {
		if _, err := m.Client.BucketsAPI().FindBucketByName(ctx, bucket); err == nil {
			continue
		}
		m.Logger.Info().Str("bucket", bucket).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, bucket, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * 30,
		})
		if err != nil {
			m.Logger.Error().Err(err).Str("bucket", bucket).Msg("Error creating bucket")
			return err
		}
	}
	return nil
}

// CreateWriters creates write APIs for all configured buckets.
func (m *Manager) CreateWriters() {
	for _, bucket := range m.BucketNames {
		m.Writers[bucket] = m.Client.WriteAPI(m.cfg.Org, bucket)

		go func(bucketName string, errorsCh <-chan error) {
			for writeErr := range errorsCh {
				m.Logger.Error().Err(writeErr).Str("bucket", bucketName).
					Msg("Error sending data to InfluxDB")
			}
		}(bucket, m.Writers[bucket].Errors())
	}
	m.Logger.Debug().Int("buckets", len(m.BucketNames)).Msg("InfluxDB writers initialized")
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	if m.IsValid {
		w, ok := m.Writers[bucket]
		if !ok {
			return fmt.Errorf("influxDB bucket '%s' not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}

	m.backupMu.Lock()
	defer m.backupMu.Unlock()
	if m.BackupWriter == nil {
		return errors.New("influxDB client not initialized and backup writer not available")
	}
	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.BackupWriter.Write([]byte(bucket + " " + line + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending writes and releases the client or backup file.
func (m *Manager) Close() error {
	for _, w := range m.Writers {
		w.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}

	m.backupMu.Lock()
	defer m.backupMu.Unlock()
	var err error
	if m.BackupWriter != nil {
		err = m.BackupWriter.Close()
		m.BackupWriter = nil
	}
	if m.backupFile != nil {
		err = errors.Join(err, m.backupFile.Close())
		m.backupFile = nil
	}
	return err
}

// VehiclePoint is the per-tick telemetry sample of one vehicle. gap is the
// bumper gap to the predecessor and is left out when negative.
func VehiclePoint(session string, s core.VehicleState, gap float64) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement("vehicle_state").
		AddTag("session", session).
		AddTag("vehicle", s.VehicleID).
		AddTag("status", s.Status).
		AddField("tick", s.Tick).
		AddField("speed", s.Speed).
		AddField("x", s.Transform.Location.X).
		AddField("y", s.Transform.Location.Y).
		AddField("yaw", s.Transform.Rotation.Yaw).
		AddField("throttle", s.Control.Throttle).
		AddField("brake", s.Control.Brake).
		AddField("steer", s.Control.Steer).
		SetTime(s.Time)
	if s.PlatoonID != "" {
		p.AddTag("platoon", s.PlatoonID)
		p.AddField("rank", s.Rank)
	}
	if gap >= 0 {
		p.AddField("gap", gap)
	}
	return p
}

// ManeuverPoint records a maneuver event; duration is the number of ticks
// since acceptance and is left out when unknown.
func ManeuverPoint(session string, e core.ManeuverEvent, duration *uint64, fixedDelta float64) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement("maneuver").
		AddTag("session", session).
		AddTag("kind", string(e.Kind)).
		AddTag("platoon", e.PlatoonID).
		AddTag("insert", string(e.Insert)).
		AddField("maneuver_id", e.ManeuverID).
		AddField("candidate", e.CandidateID).
		AddField("tick", e.Tick).
		SetTime(e.Time)
	if e.Reason != "" {
		p.AddField("reason", e.Reason)
	}
	if duration != nil {
		p.AddField("duration_ticks", *duration)
		p.AddField("duration_s", float64(*duration)*fixedDelta)
	}
	return p
}

// PlatoonPoint records platoon size at a tick.
func PlatoonPoint(session string, s core.PlatoonSnapshot) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("platoon").
		AddTag("session", session).
		AddTag("platoon", s.PlatoonID).
		AddField("tick", s.Tick).
		AddField("size", len(s.Members)).
		AddField("pending", s.Pending != "").
		SetTime(s.Time)
}

// PerformancePoint records how fast a run went compared to simulated time.
func PerformancePoint(session string, ticks uint64, simSeconds float64, wall time.Duration) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement("run").
		AddTag("session", session).
		AddField("ticks", ticks).
		AddField("sim_s", simSeconds).
		AddField("wall_s", wall.Seconds()).
		SetTime(time.Now())
	if wall > 0 {
		p.AddField("realtime_factor", simSeconds/wall.Seconds())
	}
	return p
}
