package memory

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	v1 "github.com/OCAP2/platoon/internal/storage/memory/export/v1"
	"github.com/OCAP2/platoon/pkg/core"
)

// ErrNoSession is returned by EndSession when StartSession was never called.
var ErrNoSession = errors.New("no session to export")

var filenameReplacer = strings.NewReplacer(" ", "_", ":", "_", "/", "_", "\\", "_")

// exportJSON writes the session data to a (optionally gzipped) JSON file.
// Caller holds b.mu.
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	name := filenameReplacer.Replace(b.session.Name)
	timestamp := b.session.StartTime.Format("20060102_150405")

	filename := fmt.Sprintf("%s_%s.json", name, timestamp)
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	if b.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return err
	}

	b.lastExportPath = outputPath
	b.lastExportMetadata = core.SessionResult{
		SessionName: b.session.Name,
		Scenario:    b.session.Scenario,
		MapName:     b.session.MapName,
		Duration:    float64(export.EndTick) * b.session.FixedDelta,
		Ticks:       export.EndTick,
		Vehicles:    len(b.vehicles),
		Platoons:    len(b.platoons),
		Tag:         b.session.Tag,
	}
	return nil
}

func (b *Backend) buildExport() v1.Export {
	return v1.Build(&v1.SessionData{
		Session:     b.session,
		Vehicles:    b.vehicles,
		Platoons:    b.platoons,
		Transitions: b.transitions,
		Maneuvers:   b.maneuvers,
	}, b.projector)
}

func writeJSON(path string, data v1.Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data v1.Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(data); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}
