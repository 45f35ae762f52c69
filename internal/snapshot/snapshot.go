// Package snapshot exports and restores the targeting tables as JSON or YAML
// documents, optionally zstd-compressed.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/watzon/targethook/internal/database"
	"github.com/watzon/targethook/internal/targeting"
)

// CurrentVersion is the document format version written by Encode.
const CurrentVersion = 1

var ErrUnsupportedFormat = errors.New("unsupported snapshot format")

// Format is a document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Snapshot is a point-in-time copy of hooks and captured targets.
type Snapshot struct {
	Version   int                `json:"version" yaml:"version"`
	CreatedAt time.Time          `json:"created_at" yaml:"created_at"`
	Hooks     []*targeting.Hook  `json:"hooks" yaml:"hooks"`
	Targets   []targeting.Target `json:"targets" yaml:"targets"`
}

// Filter narrows Capture.
type Filter struct {
	Owner       targeting.OwnerID
	SlotPattern string
}

// Capture reads hooks and targets matching filter from store.
func Capture(ctx context.Context, store *targeting.Store, filter Filter) (*Snapshot, error) {
	hooks, err := store.ListHooks(ctx, targeting.HookFilter{
		Owner:       filter.Owner,
		SlotPattern: filter.SlotPattern,
	})
	if err != nil {
		return nil, err
	}

	targets, err := store.ListTargets(ctx, targeting.TargetFilter{
		Owner:       filter.Owner,
		SlotPattern: filter.SlotPattern,
	})
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Version:   CurrentVersion,
		CreatedAt: time.Now().UTC(),
		Hooks:     hooks,
		Targets:   targets,
	}, nil
}

// RestoreResult counts restored rows.
type RestoreResult struct {
	Hooks   int
	Targets int
}

// Restore writes snap into store. Hooks are upserted by (owner, slot), so ids
// may differ from the snapshot. Targets are appended in snapshot order.
// Capture-mode markers are not part of a snapshot.
func Restore(ctx context.Context, store *targeting.Store, snap *Snapshot) (RestoreResult, error) {
	var res RestoreResult

	if snap.Version > CurrentVersion {
		return res, fmt.Errorf("%w: version %d", ErrUnsupportedFormat, snap.Version)
	}

	err := store.InTx(ctx, func(tx *targeting.Store) error {
		for _, h := range snap.Hooks {
			hook := *h
			if _, err := tx.UpsertHook(ctx, &hook); err != nil {
				if database.IsCheckError(err) {
					return fmt.Errorf("restoring hook %s/%s: invalid uses_remaining %d: %w", h.Owner, h.Slot, h.Uses, err)
				}
				return fmt.Errorf("restoring hook %s/%s: %w", h.Owner, h.Slot, err)
			}
			res.Hooks++
		}

		for _, t := range snap.Targets {
			target := t
			if _, err := tx.InsertTarget(ctx, &target); err != nil {
				if database.IsConstraintError(err) {
					return fmt.Errorf("restoring target %d: invalid row for %s/%s: %w", t.ID, t.Owner, t.Slot, err)
				}
				return fmt.Errorf("restoring target %d: %w", t.ID, err)
			}
			res.Targets++
		}
		return nil
	})
	if err != nil {
		return RestoreResult{}, err
	}

	log.Debug().Int("hooks", res.Hooks).Int("targets", res.Targets).Msg("Snapshot restored")

	return res, nil
}

// Encode writes snap to w in format.
func Encode(w io.Writer, snap *Snapshot, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Decode reads a snapshot in format from r.
func Decode(r io.Reader, format Format) (*Snapshot, error) {
	var snap Snapshot
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&snap); err != nil {
			return nil, fmt.Errorf("decoding json snapshot: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&snap); err != nil {
			return nil, fmt.Errorf("decoding yaml snapshot: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return &snap, nil
}

// FormatFromPath infers the encoding from a file name such as
// "dump.yaml.zst". compressed reports a trailing ".zst".
func FormatFromPath(path string) (format Format, compressed bool, err error) {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".zst") {
		compressed = true
		name = strings.TrimSuffix(name, ".zst")
	}

	switch filepath.Ext(name) {
	case ".json":
		return FormatJSON, compressed, nil
	case ".yaml", ".yml":
		return FormatYAML, compressed, nil
	default:
		return "", compressed, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// WriteFile encodes snap to path, choosing the format from its extension.
func WriteFile(path string, snap *Snapshot) (err error) {
	format, compressed, err := FormatFromPath(path)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	return encodeStream(f, snap, format, compressed)
}

// ReadFile decodes the snapshot at path.
func ReadFile(path string) (*Snapshot, error) {
	format, compressed, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot file: %w", err)
	}
	defer f.Close()

	return decodeStream(f, format, compressed)
}

func encodeStream(w io.Writer, snap *Snapshot, format Format, compressed bool) error {
	if !compressed {
		return Encode(w, snap, format)
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if err := Encode(zw, snap, format); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func decodeStream(r io.Reader, format Format, compressed bool) (*Snapshot, error) {
	if !compressed {
		return Decode(r, format)
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer zr.Close()

	return Decode(zr, format)
}
