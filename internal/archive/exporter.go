package archive

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/cache"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
)

// Snapshot is the serialized form of a full cache export.
type Snapshot struct {
	ExportedAt time.Time       `json:"exported_at"`
	Entries    []SnapshotEntry `json:"entries"`
}

// SnapshotEntry mirrors one cache row.
type SnapshotEntry struct {
	Symbol        string             `json:"symbol"`
	Category      core.Category      `json:"category"`
	Fields        map[string]float64 `json:"fields"`
	CachedAt      time.Time          `json:"cached_at"`
	ExpiresAt     time.Time          `json:"expires_at"`
	Source        string             `json:"source"`
	SchemaVersion int                `json:"schema_version"`
}

// Exporter writes dated cache snapshots to a Storage backend.
type Exporter struct {
	store   *cache.Store
	storage Storage
	log     *zap.Logger
	now     func() time.Time
}

// NewExporter creates an Exporter over the given store and backend.
func NewExporter(store *cache.Store, storage Storage, log *zap.Logger) *Exporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exporter{store: store, storage: storage, log: log, now: time.Now}
}

// Export serializes every cache entry and writes it to the backend.
// It returns the snapshot path and the number of entries written.
func (e *Exporter) Export(ctx context.Context) (string, int, error) {
	entries, err := e.store.Entries()
	if err != nil {
		return "", 0, fmt.Errorf("reading cache entries: %w", err)
	}

	snap := Snapshot{
		ExportedAt: e.now().UTC(),
		Entries:    make([]SnapshotEntry, 0, len(entries)),
	}
	for _, entry := range entries {
		snap.Entries = append(snap.Entries, SnapshotEntry{
			Symbol:        entry.Symbol,
			Category:      entry.Category,
			Fields:        entry.Fields,
			CachedAt:      entry.CachedAt,
			ExpiresAt:     entry.ExpiresAt,
			Source:        entry.Source,
			SchemaVersion: entry.SchemaVersion,
		})
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", 0, fmt.Errorf("encoding snapshot: %w", err)
	}

	path := e.snapshotPath(snap.ExportedAt)
	if err := e.storage.Write(ctx, path, data); err != nil {
		return "", 0, fmt.Errorf("writing snapshot: %w", err)
	}

	e.log.Info("cache snapshot exported",
		zap.String("path", path),
		zap.Int("entries", len(snap.Entries)))

	return path, len(snap.Entries), nil
}

func (e *Exporter) snapshotPath(at time.Time) string {
	return fmt.Sprintf("snapshots/%04d/%02d/cache-%s.json",
		at.Year(), at.Month(), at.Format("20060102T150405Z"))
}
