// Package history keeps a request log of analyze and ask calls in the
// metadata store.
package history

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/osintube/threatscan/internal/model"
	"github.com/osintube/threatscan/internal/store"
)

// Kind is the entry point that produced a request row.
type Kind string

// Request kinds.
const (
	KindAnalyze Kind = "analyze"
	KindAsk     Kind = "ask"
)

// Entry is one logged request.
type Entry struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	DatasetID  model.DatasetID `json:"dataset_id"`
	Query      string          `json:"query,omitempty"`
	Status     model.Status    `json:"status"`
	ModelID    string          `json:"model_id,omitempty"`
	FromCache  bool            `json:"from_cache,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	DurationMs int64           `json:"duration_ms"`
	Message    string          `json:"message,omitempty"`
}

// Recorder writes and lists request rows.
type Recorder struct {
	meta  store.MetadataStore
	table string
	now   func() time.Time
	newID func() string
}

// NewRecorder creates a Recorder over table.
func NewRecorder(meta store.MetadataStore, table string) *Recorder {
	if table == "" {
		table = "osintube_requests"
	}
	return &Recorder{
		meta:  meta,
		table: table,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Record stores e under a fresh id and returns that id. A zero timestamp is
// filled with the current time.
func (r *Recorder) Record(ctx context.Context, e Entry) (string, error) {
	e.ID = r.newID()
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}
	if err := r.meta.PutItem(ctx, r.table, e.ID, toItem(e)); err != nil {
		return "", eris.Wrapf(err, "history: record %s", e.Kind)
	}
	return e.ID, nil
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (r *Recorder) List(ctx context.Context, limit int) ([]Entry, error) {
	recs, err := r.meta.Scan(ctx, r.table)
	if err != nil {
		return nil, eris.Wrap(err, "history: scan")
	}

	out := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromItem(rec.Key, rec.Item))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func toItem(e Entry) store.Item {
	it := store.Item{
		"kind":        string(e.Kind),
		"dataset_id":  e.DatasetID.String(),
		"status":      string(e.Status),
		"timestamp":   e.Timestamp.UTC().Format(time.RFC3339Nano),
		"duration_ms": strconv.FormatInt(e.DurationMs, 10),
	}
	if e.Query != "" {
		it["query"] = e.Query
	}
	if e.ModelID != "" {
		it["model_id"] = e.ModelID
	}
	if e.FromCache {
		it["from_cache"] = "true"
	}
	if e.Message != "" {
		it["message"] = e.Message
	}
	return it
}

func fromItem(key string, it store.Item) Entry {
	ts, _ := time.Parse(time.RFC3339Nano, it["timestamp"])
	dur, _ := strconv.ParseInt(it["duration_ms"], 10, 64)
	return Entry{
		ID:         key,
		Kind:       Kind(it["kind"]),
		DatasetID:  model.DatasetID(it["dataset_id"]),
		Query:      it["query"],
		Status:     model.Status(it["status"]),
		ModelID:    it["model_id"],
		FromCache:  it["from_cache"] == "true",
		Timestamp:  ts,
		DurationMs: dur,
		Message:    it["message"],
	}
}
