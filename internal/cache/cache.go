// Package cache persists analysis reports keyed by dataset identity across a
// blob store (the report body) and a metadata store (the summary row).
package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/osintube/threatscan/internal/model"
	"github.com/osintube/threatscan/internal/resilience"
	"github.com/osintube/threatscan/internal/store"
)

// Summary row attributes.
const (
	AttrOverallLevel  = "overall_level"
	AttrFindingCount  = "finding_count"
	AttrTimestamp     = "timestamp"
	AttrModelID       = "model_id"
	AttrStatus        = "status"
	AttrBlobKey       = "blob_key"
	AttrRawKey        = "raw_key"
	AttrFilterMethod  = "filter_method"
	AttrAnalyzedCount = "analyzed_count"
	AttrTotalCount    = "total_count"
	AttrInvalidated   = "invalidated"
	AttrInvalidatedAt = "invalidated_at"
)

// Options configures a Cache.
type Options struct {
	Table        string
	Prefix       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ReadRetry    resilience.RetryConfig
}

// Cache is the analysis cache. Reads are retried with backoff; writes are
// attempted once.
type Cache struct {
	blobs store.BlobStore
	meta  store.MetadataStore
	opts  Options
	now   func() time.Time
}

// New creates a Cache.
func New(blobs store.BlobStore, meta store.MetadataStore, opts Options) *Cache {
	if opts.Table == "" {
		opts.Table = "threat_analysis"
	}
	if opts.Prefix == "" {
		opts.Prefix = "analysis/"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 15 * time.Second
	}
	if opts.ReadRetry.OnRetry == nil {
		opts.ReadRetry.OnRetry = resilience.RetryLogger("cache", "read")
	}
	return &Cache{blobs: blobs, meta: meta, opts: opts, now: time.Now}
}

// ReportKey is the blob key of the serialized report.
func (c *Cache) ReportKey(id model.DatasetID) string {
	return c.opts.Prefix + id.String() + "_analysis.json"
}

// RawKey is the blob key of the raw model text kept for unparsed responses.
func (c *Cache) RawKey(id model.DatasetID) string {
	return c.opts.Prefix + id.String() + "_analysis.txt"
}

// Exists reports whether a live (not invalidated) summary row exists.
func (c *Cache) Exists(ctx context.Context, id model.DatasetID) (bool, error) {
	row, err := c.row(ctx, id)
	if err != nil {
		return false, err
	}
	return live(row), nil
}

// Load returns the cached report, or nil, nil when there is none. A summary
// row whose blob is missing counts as a miss.
func (c *Cache) Load(ctx context.Context, id model.DatasetID) (*model.Report, error) {
	row, err := c.row(ctx, id)
	if err != nil {
		return nil, err
	}
	if !live(row) {
		return nil, nil
	}

	key := row[AttrBlobKey]
	if key == "" {
		key = c.ReportKey(id)
	}
	data, err := read(ctx, c, func(ctx context.Context) ([]byte, error) {
		return c.blobs.Get(ctx, key)
	})
	if store.IsNotFound(err) {
		zap.L().Warn("cache: summary row without report blob",
			zap.String("dataset_id", id.String()),
			zap.String("blob_key", key),
		)
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "cache: load %s", id)
	}

	var report model.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, eris.Wrapf(err, "cache: decode %s", id)
	}
	return &report, nil
}

// Store writes the report blob, the raw-text side-car when raw is not empty,
// and then the summary row, so a visible row always has its blob. raw is the
// full model output; report.RawText may be a truncated copy of it.
func (c *Cache) Store(ctx context.Context, id model.DatasetID, report *model.Report, raw string) error {
	if report == nil {
		return eris.New("cache: nil report")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "cache: encode report")
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()

	key := c.ReportKey(id)
	if err := c.blobs.Put(ctx, key, data, "application/json"); err != nil {
		return eris.Wrapf(err, "cache: put report %s", id)
	}

	row := store.Item{
		AttrOverallLevel:  string(report.OverallLevel),
		AttrFindingCount:  strconv.Itoa(len(report.Threats)),
		AttrTimestamp:     report.Metadata.Timestamp.UTC().Format(time.RFC3339),
		AttrModelID:       report.Metadata.ModelID,
		AttrStatus:        string(report.Status),
		AttrBlobKey:       key,
		AttrFilterMethod:  report.Metadata.FilterMethod,
		AttrAnalyzedCount: strconv.Itoa(report.Metadata.AnalyzedCount),
		AttrTotalCount:    strconv.Itoa(report.Metadata.TotalCount),
	}

	if raw != "" {
		rawKey := c.RawKey(id)
		if err := c.blobs.Put(ctx, rawKey, []byte(raw), "text/plain; charset=utf-8"); err != nil {
			return eris.Wrapf(err, "cache: put raw text %s", id)
		}
		row[AttrRawKey] = rawKey
	}

	if err := c.meta.PutItem(ctx, c.opts.Table, id.String(), row); err != nil {
		return eris.Wrapf(err, "cache: put summary %s", id)
	}
	return nil
}

// Invalidate marks the summary row so later lookups miss. The blob is kept
// for audit. Invalidating an unknown id is a no-op.
func (c *Cache) Invalidate(ctx context.Context, id model.DatasetID) (bool, error) {
	row, err := c.row(ctx, id)
	if err != nil {
		return false, err
	}
	if !live(row) {
		return false, nil
	}

	row[AttrInvalidated] = "true"
	row[AttrInvalidatedAt] = c.now().UTC().Format(time.RFC3339)

	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := c.meta.PutItem(ctx, c.opts.Table, id.String(), row); err != nil {
		return false, eris.Wrapf(err, "cache: invalidate %s", id)
	}
	return true, nil
}

// Summary is one cached analysis as listed from the metadata store.
type Summary struct {
	DatasetID     model.DatasetID `json:"dataset_id"`
	Status        model.Status    `json:"status"`
	OverallLevel  model.RiskLevel `json:"overall_level"`
	FindingCount  int             `json:"finding_count"`
	AnalyzedCount int             `json:"analyzed_count"`
	TotalCount    int             `json:"total_count"`
	Timestamp     time.Time       `json:"timestamp"`
	ModelID       string          `json:"model_id"`
	FilterMethod  string          `json:"filter_method,omitempty"`
	BlobKey       string          `json:"blob_key"`
	Invalidated   bool            `json:"invalidated,omitempty"`
}

// List returns every summary row, newest first. Invalidated rows are
// included only when all is set.
func (c *Cache) List(ctx context.Context, all bool) ([]Summary, error) {
	recs, err := read(ctx, c, func(ctx context.Context) ([]store.Record, error) {
		return c.meta.Scan(ctx, c.opts.Table)
	})
	if err != nil {
		return nil, eris.Wrap(err, "cache: list")
	}

	out := make([]Summary, 0, len(recs))
	for _, r := range recs {
		s := summaryFromRow(model.DatasetID(r.Key), r.Item)
		if s.Invalidated && !all {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].DatasetID < out[j].DatasetID
	})
	return out, nil
}

// Get returns the summary for id, or nil when absent.
func (c *Cache) Get(ctx context.Context, id model.DatasetID) (*Summary, error) {
	row, err := c.row(ctx, id)
	if err != nil || row == nil {
		return nil, err
	}
	s := summaryFromRow(id, row)
	return &s, nil
}

func summaryFromRow(id model.DatasetID, row store.Item) Summary {
	s := Summary{
		DatasetID:    id,
		Status:       model.Status(row[AttrStatus]),
		OverallLevel: model.RiskLevel(row[AttrOverallLevel]),
		ModelID:      row[AttrModelID],
		FilterMethod: row[AttrFilterMethod],
		BlobKey:      row[AttrBlobKey],
		Invalidated:  row[AttrInvalidated] == "true",
	}
	s.FindingCount, _ = strconv.Atoi(row[AttrFindingCount])
	s.AnalyzedCount, _ = strconv.Atoi(row[AttrAnalyzedCount])
	s.TotalCount, _ = strconv.Atoi(row[AttrTotalCount])
	s.Timestamp, _ = time.Parse(time.RFC3339, row[AttrTimestamp])
	return s
}

func (c *Cache) row(ctx context.Context, id model.DatasetID) (store.Item, error) {
	row, err := read(ctx, c, func(ctx context.Context) (store.Item, error) {
		return c.meta.GetItem(ctx, c.opts.Table, id.String())
	})
	if err != nil {
		return nil, eris.Wrapf(err, "cache: get summary %s", id)
	}
	return row, nil
}

func live(row store.Item) bool {
	return row != nil && row[AttrInvalidated] != "true"
}

// read runs an idempotent store read with a per-attempt timeout and retries.
func read[T any](ctx context.Context, c *Cache, fn func(ctx context.Context) (T, error)) (T, error) {
	return resilience.DoVal(ctx, c.opts.ReadRetry, func(ctx context.Context) (T, error) {
		ctx, cancel := context.WithTimeout(ctx, c.opts.ReadTimeout)
		defer cancel()
		return fn(ctx)
	})
}
