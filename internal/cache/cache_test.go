package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/osintube/threatscan/internal/model"
	"github.com/osintube/threatscan/internal/resilience"
	"github.com/osintube/threatscan/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestCache(t *testing.T) (*Cache, *store.MemoryBlobStore, *store.MemoryMetadataStore) {
	t.Helper()
	blobs := store.NewMemoryBlobStore()
	meta := store.NewMemoryMetadataStore()
	c := New(blobs, meta, Options{
		ReadRetry: resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	})
	return c, blobs, meta
}

func sampleReport(id model.DatasetID) *model.Report {
	return &model.Report{
		Status:       model.StatusSuccess,
		OverallLevel: model.RiskCritical,
		Threats: []model.ThreatFinding{{
			SourceRow:      0,
			Author:         "user2",
			Category:       "violence",
			Severity:       model.RiskCritical,
			Confidence:     0.92,
			EvidenceText:   "I will kill them",
			Recommendation: "escalate",
		}},
		Summary: "One explicit threat of violence.",
		Metadata: model.ReportMetadata{
			DatasetID:     id,
			AnalyzedCount: 1,
			TotalCount:    3,
			Timestamp:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			ModelID:       "us.meta.llama4-scout-17b-instruct-v1:0",
			QueryContext:  "eleicoes",
			FilterMethod:  "sentiment-layered",
		},
	}
}

func TestStoreLoad_RoundTrip(t *testing.T) {
	c, blobs, meta := newTestCache(t)
	ctx := context.Background()
	id := model.DatasetID("comments_2025_lula")

	report := sampleReport(id)
	require.NoError(t, c.Store(ctx, id, report, ""))

	got, err := c.Load(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, report, got)

	assert.Equal(t, []string{"analysis/comments_2025_lula_analysis.json"}, blobs.Keys())
	assert.Equal(t, "application/json", blobs.ContentType("analysis/comments_2025_lula_analysis.json"))

	row, err := meta.GetItem(ctx, "threat_analysis", "comments_2025_lula")
	require.NoError(t, err)
	assert.Equal(t, "critical", row[AttrOverallLevel])
	assert.Equal(t, "1", row[AttrFindingCount])
	assert.Equal(t, "2025-06-01T12:00:00Z", row[AttrTimestamp])
	assert.Equal(t, "success", row[AttrStatus])
	assert.Equal(t, "us.meta.llama4-scout-17b-instruct-v1:0", row[AttrModelID])
	assert.Equal(t, "analysis/comments_2025_lula_analysis.json", row[AttrBlobKey])
}

func TestExists(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	id := model.DatasetID("ds")

	ok, err := c.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Store(ctx, id, sampleReport(id), ""))
	ok, err = c.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoad_Miss(t *testing.T) {
	c, _, _ := newTestCache(t)
	got, err := c.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLoad_RowWithoutBlobIsMiss(t *testing.T) {
	c, _, meta := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, meta.PutItem(ctx, "threat_analysis", "orphan", store.Item{
		AttrStatus:  "success",
		AttrBlobKey: "analysis/orphan_analysis.json",
	}))

	got, err := c.Load(ctx, "orphan")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLoad_CorruptBlob(t *testing.T) {
	c, blobs, _ := newTestCache(t)
	ctx := context.Background()
	id := model.DatasetID("bad")
	require.NoError(t, c.Store(ctx, id, sampleReport(id), ""))
	require.NoError(t, blobs.Put(ctx, c.ReportKey(id), []byte("{not json"), "application/json"))

	_, err := c.Load(ctx, id)
	assert.Error(t, err)
}

func TestStore_RawTextSideCar(t *testing.T) {
	c, blobs, meta := newTestCache(t)
	ctx := context.Background()
	id := model.DatasetID("unparsed")

	report := sampleReport(id)
	report.Status = model.StatusParsingError
	report.Threats = []model.ThreatFinding{}
	full := "The model said something that was not JSON, and then kept going for a while."
	report.RawText = full[:20] + "..."
	require.NoError(t, c.Store(ctx, id, report, full))

	raw, err := blobs.Get(ctx, "analysis/unparsed_analysis.txt")
	require.NoError(t, err)
	assert.Equal(t, full, string(raw))

	row, err := meta.GetItem(ctx, "threat_analysis", "unparsed")
	require.NoError(t, err)
	assert.Equal(t, "parsing_error", row[AttrStatus])
	assert.Equal(t, "analysis/unparsed_analysis.txt", row[AttrRawKey])

	got, err := c.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, report, got)
}

func TestStore_NoRawTextNoSideCar(t *testing.T) {
	c, blobs, meta := newTestCache(t)
	ctx := context.Background()
	id := model.DatasetID("clean")

	require.NoError(t, c.Store(ctx, id, sampleReport(id), ""))

	_, err := blobs.Get(ctx, c.RawKey(id))
	assert.True(t, store.IsNotFound(err))
	row, err := meta.GetItem(ctx, "threat_analysis", "clean")
	require.NoError(t, err)
	assert.NotContains(t, row, AttrRawKey)
}

func TestStore_Nil(t *testing.T) {
	c, _, _ := newTestCache(t)
	assert.Error(t, c.Store(context.Background(), "x", nil, ""))
}

func TestInvalidate(t *testing.T) {
	c, _, meta := newTestCache(t)
	ctx := context.Background()
	id := model.DatasetID("ds")
	c.now = func() time.Time { return time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC) }

	changed, err := c.Invalidate(ctx, id)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, c.Store(ctx, id, sampleReport(id), ""))
	changed, err = c.Invalidate(ctx, id)
	require.NoError(t, err)
	assert.True(t, changed)

	ok, err := c.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := c.Load(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	row, err := meta.GetItem(ctx, "threat_analysis", "ds")
	require.NoError(t, err)
	assert.Equal(t, "2025-07-01T00:00:00Z", row[AttrInvalidatedAt])

	// A fresh store revives the entry.
	require.NoError(t, c.Store(ctx, id, sampleReport(id), ""))
	ok, err = c.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestList(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	older := sampleReport("older")
	older.Metadata.Timestamp = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := sampleReport("newer")
	newer.Metadata.Timestamp = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	gone := sampleReport("gone")

	require.NoError(t, c.Store(ctx, "older", older, ""))
	require.NoError(t, c.Store(ctx, "newer", newer, ""))
	require.NoError(t, c.Store(ctx, "gone", gone, ""))
	_, err := c.Invalidate(ctx, "gone")
	require.NoError(t, err)

	list, err := c.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, model.DatasetID("newer"), list[0].DatasetID)
	assert.Equal(t, model.DatasetID("older"), list[1].DatasetID)
	assert.Equal(t, 1, list[0].FindingCount)
	assert.Equal(t, 3, list[0].TotalCount)
	assert.Equal(t, model.RiskCritical, list[0].OverallLevel)

	all, err := c.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	s, err := c.Get(ctx, "gone")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.True(t, s.Invalidated)

	s, err = c.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, s)
}

type flakyMeta struct {
	store.MetadataStore
	failures int
	calls    int
}

func (f *flakyMeta) GetItem(ctx context.Context, table, key string) (store.Item, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, resilience.NewTransientError(errors.New("ProvisionedThroughputExceeded"), 400)
	}
	return f.MetadataStore.GetItem(ctx, table, key)
}

func TestExists_RetriesTransientRead(t *testing.T) {
	blobs := store.NewMemoryBlobStore()
	meta := &flakyMeta{MetadataStore: store.NewMemoryMetadataStore(), failures: 2}
	c := New(blobs, meta, Options{
		ReadRetry: resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	})

	ok, err := c.Exists(context.Background(), "ds")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, meta.calls)
}

func TestExists_GivesUpAfterRetries(t *testing.T) {
	blobs := store.NewMemoryBlobStore()
	meta := &flakyMeta{MetadataStore: store.NewMemoryMetadataStore(), failures: 10}
	c := New(blobs, meta, Options{
		ReadRetry: resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	})

	_, err := c.Exists(context.Background(), "ds")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, 2, meta.calls)
}

func TestKeys_CustomPrefix(t *testing.T) {
	c := New(store.NewMemoryBlobStore(), store.NewMemoryMetadataStore(), Options{Prefix: "reports/"})
	assert.Equal(t, "reports/ds_analysis.json", c.ReportKey("ds"))
	assert.Equal(t, "reports/ds_analysis.txt", c.RawKey("ds"))
}
