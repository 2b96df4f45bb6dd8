// Package dataset loads comment datasets from the blob store.
package dataset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"path"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/osintube/threatscan/internal/model"
	"github.com/osintube/threatscan/internal/resilience"
	"github.com/osintube/threatscan/internal/store"
)

// NeutralSentiment is assigned to records without a usable sentiment value.
const NeutralSentiment = 0.5

// ErrUnsupportedFormat is returned for payloads that are not JSON, JSONL,
// CSV or XLSX.
var ErrUnsupportedFormat = eris.New("dataset: unsupported format")

// Column aliases, canonical name first.
var aliases = map[string][]string{
	"text":               {"text", "comment", "comment_text", "textdisplay"},
	"author":             {"author", "person", "user", "username", "authordisplayname"},
	"sentiment":          {"sentiment", "sentiment_score", "score"},
	"source_video_title": {"source_video_title", "title", "video_title"},
	"source_link":        {"source_link", "link", "url", "video_url"},
}

var canonical = func() map[string]string {
	m := make(map[string]string)
	for c, names := range aliases {
		for _, n := range names {
			m[n] = c
		}
	}
	return m
}()

// Loader reads datasets by key.
type Loader struct {
	blobs store.BlobStore
	retry resilience.RetryConfig
}

// NewLoader creates a Loader. Reads are retried per retry.
func NewLoader(blobs store.BlobStore, retry resilience.RetryConfig) *Loader {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("dataset", "get")
	}
	return &Loader{blobs: blobs, retry: retry}
}

// Load fetches and decodes the dataset at key and returns it with its
// identity.
func (l *Loader) Load(ctx context.Context, key string) (model.Dataset, model.DatasetID, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, "", eris.New("dataset: empty key")
	}
	id := model.IdentityFromLocation(key)

	data, err := resilience.DoVal(ctx, l.retry, func(ctx context.Context) ([]byte, error) {
		return l.blobs.Get(ctx, key)
	})
	if err != nil {
		return nil, id, eris.Wrapf(err, "dataset: get %s", key)
	}

	ds, err := Decode(key, data)
	if err != nil {
		return nil, id, err
	}
	zap.L().Debug("dataset: loaded",
		zap.String("key", key),
		zap.String("dataset_id", id.String()),
		zap.Int("comments", len(ds)),
	)
	return ds, id, nil
}

// Decode parses data by the extension of name, sniffing the content when
// the extension is unknown. Records without text are skipped.
func Decode(name string, data []byte) (model.Dataset, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return decodeJSON(data)
	case ".jsonl", ".ndjson":
		return decodeJSONL(data)
	case ".csv":
		return decodeCSV(data)
	case ".xlsx":
		return decodeXLSX(data)
	}

	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0:
		return model.Dataset{}, nil
	case trimmed[0] == '[':
		return decodeJSON(trimmed)
	case trimmed[0] == '{':
		if ds, err := decodeJSON(trimmed); err == nil {
			return ds, nil
		}
		return decodeJSONL(trimmed)
	}
	return nil, eris.Wrapf(ErrUnsupportedFormat, "dataset: %s", name)
}

func decodeJSON(data []byte) (model.Dataset, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return model.Dataset{}, nil
	}

	var records []map[string]any
	if data[0] == '{' {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, eris.Wrap(err, "dataset: decode json")
		}
		raw, ok := wrapper["comments"]
		if !ok {
			raw, ok = wrapper["data"]
		}
		if !ok {
			return nil, eris.New("dataset: json object has no comments array")
		}
		data = raw
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, eris.Wrap(err, "dataset: decode json")
	}

	ds := make(model.Dataset, 0, len(records))
	for _, rec := range records {
		if c, ok := fromRecord(rec); ok {
			ds = append(ds, c)
		}
	}
	return ds, nil
}

func decodeJSONL(data []byte) (model.Dataset, error) {
	ds := model.Dataset{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, eris.Wrapf(err, "dataset: decode jsonl line %d", line)
		}
		if c, ok := fromRecord(rec); ok {
			ds = append(ds, c)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "dataset: scan jsonl")
	}
	return ds, nil
}

type csvRow struct {
	Text      string `csv:"text"`
	Author    string `csv:"author"`
	Sentiment string `csv:"sentiment"`
	Title     string `csv:"source_video_title"`
	Link      string `csv:"source_link"`
}

func decodeCSV(data []byte) (model.Dataset, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return model.Dataset{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "dataset: read csv header")
	}
	used := make(map[string]bool, len(header))
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
		used[header[i]] = true
	}
	// Map aliases onto free canonical names only.
	for i, h := range header {
		if c, ok := canonical[h]; ok && !used[c] {
			header[i] = c
			used[c] = true
		}
	}

	dec, err := csvutil.NewDecoder(r, header...)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: csv decoder")
	}

	ds := model.Dataset{}
	for {
		var row csvRow
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "dataset: decode csv line %d", len(ds)+2)
		}
		if strings.TrimSpace(row.Text) == "" {
			continue
		}
		ds = append(ds, model.Comment{
			Text:             row.Text,
			Author:           strings.TrimSpace(row.Author),
			Sentiment:        parseSentiment(row.Sentiment),
			SourceVideoTitle: row.Title,
			SourceLink:       row.Link,
		})
	}
	return ds, nil
}

func fromRecord(rec map[string]any) (model.Comment, bool) {
	vals := make(map[string]any, len(rec))
	for k, v := range rec {
		if c, ok := canonical[strings.ToLower(strings.TrimSpace(k))]; ok {
			if _, seen := vals[c]; !seen || k == c {
				vals[c] = v
			}
		}
	}

	text := stringOf(vals["text"])
	if strings.TrimSpace(text) == "" {
		return model.Comment{}, false
	}
	return model.Comment{
		Text:             text,
		Author:           strings.TrimSpace(stringOf(vals["author"])),
		Sentiment:        sentimentOf(vals["sentiment"]),
		SourceVideoTitle: stringOf(vals["source_video_title"]),
		SourceLink:       stringOf(vals["source_link"]),
	}, true
}

func stringOf(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	}
	return ""
}

func sentimentOf(v any) float64 {
	switch x := v.(type) {
	case float64:
		return clampSentiment(x)
	case string:
		return parseSentiment(x)
	}
	return NeutralSentiment
}

func parseSentiment(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return NeutralSentiment
	}
	return clampSentiment(f)
}

func clampSentiment(f float64) float64 {
	if math.IsNaN(f) {
		return NeutralSentiment
	}
	return math.Max(0, math.Min(1, f))
}
