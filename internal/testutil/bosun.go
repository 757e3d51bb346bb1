package testutil

import (
	"context"
	"sync"

	"github.com/t77yq/scalewatch/internal/bosun"
)

// BosunRecorder is an in-memory Bosun fake. It records every call and keys
// silences by tag string, replacing on rewrite like the real backend.
type BosunRecorder struct {
	mu sync.Mutex

	Metadatas []bosun.Metadata
	Datums    []bosun.Datum
	Silences  []bosun.Silence

	// Windows is the stored silence state keyed by tag string.
	Windows map[string]bosun.Window

	// Error knobs; when set the corresponding call fails.
	MetadataErr error
	DatumErr    error
	SilenceErr  error
	QueryErr    error
}

// NewBosunRecorder creates an empty recorder.
func NewBosunRecorder() *BosunRecorder {
	return &BosunRecorder{Windows: make(map[string]bosun.Window)}
}

func (r *BosunRecorder) EmitMetadata(_ context.Context, metadata *bosun.Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.MetadataErr != nil {
		return r.MetadataErr
	}
	r.Metadatas = append(r.Metadatas, *metadata)
	return nil
}

func (r *BosunRecorder) EmitDatum(_ context.Context, datum *bosun.Datum) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DatumErr != nil {
		return r.DatumErr
	}
	r.Datums = append(r.Datums, *datum)
	return nil
}

func (r *BosunRecorder) SetSilence(_ context.Context, silence *bosun.Silence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SilenceErr != nil {
		return r.SilenceErr
	}
	r.Silences = append(r.Silences, *silence)
	key := bosun.TagString(silence.Tags)
	r.Windows[key] = bosun.Window{Start: silence.Start, End: silence.End, TagString: key}
	return nil
}

func (r *BosunRecorder) ActiveSilence(_ context.Context, tags bosun.Tags) (*bosun.Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.QueryErr != nil {
		return nil, r.QueryErr
	}
	if w, ok := r.Windows[bosun.TagString(tags)]; ok {
		window := w
		return &window, nil
	}
	return nil, nil
}

// SilenceCount returns how many silence writes were recorded.
func (r *BosunRecorder) SilenceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Silences)
}

// DatumsFor returns the recorded datums for one metric.
func (r *BosunRecorder) DatumsFor(metric string) []bosun.Datum {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bosun.Datum
	for _, d := range r.Datums {
		if d.Metric == metric {
			out = append(out, d)
		}
	}
	return out
}
