package bosun

import (
	"sort"
	"strings"
	"time"
)

// Tags is an OpenTSDB-style tag set.
type Tags map[string]string

// TagString renders the tag set in Bosun's canonical "k=v,k=v" form with
// keys in sorted order, so equal tag sets compare equal as strings.
func TagString(tags Tags) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+tags[k])
	}
	return strings.Join(parts, ",")
}

// Merge returns a new tag set with overrides applied on top of base.
func Merge(base, overrides Tags) Tags {
	merged := make(Tags, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// Silence is a requested alert suppression for a tag set over [Start, End).
type Silence struct {
	Start   time.Time
	End     time.Time
	Tags    Tags
	User    string
	Message string
}

// Window is a silence window as stored by Bosun.
type Window struct {
	Start     time.Time
	End       time.Time
	TagString string
}

// Active reports whether the window covers the given instant.
func (w *Window) Active(at time.Time) bool {
	return !at.Before(w.Start) && at.Before(w.End)
}

// wireSilence is the /api/silence/set payload. Bosun rejects real booleans
// here, only the strings "true" and "false" are accepted.
type wireSilence struct {
	Duration string `json:"duration"`
	Tags     string `json:"tags"`
	Forget   string `json:"forget"`
	User     string `json:"user"`
	Message  string `json:"message"`
	Confirm  string `json:"confirm"`
}

// wireWindow is one entry of the /api/silence/get response.
type wireWindow struct {
	Start     time.Time `json:"Start"`
	End       time.Time `json:"End"`
	TagString string    `json:"TagString"`
	User      string    `json:"User"`
	Message   string    `json:"Message"`
}

// Datum is a single metric value.
type Datum struct {
	Metric string `json:"metric"`
	// Timestamp is a Unix timestamp in milliseconds.
	Timestamp int64  `json:"timestamp"`
	Value     string `json:"value"`
	Tags      Tags   `json:"tags"`
}

// NewDatum creates a datum stamped with the current time.
func NewDatum(metric, value string, tags Tags) *Datum {
	return &Datum{
		Metric:    metric,
		Timestamp: time.Now().UnixMilli(),
		Value:     value,
		Tags:      tags,
	}
}

// Metadata describes a metric for Bosun's metadata store.
type Metadata struct {
	Metric      string
	Rate        string
	Unit        string
	Description string
}

// wire renders the metadata as the three name/value entries the API expects.
func (m *Metadata) wire() []map[string]string {
	return []map[string]string{
		{"metric": m.Metric, "name": "unit", "value": m.Unit},
		{"metric": m.Metric, "name": "rate", "value": m.Rate},
		{"metric": m.Metric, "name": "desc", "value": m.Description},
	}
}
