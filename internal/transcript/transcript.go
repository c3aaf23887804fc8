// Package transcript extracts a structured result from worker output.
//
// The worker prints a sentinel-delimited block on stdout holding either plain
// transcript text or, in summary mode, a JSON payload. When no block is
// present, the on-disk artifact written by the worker is used instead. A
// zero-exit run never fails on output shape alone.
package transcript

import (
	"encoding/json"
	"os"
	"strings"
)

// Mode selects what the worker is asked to produce and how its output is
// decoded.
type Mode string

const (
	// ModeTranscript requests plain transcript text.
	ModeTranscript Mode = "transcript"

	// ModeSummary requests a transcript plus generated summary, delivered as
	// a JSON payload.
	ModeSummary Mode = "summary"
)

// Valid reports whether the mode is one the worker recognises.
func (m Mode) Valid() bool {
	return m == ModeTranscript || m == ModeSummary
}

// Sentinel lines bracketing the result payload in worker stdout.
const (
	BeginMarker = "TRANSCRIPT_BEGIN"
	EndMarker   = "TRANSCRIPT_END"
)

// Source identifies where a parsed result came from.
type Source string

const (
	SourceSentinel    Source = "sentinel"
	SourceArtifact    Source = "artifact"
	SourcePlaceholder Source = "placeholder"
)

// PlaceholderText is reported when a zero-exit run produced no usable output.
const PlaceholderText = "transcription completed but produced no output"

// Stats carries the numeric processing statistics emitted by the worker in
// summary mode.
type Stats struct {
	TranscriptionTimeSec float64 `json:"transcription_time"`
	SummaryTimeSec       float64 `json:"summary_time"`
	AudioSizeKB          float64 `json:"audio_size_kb"`
	ModelUsed            string  `json:"model_used"`
}

// Result is the parsed outcome of a successful worker run.
type Result struct {
	Text    string `json:"text"`
	Summary string `json:"summary,omitempty"`
	Stats   *Stats `json:"stats,omitempty"`

	// Degraded marks results recovered through a fallback path, e.g. a JSON
	// payload that failed to decode or a missing sentinel block.
	Degraded bool   `json:"degraded,omitempty"`
	Source   Source `json:"source"`
}

// payload mirrors the JSON object the worker emits in summary mode.
type payload struct {
	Transcript string `json:"transcript"`
	Summary    string `json:"summary"`
	Stats      *Stats `json:"stats"`
}

// Parse extracts a result from raw worker stdout, falling back to the on-disk
// artifact at artifactPath (if non-empty) and finally to a placeholder. It
// never returns a failure: parsing ambiguity must not turn a successful run
// into a reported failure.
func Parse(raw []byte, artifactPath string, mode Mode) Result {
	if body, ok := extractSentinelBlock(string(raw)); ok {
		return parseBody(body, mode)
	}

	if artifactPath != "" {
		if content, err := os.ReadFile(artifactPath); err == nil {
			if text := strings.TrimSpace(string(content)); text != "" {
				return Result{Text: text, Degraded: true, Source: SourceArtifact}
			}
		}
	}

	return Result{Text: PlaceholderText, Degraded: true, Source: SourcePlaceholder}
}

// extractSentinelBlock returns the trimmed text between the BEGIN and END
// markers. A block with no content reports ok=false so the artifact fallback
// still runs.
func extractSentinelBlock(out string) (string, bool) {
	begin := strings.Index(out, BeginMarker)
	if begin == -1 {
		return "", false
	}

	rest := out[begin+len(BeginMarker):]
	end := strings.Index(rest, EndMarker)
	if end == -1 {
		return "", false
	}

	body := strings.TrimSpace(rest[:end])
	return body, body != ""
}

// parseBody decodes the sentinel payload. Summary mode expects JSON; on
// decode failure the payload is kept as plain text rather than failing.
func parseBody(body string, mode Mode) Result {
	if mode != ModeSummary {
		return Result{Text: body, Source: SourceSentinel}
	}

	var p payload
	if err := json.Unmarshal([]byte(body), &p); err != nil || strings.TrimSpace(p.Transcript) == "" {
		return Result{Text: body, Degraded: true, Source: SourceSentinel}
	}

	return Result{
		Text:    strings.TrimSpace(p.Transcript),
		Summary: strings.TrimSpace(p.Summary),
		Stats:   p.Stats,
		Source:  SourceSentinel,
	}
}
