// Package ailabels turns raw model output into structured labels and merges
// per-frame labels into a video-level set. Parsing never fails: unparseable
// responses degrade to line scanning, and at worst an empty set comes back.
package ailabels

import (
	"encoding/json"
	"strings"

	"github.com/medialabel/medialabel-labeling-service/internal/domain/entity"
)

// Per-frame caps keep one noisy model answer from flooding a document.
const (
	MaxFrameScenes  = 10
	MaxFrameObjects = 15
	MaxFrameListed  = 8
)

// Video-level caps applied when frame labels are merged.
const (
	MaxVideoObjects = 20
	MaxVideoListed  = 10
)

type rawLabels struct {
	Scene      string             `json:"scene"`
	Scenes     []string           `json:"scenes"`
	Objects    []string           `json:"objects"`
	Style      []string           `json:"style"`
	Mood       []string           `json:"mood"`
	Themes     []string           `json:"themes"`
	Confidence map[string]float64 `json:"confidence"`
}

// Parse extracts frame labels from raw model text. Markdown code fences are
// stripped first; if the remainder is not the expected JSON shape, a
// line-oriented "category: a, b" scan is used instead.
func Parse(raw string) *entity.AILabels {
	text := stripFences(raw)

	var doc rawLabels
	if err := json.Unmarshal([]byte(text), &doc); err == nil {
		labels := &entity.AILabels{
			Scenes:     doc.Scenes,
			Objects:    doc.Objects,
			Style:      doc.Style,
			Mood:       doc.Mood,
			Themes:     doc.Themes,
			Confidence: clampConfidence(doc.Confidence),
		}
		if doc.Scene != "" {
			labels.Scenes = append([]string{doc.Scene}, labels.Scenes...)
		}
		return clamp(labels)
	}

	return clamp(parseLines(text))
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// parseLines scans "category: value, value" lines. Scene lines keep their
// whole remainder as a single entry, since commas there are sentence
// punctuation rather than separators.
func parseLines(text string) *entity.AILabels {
	labels := &entity.AILabels{}
	for _, line := range strings.Split(text, "\n") {
		name, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key := strings.ToLower(strings.Trim(name, " \t-*#\"'"))
		switch key {
		case "scene", "scenes", "description":
			if v := cleanValue(rest); v != "" {
				labels.Scenes = append(labels.Scenes, v)
			}
		case "object", "objects":
			labels.Objects = append(labels.Objects, splitList(rest)...)
		case "style":
			labels.Style = append(labels.Style, splitList(rest)...)
		case "mood":
			labels.Mood = append(labels.Mood, splitList(rest)...)
		case "theme", "themes":
			labels.Themes = append(labels.Themes, splitList(rest)...)
		}
	}
	return labels
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := cleanValue(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func cleanValue(s string) string {
	return strings.Trim(s, " \t.\"'[]")
}

func clamp(labels *entity.AILabels) *entity.AILabels {
	labels.Scenes = capList(labels.Scenes, MaxFrameScenes)
	labels.Objects = capList(labels.Objects, MaxFrameObjects)
	labels.Style = capList(labels.Style, MaxFrameListed)
	labels.Mood = capList(labels.Mood, MaxFrameListed)
	labels.Themes = capList(labels.Themes, MaxFrameListed)
	return labels
}

func capList(values []string, max int) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
		if len(out) == max {
			break
		}
	}
	return out
}

func clampConfidence(conf map[string]float64) map[string]float64 {
	if len(conf) == 0 {
		return nil
	}
	out := make(map[string]float64, len(conf))
	for k, v := range conf {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		out[k] = v
	}
	return out
}

// Merge unions label sets from individually labeled frames into one
// video-level set: duplicates folded case-insensitively keeping first
// spelling, confidence averaged per category. Scene sentences are not
// merged; the caller synthesizes a single description from them instead.
func Merge(sets []*entity.AILabels) *entity.AILabels {
	merged := &entity.AILabels{
		Scenes:  []string{},
		Objects: []string{},
		Style:   []string{},
		Mood:    []string{},
		Themes:  []string{},
	}

	confSums := map[string]float64{}
	confCounts := map[string]int{}

	for _, set := range sets {
		if set == nil {
			continue
		}
		merged.Objects = appendUnique(merged.Objects, set.Objects)
		merged.Style = appendUnique(merged.Style, set.Style)
		merged.Mood = appendUnique(merged.Mood, set.Mood)
		merged.Themes = appendUnique(merged.Themes, set.Themes)
		for k, v := range set.Confidence {
			confSums[k] += v
			confCounts[k]++
		}
	}

	merged.Objects = capList(merged.Objects, MaxVideoObjects)
	merged.Style = capList(merged.Style, MaxVideoListed)
	merged.Mood = capList(merged.Mood, MaxVideoListed)
	merged.Themes = capList(merged.Themes, MaxVideoListed)

	if len(confCounts) > 0 {
		merged.Confidence = make(map[string]float64, len(confCounts))
		for k, sum := range confSums {
			merged.Confidence[k] = sum / float64(confCounts[k])
		}
	}
	return merged
}

func appendUnique(dst []string, values []string) []string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		seen := false
		for _, have := range dst {
			if strings.EqualFold(have, v) {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, v)
		}
	}
	return dst
}
