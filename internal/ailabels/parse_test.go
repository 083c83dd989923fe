package ailabels

import (
	"strings"
	"testing"

	"github.com/medialabel/medialabel-labeling-service/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCleanJSON(t *testing.T) {
	raw := `{
		"scene": "A dog runs across a sunny park.",
		"objects": ["dog", "grass", "trees"],
		"style": ["natural light", "handheld"],
		"mood": ["joyful"],
		"themes": ["outdoors", "pets"],
		"confidence": {"scene": 0.9, "objects": 0.95}
	}`

	labels := Parse(raw)

	assert.Equal(t, []string{"A dog runs across a sunny park."}, labels.Scenes)
	assert.Equal(t, []string{"dog", "grass", "trees"}, labels.Objects)
	assert.Equal(t, []string{"natural light", "handheld"}, labels.Style)
	assert.Equal(t, []string{"joyful"}, labels.Mood)
	assert.Equal(t, []string{"outdoors", "pets"}, labels.Themes)
	assert.InDelta(t, 0.9, labels.Confidence["scene"], 0.001)
	assert.InDelta(t, 0.95, labels.Confidence["objects"], 0.001)
}

func TestParseStripsMarkdownFences(t *testing.T) {
	raw := "```json\n{\"scene\": \"City street at night.\", \"objects\": [\"car\"]}\n```"

	labels := Parse(raw)

	assert.Equal(t, []string{"City street at night."}, labels.Scenes)
	assert.Equal(t, []string{"car"}, labels.Objects)
}

func TestParseBareFences(t *testing.T) {
	raw := "```\n{\"objects\": [\"lamp\"]}\n```"
	assert.Equal(t, []string{"lamp"}, Parse(raw).Objects)
}

func TestParseSceneAndScenesCombined(t *testing.T) {
	raw := `{"scene": "first", "scenes": ["second", "third"]}`
	assert.Equal(t, []string{"first", "second", "third"}, Parse(raw).Scenes)
}

func TestParseFallsBackToLineScan(t *testing.T) {
	raw := strings.Join([]string{
		"Here is what I can see:",
		"Scene: A chef plates a dish, then wipes the rim.",
		"Objects: plate, towel, counter",
		"Style: warm lighting, shallow focus",
		"Mood: focused",
		"Themes: cooking, craftsmanship",
	}, "\n")

	labels := Parse(raw)

	// scene text keeps its commas; list lines are comma-split
	assert.Equal(t, []string{"A chef plates a dish, then wipes the rim"}, labels.Scenes)
	assert.Equal(t, []string{"plate", "towel", "counter"}, labels.Objects)
	assert.Equal(t, []string{"warm lighting", "shallow focus"}, labels.Style)
	assert.Equal(t, []string{"focused"}, labels.Mood)
	assert.Equal(t, []string{"cooking", "craftsmanship"}, labels.Themes)
}

func TestParseGarbageYieldsEmptySet(t *testing.T) {
	labels := Parse("no structure here at all")

	require.NotNil(t, labels)
	assert.Empty(t, labels.Scenes)
	assert.Empty(t, labels.Objects)
	assert.NotNil(t, labels.Objects, "lists marshal as [] rather than null")
}

func TestParseCapsCategories(t *testing.T) {
	var objects []string
	for i := 0; i < 30; i++ {
		objects = append(objects, `"obj`+strings.Repeat("x", i)+`"`)
	}
	raw := `{"objects": [` + strings.Join(objects, ",") + `], "mood": ["a","b","c","d","e","f","g","h","i","j"]}`

	labels := Parse(raw)

	assert.Len(t, labels.Objects, MaxFrameObjects)
	assert.Len(t, labels.Mood, MaxFrameListed)
}

func TestParseClampsConfidence(t *testing.T) {
	raw := `{"objects": ["x"], "confidence": {"objects": 1.5, "scene": -0.2}}`

	labels := Parse(raw)

	assert.Equal(t, 1.0, labels.Confidence["objects"])
	assert.Equal(t, 0.0, labels.Confidence["scene"])
}

func TestMergeUnionsAndDeduplicates(t *testing.T) {
	sets := []*entity.AILabels{
		{Objects: []string{"Dog", "ball"}, Mood: []string{"calm"}},
		{Objects: []string{"dog", "tree"}, Mood: []string{"Calm", "bright"}},
		nil,
	}

	merged := Merge(sets)

	// first spelling wins on a case-insensitive match
	assert.Equal(t, []string{"Dog", "ball", "tree"}, merged.Objects)
	assert.Equal(t, []string{"calm", "bright"}, merged.Mood)
	assert.Empty(t, merged.Scenes, "scene sentences are synthesized, not merged")
}

func TestMergeAveragesConfidencePerCategory(t *testing.T) {
	sets := []*entity.AILabels{
		{Confidence: map[string]float64{"objects": 0.8}},
		{Confidence: map[string]float64{"objects": 0.4, "mood": 1.0}},
	}

	merged := Merge(sets)

	assert.InDelta(t, 0.6, merged.Confidence["objects"], 0.001)
	assert.InDelta(t, 1.0, merged.Confidence["mood"], 0.001, "averaged only over sets that scored the category")
}

func TestMergeCapsVideoLevelLists(t *testing.T) {
	var set entity.AILabels
	for i := 0; i < 30; i++ {
		set.Objects = append(set.Objects, strings.Repeat("o", i+1))
		set.Themes = append(set.Themes, strings.Repeat("t", i+1))
	}

	merged := Merge([]*entity.AILabels{&set})

	assert.Len(t, merged.Objects, MaxVideoObjects)
	assert.Len(t, merged.Themes, MaxVideoListed)
}

func TestMergeEmpty(t *testing.T) {
	merged := Merge(nil)

	assert.NotNil(t, merged.Objects)
	assert.Empty(t, merged.Objects)
	assert.Nil(t, merged.Confidence)
}
