package priors

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressassoc/dateline/internal/model"
)

func TestKindCues_Prior_MatchingCue(t *testing.T) {
	kc := DefaultKindCues()

	assert.Equal(t, 1.0, kc.Prior("the city of", model.KindCity))
	assert.Equal(t, 1.0, kc.Prior("State of", model.KindAdmin1))
	assert.Equal(t, 1.0, kc.Prior("in Clark County yesterday", model.KindAdmin2))
	assert.Equal(t, 1.0, kc.Prior("the Republic of", model.KindCountry))
}

func TestKindCues_Prior_ConflictingCue(t *testing.T) {
	kc := DefaultKindCues()

	// A cue pointing at a different kind counts against the candidate.
	assert.Equal(t, kindCueConflict, kc.Prior("the city of", model.KindAdmin1))
	assert.Equal(t, kindCueConflict, kc.Prior("state of", model.KindCity))
}

func TestKindCues_Prior_NoCueIsNeutral(t *testing.T) {
	kc := DefaultKindCues()

	assert.Equal(t, KindNeutral, kc.Prior("flooding struck near", model.KindCity))
	assert.Equal(t, KindNeutral, kc.Prior("", model.KindCity))
	assert.Equal(t, KindNeutral, kc.Prior("   ", model.KindAdmin2))
}

func TestKindCues_Prior_NilTableIsNeutral(t *testing.T) {
	var kc *KindCues
	assert.Equal(t, KindNeutral, kc.Prior("city of", model.KindCity))
}

func TestKindCues_Prior_MatchBeatsConflict(t *testing.T) {
	kc := DefaultKindCues()

	// Window carries cues for two kinds; the one agreeing with the
	// candidate wins regardless of table iteration order.
	window := "the city of the state of"
	assert.Equal(t, 1.0, kc.Prior(window, model.KindCity))
	assert.Equal(t, 1.0, kc.Prior(window, model.KindAdmin1))
	assert.Equal(t, kindCueConflict, kc.Prior(window, model.KindCountry))
}

func TestKindCues_Prior_FoldsDiacritics(t *testing.T) {
	kc, err := LoadKindCues(writeCuesFile(t, "cues:\n  \"código postal\": city\n"))
	require.NoError(t, err)

	assert.Equal(t, 1.0, kc.Prior("near the CÓDIGO POSTAL area", model.KindCity))
}

func TestLoadKindCues_MergesOverDefaults(t *testing.T) {
	path := writeCuesFile(t, "cues:\n  \"shire of\": admin2\n  \"county\": admin1\n")

	kc, err := LoadKindCues(path)
	require.NoError(t, err)

	// New phrase admitted.
	assert.Equal(t, 1.0, kc.Prior("the Shire of Mornington", model.KindAdmin2))
	// Built-in phrase overridden.
	assert.Equal(t, 1.0, kc.Prior("Orange County", model.KindAdmin1))
	assert.Equal(t, kindCueConflict, kc.Prior("Orange County", model.KindAdmin2))
	// Untouched defaults survive.
	assert.Equal(t, 1.0, kc.Prior("city of", model.KindCity))
}

func TestLoadKindCues_UnknownKind(t *testing.T) {
	path := writeCuesFile(t, "cues:\n  \"duchy of\": duchy\n")

	_, err := LoadKindCues(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestLoadKindCues_EmptyPhrase(t *testing.T) {
	path := writeCuesFile(t, "cues:\n  \"  \": city\n")

	_, err := LoadKindCues(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty phrase")
}

func TestLoadKindCues_MissingFile(t *testing.T) {
	_, err := LoadKindCues(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadKindCues_MalformedYAML(t *testing.T) {
	path := writeCuesFile(t, "cues: [not, a, map\n")

	_, err := LoadKindCues(path)
	require.Error(t, err)
}

func writeCuesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cues.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
