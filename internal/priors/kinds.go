// Package priors holds the prior-knowledge tables consulted during feature
// scoring: kind cues read from the text around a mention, and the news desk's
// publisher-to-country affinity sheet.
package priors

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/pressassoc/dateline/internal/model"
	"github.com/pressassoc/dateline/internal/normalize"
)

// Kind-prior signal values. A cue naming the candidate's kind lifts the
// signal to kindCueMatch; a cue naming a different kind drops it to
// kindCueConflict; no recognized cue leaves it at KindNeutral.
const (
	KindNeutral     = 0.5
	kindCueMatch    = 1.0
	kindCueConflict = 0.25
)

// defaultKindCues maps context phrases to the place kind they announce.
// Phrases are matched case-insensitively inside the mention's context window
// ("the city of Paris", "Clark County").
var defaultKindCues = map[string]model.PlaceKind{
	"city of":       model.KindCity,
	"town of":       model.KindCity,
	"village of":    model.KindCity,
	"municipality":  model.KindCity,
	"state of":      model.KindAdmin1,
	"province of":   model.KindAdmin1,
	"prefecture":    model.KindAdmin1,
	"county":        model.KindAdmin2,
	"parish":        model.KindAdmin2,
	"borough":       model.KindAdmin2,
	"republic of":   model.KindCountry,
	"kingdom of":    model.KindCountry,
	"federation of": model.KindCountry,
}

// KindCues scores how well a candidate's kind agrees with the cue phrases
// around a mention.
type KindCues struct {
	cues map[string]model.PlaceKind
}

// DefaultKindCues returns the built-in cue table.
func DefaultKindCues() *KindCues {
	cues := make(map[string]model.PlaceKind, len(defaultKindCues))
	for phrase, kind := range defaultKindCues {
		cues[phrase] = kind
	}
	return &KindCues{cues: cues}
}

// LoadKindCues reads editorial cue overrides from a YAML file and merges them
// over the built-in table. The file maps phrase to kind:
//
//	cues:
//	  "shire of": admin2
//	  "ward": city
func LoadKindCues(path string) (*KindCues, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "priors: read kind cues %s", path)
	}

	var wrapper struct {
		Cues map[string]string `yaml:"cues"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "priors: parse kind cues")
	}

	kc := DefaultKindCues()
	for phrase, kind := range wrapper.Cues {
		folded := normalize.Fold(phrase)
		if folded == "" {
			return nil, eris.Errorf("priors: kind cue with empty phrase")
		}
		k := model.PlaceKind(strings.ToLower(strings.TrimSpace(kind)))
		if !model.ValidKind(k) {
			return nil, eris.Errorf("priors: cue %q names unknown kind %q", phrase, kind)
		}
		kc.cues[folded] = k
	}
	return kc, nil
}

// Prior returns the kind signal for a candidate kind given the mention's
// context window. Any cue naming the candidate's kind wins; cues naming other
// kinds count against the candidate; no cue at all is neutral.
func (kc *KindCues) Prior(window string, kind model.PlaceKind) float64 {
	if kc == nil || strings.TrimSpace(window) == "" {
		return KindNeutral
	}

	folded := normalize.Fold(window)
	conflict := false
	for phrase, cueKind := range kc.cues {
		if !strings.Contains(folded, phrase) {
			continue
		}
		if cueKind == kind {
			return kindCueMatch
		}
		conflict = true
	}
	if conflict {
		return kindCueConflict
	}
	return KindNeutral
}
