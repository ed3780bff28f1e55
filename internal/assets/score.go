package assets

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/language"
)

// Component caps. A candidate that is ideal on every axis scores
// resolution + aspect + language + votes + provider = 100.
const (
	resolutionCap = 30.0
	aspectCap     = 20.0
	languageCap   = 20.0
	votesCap      = 20.0
	providerCap   = 10.0
)

// ideal captures the reference geometry for one asset slot.
type ideal struct {
	width  int
	height int
}

func (i ideal) area() float64  { return float64(i.width * i.height) }
func (i ideal) ratio() float64 { return float64(i.width) / float64(i.height) }

var idealsByType = map[AssetType]ideal{
	AssetTypePoster:     {2000, 3000},
	AssetTypeFanart:     {1920, 1080},
	AssetTypeBanner:     {1000, 185},
	AssetTypeLogo:       {800, 310},
	AssetTypeThumb:      {640, 360},
	AssetTypeActorThumb: {300, 450},
}

// Score rates a candidate from 0 to 100 against the preferred language.
// Components sum before clamping, so badly undersized artwork drags the
// total down even when every other axis is perfect.
func Score(c *Candidate, preferredLanguage string) float64 {
	ref, ok := idealsByType[c.AssetType]
	if !ok {
		ref = idealsByType[AssetTypePoster]
	}

	total := resolutionScore(c, ref) +
		aspectScore(c, ref) +
		languageScore(c.Language, preferredLanguage) +
		votesScore(c.ProviderMeta) +
		providerScore(c.Provider)

	return math.Min(100, math.Max(0, total))
}

// ScoreAll scores every candidate in place and sorts best-first. Ties break
// on lower id so re-scoring is deterministic.
func ScoreAll(candidates []*Candidate, preferredLanguage string) {
	for _, c := range candidates {
		c.Score = Score(c, preferredLanguage)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})
}

// resolutionScore is linear in pixel area: the cap at the ideal area, zero at
// half of it, and negative below that so thumbnails posing as posters cannot
// ride their other components to a high total.
func resolutionScore(c *Candidate, ref ideal) float64 {
	area := float64(c.Area())
	if area <= 0 {
		return 0
	}
	fraction := area / ref.area()
	score := resolutionCap * (fraction - 0.5) / 0.5
	return math.Min(resolutionCap, score)
}

func aspectScore(c *Candidate, ref ideal) float64 {
	if c.Width <= 0 || c.Height <= 0 {
		return 0
	}
	ratio := float64(c.Width) / float64(c.Height)
	deviation := math.Abs(ratio-ref.ratio()) / ref.ratio()
	return aspectCap * math.Max(0, 1-deviation)
}

func languageScore(lang, preferred string) float64 {
	lang = strings.ToLower(strings.TrimSpace(lang))
	preferred = strings.ToLower(strings.TrimSpace(preferred))
	if lang == "" || lang == "xx" {
		// Textless artwork works for every locale.
		return 16
	}
	base := baseLanguage(lang)
	switch {
	case base != "" && base == baseLanguage(preferred):
		return languageCap
	case base == "en":
		return 10
	default:
		return 4
	}
}

// baseLanguage reduces a BCP 47 tag to its base so "en-US" artwork matches a
// preference of "en". Unparseable tags compare as raw strings.
func baseLanguage(tag string) string {
	if tag == "" {
		return ""
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	base, _ := parsed.Base()
	return base.String()
}

// votesScore reads community ratings out of the provider's raw metadata.
// Providers disagree on field names, so several spellings are accepted. The
// count factor damps high averages backed by a handful of votes.
func votesScore(providerMeta string) float64 {
	if providerMeta == "" {
		return 0
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal([]byte(providerMeta), &meta); err != nil {
		return 0
	}

	average := extractNumber(meta, "vote_average", "voteAverage", "rating")
	count := extractNumber(meta, "vote_count", "voteCount", "votes", "likes")
	if average <= 0 || count <= 0 {
		return 0
	}
	average = math.Min(average, 10)
	confidence := count / (count + 10)
	return (average / 10) * confidence * votesCap
}

func extractNumber(meta map[string]json.RawMessage, keys ...string) float64 {
	for _, key := range keys {
		raw, ok := meta[key]
		if !ok {
			continue
		}
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			return n
		}
		// fanart.tv serializes vote counts as strings.
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if parsed, parseErr := strconv.ParseFloat(strings.TrimSpace(s), 64); parseErr == nil {
				return parsed
			}
		}
	}
	return 0
}

func providerScore(provider string) float64 {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "tmdb":
		return providerCap
	case "fanart.tv", "fanart":
		return 9
	case "tvdb":
		return 8
	case "":
		return 0
	default:
		return 7
	}
}
