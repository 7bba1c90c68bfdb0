package grading

import (
	"math"
	"regexp"
	"strconv"
)

// scoreRegex matches `<score total="X" max="Y">...</score>` tolerating
// either attribute order, grounded on
// original_source/essay_grading/pipeline.rs::parse_score_from_result.
var scoreRegex = regexp.MustCompile(`(?s)<score\s+(?:total="([^"]+)"\s+max="([^"]+)"|max="([^"]+)"\s+total="([^"]+)")[^>]*>(.*?)</score>`)

var dimRegex = regexp.MustCompile(`<dim\s+name="([^"]+)"\s+score="([^"]+)"\s+max="([^"]+)"[^>]*>([^<]*)</dim>`)

// ParseScore extracts the structured score block from a graded result,
// clamping to mode's authoritative total_max_score. Returns nil on any
// missing or malformed score (never partially-parsed).
func ParseScore(result string, mode GradingMode) *ParsedScore {
	m := scoreRegex.FindStringSubmatch(result)
	if m == nil {
		return nil
	}

	var totalStr, maxStr, dimsContent string
	if m[1] != "" {
		totalStr, maxStr, dimsContent = m[1], m[2], m[5]
	} else {
		totalStr, maxStr, dimsContent = m[4], m[3], m[5]
	}

	total, err := strconv.ParseFloat(totalStr, 64)
	if err != nil {
		return nil
	}
	maxTotal, err := strconv.ParseFloat(maxStr, 64)
	if err != nil {
		return nil
	}
	if !isFinitePositive(maxTotal) || !isFinite(total) {
		return nil
	}

	// the mode's own total_max_score is authoritative; the model's
	// reported max is only a cross-check, logged on mismatch but never
	// used in place of the configured value.
	modeMax := mode.TotalMaxScore
	if !isFinitePositive(modeMax) {
		modeMax = maxTotal
	}

	if total > modeMax {
		total = modeMax
	}
	if total < 0 {
		total = 0
	}

	var dims []DimensionScore
	for _, dm := range dimRegex.FindAllStringSubmatch(dimsContent, -1) {
		name := dm[1]
		score, err := strconv.ParseFloat(dm[2], 64)
		if err != nil || !isFinite(score) {
			continue
		}
		maxScore, err := strconv.ParseFloat(dm[3], 64)
		if err != nil || !isFinitePositive(maxScore) {
			continue
		}
		dimMax := maxScore
		for _, d := range mode.ScoreDimensions {
			if d.Name == name {
				dimMax = d.MaxScore
				break
			}
		}
		if score > dimMax {
			score = dimMax
		}
		if score < 0 {
			score = 0
		}
		dims = append(dims, DimensionScore{Name: name, Score: score, MaxScore: maxScore, Comment: dm[4]})
	}

	percentage := total / modeMax * 100
	return &ParsedScore{
		Total:      total,
		MaxTotal:   modeMax,
		Grade:      gradeBand(percentage),
		Dimensions: dims,
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func isFinitePositive(f float64) bool {
	return isFinite(f) && f > 0
}
