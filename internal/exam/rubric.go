package exam

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pavelanni/hiretest/internal/llm"
	"github.com/pavelanni/hiretest/internal/model"
)

// DefaultRubric returns the bands used when a test has none.
func DefaultRubric() []model.RubricBand {
	return []model.RubricBand{
		{Level: "excellent", MinPercent: 85, MaxPercent: 100, Description: "Excellent command of the required skills."},
		{Level: "good", MinPercent: 70, MaxPercent: 85, Description: "Good understanding with minor gaps."},
		{Level: "average", MinPercent: 50, MaxPercent: 70, Description: "Basic understanding; several areas need improvement."},
		{Level: "poor", MinPercent: 0, MaxPercent: 50, Description: "Significant gaps in the required skills."},
	}
}

// rubricLevels is the order levels are read from a generated rubric.
var rubricLevels = []string{"excellent", "good", "average", "poor"}

var numberRegex = regexp.MustCompile(`\d+(?:\.\d+)?`)

// parseRubric converts the generated level → {score_range, description} map
// into bands. It returns nil when any range cannot be read.
func parseRubric(gen map[string]llm.GeneratedBand) []model.RubricBand {
	if len(gen) == 0 {
		return nil
	}
	levels := make([]string, 0, len(gen))
	for _, l := range rubricLevels {
		if _, ok := gen[l]; ok {
			levels = append(levels, l)
		}
	}
	var extra []string
	for l := range gen {
		if !contains(rubricLevels, l) {
			extra = append(extra, l)
		}
	}
	sort.Strings(extra)
	levels = append(levels, extra...)

	bands := make([]model.RubricBand, 0, len(levels))
	for _, l := range levels {
		b := gen[l]
		nums := numberRegex.FindAllString(string(b.ScoreRange), 2)
		if len(nums) == 0 {
			return nil
		}
		lo, _ := strconv.ParseFloat(nums[0], 64)
		hi := 100.0
		if len(nums) == 2 {
			hi, _ = strconv.ParseFloat(nums[1], 64)
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		if hi > 100 {
			return nil
		}
		bands = append(bands, model.RubricBand{
			Level:       l,
			MinPercent:  lo,
			MaxPercent:  hi,
			Description: strings.TrimSpace(string(b.Description)),
		})
	}
	sortBands(bands)
	return bands
}

func sortBands(bands []model.RubricBand) {
	sort.SliceStable(bands, func(i, j int) bool { return bands[i].MinPercent > bands[j].MinPercent })
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Percentage returns score as a percentage of total, or 0 for an empty
// total.
func Percentage(score, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return score / total * 100
}

// BandFor returns the band with the highest lower bound not above pct.
func BandFor(bands []model.RubricBand, pct float64) (model.RubricBand, bool) {
	sorted := append([]model.RubricBand(nil), bands...)
	sortBands(sorted)
	for _, b := range sorted {
		if pct >= b.MinPercent {
			return b, true
		}
	}
	return model.RubricBand{}, false
}

// OverallFeedback describes a total score using the test's rubric.
func OverallFeedback(bands []model.RubricBand, score, total float64) string {
	if len(bands) == 0 {
		bands = DefaultRubric()
	}
	pct := Percentage(score, total)
	b, ok := BandFor(bands, pct)
	if !ok {
		return fmt.Sprintf("Score %.1f/%.1f (%.1f%%).", score, total, pct)
	}
	level := b.Level
	if level != "" {
		level = strings.ToUpper(level[:1]) + level[1:]
	}
	if b.Description == "" {
		return fmt.Sprintf("%s (%.1f%%).", level, pct)
	}
	return fmt.Sprintf("%s (%.1f%%): %s", level, pct, b.Description)
}
