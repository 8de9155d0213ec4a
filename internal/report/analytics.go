// Package report computes test analytics and exports results as CSV and
// XLSX.
package report

import (
	"math"
	"sort"

	"github.com/pavelanni/hiretest/internal/model"
)

// PassPercent is the score percentage at which a submission passes.
const PassPercent = 40

// HardestCount is the number of questions listed as hardest.
const HardestCount = 5

// SectionStats is the average result on one section.
type SectionStats struct {
	Name       string             `json:"name"`
	Kind       model.QuestionKind `json:"kind"`
	MaxScore   float64            `json:"max_score"`
	AvgScore   float64            `json:"avg_score"`
	Percentage float64            `json:"percentage"`
}

// QuestionStats is the average result on one question. A question counts as
// correct for a submission when it earned full marks. Difficulty is
// 1 - average/max, so higher is harder.
type QuestionStats struct {
	Number         int                `json:"number"`
	QuestionID     string             `json:"question_id"`
	Section        string             `json:"section"`
	Kind           model.QuestionKind `json:"kind"`
	Prompt         string             `json:"prompt"`
	MaxScore       float64            `json:"max_score"`
	AvgScore       float64            `json:"avg_score"`
	Percentage     float64            `json:"percentage"`
	CorrectCount   int                `json:"correct_count"`
	CorrectPercent float64            `json:"correct_percent"`
	Difficulty     float64            `json:"difficulty"`
}

// Analytics summarizes all submissions of a test. Score statistics only
// cover evaluated submissions; AverageMinutes covers submissions whose
// attempt start is known.
type Analytics struct {
	TestID         string          `json:"test_id"`
	Title          string          `json:"title"`
	TotalMarks     float64         `json:"total_marks"`
	Responses      int             `json:"responses"`
	Evaluated      int             `json:"evaluated"`
	AverageScore   float64         `json:"average_score"`
	AveragePercent float64         `json:"average_percent"`
	HighestScore   float64         `json:"highest_score"`
	LowestScore    float64         `json:"lowest_score"`
	PassRate       float64         `json:"pass_rate"`
	AverageMinutes float64         `json:"average_minutes"`
	Late           int             `json:"late"`
	Sections       []SectionStats  `json:"sections"`
	Questions      []QuestionStats `json:"questions"`
	Hardest        []QuestionStats `json:"hardest"`
}

// Compute builds analytics for t from its submissions.
func Compute(t model.TestDefinition, subs []model.Submission) Analytics {
	a := Analytics{
		TestID:     t.ID,
		Title:      t.Title,
		TotalMarks: t.TotalMarks(),
		Responses:  len(subs),
		Sections:   []SectionStats{},
		Questions:  []QuestionStats{},
		Hardest:    []QuestionStats{},
	}

	var evaluated []model.Submission
	var minutes float64
	timed := 0
	for _, s := range subs {
		if s.Evaluated {
			evaluated = append(evaluated, s)
		}
		if s.Late {
			a.Late++
		}
		if d, ok := s.TimeTaken(); ok {
			minutes += d.Minutes()
			timed++
		}
	}
	a.Evaluated = len(evaluated)
	if timed > 0 {
		a.AverageMinutes = round(minutes / float64(timed))
	}

	if n := len(evaluated); n > 0 {
		var sum float64
		passed := 0
		a.LowestScore = math.Inf(1)
		for _, s := range evaluated {
			sum += s.TotalScore
			a.HighestScore = math.Max(a.HighestScore, s.TotalScore)
			a.LowestScore = math.Min(a.LowestScore, s.TotalScore)
			if a.TotalMarks > 0 && s.TotalScore >= a.TotalMarks*PassPercent/100 {
				passed++
			}
		}
		a.AverageScore = round(sum / float64(n))
		a.AveragePercent = percent(sum/float64(n), a.TotalMarks)
		a.PassRate = percent(float64(passed), float64(n))
	}

	number := 0
	for _, sec := range t.Sections {
		ss := SectionStats{Name: sec.Name, Kind: sec.Kind}
		var secSum float64
		for _, q := range sec.Questions {
			number++
			qs := QuestionStats{
				Number:     number,
				QuestionID: q.ID,
				Section:    sec.Name,
				Kind:       q.Kind,
				Prompt:     q.Prompt,
				MaxScore:   q.MaxScore,
			}
			var qSum float64
			for _, s := range evaluated {
				ev, ok := s.Evaluations[q.ID]
				if !ok {
					continue
				}
				qSum += ev.Score
				if q.MaxScore > 0 && ev.Score >= q.MaxScore {
					qs.CorrectCount++
				}
			}
			if n := len(evaluated); n > 0 {
				avg := qSum / float64(n)
				qs.AvgScore = round(avg)
				qs.Percentage = percent(avg, q.MaxScore)
				qs.CorrectPercent = percent(float64(qs.CorrectCount), float64(n))
				if q.MaxScore > 0 {
					qs.Difficulty = round(1 - avg/q.MaxScore)
				}
			}
			ss.MaxScore += q.MaxScore
			secSum += qSum
			a.Questions = append(a.Questions, qs)
		}
		if n := len(evaluated); n > 0 {
			avg := secSum / float64(n)
			ss.AvgScore = round(avg)
			ss.Percentage = percent(avg, ss.MaxScore)
		}
		a.Sections = append(a.Sections, ss)
	}

	if a.Evaluated > 0 {
		hardest := append([]QuestionStats(nil), a.Questions...)
		sort.SliceStable(hardest, func(i, j int) bool { return hardest[i].Difficulty > hardest[j].Difficulty })
		if len(hardest) > HardestCount {
			hardest = hardest[:HardestCount]
		}
		a.Hardest = hardest
	}
	return a
}

func percent(v, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return round(v / total * 100)
}

// round keeps two decimals.
func round(v float64) float64 {
	return math.Round(v*100) / 100
}
