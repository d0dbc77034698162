// Package scoring implements the three pure scoring functions the router
// combines: specialty match, load, and pheromone (time-decayed
// performance). None of them perform I/O; callers own persistence.
package scoring

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

// PheromoneDecay is the per-day multiplicative decay applied to a
// performance record's weight (~13-day half-life).
const PheromoneDecay = 0.95

var specialtyKeywords = map[models.FocusType]*regexp.Regexp{
	models.FocusSocial:   regexp.MustCompile(`(?i)\b(social|post|tweet|community|engage|share|content)\b`),
	models.FocusAnalysis: regexp.MustCompile(`(?i)\b(analy(?:ze|sis)|metric|data|report|review|insight|trend|stat)\b`),
	models.FocusDevops:   regexp.MustCompile(`(?i)\b(deploy|docker|server|ci|cd|build|test|infra|monitor|debug)\b`),
	models.FocusCreative: regexp.MustCompile(`(?i)\b(creat(?:e)|write|art|story|design|brand|visual|blog)\b`),
	models.FocusResearch: regexp.MustCompile(`(?i)\b(research|paper|study|learn|explore|investigate|knowledge)\b`),
}

// SpecialtyMatch scores how well message matches an agent's focus type.
// A nil or unrecognized focus type is treated as a generalist (0.3).
func SpecialtyMatch(message string, focus *models.FocusType) float64 {
	if focus == nil {
		return 0.3
	}
	re, ok := specialtyKeywords[*focus]
	if !ok {
		return 0.3
	}
	matches := re.FindAllStringIndex(message, -1)
	switch n := len(matches); {
	case n == 0:
		return 0.1
	case n == 1:
		return 0.6
	case n == 2:
		return 0.8
	default:
		return 1.0
	}
}

// LoadScore scores an agent's current availability from its status and
// consecutive failure count.
func LoadScore(status models.AgentStatus, consecutiveFailures int) float64 {
	switch status {
	case models.AgentDisabled:
		return 0.0
	case models.AgentError:
		return 0.1
	case models.AgentBusy:
		return 0.3
	default:
		v := 1.0 - 0.1*float64(consecutiveFailures)
		return math.Max(v, 0.2)
	}
}

// PheromoneScore computes the time-decayed weighted mean of success across
// records. An empty slice is the deliberate cold-start neutral default,
// not a penalty.
func PheromoneScore(records []models.PerformanceRecord) float64 {
	return PheromoneScoreAt(records, time.Now())
}

// PheromoneScoreAt is PheromoneScore with an explicit "now" for
// deterministic testing.
func PheromoneScoreAt(records []models.PerformanceRecord, now time.Time) float64 {
	if len(records) == 0 {
		return models.ColdStartPheromoneScore
	}

	var weightedSum, weightSum float64
	for _, r := range records {
		success := 0.0
		if r.Success {
			success = 1.0
		}
		s := 0.6*success + 0.3*r.SpeedScore + 0.1*r.CostScore

		ageDays := now.Sub(r.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		w := math.Pow(PheromoneDecay, ageDays)

		weightedSum += s * w
		weightSum += w
	}
	if weightSum == 0 {
		return models.ColdStartPheromoneScore
	}
	score := weightedSum / weightSum
	return clamp01(score)
}

// RecencyScore is the fraction of successes over an agent's last n
// in-memory records (most recent last). 0.5 if there are none, matching
// the router's neutral-recency default.
func RecencyScore(records []models.PerformanceRecord, n int) float64 {
	if len(records) == 0 {
		return 0.5
	}
	if n <= 0 || n > len(records) {
		n = len(records)
	}
	recent := records[len(records)-n:]
	successes := 0
	for _, r := range recent {
		if r.Success {
			successes++
		}
	}
	return float64(successes) / float64(len(recent))
}

// NewPerformanceRecord builds the record appended on every score
// update, clamping the derived speed and cost sub-scores into [0,1].
func NewPerformanceRecord(success bool, durationMS int64, tokenCost float64, now time.Time) models.PerformanceRecord {
	speed := 1.0 - float64(durationMS)/30000.0
	if speed < 0 {
		speed = 0
	}
	cost := 1.0 - math.Min(tokenCost, 1.0)
	if cost < 0 {
		cost = 0
	}
	return models.PerformanceRecord{
		Success:    success,
		SpeedScore: speed,
		CostScore:  cost,
		DurationMS: durationMS,
		CreatedAt:  now,
	}
}

// TrimRingBuffer enforces the 200-entry LRU-by-age bound on a per-agent
// performance record slice, dropping the oldest entries first.
func TrimRingBuffer(records []models.PerformanceRecord) []models.PerformanceRecord {
	if len(records) <= models.MaxPerformanceRecords {
		return records
	}
	return records[len(records)-models.MaxPerformanceRecords:]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NormalizeFocusType lower-cases and trims a raw focus type string,
// returning ("", false) for empty input (the generalist/null case) and
// (focus, true) for a recognized value. Unknown non-empty values return
// ("", false) as well: unknown focus scores the same as null focus
// (both 0.3), so callers need not distinguish them.
func NormalizeFocusType(raw string) (models.FocusType, bool) {
	v := models.FocusType(strings.ToLower(strings.TrimSpace(raw)))
	switch v {
	case models.FocusSocial, models.FocusDevops, models.FocusAnalysis, models.FocusCreative, models.FocusResearch:
		return v, true
	default:
		return "", false
	}
}
