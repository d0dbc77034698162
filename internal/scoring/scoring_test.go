package scoring

import (
	"testing"
	"time"

	"github.com/Najia-afk/Aria-moltbot-sub001/pkg/models"
)

func almostEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}

func TestSpecialtyMatch(t *testing.T) {
	devops := models.FocusDevops
	social := models.FocusSocial

	if got := SpecialtyMatch("hello there", nil); !almostEqual(got, 0.3) {
		t.Fatalf("nil focus: got %v, want 0.3", got)
	}
	if got := SpecialtyMatch("hello there", &devops); !almostEqual(got, 0.1) {
		t.Fatalf("no match: got %v, want 0.1", got)
	}
	if got := SpecialtyMatch("please deploy this", &devops); !almostEqual(got, 0.6) {
		t.Fatalf("1 match: got %v, want 0.6", got)
	}
	if got := SpecialtyMatch("deploy and monitor it", &devops); !almostEqual(got, 0.8) {
		t.Fatalf("2 matches: got %v, want 0.8", got)
	}
	if got := SpecialtyMatch("deploy, build, test and monitor ci", &devops); !almostEqual(got, 1.0) {
		t.Fatalf(">=3 matches: got %v, want 1.0", got)
	}
	if got := SpecialtyMatch("deploy the docker build", &social); !almostEqual(got, 0.1) {
		t.Fatalf("wrong specialty: got %v, want 0.1", got)
	}
}

func TestLoadScore(t *testing.T) {
	cases := []struct {
		status   models.AgentStatus
		failures int
		want     float64
	}{
		{models.AgentDisabled, 0, 0.0},
		{models.AgentError, 5, 0.1},
		{models.AgentBusy, 0, 0.3},
		{models.AgentIdle, 0, 1.0},
		{models.AgentIdle, 3, 0.7},
		{models.AgentIdle, 20, 0.2}, // floored
	}
	for _, c := range cases {
		if got := LoadScore(c.status, c.failures); !almostEqual(got, c.want) {
			t.Errorf("LoadScore(%v, %d) = %v, want %v", c.status, c.failures, got, c.want)
		}
	}
}

func TestPheromoneScoreColdStart(t *testing.T) {
	if got := PheromoneScore(nil); got != models.ColdStartPheromoneScore {
		t.Fatalf("nil records: got %v, want %v", got, models.ColdStartPheromoneScore)
	}
	if got := PheromoneScore([]models.PerformanceRecord{}); got != models.ColdStartPheromoneScore {
		t.Fatalf("empty records: got %v, want %v", got, models.ColdStartPheromoneScore)
	}
}

func TestPheromoneScoreHighOnRepeatedSuccess(t *testing.T) {
	now := time.Now()
	var records []models.PerformanceRecord
	for i := 0; i < 3; i++ {
		records = append(records, NewPerformanceRecord(true, 0, 0, now))
	}
	if score := PheromoneScoreAt(records, now); score <= 0.9 {
		t.Fatalf("expected score > 0.9, got %v", score)
	}
}

// TestPheromoneScoreMonotonicDecayLaw verifies the "monotonic decay" law
// law: adding a 1-year-old record to an otherwise-identical
// set never raises the score.
func TestPheromoneScoreMonotonicDecayLaw(t *testing.T) {
	now := time.Now()
	recent := []models.PerformanceRecord{NewPerformanceRecord(true, 1000, 0.1, now)}
	older := append([]models.PerformanceRecord{}, recent...)
	older = append(older, models.PerformanceRecord{
		Success:   false,
		CreatedAt: now.AddDate(-1, 0, 0),
	})

	newerBiased := PheromoneScoreAt(recent, now)
	olderBiased := PheromoneScoreAt(older, now)
	if olderBiased > newerBiased {
		t.Fatalf("older-biased score %v should be <= newer-biased score %v", olderBiased, newerBiased)
	}
}

func TestPheromoneScoreBounded(t *testing.T) {
	now := time.Now()
	records := []models.PerformanceRecord{
		NewPerformanceRecord(true, 0, 0, now),
		NewPerformanceRecord(false, 60000, 5, now.Add(-time.Hour)),
	}
	score := PheromoneScoreAt(records, now)
	if score < 0 || score > 1 {
		t.Fatalf("score out of bounds: %v", score)
	}
}

func TestRecencyScore(t *testing.T) {
	if got := RecencyScore(nil, 10); got != 0.5 {
		t.Fatalf("no records: got %v, want 0.5", got)
	}
	now := time.Now()
	records := []models.PerformanceRecord{
		NewPerformanceRecord(false, 0, 0, now),
		NewPerformanceRecord(true, 0, 0, now),
		NewPerformanceRecord(true, 0, 0, now),
	}
	if got := RecencyScore(records, 10); !almostEqual(got, 2.0/3.0) {
		t.Fatalf("got %v, want 2/3", got)
	}
	if got := RecencyScore(records, 2); got != 1.0 {
		t.Fatalf("last 2: got %v, want 1.0", got)
	}
}

func TestTrimRingBuffer(t *testing.T) {
	now := time.Now()
	var records []models.PerformanceRecord
	for i := 0; i < 250; i++ {
		records = append(records, NewPerformanceRecord(true, 0, 0, now))
	}
	trimmed := TrimRingBuffer(records)
	if len(trimmed) != models.MaxPerformanceRecords {
		t.Fatalf("got %d records, want %d", len(trimmed), models.MaxPerformanceRecords)
	}
}

func TestNormalizeFocusType(t *testing.T) {
	focus, ok := NormalizeFocusType("DevOps")
	if !ok || focus != models.FocusDevops {
		t.Fatalf("got (%v, %v), want (devops, true)", focus, ok)
	}
	if _, ok := NormalizeFocusType(""); ok {
		t.Fatalf("expected empty focus to be unrecognized")
	}
	if _, ok := NormalizeFocusType("unknown-type"); ok {
		t.Fatalf("expected unknown focus to be unrecognized")
	}
}
