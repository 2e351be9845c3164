package scoring

import (
	"fmt"
	"math"

	"github.com/meridianhq/satops-trainer/types"
)

// Fixed weights of the overall score.
const (
	weightCommandAccuracy    = 0.30
	weightResponseTime       = 0.20
	weightResourceManagement = 0.25
	weightCompletionTime     = 0.15
	weightErrorAvoidance     = 0.10
)

// Tier thresholds, scanned from highest to lowest.
var tierThresholds = []struct {
	tier Tier
	min  float64
}{
	{TierExcellent, 90},
	{TierGood, 75},
	{TierSatisfactory, 60},
}

// computeScores recomputes every sub-score and the weighted overall score
// from the raw counters. Scores are always derived from scratch rather than
// accumulated incrementally, so repeated recomputation on an unchanged record
// is byte-identical.
func computeScores(m *Metrics, elapsedSeconds float64) {
	m.Scores = Breakdown{
		CommandAccuracy:    round1(commandAccuracyScore(m)),
		ResponseTime:       round1(responseTimeScore(m.ResponseTimes)),
		ResourceManagement: round1(resourceManagementScore(m)),
		CompletionTime:     round1(completionTimeScore(m, elapsedSeconds)),
		ErrorAvoidance:     round1(errorAvoidanceScore(m)),
	}
	m.OverallScore = round1(m.Scores.CommandAccuracy*weightCommandAccuracy +
		m.Scores.ResponseTime*weightResponseTime +
		m.Scores.ResourceManagement*weightResourceManagement +
		m.Scores.CompletionTime*weightCompletionTime +
		m.Scores.ErrorAvoidance*weightErrorAvoidance)
}

// commandAccuracyScore is the correct ratio minus a redundancy penalty of 5
// points per redundant command, capped at 20 points.
func commandAccuracyScore(m *Metrics) float64 {
	if m.TotalCommands == 0 {
		return 100
	}
	penalty := math.Min(0.2, float64(m.RedundantCommands)*0.05)
	score := (float64(m.CorrectCommands)/float64(m.TotalCommands) - penalty) * 100
	return math.Max(0, score)
}

// responseTimeScore rewards deliberate pacing: the 5-15 second band scores
// 100, faster than 5 seconds scores 80 (haste penalty), and beyond 15 seconds
// the score decays by 2 points per second, floored at 0.
func responseTimeScore(samples []float64) float64 {
	if len(samples) == 0 {
		return 100
	}
	var sum float64
	for _, sample := range samples {
		sum += sample
	}
	avg := sum / float64(len(samples))
	switch {
	case avg < 5:
		return 80
	case avg <= 15:
		return 100
	default:
		return math.Max(0, 100-(avg-15)*2)
	}
}

// resourceManagementScore is the mean of power and fuel efficiency, each
// final/initial x 100 independently.
func resourceManagementScore(m *Metrics) float64 {
	return (resourceEfficiency(m.FinalPowerPercent, m.InitialPowerPercent) +
		resourceEfficiency(m.FinalFuelPercent, m.InitialFuelPercent)) / 2
}

func resourceEfficiency(final, initial float64) float64 {
	if initial <= 0 {
		return 0
	}
	return final / initial * 100
}

// completionTimeScore is the completion ratio with a +10 bonus (capped at
// 100) for finishing over 90% of steps in under 30 minutes.
func completionTimeScore(m *Metrics, elapsedSeconds float64) float64 {
	if m.TotalSteps == 0 {
		return 0
	}
	ratio := float64(m.StepsCompleted) / float64(m.TotalSteps)
	score := ratio * 100
	if elapsedSeconds < 30*60 && ratio > 0.9 {
		score = math.Min(100, score+10)
	}
	return score
}

// errorAvoidanceScore deducts 20 points per critical error, 10 per warning,
// and 5 per minor error from 100, floored at 0.
func errorAvoidanceScore(m *Metrics) float64 {
	deduction := float64(m.ErrorsBySeverity[types.SeverityCritical])*20 +
		float64(m.ErrorsBySeverity[types.SeverityWarning])*10 +
		float64(m.ErrorsBySeverity[types.SeverityMinor])*5
	return math.Max(0, 100-deduction)
}

// tierFor assigns the highest tier whose threshold the score meets.
func tierFor(overall float64) Tier {
	for _, threshold := range tierThresholds {
		if overall >= threshold.min {
			return threshold.tier
		}
	}
	return TierNeedsImprovement
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func formatAccuracy(m *Metrics) string {
	if m.TotalCommands == 0 {
		return "100.0"
	}
	return fmt.Sprintf("%.1f", float64(m.CorrectCommands)/float64(m.TotalCommands)*100)
}

func formatStepRatio(m *Metrics) string {
	return fmt.Sprintf("%d/%d", m.StepsCompleted, m.TotalSteps)
}
