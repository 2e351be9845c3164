package scoring

// detectAchievements re-checks every achievement condition against the
// current metrics. Detection is idempotent: an achievement already present is
// never added again, and unlocked achievements are never removed even if the
// condition stops holding.
func detectAchievements(m *Metrics, elapsedSeconds float64) {
	unlock := func(a Achievement, condition bool) {
		if condition && !m.hasAchievement(a) {
			m.Achievements = append(m.Achievements, a)
		}
	}

	unlock(AchievementPerfectCommander, m.ErrorCount == 0 && m.TotalCommands >= 10)
	unlock(AchievementSpeedRunner, m.TotalSteps > 0 && m.StepsCompleted == m.TotalSteps && elapsedSeconds < 15*60)
	unlock(AchievementResourceMaster,
		m.ResourceSampled &&
			resourceEfficiency(m.FinalPowerPercent, m.InitialPowerPercent) > 90 &&
				resourceEfficiency(m.FinalFuelPercent, m.InitialFuelPercent) > 90)
	unlock(AchievementQuickResponder, len(m.ResponseTimes) >= 5 && averageSample(m.ResponseTimes) < 10)
	unlock(AchievementCommandEfficiency,
		m.TotalCommands > 0 && float64(m.CorrectCommands)/float64(m.TotalCommands) > 0.95)
}

func averageSample(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, sample := range samples {
		sum += sample
	}
	return sum / float64(len(samples))
}
