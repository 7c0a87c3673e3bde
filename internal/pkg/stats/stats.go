package stats

import (
	"github.com/anicoll/house-power-simulator/internal/pkg/model"
)

// EfficientScore is the mean score a session needs to count as efficient.
const EfficientScore = 80

// Session holds the process-wide usage counters. Callers serialise access.
type Session struct {
	totalSessions     int
	efficientSessions int
	overloadCount     int
	maxDevices        int
	currentDevices    int

	// evaluations in the running session.
	scoreSum   int
	scoreCount int
	lastScore  int
}

func NewSession() *Session {
	return &Session{lastScore: 100}
}

// Observe records the device count and score of one evaluation.
func (s *Session) Observe(deviceCount, score int) {
	s.currentDevices = deviceCount
	s.maxDevices = max(s.maxDevices, deviceCount)
	s.scoreSum += score
	s.scoreCount++
	s.lastScore = score
}

func (s *Session) RecordOverload() {
	s.overloadCount++
}

func (s *Session) OverloadCount() int {
	return s.overloadCount
}

// Rollover closes the running session and reports whether it was efficient.
// A session without evaluations is judged on the last observed score.
func (s *Session) Rollover() bool {
	score := float64(s.lastScore)
	if s.scoreCount > 0 {
		score = float64(s.scoreSum) / float64(s.scoreCount)
	}
	efficient := score >= EfficientScore

	s.totalSessions++
	if efficient {
		s.efficientSessions++
	}
	s.scoreSum = 0
	s.scoreCount = 0
	return efficient
}

// ResetDevices clears the current device count after every device is switched off.
func (s *Session) ResetDevices() {
	s.currentDevices = 0
}

func (s *Session) Snapshot() model.SessionStats {
	return model.SessionStats{
		TotalSessions:      s.totalSessions,
		EfficientSessions:  s.efficientSessions,
		OverloadCount:      s.overloadCount,
		MaxDevicesUsed:     s.maxDevices,
		CurrentDevicesUsed: s.currentDevices,
	}
}
