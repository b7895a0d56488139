// Package store persists users, typing samples, authentication attempts
// and training runs in SQLite.
package store

import (
	"typeprint/internal/keystroke"
)

// User is an enrolled account.
type User struct {
	ID        int64
	Username  string
	CreatedAt int64 // unix nanoseconds
}

// Sample is one captured typing sample: the extracted feature vector
// plus the raw events it came from, kept for retraining and audit.
type Sample struct {
	ID         int64
	UserID     int64
	SessionID  string
	RecordedAt int64 // unix nanoseconds
	IsTraining bool
	Features   keystroke.FeatureVector
	Events     []keystroke.KeyEvent
}

// AuthAttempt is one recorded authentication decision with its
// sub-scores, for audit and offline evaluation.
type AuthAttempt struct {
	ID          int64
	UserID      int64
	AttemptedAt int64 // unix nanoseconds
	Accepted    bool
	Confidence  float64
	KNNScore    float64
	DistScore   float64
	FeatScore   float64
	Threshold   float64
}

// TrainingRun records one training of a user's model.
type TrainingRun struct {
	ID         int64
	UserID     int64
	TrainedAt  int64 // unix nanoseconds
	ReportJSON string
}

// Progress summarizes how far a user is through enrollment.
type Progress struct {
	UserID   int64
	Captured int
	Required int
}

// Complete reports whether enough training samples exist.
func (p Progress) Complete() bool {
	return p.Captured >= p.Required
}
