package store

import (
	"path/filepath"
	"testing"
	"time"

	"typeprint/internal/keystroke"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "typeprint.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testFeatures() keystroke.FeatureVector {
	return keystroke.FeatureVector{
		AvgDwellTime:    0.08,
		StdDwellTime:    0.02,
		AvgFlightTime:   0.12,
		StdFlightTime:   0.03,
		TypingSpeed:     6.5,
		TotalTypingTime: 7.0,
	}
}

func TestCreateAndGetUser(t *testing.T) {
	s := openTestStore(t)

	id, err := s.CreateUser("alice", time.Now().UnixNano())
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	u, err := s.GetUser(id)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u == nil || u.Username != "alice" {
		t.Errorf("GetUser = %+v, want alice", u)
	}

	u, err = s.GetUserByName("alice")
	if err != nil {
		t.Fatalf("GetUserByName: %v", err)
	}
	if u == nil || u.ID != id {
		t.Errorf("GetUserByName = %+v, want id %d", u, id)
	}

	u, err = s.GetUserByName("nobody")
	if err != nil {
		t.Fatalf("GetUserByName: %v", err)
	}
	if u != nil {
		t.Errorf("GetUserByName(nobody) = %+v, want nil", u)
	}
}

func TestDuplicateUsernameRejected(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.CreateUser("bob", 1); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.CreateUser("bob", 2); err == nil {
		t.Error("duplicate username accepted")
	}
}

func TestInsertAndGetSamples(t *testing.T) {
	s := openTestStore(t)
	uid, err := s.CreateUser("carol", 1)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	events := []keystroke.KeyEvent{
		{KeyID: "a", Kind: keystroke.KindPress, Timestamp: time.Unix(0, 0).UTC()},
		{KeyID: "a", Kind: keystroke.KindRelease, Timestamp: time.Unix(0, int64(80*time.Millisecond)).UTC()},
	}

	for i := 0; i < 3; i++ {
		_, err := s.InsertSample(&Sample{
			UserID:     uid,
			SessionID:  "session-" + string(rune('a'+i)),
			RecordedAt: int64(i),
			IsTraining: true,
			Features:   testFeatures(),
			Events:     events,
		})
		if err != nil {
			t.Fatalf("InsertSample: %v", err)
		}
	}
	// A non-training sample must not show up in training queries.
	if _, err := s.InsertSample(&Sample{
		UserID:     uid,
		SessionID:  "probe",
		RecordedAt: 99,
		IsTraining: false,
		Features:   testFeatures(),
	}); err != nil {
		t.Fatalf("InsertSample: %v", err)
	}

	samples, err := s.GetTrainingSamples(uid)
	if err != nil {
		t.Fatalf("GetTrainingSamples: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("got %d training samples, want 3", len(samples))
	}
	if samples[0].Features != testFeatures() {
		t.Errorf("features = %+v, want %+v", samples[0].Features, testFeatures())
	}
	if len(samples[0].Events) != 2 {
		t.Errorf("events = %d, want 2", len(samples[0].Events))
	}
	if samples[0].RecordedAt > samples[2].RecordedAt {
		t.Error("samples not in capture order")
	}

	n, err := s.CountTrainingSamples(uid)
	if err != nil {
		t.Fatalf("CountTrainingSamples: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}

	progress, err := s.TrainingProgress(uid, 50)
	if err != nil {
		t.Fatalf("TrainingProgress: %v", err)
	}
	if progress.Captured != 3 || progress.Required != 50 || progress.Complete() {
		t.Errorf("progress = %+v, want 3/50 incomplete", progress)
	}
}

func TestInsertAndGetAuthAttempts(t *testing.T) {
	s := openTestStore(t)
	uid, err := s.CreateUser("dave", 1)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	for i := 0; i < 4; i++ {
		_, err := s.InsertAuthAttempt(&AuthAttempt{
			UserID:      uid,
			AttemptedAt: int64(i),
			Accepted:    i%2 == 0,
			Confidence:  0.5 + float64(i)*0.1,
			KNNScore:    0.8,
			DistScore:   0.7,
			FeatScore:   0.9,
			Threshold:   0.75,
		})
		if err != nil {
			t.Fatalf("InsertAuthAttempt: %v", err)
		}
	}

	attempts, err := s.GetAuthAttempts(uid, 2)
	if err != nil {
		t.Fatalf("GetAuthAttempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("got %d attempts, want 2", len(attempts))
	}
	if attempts[0].AttemptedAt != 3 {
		t.Errorf("newest attempt at %d, want 3", attempts[0].AttemptedAt)
	}
	if attempts[0].Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", attempts[0].Confidence)
	}
}

func TestInsertAndGetTrainingRun(t *testing.T) {
	s := openTestStore(t)
	uid, err := s.CreateUser("erin", 1)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	run, err := s.GetLastTrainingRun(uid)
	if err != nil {
		t.Fatalf("GetLastTrainingRun: %v", err)
	}
	if run != nil {
		t.Errorf("untrained user has run %+v", run)
	}

	report := map[string]any{"positive_samples": 60, "cv_accuracy": 0.97}
	if _, err := s.InsertTrainingRun(uid, 100, report); err != nil {
		t.Fatalf("InsertTrainingRun: %v", err)
	}
	if _, err := s.InsertTrainingRun(uid, 200, report); err != nil {
		t.Fatalf("InsertTrainingRun: %v", err)
	}

	run, err = s.GetLastTrainingRun(uid)
	if err != nil {
		t.Fatalf("GetLastTrainingRun: %v", err)
	}
	if run == nil || run.TrainedAt != 200 {
		t.Errorf("run = %+v, want most recent at 200", run)
	}
	if run.ReportJSON == "" {
		t.Error("report JSON not persisted")
	}
}
