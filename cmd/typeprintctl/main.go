// typeprintctl is the control CLI for typeprint.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"typeprint/internal/auth"
	"typeprint/internal/config"
	"typeprint/internal/evaluation"
	"typeprint/internal/keystroke"
	"typeprint/internal/logging"
	"typeprint/internal/profile"
	"typeprint/internal/registry"
	"typeprint/internal/store"
	"typeprint/internal/train"
)

var (
	configPath = flag.String("config", "", "path to config file")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)

	switch cmd {
	case "enroll":
		if flag.NArg() < 3 {
			fmt.Fprintln(os.Stderr, "Usage: typeprintctl enroll <username> <sessions.json>")
			os.Exit(1)
		}
		cmdEnroll(flag.Arg(1), flag.Arg(2))
	case "train":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: typeprintctl train <username>")
			os.Exit(1)
		}
		cmdTrain(flag.Arg(1))
	case "auth":
		if flag.NArg() < 3 {
			fmt.Fprintln(os.Stderr, "Usage: typeprintctl auth <username> <session.json>")
			os.Exit(1)
		}
		cmdAuth(flag.Arg(1), flag.Arg(2))
	case "eval":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: typeprintctl eval <attempts.yaml>")
			os.Exit(1)
		}
		cmdEval(flag.Arg(1))
	case "info":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: typeprintctl info <username>")
			os.Exit(1)
		}
		cmdInfo(flag.Arg(1))
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `typeprintctl - Control utility for typeprint

Usage: typeprintctl [options] <command> [args]

Commands:
  enroll <user> <sessions.json>  Capture recorded sessions as training samples
  train <user>                   Train the user's typing-rhythm model
  auth <user> <session.json>     Score one session against the user's model
  eval <attempts.yaml>           Compute FAR/FRR/EER over labeled attempts
  info <user>                    Show enrollment progress and model state
  help                           Show this help message

Options:
  -config <path>  Path to config file (default: os config dir)`)
}

func loadConfig() *config.Config {
	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	format, _ := logging.ParseFormat(cfg.Logging.Format)
	logger, err := logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		Component: "typeprintctl",
	})
	if err == nil {
		logging.SetDefault(logger)
	}

	return cfg
}

func openStore(cfg *config.Config) *store.Store {
	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	return st
}

// resolveUser finds or creates the named user.
func resolveUser(st *store.Store, username string, create bool) *store.User {
	u, err := st.GetUserByName(username)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error looking up user: %v\n", err)
		os.Exit(1)
	}
	if u == nil {
		if !create {
			fmt.Fprintf(os.Stderr, "Unknown user: %s\n", username)
			os.Exit(1)
		}
		id, err := st.CreateUser(username, time.Now().UnixNano())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating user: %v\n", err)
			os.Exit(1)
		}
		u = &store.User{ID: id, Username: username}
	}
	return u
}

func readSessions(path string) []*keystroke.RecordingSession {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading sessions: %v\n", err)
		os.Exit(1)
	}

	var sessions []*keystroke.RecordingSession
	if err := json.Unmarshal(data, &sessions); err != nil {
		// Allow a single session object as well.
		var one keystroke.RecordingSession
		if err2 := json.Unmarshal(data, &one); err2 != nil {
			fmt.Fprintf(os.Stderr, "Error parsing sessions: %v\n", err)
			os.Exit(1)
		}
		sessions = []*keystroke.RecordingSession{&one}
	}
	return sessions
}

func cmdEnroll(username, sessionsPath string) {
	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	u := resolveUser(st, username, true)
	sessions := readSessions(sessionsPath)

	captured, skipped := 0, 0
	for _, s := range sessions {
		features, err := keystroke.ExtractFeatures(s, 0)
		if err != nil || !features.Valid() {
			skipped++
			continue
		}
		_, err = st.InsertSample(&store.Sample{
			UserID:     u.ID,
			SessionID:  s.SessionID,
			RecordedAt: s.StartedAt.UnixNano(),
			IsTraining: true,
			Features:   features,
			Events:     s.Events,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error saving sample: %v\n", err)
			os.Exit(1)
		}
		captured++
	}

	progress, err := st.TrainingProgress(u.ID, cfg.Training.MinSamples)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading progress: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Captured %d samples for %s (%d skipped)\n", captured, username, skipped)
	fmt.Printf("Enrollment progress: %d/%d", progress.Captured, progress.Required)
	if progress.Complete() {
		fmt.Print(" - ready to train")
	}
	fmt.Println()
}

func cmdTrain(username string) {
	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	u := resolveUser(st, username, false)

	samples, err := st.GetTrainingSamples(u.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading samples: %v\n", err)
		os.Exit(1)
	}

	vectors := make([]keystroke.FeatureVector, 0, len(samples))
	dropped := 0
	for _, s := range samples {
		if !s.Features.Valid() || s.Features.IsEmpty() {
			dropped++
			continue
		}
		vectors = append(vectors, s.Features)
	}

	trainer := train.New(cfg.TrainOptions(), logging.Default())
	model, err := trainer.TrainVectors(u.ID, vectors, dropped)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Training failed: %v\n", err)
		os.Exit(1)
	}

	reg, err := registry.Open(cfg.Storage.ModelsDir, logging.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening model registry: %v\n", err)
		os.Exit(1)
	}
	defer reg.Close()

	if err := reg.Put(model); err != nil {
		fmt.Fprintf(os.Stderr, "Error publishing model: %v\n", err)
		os.Exit(1)
	}
	if _, err := st.InsertTrainingRun(u.ID, model.Report.TrainedAt.UnixNano(), model.Report); err != nil {
		fmt.Fprintf(os.Stderr, "Error recording training run: %v\n", err)
		os.Exit(1)
	}

	r := model.Report
	fmt.Printf("Model trained for %s\n", username)
	fmt.Printf("  Samples:        %d genuine, %d synthetic (%d dropped)\n", r.PositiveSamples, r.NegativeSamples, r.DroppedSamples)
	fmt.Printf("  Parameters:     k=%d weighting=%s metric=%s\n",
		model.Classifier.Params.K, model.Classifier.Params.Weighting, model.Classifier.Params.Metric)
	if r.SearchDegraded {
		fmt.Println("  Note:           grid search degraded to fixed parameters")
	}
	fmt.Printf("  CV accuracy:    %.3f\n", r.CVAccuracy)
	fmt.Printf("  Test accuracy:  %.3f (precision %.3f, recall %.3f, F1 %.3f)\n",
		r.TestAccuracy, r.TestPrecision, r.TestRecall, r.TestF1)
	if r.ROCAUC > 0 {
		fmt.Printf("  ROC AUC:        %.3f\n", r.ROCAUC)
	}
}

func cmdAuth(username, sessionPath string) {
	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	u := resolveUser(st, username, false)
	sessions := readSessions(sessionPath)
	if len(sessions) != 1 {
		fmt.Fprintln(os.Stderr, "auth expects exactly one session")
		os.Exit(1)
	}

	features, err := keystroke.ExtractFeatures(sessions[0], 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Feature extraction failed: %v\n", err)
		os.Exit(1)
	}

	model, err := profile.Load(profile.Path(cfg.Storage.ModelsDir, u.ID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading model: %v\n", err)
		os.Exit(1)
	}

	result, err := auth.New(logging.Default()).Authenticate(model, features, cfg.Auth.Threshold)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Authentication failed: %v\n", err)
		os.Exit(1)
	}

	if _, err := st.InsertAuthAttempt(&store.AuthAttempt{
		UserID:      u.ID,
		AttemptedAt: time.Now().UnixNano(),
		Accepted:    result.Accepted,
		Confidence:  result.Confidence,
		KNNScore:    result.KNNScore,
		DistScore:   result.DistanceScore,
		FeatScore:   result.FeatureScore,
		Threshold:   result.Threshold,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error recording attempt: %v\n", err)
		os.Exit(1)
	}

	verdict := "REJECTED"
	if result.Accepted {
		verdict = "ACCEPTED"
	}
	fmt.Printf("%s (confidence %.3f, threshold %.2f)\n", verdict, result.Confidence, result.Threshold)
	fmt.Printf("  knn=%.3f distance=%.3f feature=%.3f\n",
		result.KNNScore, result.DistanceScore, result.FeatureScore)
}

// evalFile is the YAML layout for labeled attempts.
type evalFile struct {
	Attempts []struct {
		Label string  `yaml:"label"`
		Score float64 `yaml:"score"`
	} `yaml:"attempts"`
}

func cmdEval(attemptsPath string) {
	cfg := loadConfig()

	data, err := os.ReadFile(attemptsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading attempts: %v\n", err)
		os.Exit(1)
	}

	var f evalFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing attempts: %v\n", err)
		os.Exit(1)
	}

	attempts := make([]evaluation.Attempt, 0, len(f.Attempts))
	for _, a := range f.Attempts {
		label := evaluation.LabelImpostor
		if a.Label == "genuine" {
			label = evaluation.LabelGenuine
		}
		attempts = append(attempts, evaluation.Attempt{Label: label, Score: a.Score})
	}

	report, err := evaluation.Evaluate(attempts, cfg.Auth.Threshold)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Evaluation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Attempts: %d genuine, %d impostor\n", report.GenuineCount, report.ImpostorCount)
	if report.NoGenuine {
		fmt.Println("Warning: no genuine attempts, FRR is not meaningful")
	}
	if report.NoImpostors {
		fmt.Println("Warning: no impostor attempts, FAR is not meaningful")
	}
	fmt.Println()
	fmt.Println("Threshold    FAR      FRR      Accuracy")
	for _, p := range report.Sweep {
		fmt.Printf("  %.2f     %6.2f%%  %6.2f%%   %6.2f%%\n",
			p.Threshold, p.FAR*100, p.FRR*100, p.Accuracy*100)
	}
	fmt.Println()
	fmt.Printf("EER: %.2f%% at threshold %.2f\n", report.Optimal.EER*100, report.Optimal.Threshold)
	fmt.Printf("At configured threshold %.2f: FAR %.2f%%, FRR %.2f%%\n",
		report.AtThreshold.Threshold, report.AtThreshold.FAR*100, report.AtThreshold.FRR*100)
	if report.ROCAUC > 0 {
		fmt.Printf("ROC AUC: %.3f\n", report.ROCAUC)
	}
}

func cmdInfo(username string) {
	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	u := resolveUser(st, username, false)

	progress, err := st.TrainingProgress(u.ID, cfg.Training.MinSamples)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading progress: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== %s ===\n", username)
	fmt.Printf("User ID: %d\n", u.ID)
	fmt.Printf("Training samples: %d/%d\n", progress.Captured, progress.Required)

	model, err := profile.Load(profile.Path(cfg.Storage.ModelsDir, u.ID))
	if err != nil {
		fmt.Println("Model: not trained")
	} else {
		fp, _ := profile.Fingerprint(model)
		fmt.Printf("Model: trained %s (fingerprint %s)\n",
			model.CreatedAt.Format(time.RFC3339), fp)
		fmt.Printf("  k=%d weighting=%s metric=%s\n",
			model.Classifier.Params.K, model.Classifier.Params.Weighting, model.Classifier.Params.Metric)
		fmt.Printf("  test accuracy %.3f, ROC AUC %.3f\n",
			model.Report.TestAccuracy, model.Report.ROCAUC)
	}

	attempts, err := st.GetAuthAttempts(u.ID, 5)
	if err == nil && len(attempts) > 0 {
		fmt.Println("Recent attempts:")
		for _, a := range attempts {
			verdict := "rejected"
			if a.Accepted {
				verdict = "accepted"
			}
			fmt.Printf("  %s  %s  confidence %.3f\n",
				time.Unix(0, a.AttemptedAt).Format(time.RFC3339), verdict, a.Confidence)
		}
	}
}
