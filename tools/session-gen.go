// session-gen generates synthetic typing sessions for exercising the
// enrollment and authentication pipeline without manual typing.
//
// Usage:
//
//	go run tools/session-gen.go -output sessions.json -count 60
//	go run tools/session-gen.go -output sessions.json -profile fast-typist
//	go run tools/session-gen.go -output sessions.json -profile erratic -count 10
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
)

// Event mirrors the on-wire key event layout consumed by typeprintctl.
type Event struct {
	KeyID     string    `json:"key_id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// Session mirrors the on-wire recording session layout.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    int64     `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
	Events    []Event   `json:"events"`
	Closed    bool      `json:"closed"`
}

// TypingProfile defines parameters for simulating different typists.
type TypingProfile struct {
	Name        string
	Description string

	MedianDwellMs  float64 // Median press-to-release time
	DwellStdDevMs  float64
	MedianFlightMs float64 // Median release-to-next-press time
	FlightStdDevMs float64

	OverlapProbability float64 // Chance the next key is pressed before release
	PauseProbability   float64 // Chance of a thinking pause between keys
	PauseMaxMs         float64
}

var profiles = map[string]TypingProfile{
	"normal": {
		Name:               "Normal Typist",
		Description:        "Typical typing with natural variation",
		MedianDwellMs:      90,
		DwellStdDevMs:      25,
		MedianFlightMs:     140,
		FlightStdDevMs:     50,
		OverlapProbability: 0.05,
		PauseProbability:   0.03,
		PauseMaxMs:         800,
	},
	"fast-typist": {
		Name:               "Fast Typist",
		Description:        "Experienced typist with quick, consistent rhythm",
		MedianDwellMs:      65,
		DwellStdDevMs:      12,
		MedianFlightMs:     80,
		FlightStdDevMs:     25,
		OverlapProbability: 0.2,
		PauseProbability:   0.01,
		PauseMaxMs:         300,
	},
	"slow-typist": {
		Name:               "Slow Typist",
		Description:        "Deliberate hunt-and-peck style typing",
		MedianDwellMs:      130,
		DwellStdDevMs:      40,
		MedianFlightMs:     350,
		FlightStdDevMs:     150,
		OverlapProbability: 0,
		PauseProbability:   0.1,
		PauseMaxMs:         2000,
	},
	"erratic": {
		Name:               "Erratic Typist",
		Description:        "High variance rhythm, useful as an impostor class",
		MedianDwellMs:      100,
		DwellStdDevMs:      60,
		MedianFlightMs:     200,
		FlightStdDevMs:     180,
		OverlapProbability: 0.1,
		PauseProbability:   0.15,
		PauseMaxMs:         3000,
	},
}

func main() {
	var (
		outputPath   = flag.String("output", "sessions.json", "Output file path")
		sessionCount = flag.Int("count", 60, "Number of sessions to generate")
		profileName  = flag.String("profile", "normal", "Typing profile to use")
		phrase       = flag.String("phrase", "the quick brown fox jumps", "Phrase the virtual user types")
		userID       = flag.Int64("user", 1, "User ID to stamp on sessions")
		seed         = flag.Int64("seed", 0, "Random seed; 0 = use current time")
		listProfiles = flag.Bool("list", false, "List available profiles")
	)
	flag.Parse()

	if *listProfiles {
		fmt.Println("Available profiles:")
		for name, p := range profiles {
			fmt.Printf("  %-14s %s\n", name, p.Description)
		}
		os.Exit(0)
	}

	profile, ok := profiles[*profileName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown profile: %s\n", *profileName)
		fmt.Fprintf(os.Stderr, "Use -list to see available profiles\n")
		os.Exit(1)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	fmt.Printf("Generating %d sessions with profile: %s\n", *sessionCount, profile.Name)
	fmt.Printf("Random seed: %d\n", *seed)

	start := time.Now().Add(-time.Duration(*sessionCount) * time.Minute)
	sessions := make([]Session, 0, *sessionCount)
	for i := 0; i < *sessionCount; i++ {
		at := start.Add(time.Duration(i) * time.Minute)
		sessions = append(sessions, generateSession(rng, profile, *phrase, *userID, at))
	}

	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling sessions: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outputPath, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %d sessions to %s\n", len(sessions), *outputPath)
	printStats(sessions)
}

func generateSession(rng *rand.Rand, profile TypingProfile, phrase string, userID int64, start time.Time) Session {
	s := Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		StartedAt: start,
		Closed:    true,
	}

	now := start
	for _, r := range phrase {
		key := string(r)
		if key == " " {
			key = "space"
		}

		dwell := logNormalSample(rng, profile.MedianDwellMs, profile.DwellStdDevMs)
		flight := logNormalSample(rng, profile.MedianFlightMs, profile.FlightStdDevMs)
		if rng.Float64() < profile.PauseProbability {
			flight += rng.Float64() * profile.PauseMaxMs
		}
		if rng.Float64() < profile.OverlapProbability {
			// Rollover: next press lands before this release.
			flight = -dwell * rng.Float64() * 0.5
		}

		press := now
		release := press.Add(time.Duration(dwell * float64(time.Millisecond)))
		s.Events = append(s.Events,
			Event{KeyID: key, Kind: "press", Timestamp: press},
			Event{KeyID: key, Kind: "release", Timestamp: release},
		)

		now = release.Add(time.Duration(flight * float64(time.Millisecond)))
	}

	return s
}

// logNormalSample generates a sample from a log-normal distribution.
func logNormalSample(rng *rand.Rand, median, stdDev float64) float64 {
	mu := math.Log(median)
	sigma := math.Log(1 + stdDev/median)
	if sigma < 0.05 {
		sigma = 0.05
	}

	// Box-Muller transform
	u1 := rng.Float64()
	u2 := rng.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

	return math.Exp(mu + sigma*z)
}

func printStats(sessions []Session) {
	if len(sessions) == 0 {
		return
	}

	var dwells []float64
	for _, s := range sessions {
		press := map[string]time.Time{}
		for _, e := range s.Events {
			switch e.Kind {
			case "press":
				press[e.KeyID] = e.Timestamp
			case "release":
				if p, ok := press[e.KeyID]; ok {
					dwells = append(dwells, e.Timestamp.Sub(p).Seconds()*1000)
					delete(press, e.KeyID)
				}
			}
		}
	}
	if len(dwells) == 0 {
		return
	}

	var sum, sumSq float64
	for _, v := range dwells {
		sum += v
		sumSq += v * v
	}
	mean := sum / float64(len(dwells))
	stdDev := math.Sqrt(sumSq/float64(len(dwells)) - mean*mean)

	fmt.Println("\nStatistics:")
	fmt.Printf("  Sessions:      %d\n", len(sessions))
	fmt.Printf("  Key presses:   %d\n", len(dwells))
	fmt.Printf("  Dwell mean:    %.1f ms\n", mean)
	fmt.Printf("  Dwell stddev:  %.1f ms\n", stdDev)
}
