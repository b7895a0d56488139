package profile

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/crypto/blake2b"
)

// modelSchema validates the structural shape of a model artifact before
// it is trusted. Semantic invariants are checked by Model.Validate.
const modelSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "typeprint model artifact",
  "type": "object",
  "required": ["schema_version", "user_id", "created_at", "classifier", "normalizer", "raw_genuine_mean", "raw_genuine_std", "genuine_count", "report"],
  "properties": {
    "schema_version": {"type": "integer", "minimum": 1},
    "user_id": {"type": "integer"},
    "created_at": {"type": "string"},
    "classifier": {
      "type": "object",
      "required": ["params", "support", "labels"],
      "properties": {
        "params": {
          "type": "object",
          "required": ["k", "weighting", "metric"],
          "properties": {
            "k": {"type": "integer", "minimum": 1},
            "weighting": {"enum": ["uniform", "distance"]},
            "metric": {"enum": ["euclidean", "manhattan"]}
          }
        },
        "support": {
          "type": "array",
          "minItems": 1,
          "items": {"type": "array", "items": {"type": "number"}}
        },
        "labels": {
          "type": "array",
          "minItems": 1,
          "items": {"enum": [0, 1]}
        }
      }
    },
    "normalizer": {
      "type": "object",
      "required": ["mean", "scale"],
      "properties": {
        "mean": {"type": "array", "items": {"type": "number"}},
        "scale": {"type": "array", "items": {"type": "number", "exclusiveMinimum": 0}}
      }
    },
    "raw_genuine_mean": {"type": "array", "items": {"type": "number"}},
    "raw_genuine_std": {"type": "array", "items": {"type": "number"}},
    "genuine_count": {"type": "integer", "minimum": 1},
    "report": {"type": "object"}
  }
}`

var compiledSchema = jsonschema.MustCompileString("model.schema.json", modelSchema)

// Path returns the artifact path for a user inside the models directory.
func Path(modelsDir string, userID int64) string {
	return filepath.Join(modelsDir, fmt.Sprintf("user_%d_model.json", userID))
}

// UserIDFromPath recovers the user id from an artifact path, or -1.
func UserIDFromPath(path string) int64 {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "user_") || !strings.HasSuffix(base, "_model.json") {
		return -1
	}
	var id int64
	if _, err := fmt.Sscanf(base, "user_%d_model.json", &id); err != nil {
		return -1
	}
	return id
}

// Save writes the model artifact atomically: the JSON is written to a
// temp file in the same directory and renamed over the destination, so
// an old artifact stays valid until the new one is fully on disk.
func Save(m *Model, path string) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid model: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create models directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".model-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace artifact: %w", err)
	}
	return nil
}

// Load reads a model artifact, validates it against the schema and the
// model invariants, and returns it.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	var instance any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return nil, fmt.Errorf("parse artifact: %w", err)
	}
	if err := compiledSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("artifact failed schema validation: %w", err)
	}

	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid artifact: %w", err)
	}
	return &m, nil
}

// Fingerprint returns a short hex digest of the model's classifier and
// normalizer state, for audit logging and change detection.
func Fingerprint(m *Model) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("init fingerprint hash: %w", err)
	}

	enc := json.NewEncoder(h)
	if err := enc.Encode(m.Classifier); err != nil {
		return "", fmt.Errorf("hash classifier: %w", err)
	}
	if err := enc.Encode(m.Normalizer); err != nil {
		return "", fmt.Errorf("hash normalizer: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil))[:16], nil
}
