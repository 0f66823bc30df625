package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iegorov553/price-gh-bot-sub000/models"
)

// schemaVersion guards against silently misreading payloads written by a
// different build. Bump when the envelope or Outcome shape changes.
const schemaVersion = 1

// envelope is the on-wire shape of a cache entry. The version and namespace
// tags let the read path reject unknown shapes instead of misreading fields.
type envelope struct {
	Version    int             `json:"version"`
	Namespace  string          `json:"namespace"`
	WrittenAt  time.Time       `json:"written_at"`
	TTLSeconds int             `json:"ttl_seconds"`
	Payload    json.RawMessage `json:"payload"`
}

func encodeOutcome(ns Namespace, outcome *models.Outcome, ttl time.Duration) ([]byte, error) {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("marshal outcome: %w", err)
	}

	env := envelope{
		Version:    schemaVersion,
		Namespace:  string(ns),
		WrittenAt:  time.Now().UTC(),
		TTLSeconds: int(ttl.Seconds()),
		Payload:    payload,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return raw, nil
}

func decodeOutcome(raw []byte, ns Namespace) (*models.Outcome, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Version != schemaVersion {
		return nil, fmt.Errorf("unsupported schema version %d", env.Version)
	}
	if env.Namespace != string(ns) {
		return nil, fmt.Errorf("namespace mismatch: entry %q, requested %q", env.Namespace, ns)
	}

	var outcome models.Outcome
	if err := json.Unmarshal(env.Payload, &outcome); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &outcome, nil
}
