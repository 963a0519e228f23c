package roster

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/circled/internal/limiter"
)

// Actor is one autonomous character of the circle.
type Actor struct {
	ID                  string       `yaml:"id" json:"id"`
	Name                string       `yaml:"name" json:"name"`
	Avatar              string       `yaml:"avatar,omitempty" json:"avatar,omitempty"`
	Persona             string       `yaml:"persona" json:"persona"`
	Tier                limiter.Tier `yaml:"tier,omitempty" json:"tier"`
	ScheduledTimes      []string     `yaml:"scheduled_times,omitempty" json:"scheduledTimes,omitempty"`
	RelationshipEnabled bool         `yaml:"relationships" json:"relationshipEnabled"`
}

type file struct {
	Actors []Actor `yaml:"actors"`
}

// LoadFile reads a YAML roster file.
func LoadFile(path string) ([]Actor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster %s: %w", path, err)
	}
	actors, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("roster %s: %w", path, err)
	}
	return actors, nil
}

// Parse decodes and validates a YAML roster:
//
//	actors:
//	  - id: mika
//	    name: Mika
//	    persona: A cheerful barista who loves jazz.
//	    tier: high
//	    scheduled_times: ["09:00", "21:30"]
//	    relationships: true
func Parse(data []byte) ([]Actor, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Actors))
	for i := range f.Actors {
		a := &f.Actors[i]
		a.ID = strings.TrimSpace(a.ID)
		if a.ID == "" {
			return nil, fmt.Errorf("actor %d: missing id", i)
		}
		if _, dup := seen[a.ID]; dup {
			return nil, fmt.Errorf("actor %q: duplicate id", a.ID)
		}
		seen[a.ID] = struct{}{}
		if a.Name == "" {
			a.Name = a.ID
		}

		tier, err := limiter.ParseTier(string(a.Tier))
		if err != nil {
			return nil, fmt.Errorf("actor %q: %w", a.ID, err)
		}
		a.Tier = tier

		for j, hhmm := range a.ScheduledTimes {
			norm, err := NormalizeTime(hhmm)
			if err != nil {
				return nil, fmt.Errorf("actor %q: %w", a.ID, err)
			}
			a.ScheduledTimes[j] = norm
		}
	}
	return f.Actors, nil
}

// NormalizeTime validates an "HH:MM" time of day and returns it zero-padded.
func NormalizeTime(s string) (string, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Format("15:04"), nil
}
