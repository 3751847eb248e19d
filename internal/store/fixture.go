package store

import (
	"context"
	"fmt"
	"os"
	"strings"

	"defectintel/internal/logging"
	"defectintel/internal/types"

	"gopkg.in/yaml.v3"
)

// Fixture is a YAML seed document for a development database.
type Fixture struct {
	Properties   []FixtureProperty  `yaml:"properties"`
	RootCauses   []FixtureRootCause `yaml:"root_causes"`
	FutureEvents []FixtureEvent     `yaml:"future_events"`
}

// FixtureProperty is one property with its rooms and inspections.
type FixtureProperty struct {
	ID           string              `yaml:"id"`
	Address      string              `yaml:"address"`
	BuildingType string              `yaml:"building_type"`
	Region       string              `yaml:"region"`
	Rooms        []FixtureRoom       `yaml:"rooms"`
	Inspections  []FixtureInspection `yaml:"inspections"`
}

// FixtureRoom is one room of a property.
type FixtureRoom struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`
}

// FixtureInspection is one inspection event and its findings.
type FixtureInspection struct {
	ID        string           `yaml:"id"`
	Date      string           `yaml:"date"`
	Inspector string           `yaml:"inspector"`
	Findings  []FixtureFinding `yaml:"findings"`
}

// FixtureFinding is one recorded defect.
type FixtureFinding struct {
	ID          string  `yaml:"id"`
	Room        string  `yaml:"room"`
	DefectType  string  `yaml:"defect_type"`
	Severity    string  `yaml:"severity"`
	Observation string  `yaml:"observation"`
	Confidence  float64 `yaml:"confidence"` // optional model tag confidence
}

// FixtureRootCause maps a defect type onto a root cause.
type FixtureRootCause struct {
	DefectType      string   `yaml:"defect_type"`
	Cause           string   `yaml:"cause"`
	AffectedSystems []string `yaml:"affected_systems"`
}

// FixtureEvent maps a defect type onto a likely future event.
type FixtureEvent struct {
	DefectType string `yaml:"defect_type"`
	Event      string `yaml:"event"`
	Severity   string `yaml:"severity"`
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	return &f, nil
}

// ImportStats counts imported fixture rows.
type ImportStats struct {
	Properties  int
	Inspections int
	Findings    int
	Mappings    int
}

// ImportFixture writes a fixture in one transaction. Existing rows with the
// same keys are replaced.
func (s *Store) ImportFixture(ctx context.Context, f *Fixture) (ImportStats, error) {
	var stats ImportStats
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	exec := func(q string, args ...interface{}) error {
		_, err := tx.ExecContext(ctx, q, args...)
		return err
	}

	for _, p := range f.Properties {
		if p.ID == "" {
			return stats, fmt.Errorf("fixture property without id")
		}
		if err := exec(`INSERT OR REPLACE INTO property (property_id, address, building_type, region) VALUES (?, ?, ?, ?)`,
			p.ID, p.Address, p.BuildingType, p.Region); err != nil {
			return stats, fmt.Errorf("property %s: %w", p.ID, err)
		}
		stats.Properties++

		for _, r := range p.Rooms {
			if err := exec(`INSERT OR REPLACE INTO room (room_id, property_id, room_type) VALUES (?, ?, ?)`,
				r.ID, p.ID, r.Type); err != nil {
				return stats, fmt.Errorf("room %s: %w", r.ID, err)
			}
		}

		for _, in := range p.Inspections {
			if err := exec(`INSERT OR REPLACE INTO inspection_event (inspection_id, property_id, inspection_date, inspector_name) VALUES (?, ?, ?, ?)`,
				in.ID, p.ID, in.Date, in.Inspector); err != nil {
				return stats, fmt.Errorf("inspection %s: %w", in.ID, err)
			}
			stats.Inspections++

			for i, fd := range in.Findings {
				id := fd.ID
				if id == "" {
					id = fmt.Sprintf("%s-F%d", in.ID, i+1)
				}
				sev := string(types.ParseSeverity(fd.Severity))
				if err := exec(`INSERT OR REPLACE INTO inspection_findings (finding_id, inspection_id, room_id, defect_type, severity, observation_text) VALUES (?, ?, ?, ?, ?, ?)`,
					id, in.ID, fd.Room, fd.DefectType, sev, fd.Observation); err != nil {
					return stats, fmt.Errorf("finding %s: %w", id, err)
				}
				if fd.Confidence > 0 {
					if err := exec(`INSERT OR REPLACE INTO defect_ai_tags (tag_id, finding_id, defect_type, severity, confidence) VALUES (?, ?, ?, ?, ?)`,
						id+"-T", id, fd.DefectType, sev, fd.Confidence); err != nil {
						return stats, fmt.Errorf("tag %s: %w", id, err)
					}
				}
				stats.Findings++
			}
		}
	}

	for _, rc := range f.RootCauses {
		systems := strings.Join(rc.AffectedSystems, ",")
		if err := exec(`INSERT OR REPLACE INTO defect_root_causes (defect_type, root_cause, affected_systems) VALUES (?, ?, ?)`,
			rc.DefectType, rc.Cause, systems); err != nil {
			return stats, fmt.Errorf("root cause mapping %s: %w", rc.DefectType, err)
		}
		stats.Mappings++
	}
	for _, ev := range f.FutureEvents {
		if err := exec(`INSERT OR REPLACE INTO defect_future_events (defect_type, event_name, severity) VALUES (?, ?, ?)`,
			ev.DefectType, ev.Event, string(types.ParseSeverity(ev.Severity))); err != nil {
			return stats, fmt.Errorf("future event mapping %s: %w", ev.DefectType, err)
		}
		stats.Mappings++
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit import: %w", err)
	}
	logging.Get(logging.CategoryStore).Info("imported fixture: %d properties, %d inspections, %d findings, %d mappings",
		stats.Properties, stats.Inspections, stats.Findings, stats.Mappings)
	return stats, nil
}
