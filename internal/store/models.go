package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Level values of visited_locations.level.
const (
	LevelCountry  = 0
	LevelState    = 1
	LevelDistrict = 2
)

// Mark identifies a visited location the way clients send it.
type Mark struct {
	Name        string
	Level       int
	Parent      *string
	Grandparent *string
}

// Ancestors returns the rows implied by m: a district with both names marks
// its state and country, a state with a parent marks its country.
func (m Mark) Ancestors() []Mark {
	switch {
	case m.Level == LevelDistrict && present(m.Parent) && present(m.Grandparent):
		country := *m.Grandparent
		return []Mark{
			{Name: *m.Parent, Level: LevelState, Parent: &country},
			{Name: country, Level: LevelCountry},
		}
	case m.Level == LevelState && present(m.Parent):
		return []Mark{{Name: *m.Parent, Level: LevelCountry}}
	}
	return nil
}

func present(s *string) bool {
	return s != nil && *s != ""
}

type MarkResult struct {
	Created bool
	// Bubbled counts ancestor rows that were newly created.
	Bubbled int
}

type UnmarkResult struct {
	Removed bool
	// Cascaded counts descendant rows that were removed with the target.
	Cascaded int64
}

// Progress is every visited name of a user, per level.
type Progress struct {
	Countries []string `json:"countries"`
	States    []string `json:"states"`
	Districts []string `json:"districts"`
}

func EmptyProgress() Progress {
	return Progress{Countries: []string{}, States: []string{}, Districts: []string{}}
}
