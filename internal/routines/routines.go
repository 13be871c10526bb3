// Package routines loads routine definition files and carries the default
// routines installed for new users.
package routines

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"lifeauto/internal/automation"
	"lifeauto/internal/config"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// File is the on-disk shape of a routine definition file (JSON or YAML).
type File struct {
	Routines []automation.RoutineRecord `json:"routines"`
}

// Parse decodes a definition document. The format follows the extension of name.
func Parse(name string, data []byte) ([]automation.RoutineRecord, error) {
	var f File
	if err := config.DecodeStrict(name, data, &f); err != nil {
		return nil, err
	}
	if len(f.Routines) == 0 {
		return nil, errors.New("no routines defined")
	}
	return f.Routines, nil
}

func LoadFile(path string) ([]automation.RoutineRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	recs, err := Parse(path, b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// Defaults returns the default routines owned by userID.
func Defaults(userID string) ([]automation.RoutineRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	recs, err := Parse("defaults.yaml", defaultsYAML)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].UserID = userID
	}
	return recs, nil
}

// Check decodes every record and reports each invalid one by index and name.
func Check(recs []automation.RoutineRecord, opts ...automation.DecodeOption) error {
	var errs []error
	for i, rec := range recs {
		if _, err := automation.DecodeRoutine(rec, opts...); err != nil {
			errs = append(errs, fmt.Errorf("routines[%d] %q: %w", i, rec.Name, err))
		}
	}
	return errors.Join(errs...)
}
