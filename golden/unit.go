// Package golden discovers test units on the filesystem and classifies their
// output. A unit is one primary SQL script plus whatever optional companions
// share its stem: a setup script, a data-load script, an expected-output
// artifact, and an allowed-errors list.
package golden

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type TestUnit struct {
	Name              string
	Script            string
	SetupScript       string
	LoadScript        string
	ExpectedFile      string
	AllowedErrorsFile string
	OutFile           string
}

const (
	scriptSuffix        = ".sql"
	setupSuffix         = "_setup.sql"
	loadSuffix          = "_load.py"
	expectedSuffix      = ".expected"
	allowedErrorsSuffix = ".errors"
	outSuffix           = ".out"
)

// ResolveUnit binds a primary script to its companions. Companion presence is
// checked exactly once, here; the resulting unit is never mutated afterwards.
func ResolveUnit(scriptPath string) TestUnit {

	stem := strings.TrimSuffix(scriptPath, scriptSuffix)

	return TestUnit{
		Name:              filepath.Base(stem),
		Script:            scriptPath,
		SetupScript:       existingFileOrEmpty(stem + setupSuffix),
		LoadScript:        existingFileOrEmpty(stem + loadSuffix),
		ExpectedFile:      existingFileOrEmpty(stem + expectedSuffix),
		AllowedErrorsFile: existingFileOrEmpty(stem + allowedErrorsSuffix),
		OutFile:           stem + outSuffix,
	}

}

// Discover expands the given files and directories into resolved test units,
// sorted by script path for deterministic run order. Setup companions found
// during a directory walk are not units of their own.
func Discover(paths []string) ([]TestUnit, error) {

	var scripts []string

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("unable to access test path '%s': %w", path, err)
		}

		if !info.IsDir() {
			if !strings.HasSuffix(path, scriptSuffix) {
				return nil, fmt.Errorf("test file '%s' is not a %s script", path, scriptSuffix)
			}
			if strings.HasSuffix(path, setupSuffix) {
				return nil, fmt.Errorf("test file '%s' is a setup companion, not a primary script", path)
			}
			scripts = append(scripts, path)
			continue
		}

		err = filepath.WalkDir(path, func(entryPath string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if strings.HasSuffix(entryPath, scriptSuffix) && !strings.HasSuffix(entryPath, setupSuffix) {
				scripts = append(scripts, entryPath)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("unable to walk test directory '%s': %w", path, err)
		}
	}

	sort.Strings(scripts)

	units := make([]TestUnit, 0, len(scripts))
	for _, script := range scripts {
		units = append(units, ResolveUnit(script))
	}

	return units, nil

}

func existingFileOrEmpty(path string) string {

	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path
	}

	return ""

}
