package golden

import (
	"os"
	"path/filepath"
	"testing"
)

const (
	checkMark = "\u2713"
	ballotX   = "\u2717"
)

func touch(t *testing.T, path string) {

	t.Helper()
	if err := os.WriteFile(path, []byte("-- test artifact\n"), 0o644); err != nil {
		t.Fatal(err)
	}

}

func TestResolveUnit(t *testing.T) {

	t.Log("given the need to test the binding of a primary script to its companions")
	{
		t.Log("\twhen script has no companions")
		{
			dir := t.TempDir()
			script := filepath.Join(dir, "01_basic.sql")
			touch(t, script)

			unit := ResolveUnit(script)

			msg := "\t\tunit name must be the script stem"
			if unit.Name == "01_basic" {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, unit.Name)
			}

			msg = "\t\tcompanion fields must be empty"
			if unit.SetupScript == "" && unit.LoadScript == "" && unit.ExpectedFile == "" && unit.AllowedErrorsFile == "" {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, unit)
			}

			msg = "\t\tout file must share the script stem"
			if unit.OutFile == filepath.Join(dir, "01_basic.out") {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, unit.OutFile)
			}
		}

		t.Log("\twhen every companion is present")
		{
			dir := t.TempDir()
			script := filepath.Join(dir, "05_joins.sql")
			touch(t, script)
			touch(t, filepath.Join(dir, "05_joins_setup.sql"))
			touch(t, filepath.Join(dir, "05_joins_load.py"))
			touch(t, filepath.Join(dir, "05_joins.expected"))
			touch(t, filepath.Join(dir, "05_joins.errors"))

			unit := ResolveUnit(script)

			msg := "\t\tall companion fields must be bound"
			if unit.SetupScript != "" && unit.LoadScript != "" && unit.ExpectedFile != "" && unit.AllowedErrorsFile != "" {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, unit)
			}
		}
	}

}

func TestDiscover(t *testing.T) {

	t.Log("given the need to test discovery of test units on the filesystem")
	{
		t.Log("\twhen a directory containing scripts and companions is given")
		{
			dir := t.TempDir()
			touch(t, filepath.Join(dir, "02_dml.sql"))
			touch(t, filepath.Join(dir, "01_basic.sql"))
			touch(t, filepath.Join(dir, "01_basic_setup.sql"))
			touch(t, filepath.Join(dir, "readme.txt"))

			units, err := Discover([]string{dir})

			msg := "\t\tno error must be returned"
			if err == nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}

			msg = "\t\tsetup companions and non-sql files must not become units"
			if len(units) == 2 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, len(units))
			}

			msg = "\t\tunits must be sorted by script path"
			if units[0].Name == "01_basic" && units[1].Name == "02_dml" {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, units)
			}

			msg = "\t\tsetup companion must be bound to its unit"
			if units[0].SetupScript != "" {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, units[0])
			}
		}

		t.Log("\twhen a single script file is given")
		{
			dir := t.TempDir()
			script := filepath.Join(dir, "03_agg.sql")
			touch(t, script)

			units, err := Discover([]string{script})

			msg := "\t\texactly that unit must be returned"
			if err == nil && len(units) == 1 && units[0].Name == "03_agg" {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, units, err)
			}
		}

		t.Log("\twhen a setup companion is given explicitly")
		{
			dir := t.TempDir()
			setupScript := filepath.Join(dir, "01_basic_setup.sql")
			touch(t, setupScript)

			_, err := Discover([]string{setupScript})

			msg := "\t\terror must be returned"
			if err != nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}

		t.Log("\twhen a non-sql file is given explicitly")
		{
			dir := t.TempDir()
			path := filepath.Join(dir, "notes.txt")
			touch(t, path)

			_, err := Discover([]string{path})

			msg := "\t\terror must be returned"
			if err != nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}

		t.Log("\twhen a given path does not exist")
		{
			_, err := Discover([]string{filepath.Join(t.TempDir(), "missing")})

			msg := "\t\terror must be returned"
			if err != nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}
	}

}
