package cluster

import (
	"testing"
)

func TestMatchesAnyPattern(t *testing.T) {

	t.Log("given the need to test command line matching for the orphan sweep")
	{
		patterns := []string{"pg-tikv", "tiup playground", "tikv-server", "pd-server"}

		t.Log("\twhen command line contains one of the patterns")
		{
			msg := "\t\tserver binary invocation must match"
			if matchesAnyPattern("./target/release/pg-tikv", patterns) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}

			msg = "\t\tplayground invocation must match"
			if matchesAnyPattern("/root/.tiup/bin/tiup playground --mode tikv-slim", patterns) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}

		t.Log("\twhen command line contains none of the patterns")
		{
			msg := "\t\tunrelated process must not match"
			if !matchesAnyPattern("/usr/bin/postgres -D /var/lib/postgresql", patterns) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}

		t.Log("\twhen pattern list is empty")
		{
			msg := "\t\tnothing must match"
			if !matchesAnyPattern("./target/release/pg-tikv", []string{}) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}
	}

}
