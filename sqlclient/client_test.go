package sqlclient

import (
	"strings"
	"testing"
	"time"
)

const (
	checkMark = "\u2713"
	ballotX   = "\u2717"
)

type (
	testHealthChecker struct {
		healthy bool
	}
	attemptResult struct {
		output   string
		exitCode int
	}
	testCommandRunner struct {
		results     []attemptResult
		invocations [][]string
		stdins      []string
	}
)

func (h *testHealthChecker) Healthy() bool {

	return h.healthy

}

func (r *testCommandRunner) run(args []string, stdin string, _ []string, _ time.Duration) (string, int) {

	r.invocations = append(r.invocations, args)
	r.stdins = append(r.stdins, stdin)

	result := r.results[0]
	if len(r.results) > 1 {
		r.results = r.results[1:]
	}

	return result.output, result.exitCode

}

func testConfig() *Config {

	return &Config{
		Host:             "127.0.0.1",
		Port:             15433,
		CommandTimeout:   1 * time.Second,
		MaxRetries:       2,
		Backoff:          1 * time.Millisecond,
		TransientMarkers: []string{"Failed to connect to TiKV", "connection refused"},
	}

}

func testCredentials() Credentials {

	return Credentials{User: "tenant_a.secret", Password: "secret"}

}

func TestCommandClient_Exec(t *testing.T) {

	t.Log("given the need to test command execution with transient retry")
	{
		t.Log("\twhen first attempt succeeds")
		{
			runner := &testCommandRunner{results: []attemptResult{{"INSERT 0 1\n", 0}}}
			c := &CommandClient{config: testConfig(), health: &testHealthChecker{true}, runner: runner}

			output, exitCode := c.Exec("insert into t values (1)", testCredentials())

			msg := "\t\toutput and exit code of the attempt must be returned"
			if output == "INSERT 0 1\n" && exitCode == 0 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, output, exitCode)
			}

			msg = "\t\texactly one attempt must have been made"
			if len(runner.invocations) == 1 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, len(runner.invocations))
			}

			msg = "\t\tconnection arguments must target the configured endpoint"
			args := strings.Join(runner.invocations[0], " ")
			if strings.Contains(args, "-h 127.0.0.1") && strings.Contains(args, "-p 15433") && strings.Contains(args, "-U tenant_a.secret") && strings.Contains(args, "-d postgres") {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, args)
			}
		}

		t.Log("\twhen first attempt hits a transient connectivity failure")
		{
			runner := &testCommandRunner{results: []attemptResult{
				{"psql: error: connection refused\n", 2},
				{"SELECT 1\n", 0},
			}}
			c := &CommandClient{config: testConfig(), health: &testHealthChecker{true}, runner: runner}

			output, exitCode := c.Exec("select 1", testCredentials())

			msg := "\t\tcommand must be retried and the successful attempt's result returned"
			if output == "SELECT 1\n" && exitCode == 0 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, output, exitCode)
			}

			msg = "\t\texactly two attempts must have been made"
			if len(runner.invocations) == 2 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, len(runner.invocations))
			}
		}

		t.Log("\twhen all attempts hit transient connectivity failures")
		{
			runner := &testCommandRunner{results: []attemptResult{
				{"Failed to connect to TiKV\n", 2},
			}}
			c := &CommandClient{config: testConfig(), health: &testHealthChecker{true}, runner: runner}

			output, exitCode := c.Exec("select 1", testCredentials())

			msg := "\t\tretry budget of two retries must yield three attempts in total"
			if len(runner.invocations) == 3 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, len(runner.invocations))
			}

			msg = "\t\tlast attempt's output and exit code must be returned"
			if output == "Failed to connect to TiKV\n" && exitCode == 2 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, output, exitCode)
			}
		}

		t.Log("\twhen attempt yields a plain sql error")
		{
			runner := &testCommandRunner{results: []attemptResult{
				{"ERROR: relation \"nope\" does not exist\n", 1},
			}}
			c := &CommandClient{config: testConfig(), health: &testHealthChecker{true}, runner: runner}

			output, exitCode := c.Exec("select * from nope", testCredentials())

			msg := "\t\tsql error must not trigger a retry"
			if len(runner.invocations) == 1 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, len(runner.invocations))
			}

			msg = "\t\tsql error output must be handed back untouched"
			if output == "ERROR: relation \"nope\" does not exist\n" && exitCode == 1 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, output, exitCode)
			}
		}

		t.Log("\twhen cluster is unhealthy")
		{
			runner := &testCommandRunner{results: []attemptResult{{"SELECT 1\n", 0}}}
			c := &CommandClient{config: testConfig(), health: &testHealthChecker{false}, runner: runner}

			output, exitCode := c.Exec("select 1", testCredentials())

			msg := "\t\tno attempt must be made"
			if len(runner.invocations) == 0 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, len(runner.invocations))
			}

			msg = "\t\tsynthetic error output must be returned"
			if output == "ERROR: cluster unhealthy" && exitCode == 1 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, output, exitCode)
			}
		}
	}

}

func TestCommandClient_Query(t *testing.T) {

	t.Log("given the need to test bare-tuples queries")
	{
		t.Log("\twhen query succeeds")
		{
			runner := &testCommandRunner{results: []attemptResult{{"  3000.00  \n", 0}}}
			c := &CommandClient{config: testConfig(), health: &testHealthChecker{true}, runner: runner}

			result := c.Query("select sum(balance) from concurrent_accounts", testCredentials())

			msg := "\t\ttrimmed result must be returned"
			if result == "3000.00" {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, result)
			}

			msg = "\t\tpsql must run in bare-tuples mode"
			args := strings.Join(runner.invocations[0], " ")
			if strings.Contains(args, "-t -A") {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, args)
			}
		}
	}

}

func TestCommandClient_ExecScriptText(t *testing.T) {

	t.Log("given the need to test execution of multi-statement scripts via stdin")
	{
		t.Log("\twhen script is executed")
		{
			script := "BEGIN;\nUPDATE concurrent_counter SET value = value + 1 WHERE id = 1;\nCOMMIT;"
			runner := &testCommandRunner{results: []attemptResult{{"UPDATE 1\n", 0}}}
			c := &CommandClient{config: testConfig(), health: &testHealthChecker{true}, runner: runner}

			_, exitCode := c.ExecScriptText(script, testCredentials())

			msg := "\t\tscript must be passed via stdin"
			if len(runner.stdins) == 1 && runner.stdins[0] == script {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, runner.stdins)
			}

			msg = "\t\texit code of the attempt must be returned"
			if exitCode == 0 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, exitCode)
			}
		}
	}

}

func TestContainsAnyMarker(t *testing.T) {

	t.Log("given the need to test transient marker detection")
	{
		markers := []string{"Failed to connect to TiKV", "connection refused"}

		t.Log("\twhen output contains a lowercase marker in different casing")
		{
			msg := "\t\tlowercase marker must match case-insensitively"
			if containsAnyMarker("psql: error: Connection Refused\n", markers) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}

		t.Log("\twhen output contains a mixed-case marker in its exact spelling")
		{
			msg := "\t\tmixed-case marker must match verbatim"
			if containsAnyMarker("ERROR: Failed to connect to TiKV\n", markers) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}

		t.Log("\twhen output contains a mixed-case marker in different casing")
		{
			msg := "\t\tmixed-case marker must not match other casings"
			if !containsAnyMarker("error: failed to connect to tikv\n", markers) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}

		t.Log("\twhen output contains no marker")
		{
			msg := "\t\tordinary sql error must not match"
			if !containsAnyMarker("ERROR: duplicate key value\n", markers) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}
	}

}
