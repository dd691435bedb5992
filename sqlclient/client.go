// Package sqlclient executes SQL against the server-under-test through the
// external psql binary. Connectivity hiccups are absorbed locally with a
// constant-backoff retry; everything else, SQL errors included, is handed
// back to the caller untouched.
package sqlclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"pgtikvtest/client"
	"pgtikvtest/logging"
)

type (
	// HealthChecker is consulted before every attempt. A dead cluster will
	// not heal itself within a test run, so an unhealthy answer aborts
	// without retrying.
	HealthChecker interface {
		Healthy() bool
	}
	Credentials struct {
		User     string
		Password string
	}
	Config struct {
		Host             string
		Port             int
		CommandTimeout   time.Duration
		MaxRetries       int
		Backoff          time.Duration
		TransientMarkers []string
	}
	CommandClient struct {
		config *Config
		health HealthChecker
		runner commandRunner
	}
	commandRunner interface {
		run(args []string, stdin string, env []string, timeout time.Duration) (string, int)
	}
	psqlRunner struct{}
)

var (
	ErrClusterUnhealthy = errors.New("cluster unhealthy")

	errTransientFailure = errors.New("output contained transient connectivity marker")

	lp *logging.LogProvider
)

const unhealthyOutput = "ERROR: cluster unhealthy"

func init() {
	lp = logging.GetLogProviderInstance(client.ID())
}

func PopulateConfig(a client.ConfigPropertyAssigner) (*Config, error) {

	var assignmentOps []func() error

	var commandTimeoutSeconds int
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("sqlClient.commandTimeoutSeconds", client.ValidateInt, func(v any) {
			commandTimeoutSeconds = v.(int)
		})
	})

	var maxRetries int
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("sqlClient.retry.maxRetries", client.ValidateInt, func(v any) {
			maxRetries = v.(int)
		})
	})

	var backoffSeconds int
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("sqlClient.retry.backoffSeconds", client.ValidateInt, func(v any) {
			backoffSeconds = v.(int)
		})
	})

	var transientMarkers []string
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("sqlClient.transientOutputMarkers", client.ValidateStringList, func(v any) {
			transientMarkers = client.AsStringList(v)
		})
	})

	for _, f := range assignmentOps {
		if err := f(); err != nil {
			return nil, err
		}
	}

	return &Config{
		CommandTimeout:   time.Duration(commandTimeoutSeconds) * time.Second,
		MaxRetries:       maxRetries,
		Backoff:          time.Duration(backoffSeconds) * time.Second,
		TransientMarkers: transientMarkers,
	}, nil

}

func NewCommandClient(config *Config, health HealthChecker) *CommandClient {

	return &CommandClient{
		config: config,
		health: health,
		runner: psqlRunner{},
	}

}

// Exec runs a single SQL command and returns combined output plus the psql
// exit code.
func (c *CommandClient) Exec(sql string, creds Credentials) (string, int) {

	return c.execute([]string{"-c", sql}, "", creds)

}

// Query runs a single SQL command in bare-tuples mode and returns the
// trimmed result. Used by the scenario suite to read invariants.
func (c *CommandClient) Query(sql string, creds Credentials) string {

	output, _ := c.execute([]string{"-t", "-A", "-c", sql}, "", creds)
	return strings.TrimSpace(output)

}

// ExecScriptText feeds a multi-statement SQL script to psql via stdin, so
// transaction brackets like BEGIN/COMMIT span all statements of one session.
func (c *CommandClient) ExecScriptText(sql string, creds Credentials) (string, int) {

	return c.execute([]string{"-t", "-A"}, sql, creds)

}

// ExecScriptFile runs a SQL script file.
func (c *CommandClient) ExecScriptFile(path string, creds Credentials) (string, int) {

	return c.execute([]string{"-f", path}, "", creds)

}

func (c *CommandClient) execute(extraArgs []string, stdin string, creds Credentials) (string, int) {

	args := []string{
		"-h", c.config.Host,
		"-p", strconv.Itoa(c.config.Port),
		"-U", creds.User,
		"-d", "postgres",
	}
	args = append(args, extraArgs...)

	env := append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", creds.Password))

	var lastOutput string
	var lastExitCode int
	attempt := 0

	operation := func() error {

		if !c.health.Healthy() {
			return backoff.Permanent(ErrClusterUnhealthy)
		}

		attempt++
		output, exitCode := c.runner.run(args, stdin, env, c.config.CommandTimeout)
		lastOutput, lastExitCode = output, exitCode

		if containsAnyMarker(output, c.config.TransientMarkers) {
			lp.LogSqlClientEvent(fmt.Sprintf("connection failed on attempt %d of %d, retrying", attempt, c.config.MaxRetries+1), log.WarnLevel)
			return errTransientFailure
		}

		return nil

	}

	err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewConstantBackOff(c.config.Backoff), uint64(c.config.MaxRetries)))

	if errors.Is(err, ErrClusterUnhealthy) {
		lp.LogSqlClientEvent("refusing to execute command -- cluster is unhealthy", log.ErrorLevel)
		return unhealthyOutput, 1
	}

	// A remaining transient error means the retry budget is exhausted; the
	// last attempt's output is the most useful thing to hand back.
	return lastOutput, lastExitCode

}

// containsAnyMarker matches each marker the way it is spelled: a marker
// carrying uppercase letters is a literal (e.g. the server's exact
// "Failed to connect to TiKV" phrasing), an all-lowercase marker is matched
// against the lowercased output to catch psql's varying casing.
func containsAnyMarker(output string, markers []string) bool {

	lowered := strings.ToLower(output)

	for _, marker := range markers {
		if marker == strings.ToLower(marker) {
			if strings.Contains(lowered, marker) {
				return true
			}
		} else if strings.Contains(output, marker) {
			return true
		}
	}

	return false

}

func (r psqlRunner) run(args []string, stdin string, env []string, timeout time.Duration) (string, int) {

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "psql", args...)
	cmd.Env = env
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	output, err := cmd.CombinedOutput()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(output), exitErr.ExitCode()
		}
		return fmt.Sprintf("%s\n%v", output, err), -1
	}

	return string(output), 0

}
