package golden

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"pgtikvtest/client"
	"pgtikvtest/logging"
	"pgtikvtest/sqlclient"
	"pgtikvtest/status"
)

type (
	Config struct {
		ErrorMarkers []string
	}
	// scriptExecutor is the slice of the retrying command client the
	// classifier needs.
	scriptExecutor interface {
		ExecScriptFile(path string, creds sqlclient.Credentials) (string, int)
	}
	loadScriptRunner interface {
		run(scriptPath string, env []string) (string, int)
	}
	Classifier struct {
		config     *Config
		executor   scriptExecutor
		loadRunner loadScriptRunner
		creds      sqlclient.Credentials
		host       string
		port       int
	}
	pythonLoadRunner struct{}
)

const loadScriptTimeout = 120 * time.Second

var lp *logging.LogProvider

func init() {
	lp = logging.GetLogProviderInstance(client.ID())
}

func PopulateConfig(a client.ConfigPropertyAssigner) (*Config, error) {

	var errorMarkers []string
	err := a.Assign("goldenTests.errorMarkers", client.ValidateStringList, func(v any) {
		errorMarkers = client.AsStringList(v)
	})
	if err != nil {
		return nil, err
	}

	return &Config{ErrorMarkers: errorMarkers}, nil

}

func NewClassifier(config *Config, executor scriptExecutor, creds sqlclient.Credentials, host string, port int) *Classifier {

	return &Classifier{
		config:     config,
		executor:   executor,
		loadRunner: pythonLoadRunner{},
		creds:      creds,
		host:       host,
		port:       port,
	}

}

// Classify produces exactly one outcome for the given unit. The procedure is
// strictly ordered and short-circuits on the first failing step; an
// expected-output artifact, when present, always overrides the error-marker
// heuristic.
func (c *Classifier) Classify(unit TestUnit) status.Outcome {

	lp.LogGoldenTestEvent(unit.Name, "classifying test unit", log.InfoLevel)

	if unit.SetupScript != "" {
		output, _ := c.executor.ExecScriptFile(unit.SetupScript, c.creds)
		if len(c.errorLines(output)) > 0 {
			return status.FailedOutcome(unit.Name, "setup failed", output)
		}
	}

	if unit.LoadScript != "" {
		output, exitCode := c.loadRunner.run(unit.LoadScript, c.loadScriptEnv())
		if exitCode != 0 {
			return status.FailedOutcome(unit.Name, "load script failed", output)
		}
	}

	output, _ := c.executor.ExecScriptFile(unit.Script, c.creds)

	// The raw output artifact is written regardless of outcome so failed
	// units can be diagnosed from disk.
	if err := os.WriteFile(unit.OutFile, []byte(output), 0o644); err != nil {
		lp.LogIoEvent(fmt.Sprintf("unable to persist output artifact '%s': %v", unit.OutFile, err), log.WarnLevel)
	}

	if unit.ExpectedFile != "" {
		expected, err := os.ReadFile(unit.ExpectedFile)
		if err != nil {
			return status.ErroredOutcome(unit.Name, fmt.Sprintf("unable to read expected-output artifact: %v", err), output)
		}
		if strings.TrimSpace(output) == strings.TrimSpace(string(expected)) {
			return status.PassedOutcome(unit.Name, output)
		}
		return status.FailedOutcome(unit.Name, "output differs from expected", diffExcerpt(string(expected), output))
	}

	errorLines := c.errorLines(output)
	if len(errorLines) == 0 {
		return status.PassedOutcomeWithReason(unit.Name, "heuristic: no errors", output)
	}

	if unit.AllowedErrorsFile != "" {
		allowed, err := readAllowedErrors(unit.AllowedErrorsFile)
		if err != nil {
			return status.ErroredOutcome(unit.Name, fmt.Sprintf("unable to read allowed-errors artifact: %v", err), output)
		}
		if unmatched := firstUnmatchedErrorLine(errorLines, allowed); unmatched != "" {
			return status.FailedOutcome(unit.Name, "unexpected SQL errors", fmt.Sprintf("first unexpected error line: %s", unmatched))
		}
		return status.PassedOutcomeWithReason(unit.Name, "all errors were expected", output)
	}

	return status.FailedOutcome(unit.Name, "SQL errors detected", fmt.Sprintf("first error line: %s", errorLines[0]))

}

// errorLines returns every output line containing one of the configured
// error markers, matched both verbatim and case-insensitively.
func (c *Classifier) errorLines(output string) []string {

	var result []string

	for _, line := range strings.Split(output, "\n") {
		lowered := strings.ToLower(line)
		for _, marker := range c.config.ErrorMarkers {
			if strings.Contains(line, marker) || strings.Contains(lowered, strings.ToLower(marker)) {
				result = append(result, strings.TrimSpace(line))
				break
			}
		}
	}

	return result

}

func (c *Classifier) loadScriptEnv() []string {

	return append(os.Environ(),
		fmt.Sprintf("PG_HOST=%s", c.host),
		fmt.Sprintf("PG_PORT=%d", c.port),
		fmt.Sprintf("PG_USER=%s", c.creds.User),
		fmt.Sprintf("PG_PASSWORD=%s", c.creds.Password),
	)

}

func readAllowedErrors(path string) ([]string, error) {

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []string
	for _, line := range strings.Split(string(contents), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			entries = append(entries, trimmed)
		}
	}

	return entries, nil

}

func firstUnmatchedErrorLine(errorLines []string, allowed []string) string {

	for _, line := range errorLines {
		matched := false
		for _, entry := range allowed {
			if strings.Contains(line, entry) {
				matched = true
				break
			}
		}
		if !matched {
			return line
		}
	}

	return ""

}

// diffExcerpt renders the first point at which expectation and output
// diverge, which is usually all an operator needs to see in the status line.
func diffExcerpt(expected string, actual string) string {

	expectedLines := strings.Split(strings.TrimSpace(expected), "\n")
	actualLines := strings.Split(strings.TrimSpace(actual), "\n")

	for i := 0; i < len(expectedLines) || i < len(actualLines); i++ {
		expectedLine, actualLine := "<end of output>", "<end of output>"
		if i < len(expectedLines) {
			expectedLine = expectedLines[i]
		}
		if i < len(actualLines) {
			actualLine = actualLines[i]
		}
		if expectedLine != actualLine {
			return fmt.Sprintf("line %d:\n  expected: %s\n  actual:   %s", i+1, expectedLine, actualLine)
		}
	}

	return "outputs differ only in surrounding whitespace"

}

func (r pythonLoadRunner) run(scriptPath string, env []string) (string, int) {

	ctx, cancel := context.WithTimeout(context.Background(), loadScriptTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "python3", scriptPath)
	cmd.Env = env

	output, err := cmd.CombinedOutput()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return string(output), exitErr.ExitCode()
		}
		return fmt.Sprintf("%s\n%v", output, err), -1
	}

	return string(output), 0

}
