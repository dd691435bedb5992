package scenarios

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pgtikvtest/client"
	"pgtikvtest/logging"
	"pgtikvtest/sqlclient"
	"pgtikvtest/status"
)

type (
	Config struct {
		WorkerPoolSize        int
		SettleDelay           time.Duration
		PauseBetweenScenarios time.Duration
	}
	// scriptExecutor is the slice of the retrying command client the suite
	// needs: one-shot statements for setup/teardown, stdin scripts for
	// actions so transaction brackets span a single session, and bare-tuple
	// queries for invariant reads.
	scriptExecutor interface {
		Exec(sql string, creds sqlclient.Credentials) (string, int)
		ExecScriptText(sql string, creds sqlclient.Credentials) (string, int)
		Query(sql string, creds sqlclient.Credentials) string
	}
	Suite struct {
		config   *Config
		executor scriptExecutor
		creds    sqlclient.Credentials
	}
)

var lp *logging.LogProvider

func init() {
	lp = logging.GetLogProviderInstance(client.ID())
}

func PopulateConfig(a client.ConfigPropertyAssigner) (*Config, error) {

	var assignmentOps []func() error

	var workerPoolSize int
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("scenarios.workerPoolSize", client.ValidateInt, func(v any) {
			workerPoolSize = v.(int)
		})
	})

	var settleDelayMs int
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("scenarios.settleDelayMs", client.ValidateInt, func(v any) {
			settleDelayMs = v.(int)
		})
	})

	var pauseBetweenScenariosMs int
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("scenarios.pauseBetweenScenariosMs", client.ValidateInt, func(v any) {
			pauseBetweenScenariosMs = v.(int)
		})
	})

	for _, f := range assignmentOps {
		if err := f(); err != nil {
			return nil, err
		}
	}

	return &Config{
		WorkerPoolSize:        workerPoolSize,
		SettleDelay:           time.Duration(settleDelayMs) * time.Millisecond,
		PauseBetweenScenarios: time.Duration(pauseBetweenScenariosMs) * time.Millisecond,
	}, nil

}

func NewSuite(config *Config, executor scriptExecutor, creds sqlclient.Credentials) *Suite {

	return &Suite{
		config:   config,
		executor: executor,
		creds:    creds,
	}

}

// Pause is the breather the orchestrator inserts between two scenarios so
// one scenario's teardown cannot bleed into the next's setup.
func (s *Suite) Pause() {

	time.Sleep(s.config.PauseBetweenScenarios)

}

// RunScenario executes setup, actions, settle delay, and invariant
// verification for one scenario, always running teardown. Failures stay
// confined to the returned outcome -- the suite never aborts.
func (s *Suite) RunScenario(sc Scenario) status.Outcome {

	lp.LogScenarioEvent(sc.Name, "starting scenario", log.InfoLevel)
	start := time.Now()

	for _, stmt := range sc.Setup {
		s.executor.Exec(stmt, s.creds)
	}

	defer func() {
		for _, stmt := range sc.Teardown {
			s.executor.Exec(stmt, s.creds)
		}
	}()

	scripts := sc.Actions()

	if sc.Mode == Concurrent {
		s.runConcurrently(sc.Name, scripts)
	} else {
		s.runSequentially(scripts)
	}

	// Commits in the store-under-test propagate asynchronously; reading the
	// invariant immediately after the last action races against them.
	time.Sleep(s.config.SettleDelay)

	err := sc.Verify(func(sql string) string {
		return s.executor.Query(sql, s.creds)
	})

	tookMs := int(time.Since(start).Milliseconds())
	lp.LogTimingEvent("scenario", sc.Name, tookMs, log.InfoLevel)

	if err == nil {
		return status.PassedOutcome(sc.Name, "")
	}

	if IsAssertionViolation(err) {
		lp.LogScenarioEvent(sc.Name, fmt.Sprintf("invariant violated: %v", err), log.ErrorLevel)
		return status.FailedOutcome(sc.Name, err.Error(), "")
	}

	lp.LogScenarioEvent(sc.Name, fmt.Sprintf("scenario errored: %v", err), log.ErrorLevel)
	return status.ErroredOutcome(sc.Name, err.Error(), "")

}

// runConcurrently fans the action scripts out on a bounded worker pool and
// joins on full completion. The scripts are independent and side-effect-only
// against the external server, so no results are collected.
func (s *Suite) runConcurrently(name string, scripts []string) {

	var g errgroup.Group
	g.SetLimit(s.config.WorkerPoolSize)

	for i, script := range scripts {
		actionNumber := i
		actionScript := script
		g.Go(func() error {
			output, exitCode := s.executor.ExecScriptText(actionScript, s.creds)
			if exitCode != 0 {
				// Individual actions are allowed to fail, e.g. when losing a
				// lock conflict; the invariant check decides the outcome.
				lp.LogScenarioEvent(name, fmt.Sprintf("action %d exited with code %d: %s", actionNumber, exitCode, output), log.DebugLevel)
			}
			return nil
		})
	}

	_ = g.Wait()

}

func (s *Suite) runSequentially(scripts []string) {

	for _, script := range scripts {
		s.executor.ExecScriptText(script, s.creds)
		time.Sleep(50 * time.Millisecond)
	}

}
