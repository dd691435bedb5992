// Package orchestrator sequences a harness run: cluster bring-up, golden
// test classification, the concurrency scenario suite, and the final report.
// It is the only writer of run-level statistics and owns the one idempotent
// teardown path, whether reached through normal exit or a signal.
package orchestrator

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"

	"pgtikvtest/api"
	"pgtikvtest/client"
	"pgtikvtest/cluster"
	"pgtikvtest/golden"
	"pgtikvtest/logging"
	"pgtikvtest/scenarios"
	"pgtikvtest/status"
)

type (
	Config struct {
		StopOnFirstFailure bool
		SkipCleanup        bool
		GoldenOnly         bool
		ScenariosOnly      bool
		TestPaths          []string
	}
	Orchestrator struct {
		config       *Config
		supervisor   *cluster.Supervisor
		classifier   *golden.Classifier
		suite        *scenarios.Suite
		gatherer     *status.Gatherer
		stats        status.RunStats
		outcomes     []status.Outcome
		teardownOnce sync.Once
	}
)

var lp *logging.LogProvider

func init() {
	lp = logging.GetLogProviderInstance(client.ID())
}

func New(config *Config, supervisor *cluster.Supervisor, classifier *golden.Classifier, suite *scenarios.Suite, gatherer *status.Gatherer) *Orchestrator {

	return &Orchestrator{
		config:     config,
		supervisor: supervisor,
		classifier: classifier,
		suite:      suite,
		gatherer:   gatherer,
	}

}

// Run drives one complete harness run and returns the process exit code:
// zero only if every unit and scenario passed.
func (o *Orchestrator) Run() int {

	o.registerSignalHandler()
	defer o.Teardown()

	if err := o.supervisor.Start(); err != nil {
		lp.LogOrchestrationEvent(fmt.Sprintf("cluster bring-up failed: %v", err), log.ErrorLevel)
		return 1
	}

	api.Ready()
	o.gatherer.Gather(status.Update{Key: "phase", Value: "running"})

	if !o.config.ScenariosOnly {
		if aborted := o.runGoldenUnits(); aborted {
			o.printSummary()
			return 1
		}
	}

	if !o.config.GoldenOnly {
		o.runScenarioSuite()
	}

	o.gatherer.Gather(status.Update{Key: "phase", Value: "finished"})
	o.printSummary()

	if o.stats.AllPassed() {
		return 0
	}

	return 1

}

// runGoldenUnits classifies every discovered unit. The returned flag is true
// only for fatal conditions that must abort the whole run, such as the
// cluster dying mid-run; ordinary unit failures are recorded and passed over.
func (o *Orchestrator) runGoldenUnits() bool {

	if len(o.config.TestPaths) == 0 {
		lp.LogOrchestrationEvent("no test paths given -- skipping golden test units", log.InfoLevel)
		return false
	}

	units, err := golden.Discover(o.config.TestPaths)
	if err != nil {
		lp.LogOrchestrationEvent(fmt.Sprintf("unable to discover test units: %v", err), log.ErrorLevel)
		return true
	}

	lp.LogOrchestrationEvent(fmt.Sprintf("discovered %d golden test unit(s)", len(units)), log.InfoLevel)

	failureSeen := false
	for _, unit := range units {
		if failureSeen && o.config.StopOnFirstFailure {
			o.record(status.SkippedOutcome(unit.Name, "stopped after first failure"))
			continue
		}

		if !o.supervisor.Healthy() {
			lp.LogOrchestrationEvent("cluster became unhealthy -- aborting run", log.ErrorLevel)
			o.record(status.ErroredOutcome(unit.Name, "cluster unhealthy", ""))
			return true
		}

		outcome := o.classifier.Classify(unit)
		o.record(outcome)

		if outcome.Kind != status.Passed {
			failureSeen = true
		}
	}

	return false

}

func (o *Orchestrator) runScenarioSuite() {

	failureSeen := false
	catalogue := scenarios.Catalogue()

	lp.LogOrchestrationEvent(fmt.Sprintf("running %d concurrency scenario(s)", len(catalogue)), log.InfoLevel)

	for i, sc := range catalogue {
		if failureSeen && o.config.StopOnFirstFailure {
			o.record(status.SkippedOutcome(sc.Name, "stopped after first failure"))
			continue
		}

		if i > 0 {
			o.suite.Pause()
		}

		outcome := o.suite.RunScenario(sc)
		o.record(outcome)

		if outcome.Kind != status.Passed {
			failureSeen = true
		}
	}

}

// record is the single aggregation point for outcomes: one status line, one
// stats increment, one update pushed into the gatherer's listen loop.
func (o *Orchestrator) record(outcome status.Outcome) {

	o.stats.Record(outcome.Kind)
	o.outcomes = append(o.outcomes, outcome)
	o.gatherer.Gather(status.Update{Key: "outcome." + outcome.Unit, Value: string(outcome.Kind)})

	level := log.InfoLevel
	if outcome.Kind == status.Failed || outcome.Kind == status.Errored {
		level = log.ErrorLevel
	} else if outcome.Kind == status.Skipped {
		level = log.WarnLevel
	}

	lp.LogOrchestrationEvent(outcome.String(), level)

}

// Teardown stops the supervised cluster exactly once. Safe to invoke both
// from the normal exit path and from the signal handler, in either order.
func (o *Orchestrator) Teardown() {

	o.teardownOnce.Do(func() {
		if o.config.SkipCleanup {
			lp.LogOrchestrationEvent("skip-cleanup set -- leaving processes running for inspection", log.WarnLevel)
			return
		}
		o.supervisor.Stop()
	})

}

func (o *Orchestrator) registerSignalHandler() {

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	go func() {
		s := <-signals
		lp.LogOrchestrationEvent(fmt.Sprintf("received signal %v -- tearing down", s), log.WarnLevel)
		o.Teardown()
		os.Exit(1)
	}()

}
