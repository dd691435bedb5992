package status

import "fmt"

type (
	OutcomeKind string
	// Outcome captures the classification of one test unit or scenario. It is
	// produced exactly once per unit and never mutated afterwards.
	Outcome struct {
		Unit   string
		Kind   OutcomeKind
		Reason string
		Output string
	}
	// RunStats carries the aggregate counts for one harness run. Written
	// exclusively by the orchestrator.
	RunStats struct {
		Passed  uint32
		Failed  uint32
		Skipped uint32
		Errored uint32
	}
)

const (
	Passed  = OutcomeKind("passed")
	Failed  = OutcomeKind("failed")
	Skipped = OutcomeKind("skipped")
	Errored = OutcomeKind("errored")
)

func PassedOutcome(unit string, output string) Outcome {

	return Outcome{Unit: unit, Kind: Passed, Output: output}

}

func PassedOutcomeWithReason(unit string, reason string, output string) Outcome {

	return Outcome{Unit: unit, Kind: Passed, Reason: reason, Output: output}

}

func FailedOutcome(unit string, reason string, output string) Outcome {

	return Outcome{Unit: unit, Kind: Failed, Reason: reason, Output: output}

}

func SkippedOutcome(unit string, reason string) Outcome {

	return Outcome{Unit: unit, Kind: Skipped, Reason: reason}

}

func ErroredOutcome(unit string, reason string, output string) Outcome {

	return Outcome{Unit: unit, Kind: Errored, Reason: reason, Output: output}

}

func (o Outcome) String() string {

	if o.Reason == "" {
		return fmt.Sprintf("%s: %s", o.Unit, o.Kind)
	}

	return fmt.Sprintf("%s: %s (%s)", o.Unit, o.Kind, o.Reason)

}

func (s *RunStats) Record(kind OutcomeKind) {

	switch kind {
	case Passed:
		s.Passed++
	case Failed:
		s.Failed++
	case Skipped:
		s.Skipped++
	case Errored:
		s.Errored++
	}

}

func (s *RunStats) Total() uint32 {

	return s.Passed + s.Failed + s.Skipped + s.Errored

}

func (s *RunStats) AllPassed() bool {

	return s.Failed == 0 && s.Errored == 0 && s.Skipped == 0

}
