package logging

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const ClusterEvent = "cluster event"
const SqlClientEvent = "sql client event"
const GoldenTestEvent = "golden test event"
const ScenarioEvent = "scenario event"
const OrchestrationEvent = "orchestration event"
const ApiEvent = "api event"
const TimingEvent = "timing event"
const IoEvent = "io event"
const ConfigurationEvent = "configuration event"

type LogProvider struct {
	RunID uuid.UUID
}

var (
	instance *LogProvider
	once     sync.Once
)

func init() {

	log.SetFormatter(&log.JSONFormatter{})

	definedLogLevel := os.Getenv("LOG_LEVEL")

	var logLevel log.Level
	var out io.Writer

	switch strings.ToLower(definedLogLevel) {
	case "trace":
		logLevel = log.TraceLevel
		out = os.Stdout
	case "debug":
		logLevel = log.DebugLevel
		out = os.Stdout
	case "info":
		logLevel = log.InfoLevel
		out = os.Stdout
	case "warn":
		logLevel = log.WarnLevel
		out = os.Stderr
	case "error":
		logLevel = log.ErrorLevel
		out = os.Stderr
	default:
		logLevel = log.InfoLevel
		out = os.Stdout
	}

	log.SetLevel(logLevel)
	log.SetOutput(out)
	log.SetReportCaller(false)

}

func GetLogProviderInstance(runID uuid.UUID) *LogProvider {

	once.Do(func() {
		instance = &LogProvider{RunID: runID}
	})

	return instance

}

// EnableVerboseLogging raises the log level to debug regardless of what
// LOG_LEVEL was set to. Invoked when the operator passes --verbose.
func EnableVerboseLogging() {

	if log.GetLevel() < log.DebugLevel {
		log.SetLevel(log.DebugLevel)
	}

}

func (lp *LogProvider) LogClusterEvent(msg string, level log.Level) {

	fields := log.Fields{
		"kind": ClusterEvent,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) LogSqlClientEvent(msg string, level log.Level) {

	fields := log.Fields{
		"kind": SqlClientEvent,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) LogGoldenTestEvent(unit string, msg string, level log.Level) {

	fields := log.Fields{
		"kind": GoldenTestEvent,
		"unit": unit,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) LogScenarioEvent(scenario string, msg string, level log.Level) {

	fields := log.Fields{
		"kind":     ScenarioEvent,
		"scenario": scenario,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) LogOrchestrationEvent(msg string, level log.Level) {

	fields := log.Fields{
		"kind": OrchestrationEvent,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) LogApiEvent(msg string, level log.Level) {

	fields := log.Fields{
		"kind": ApiEvent,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) LogTimingEvent(operation string, subject string, tookMs int, level log.Level) {

	fields := log.Fields{
		"kind":      TimingEvent,
		"operation": operation,
		"subject":   subject,
		"tookMs":    tookMs,
	}

	lp.doLog(fmt.Sprintf("'%s' took %d ms", operation, tookMs), fields, level)

}

func (lp *LogProvider) LogIoEvent(msg string, level log.Level) {

	fields := log.Fields{
		"kind": IoEvent,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) LogErrUponConfigRetrieval(keyPath string, err error, level log.Level) {

	lp.LogConfigEvent(keyPath, "config file", fmt.Sprintf("encountered error upon attempt to extract config value: %v", err), level)

}

func (lp *LogProvider) LogConfigEvent(configValue string, source string, msg string, level log.Level) {

	fields := log.Fields{
		"kind":   ConfigurationEvent,
		"value":  configValue,
		"source": source,
	}

	lp.doLog(msg, fields, level)

}

func (lp *LogProvider) doLog(msg string, fields log.Fields, level log.Level) {

	fields["caller"] = getCaller()
	fields["run"] = lp.RunID

	if level == log.FatalLevel {
		log.WithFields(fields).Fatal(msg)
	} else if level == log.ErrorLevel {
		log.WithFields(fields).Error(msg)
	} else if level == log.WarnLevel {
		log.WithFields(fields).Warn(msg)
	} else if level == log.InfoLevel {
		log.WithFields(fields).Info(msg)
	} else if level == log.DebugLevel {
		log.WithFields(fields).Debug(msg)
	} else {
		log.WithFields(fields).Trace(msg)
	}

}

func getCaller() string {

	// Skipping three stacks will bring us to the method or function that originally invoked the logging method
	pc, _, _, ok := runtime.Caller(3)

	if !ok {
		return "unknown"
	}

	file, line := runtime.FuncForPC(pc).FileLine(pc)
	return fmt.Sprintf("%s:%d", file, line)

}
