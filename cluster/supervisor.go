// Package cluster owns the lifecycle of the backing TiKV playground and the
// server-under-test. It discovers the placement driver's dynamic endpoint
// from the playground's log stream, probes readiness over raw TCP, and tears
// everything down again -- gracefully first, forcefully if it must.
package cluster

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"pgtikvtest/client"
	"pgtikvtest/logging"
)

type (
	State  string
	Config struct {
		Mode         string
		Host         string
		Port         int
		ServerBinary string
		Password     string

		LogDir                   string
		DiscoveryTimeout         time.Duration
		ProgressNoticeAfterPolls int
		PdReadinessTimeout       time.Duration
		ServerReadinessTimeout   time.Duration
		ShutdownGracePeriod      time.Duration
		SweepEnabled             bool
		SweepPatterns            []string
		Keyspaces                []string
	}
	// Supervisor's mutex guards state, the process handles, and the
	// discovered pd port: Healthy is polled from scenario workers while the
	// signal handler may be driving Stop.
	Supervisor struct {
		config     *Config
		m          sync.RWMutex
		state      State
		playground *processHandle
		server     *processHandle
		pdPort     int
	}
)

const (
	NotStarted = State("notStarted")
	Starting   = State("starting")
	Running    = State("running")
	Stopped    = State("stopped")
	Failed     = State("failed")
)

const (
	playgroundLogFileName = "playground.log"
	serverLogFileName     = "server.log"
	tikvConfigFileName    = "tikv.toml"
)

// The playground's kv nodes must run with api-version 2 so the server's
// keyspace-prefixed encoding works against them.
const tikvConfigContents = `[storage]
api-version = 2
enable-ttl = true
`

var lp *logging.LogProvider

func init() {
	lp = logging.GetLogProviderInstance(client.ID())
}

func PopulateConfig(a client.ConfigPropertyAssigner) (*Config, error) {

	var assignmentOps []func() error

	config := &Config{}

	var logDir string
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("cluster.logDir", client.ValidateString, func(v any) {
			logDir = v.(string)
		})
	})

	var discoveryTimeoutSeconds int
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("cluster.discovery.timeoutSeconds", client.ValidateInt, func(v any) {
			discoveryTimeoutSeconds = v.(int)
		})
	})

	var progressNoticeAfterPolls int
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("cluster.discovery.progressNoticeAfterPolls", client.ValidateInt, func(v any) {
			progressNoticeAfterPolls = v.(int)
		})
	})

	var pdReadinessTimeoutSeconds int
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("cluster.readiness.pdTimeoutSeconds", client.ValidateInt, func(v any) {
			pdReadinessTimeoutSeconds = v.(int)
		})
	})

	var serverReadinessTimeoutSeconds int
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("cluster.readiness.serverTimeoutSeconds", client.ValidateInt, func(v any) {
			serverReadinessTimeoutSeconds = v.(int)
		})
	})

	var shutdownGracePeriodSeconds int
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("cluster.shutdown.gracePeriodSeconds", client.ValidateInt, func(v any) {
			shutdownGracePeriodSeconds = v.(int)
		})
	})

	var sweepEnabled bool
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("cluster.sweep.enabled", client.ValidateBool, func(v any) {
			sweepEnabled = v.(bool)
		})
	})

	var sweepPatterns []string
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("cluster.sweep.patterns", client.ValidateStringList, func(v any) {
			sweepPatterns = client.AsStringList(v)
		})
	})

	var keyspaces []string
	assignmentOps = append(assignmentOps, func() error {
		return a.Assign("cluster.keyspaces", client.ValidateStringList, func(v any) {
			keyspaces = client.AsStringList(v)
		})
	})

	for _, f := range assignmentOps {
		if err := f(); err != nil {
			return nil, err
		}
	}

	config.LogDir = logDir
	config.DiscoveryTimeout = time.Duration(discoveryTimeoutSeconds) * time.Second
	config.ProgressNoticeAfterPolls = progressNoticeAfterPolls
	config.PdReadinessTimeout = time.Duration(pdReadinessTimeoutSeconds) * time.Second
	config.ServerReadinessTimeout = time.Duration(serverReadinessTimeoutSeconds) * time.Second
	config.ShutdownGracePeriod = time.Duration(shutdownGracePeriodSeconds) * time.Second
	config.SweepEnabled = sweepEnabled
	config.SweepPatterns = sweepPatterns
	config.Keyspaces = keyspaces

	return config, nil

}

func NewSupervisor(config *Config) *Supervisor {

	return &Supervisor{
		config: config,
		state:  NotStarted,
	}

}

func (s *Supervisor) State() State {

	s.m.RLock()
	defer s.m.RUnlock()

	return s.state

}

func (s *Supervisor) setState(state State) {

	s.m.Lock()
	s.state = state
	s.m.Unlock()

}

// PdPort reports the placement driver port discovered from the playground
// log. Zero in stack and external modes.
func (s *Supervisor) PdPort() int {

	s.m.RLock()
	defer s.m.RUnlock()

	return s.pdPort

}

func (s *Supervisor) Endpoint() string {

	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

}

func (s *Supervisor) Start() error {

	s.m.Lock()
	if s.state == Starting || s.state == Running {
		state := s.state
		s.m.Unlock()
		return fmt.Errorf("cluster supervisor cannot start from state '%s'", state)
	}
	s.state = Starting
	s.m.Unlock()

	if s.config.Mode == client.ModeExternal {
		lp.LogClusterEvent(fmt.Sprintf("external mode -- expecting server to be reachable on %s", s.Endpoint()), log.InfoLevel)
		s.setState(Running)
		return nil
	}

	if s.sweepAllowed() {
		numSwept := sweepOrphanedProcesses(s.config.SweepPatterns)
		if numSwept > 0 {
			lp.LogClusterEvent(fmt.Sprintf("removed %d leftover process(es) from a previous run", numSwept), log.WarnLevel)
			time.Sleep(1 * time.Second)
		}
	}

	if err := os.MkdirAll(s.config.LogDir, 0o755); err != nil {
		s.setState(Failed)
		return fmt.Errorf("unable to create log directory '%s': %w", s.config.LogDir, err)
	}

	pdEndpoints := os.Getenv("PD_ENDPOINTS")
	if pdEndpoints == "" {
		pdEndpoints = "127.0.0.1:2379"
	}

	if s.config.Mode == client.ModePlayground {
		if err := s.startPlayground(); err != nil {
			s.setState(Failed)
			return err
		}
		pdEndpoints = fmt.Sprintf("127.0.0.1:%d", s.PdPort())
		s.createKeyspaces()
	}

	if err := s.startServer(pdEndpoints); err != nil {
		s.setState(Failed)
		return err
	}

	s.setState(Running)
	lp.LogClusterEvent(fmt.Sprintf("cluster is up -- server reachable on %s", s.Endpoint()), log.InfoLevel)

	return nil

}

func (s *Supervisor) startPlayground() error {

	tikvConfigPath := filepath.Join(s.config.LogDir, tikvConfigFileName)
	if err := os.WriteFile(tikvConfigPath, []byte(tikvConfigContents), 0o644); err != nil {
		return fmt.Errorf("unable to write tikv config file: %w", err)
	}

	lp.LogClusterEvent("starting tiup playground (this may take a while on first run)", log.InfoLevel)

	logPath := filepath.Join(s.config.LogDir, playgroundLogFileName)
	handle, err := startProcess("tiup playground", logPath,
		exec.Command("tiup", "playground", "--mode", "tikv-slim", "--kv.config", tikvConfigPath))
	if err != nil {
		return err
	}

	s.m.Lock()
	s.playground = handle
	s.m.Unlock()

	lp.LogClusterEvent(fmt.Sprintf("waiting for placement driver to announce itself (pid %d)", handle.pid()), log.InfoLevel)

	pdPort, err := discoverEndpointFromLog(logPath, s.config.DiscoveryTimeout, 1*time.Second, s.config.ProgressNoticeAfterPolls)
	if err != nil {
		return err
	}

	s.m.Lock()
	s.pdPort = pdPort
	s.m.Unlock()

	lp.LogClusterEvent(fmt.Sprintf("placement driver is running on port %d", pdPort), log.InfoLevel)

	if err := waitForPort("127.0.0.1", pdPort, s.config.PdReadinessTimeout, 1*time.Second); err != nil {
		return err
	}

	// The playground needs a moment after the port opens before it will
	// accept ctl commands.
	time.Sleep(3 * time.Second)

	return nil

}

func (s *Supervisor) startServer(pdEndpoints string) error {

	lp.LogClusterEvent(fmt.Sprintf("starting server on port %d with placement driver at %s", s.config.Port, pdEndpoints), log.InfoLevel)

	cmd := exec.Command(s.config.ServerBinary)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("PD_ENDPOINTS=%s", pdEndpoints),
		fmt.Sprintf("PG_PORT=%d", s.config.Port),
		fmt.Sprintf("PG_PASSWORD=%s", s.config.Password),
	)

	logPath := filepath.Join(s.config.LogDir, serverLogFileName)
	handle, err := startProcess("server", logPath, cmd)
	if err != nil {
		return err
	}

	s.m.Lock()
	s.server = handle
	s.m.Unlock()

	lp.LogClusterEvent(fmt.Sprintf("server started (pid %d)", handle.pid()), log.InfoLevel)

	if err := waitForPort(s.config.Host, s.config.Port, s.config.ServerReadinessTimeout, 1*time.Second); err != nil {
		return fmt.Errorf("%w\nserver log tail:\n%s", err, logTail(logPath, logTailBytes))
	}

	time.Sleep(2 * time.Second)

	return nil

}

// createKeyspaces provisions the configured tenant keyspaces through the pd
// ctl component. Keyspaces surviving from an earlier run make the create
// command fail, which is fine, so errors are only logged.
func (s *Supervisor) createKeyspaces() {

	ctlVersion := detectCtlVersion()
	lp.LogClusterEvent(fmt.Sprintf("using tiup ctl version: %s", ctlVersion), log.InfoLevel)

	for _, ks := range s.config.Keyspaces {
		lp.LogClusterEvent(fmt.Sprintf("creating keyspace: %s", ks), log.InfoLevel)
		cmd := exec.Command("tiup", fmt.Sprintf("ctl:%s", ctlVersion), "pd",
			"-u", fmt.Sprintf("http://127.0.0.1:%d", s.PdPort()), "keyspace", "create", ks)
		if output, err := cmd.CombinedOutput(); err != nil {
			lp.LogClusterEvent(fmt.Sprintf("keyspace creation for '%s' reported: %v -- %s", ks, err, strings.TrimSpace(string(output))), log.WarnLevel)
		}
	}

}

func detectCtlVersion() string {

	home, err := os.UserHomeDir()
	if err != nil {
		return "nightly"
	}

	entries, err := os.ReadDir(filepath.Join(home, ".tiup", "components", "ctl"))
	if err != nil {
		return "nightly"
	}

	var versions []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "v") {
			versions = append(versions, e.Name())
		}
	}

	if len(versions) == 0 {
		return "nightly"
	}

	sort.Sort(sort.Reverse(sort.StringSlice(versions)))
	return versions[0]

}

// Healthy reports whether every tracked process is still running. The checks
// are non-blocking observations of the monitor goroutines, never probes
// against the processes themselves.
func (s *Supervisor) Healthy() bool {

	s.m.RLock()
	state := s.state
	playground := s.playground
	server := s.server
	s.m.RUnlock()

	if state != Running {
		return false
	}

	if playground != nil && playground.exited() {
		lp.LogClusterEvent(fmt.Sprintf("tiup playground died: %v", playground.exitError()), log.ErrorLevel)
		return false
	}

	if server != nil && server.exited() {
		lp.LogClusterEvent(fmt.Sprintf("server died: %v", server.exitError()), log.ErrorLevel)
		lp.LogClusterEvent(fmt.Sprintf("server log tail:\n%s", logTail(filepath.Join(s.config.LogDir, serverLogFileName), logTailBytes)), log.ErrorLevel)
		return false
	}

	return true

}

// Stop terminates all tracked processes, gracefully within the configured
// grace period, then forcefully. Safe to call repeatedly and in any state.
// The state flips to Stopped before termination begins so concurrent health
// checks report unhealthy for the duration of the teardown.
func (s *Supervisor) Stop() {

	s.m.Lock()
	if s.state == Stopped || s.state == NotStarted {
		s.m.Unlock()
		return
	}
	s.state = Stopped
	handles := []*processHandle{s.server, s.playground}
	s.m.Unlock()

	lp.LogClusterEvent("stopping cluster", log.InfoLevel)

	for _, handle := range handles {
		if handle == nil || handle.exited() {
			continue
		}
		lp.LogClusterEvent(fmt.Sprintf("stopping %s (pid %d)", handle.name, handle.pid()), log.InfoLevel)
		handle.terminate(s.config.ShutdownGracePeriod)
	}

	// Safety net against children the playground re-parented away from us.
	// Handle-based termination above remains the primary path.
	if s.sweepAllowed() {
		numSwept := sweepOrphanedProcesses(s.config.SweepPatterns)
		if numSwept > 0 {
			lp.LogClusterEvent(fmt.Sprintf("orphan sweep removed %d process(es)", numSwept), log.WarnLevel)
		}
	}

	lp.LogClusterEvent("cluster stopped", log.InfoLevel)

}

// sweepAllowed gates the orphan sweep to playground mode: the sweep patterns
// cover tikv-server and pd-server, which in stack and external modes belong
// to infrastructure the harness never spawned.
func (s *Supervisor) sweepAllowed() bool {

	return s.config.SweepEnabled && s.config.Mode == client.ModePlayground

}

type processHandle struct {
	name    string
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

func startProcess(name string, logPath string, cmd *exec.Cmd) (*processHandle, error) {

	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("unable to create log file for %s: %w", name, err)
	}

	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("unable to start %s: %w", name, err)
	}

	handle := &processHandle{
		name: name,
		cmd:  cmd,
		done: make(chan struct{}),
	}

	go func() {
		handle.waitErr = cmd.Wait()
		logFile.Close()
		close(handle.done)
	}()

	return handle, nil

}

func (h *processHandle) pid() int {

	return h.cmd.Process.Pid

}

func (h *processHandle) exited() bool {

	select {
	case <-h.done:
		return true
	default:
		return false
	}

}

func (h *processHandle) exitError() error {

	return h.waitErr

}

func (h *processHandle) terminate(gracePeriod time.Duration) {

	if h.exited() {
		return
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		lp.LogClusterEvent(fmt.Sprintf("unable to signal %s: %v", h.name, err), log.WarnLevel)
	}

	select {
	case <-h.done:
		return
	case <-time.After(gracePeriod):
		lp.LogClusterEvent(fmt.Sprintf("%s did not exit within %v -- killing", h.name, gracePeriod), log.WarnLevel)
		if err := h.cmd.Process.Kill(); err != nil {
			lp.LogClusterEvent(fmt.Sprintf("unable to kill %s: %v", h.name, err), log.WarnLevel)
			return
		}
		<-h.done
	}

}
