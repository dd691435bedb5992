package cluster

import (
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

// sweepOrphanedProcesses walks the process table and terminates every process
// whose command line contains one of the given patterns. This exists purely
// as a safety net for children that escaped handle-based shutdown; the
// patterns must stay specific enough not to hit unrelated processes.
func sweepOrphanedProcesses(patterns []string) int {

	processes, err := process.Processes()
	if err != nil {
		lp.LogClusterEvent(fmt.Sprintf("unable to read process table for orphan sweep: %v", err), log.WarnLevel)
		return 0
	}

	ownPid := int32(os.Getpid())
	numSwept := 0

	for _, p := range processes {
		if p.Pid == ownPid {
			// The harness's own command line carries the server binary path.
			continue
		}

		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			continue
		}

		if !matchesAnyPattern(cmdline, patterns) {
			continue
		}

		lp.LogClusterEvent(fmt.Sprintf("orphan sweep terminating pid %d: %s", p.Pid, cmdline), log.DebugLevel)

		if err := p.Terminate(); err != nil {
			lp.LogClusterEvent(fmt.Sprintf("unable to terminate orphaned process %d: %v", p.Pid, err), log.WarnLevel)
			continue
		}
		numSwept++
	}

	return numSwept

}

func matchesAnyPattern(cmdline string, patterns []string) bool {

	for _, pattern := range patterns {
		if strings.Contains(cmdline, pattern) {
			return true
		}
	}

	return false

}
