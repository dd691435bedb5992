package cluster

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// The playground announces its placement driver in one of two phrasings
// depending on version, hence the alternation.
var pdEndpointPattern = regexp.MustCompile(`(?:PD Endpoints:|PD client).*?127\.0\.0\.1:(\d+)`)

const logTailBytes = 2000

// discoverEndpointFromLog polls the given log file for the placement driver
// endpoint until it appears or the timeout elapses. The file not existing yet
// is a normal condition early on -- the playground creates it asynchronously.
func discoverEndpointFromLog(logPath string, timeout time.Duration, pollInterval time.Duration, progressNoticeAfterPolls int) (int, error) {

	deadline := time.Now().Add(timeout)

	for numPolls := 0; ; numPolls++ {
		if contents, err := os.ReadFile(logPath); err == nil {
			if match := pdEndpointPattern.FindSubmatch(contents); match != nil {
				port, err := strconv.Atoi(string(match[1]))
				if err != nil {
					return 0, fmt.Errorf("endpoint pattern matched, but port was not numeric: %w", err)
				}
				return port, nil
			}
		}

		if time.Now().After(deadline) {
			return 0, fmt.Errorf("no placement driver endpoint appeared in '%s' within %v\nlog tail:\n%s",
				logPath, timeout, logTail(logPath, logTailBytes))
		}

		if numPolls > 0 && numPolls%progressNoticeAfterPolls == 0 {
			lp.LogClusterEvent(fmt.Sprintf("still waiting for placement driver to start... (%d polls, timeout %v)", numPolls, timeout), log.InfoLevel)
		}

		time.Sleep(pollInterval)
	}

}

// waitForPort attempts one raw tcp connect per poll interval until the given
// port accepts a connection or the timeout elapses. Any successful connect
// counts as ready.
func waitForPort(host string, port int, timeout time.Duration, pollInterval time.Duration) error {

	address := net.JoinHostPort(host, strconv.Itoa(port))
	deadline := time.Now().Add(timeout)

	for {
		if conn, err := net.DialTimeout("tcp", address, pollInterval); err == nil {
			conn.Close()
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("port %s did not become reachable within %v", address, timeout)
		}

		time.Sleep(pollInterval)
	}

}

func logTail(logPath string, numBytes int) string {

	contents, err := os.ReadFile(logPath)
	if err != nil {
		return fmt.Sprintf("<unable to read log file '%s': %v>", logPath, err)
	}

	if len(contents) > numBytes {
		contents = contents[len(contents)-numBytes:]
	}

	return string(contents)

}
