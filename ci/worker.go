// Package ci talks to the CI master: the registered worker list, the
// build queue, and the node create/delete API that binds cloud instances
// into the fleet.
package ci

import (
	"fmt"
	"regexp"
)

// Workers are named after the instance they run on. The display name is a
// wire contract with the CI master: it is the only place the worker's IP
// is stored, so both sides must produce and parse it identically.
const workerNamePrefix = "worker - "

var ipPattern = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`)

// Worker is one registered CI node.
type Worker struct {
	Name string
	Idle bool
}

// IP extracts the dotted-quad embedded in the worker's display name. A
// name with no embedded IP is a hard error, not a silent skip: one
// malformed entry likely signals a larger integration problem.
func (w Worker) IP() (string, error) {
	ip := ipPattern.FindString(w.Name)
	if ip == "" {
		return "", fmt.Errorf("worker name '%s' does not embed an IP address", w.Name)
	}
	return ip, nil
}

// WorkerName returns the canonical display name for a worker at ip.
func WorkerName(ip string) string {
	return workerNamePrefix + ip
}
