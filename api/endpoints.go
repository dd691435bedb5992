// Package api exposes a small observation surface for a run in flight:
// liveness, readiness (up once the cluster is running), and a status
// snapshot with per-unit outcomes gathered so far.
package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"pgtikvtest/status"
)

const methodGet = "GET"

type liveness struct {
	Up bool
}
type readiness struct {
	Up bool
}

var (
	l        *liveness
	r        *readiness
	gatherer *status.Gatherer
	mutex    sync.Mutex
)

func init() {

	l = &liveness{true}
	r = &readiness{false}

}

func Expose(g *status.Gatherer) {

	gatherer = g

	go func() {
		server := &http.Server{
			Addr: ":8080",
		}
		http.HandleFunc("/liveness", livenessHandler)
		http.HandleFunc("/readiness", readinessHandler)
		http.HandleFunc("/status", statusHandler)
		server.ListenAndServe()
	}()

}

func Ready() {

	mutex.Lock()
	{
		r.Up = true
	}
	mutex.Unlock()

}

func livenessHandler(w http.ResponseWriter, req *http.Request) {

	switch req.Method {
	case methodGet:
		bytes, _ := json.Marshal(l)
		w.Write(bytes)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}

}

func readinessHandler(w http.ResponseWriter, req *http.Request) {

	switch req.Method {
	case methodGet:
		if r.Up {
			bytes, _ := json.Marshal(r)
			w.Write(bytes)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}

}

func statusHandler(w http.ResponseWriter, req *http.Request) {

	switch req.Method {
	case methodGet:
		if gatherer == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		bytes, _ := json.Marshal(gatherer.AssembleStatusCopy())
		w.Write(bytes)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}

}
