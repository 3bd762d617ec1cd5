package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/blockforge/compiler/internal/authtoken"
	"github.com/blockforge/compiler/internal/config"
	"github.com/blockforge/compiler/internal/orchestrator"
	"github.com/blockforge/compiler/internal/queue"
)

// compileJobPayload is the decoded body of a /compile submission, carried
// through the queue as a job's Payload.
type compileJobPayload struct {
	Configuration config.Configuration `json:"configuration"`
}

// makeJobHandler adapts the orchestrator to queue.Handler: a job's kind is
// always "compile" in this service, its payload a compileJobPayload.
func makeJobHandler(orch *orchestrator.Orchestrator) queue.Handler {
	return func(ctx context.Context, kind string, payload interface{}) (interface{}, error) {
		job, ok := payload.(compileJobPayload)
		if !ok {
			b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(payload)
			if err != nil {
				return nil, err
			}
			if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(b, &job); err != nil {
				return nil, err
			}
		}
		return orch.Compile(ctx, job.Configuration, nil)
	}
}

func httpCompileHandler(q *queue.Queue, verifier *authtoken.Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !authorize(r, verifier) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req compileJobPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := config.Validate(req.Configuration); err != nil {
			http.Error(w, "invalid configuration: "+err.Error(), http.StatusBadRequest)
			return
		}

		priority := queue.Normal
		switch r.URL.Query().Get("priority") {
		case "high":
			priority = queue.High
		case "low":
			priority = queue.Low
		}

		id := q.Submit("compile", req, priority)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"request_id": id})
	}
}

func httpJobStatusHandler(q *queue.Queue, verifier *authtoken.Verifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorize(r, verifier) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/jobs/")
		if id == "" {
			http.Error(w, "missing job id", http.StatusBadRequest)
			return
		}
		job, ok := q.Poll(id)
		if !ok {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(job)
	}
}
