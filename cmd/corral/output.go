package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/corralhq/corral/pkg/types"
)

// APIVersion of the JSON response envelope
const APIVersion = "1.0"

// Envelope is the JSON shape of every CLI response, success or error
type Envelope struct {
	APIVersion string    `json:"api_version"`
	RequestID  string    `json:"request_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	Status     EnvStatus `json:"status"`
	Data       any       `json:"data,omitempty"`
	Metadata   Metadata  `json:"metadata"`
}

// EnvStatus carries the outcome: code is "success" or "error"
type EnvStatus struct {
	Code      string `json:"code"`
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Metadata carries per-invocation bookkeeping
type Metadata struct {
	ExecutionTimeMS int64  `json:"execution_time_ms"`
	AgentID         string `json:"agent_id,omitempty"`
	Operation       string `json:"operation"`
}

// emitter renders one response in the selected output format
type emitter struct {
	json    bool
	agentID string
	traceID string
	start   time.Time
}

func newEmitter(asJSON bool, agentID, traceID string) *emitter {
	return &emitter{
		json:    asJSON,
		agentID: agentID,
		traceID: traceID,
		start:   time.Now(),
	}
}

// emit writes the response. In text mode successes print the one-line
// summary to stdout and errors print "ERROR: KIND: message" to stderr;
// in JSON mode both print the envelope to stdout.
func (e *emitter) emit(operation string, data any, text string, err error) {
	if !e.json {
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %s: %s\n", types.KindOf(err), errorMessage(err))
			return
		}
		if text != "" {
			fmt.Println(text)
		}
		return
	}

	env := Envelope{
		APIVersion: APIVersion,
		RequestID:  uuid.NewString(),
		TraceID:    e.traceID,
		Status:     EnvStatus{Code: "success"},
		Data:       data,
		Metadata: Metadata{
			ExecutionTimeMS: time.Since(e.start).Milliseconds(),
			AgentID:         e.agentID,
			Operation:       operation,
		},
	}
	if err != nil {
		env.Status = EnvStatus{
			Code:      "error",
			ErrorKind: string(types.KindOf(err)),
			Message:   errorMessage(err),
		}
		env.Data = nil
	}

	out, merr := json.MarshalIndent(&env, "", "  ")
	if merr != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s: encoding response: %v\n", types.ErrIO, merr)
		return
	}
	fmt.Println(string(out))
}

// errorMessage strips the kind prefix our error type renders, so the
// kind appears once in the output
func errorMessage(err error) string {
	var cerr *types.Error
	if errors.As(err, &cerr) {
		if cerr.Err != nil {
			return fmt.Sprintf("%s: %v", cerr.Message, cerr.Err)
		}
		return cerr.Message
	}
	return err.Error()
}

// exitCode maps error kinds to process exit codes so shell callers can
// branch without parsing output
func exitCode(err error) int {
	switch types.KindOf(err) {
	case types.ErrInvalidArg:
		return 2
	case types.ErrBusy, types.ErrTimeout:
		return 3
	case types.ErrConflict, types.ErrStateConflict:
		return 4
	case types.ErrNotFound:
		return 5
	case types.ErrCapacityExceeded:
		return 6
	default:
		return 1
	}
}
