// Package tracesink persists completed task responses for post-hoc review.
// Sinks are best-effort by contract: the orchestrator logs a failed save and
// finishes the request anyway.
package tracesink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"github.com/castellan-ai/castellan"
)

// FileSink writes one JSON file per request under a base directory, named
// <request_id>.json. Writes go through a temp file and rename so a crashed
// write never leaves a half-written trace behind.
type FileSink struct {
	dir string
}

// NewFileSink creates the base directory if needed and returns the sink.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, errbuilder.GenericErr("trace directory is required", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errbuilder.GenericErr(fmt.Sprintf("failed to create trace directory %q", dir), err)
	}
	return &FileSink{dir: dir}, nil
}

// Save implements castellan.TraceSink.
func (s *FileSink) Save(ctx context.Context, response *castellan.TaskResponse) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}
	if response == nil || response.RequestID == "" {
		return errbuilder.GenericErr("response must carry a request_id", nil)
	}

	serialized, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return errbuilder.GenericErr("failed to serialize task response", err)
	}

	final := filepath.Join(s.dir, response.RequestID+".json")
	tmp, err := os.CreateTemp(s.dir, response.RequestID+".*.tmp")
	if err != nil {
		return errbuilder.GenericErr("failed to create temp trace file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(serialized); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errbuilder.GenericErr("failed to write trace file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errbuilder.GenericErr("failed to close trace file", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return errbuilder.GenericErr("failed to finalize trace file", err)
	}
	return nil
}

// Load reads a stored response back by request ID.
func (s *FileSink) Load(ctx context.Context, requestID string) (*castellan.TaskResponse, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.dir, requestID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("trace not found", err))
		}
		return nil, errbuilder.GenericErr("failed to read trace file", err)
	}

	var response castellan.TaskResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, errbuilder.GenericErr("stored trace is not valid JSON", err)
	}
	return &response, nil
}
