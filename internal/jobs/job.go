package jobs

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job is one unit of queued work. ID is the deduplication key: enqueuing a
// job whose ID is already pending replaces it.
type Job struct {
	ID    string          `json:"id"`
	Type  string          `json:"type"`
	Queue string          `json:"queue"`
	Args  json.RawMessage `json:"args,omitempty"`
	RunAt time.Time       `json:"runAt"`
	// Once jobs refuse re-enqueue of their id for a while after completing.
	Once      bool   `json:"once,omitempty"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"lastError,omitempty"`
}

func NewJob(id, jobType, queue string, args any, runAt time.Time) (Job, error) {
	if id == "" || jobType == "" || queue == "" {
		return Job{}, fmt.Errorf("job id, type and queue are required")
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return Job{}, fmt.Errorf("encode %s args: %w", jobType, err)
	}
	return Job{ID: id, Type: jobType, Queue: queue, Args: raw, RunAt: runAt}, nil
}

func (j Job) Decode(v any) error {
	if len(j.Args) == 0 {
		return fmt.Errorf("job %s has no args", j.ID)
	}
	if err := json.Unmarshal(j.Args, v); err != nil {
		return fmt.Errorf("decode %s args: %w", j.Type, err)
	}
	return nil
}
