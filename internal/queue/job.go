// Package queue defines the ingestion job wire format shared by the
// publisher and the worker.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedJob marks a message that can never be processed. Consumers
// drop such messages instead of requeueing them.
var ErrMalformedJob = errors.New("malformed ingestion job")

// Job is one document to ingest.
type Job struct {
	ProjectID    string `json:"project_id"`
	FileID       string `json:"file_id"`
	Filename     string `json:"filename"`
	BlobLocation string `json:"blob_location"`
}

// DecodeJob parses and validates a queue message body.
func DecodeJob(body []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

func (j Job) Validate() error {
	switch {
	case j.ProjectID == "":
		return fmt.Errorf("%w: missing project_id", ErrMalformedJob)
	case j.FileID == "":
		return fmt.Errorf("%w: missing file_id", ErrMalformedJob)
	case j.Filename == "":
		return fmt.Errorf("%w: missing filename", ErrMalformedJob)
	case j.BlobLocation == "":
		return fmt.Errorf("%w: missing blob_location", ErrMalformedJob)
	}
	return nil
}

// Encode serializes the job for publishing.
func (j Job) Encode() ([]byte, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(j)
}
