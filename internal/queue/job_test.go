package queue

import (
	"errors"
	"testing"
)

func TestDecodeJobValid(t *testing.T) {
	body := []byte(`{"project_id":"p1","file_id":"f1","filename":"doc.pdf","blob_location":"documents/f1"}`)

	job, err := DecodeJob(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.ProjectID != "p1" || job.FileID != "f1" || job.Filename != "doc.pdf" || job.BlobLocation != "documents/f1" {
		t.Errorf("unexpected job: %+v", job)
	}
}

func TestDecodeJobInvalidJSON(t *testing.T) {
	_, err := DecodeJob([]byte(`{not json`))
	if !errors.Is(err, ErrMalformedJob) {
		t.Fatalf("expected ErrMalformedJob, got %v", err)
	}
}

func TestDecodeJobMissingFields(t *testing.T) {
	cases := map[string]string{
		"no project": `{"file_id":"f1","filename":"a.pdf","blob_location":"b"}`,
		"no file":    `{"project_id":"p1","filename":"a.pdf","blob_location":"b"}`,
		"no name":    `{"project_id":"p1","file_id":"f1","blob_location":"b"}`,
		"no blob":    `{"project_id":"p1","file_id":"f1","filename":"a.pdf"}`,
		"empty":      `{}`,
	}

	for name, body := range cases {
		if _, err := DecodeJob([]byte(body)); !errors.Is(err, ErrMalformedJob) {
			t.Errorf("%s: expected ErrMalformedJob, got %v", name, err)
		}
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	job := Job{ProjectID: "p1", FileID: "f1", Filename: "doc.pdf", BlobLocation: "documents/f1"}

	body, err := job.Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	decoded, err := DecodeJob(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded != job {
		t.Errorf("round trip changed job: %+v != %+v", decoded, job)
	}
}

func TestEncodeRejectsIncompleteJob(t *testing.T) {
	if _, err := (Job{FileID: "f1"}).Encode(); !errors.Is(err, ErrMalformedJob) {
		t.Fatalf("expected ErrMalformedJob, got %v", err)
	}
}
