package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store persists the final artifacts of a job outside the local data root.
type Store interface {
	Put(ctx context.Context, jobID, name string, content []byte) error
	Get(ctx context.Context, jobID, name string) ([]byte, error)
	GetURL(ctx context.Context, jobID, name string) (string, error)
	List(ctx context.Context, jobID string) ([]string, error)
	// Delete removes every object of the job.
	Delete(ctx context.Context, jobID string) error
}

var ErrNotFound = errors.New("artifact not found")

func checkKey(jobID, name string) (string, string, error) {
	jobID = strings.TrimSpace(jobID)
	name = strings.TrimSpace(name)
	if jobID == "" {
		return "", "", fmt.Errorf("job_id is required")
	}
	if name == "" {
		return "", "", fmt.Errorf("name is required")
	}
	return jobID, strings.TrimLeft(name, "/"), nil
}

func objectKey(jobID, name string) string {
	return strings.TrimSpace(jobID) + "/" + strings.TrimLeft(strings.TrimSpace(name), "/")
}
