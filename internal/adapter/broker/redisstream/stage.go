// Package redisstream implements the pipeline's durable message-passing
// protocol: a Redis Stream per stage for routing, a sidecar hash per job for
// the payload, consumer groups with explicit acknowledgement, ghost-job
// cleanup and pending-message recovery.
package redisstream

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stage describes one hop of the pipeline: its stream, envelope namespace,
// consumer group, concurrency limit and envelope TTLs.
type Stage struct {
	Name       string
	Stream     string
	HashPrefix string
	Group      string
	JobLimit   int64
	// CreateTTL is applied when the envelope is first written, FinalTTL when
	// a terminal status is recorded. The values differ per stage and are kept
	// as the production system set them.
	CreateTTL time.Duration
	FinalTTL  time.Duration
}

var (
	StageL1 = Stage{
		Name:       "L1",
		Stream:     "stream:data-prep-agents",
		HashPrefix: "data-prep-msg",
		Group:      "L1-workers",
		JobLimit:   2,
		CreateTTL:  87000 * time.Second,
		FinalTTL:   86400 * time.Second,
	}
	StageL2 = Stage{
		Name:       "L2",
		Stream:     "stream:indexing-workers",
		HashPrefix: "indexing-workers-msg",
		Group:      "L2-workers",
		JobLimit:   4,
		CreateTTL:  86400 * time.Second,
		FinalTTL:   43200 * time.Second,
	}
	StageL3 = Stage{
		Name:       "L3",
		Stream:     "stream:status-sync-worker",
		HashPrefix: "status-sync-worker-msg",
		Group:      "L3-workers",
		JobLimit:   1,
		CreateTTL:  43200 * time.Second,
		FinalTTL:   86400 * time.Second,
	}
)

// EnvelopeKey returns the hash key for a job id at this stage.
func (s Stage) EnvelopeKey(jobID string) string {
	return fmt.Sprintf("%s:%s", s.HashPrefix, jobID)
}

// ConsumerName builds a unique consumer identity: {host}-{8 hex of uuid}.
func ConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}
