// Package busaudit implements bus.AuditSink on top of S3: one JSON
// object per connect/auth-failure/disconnect event, never a message
// payload.
package busaudit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// event is the JSON shape written for every audit record.
type event struct {
	Kind      string `json:"kind"`
	UUID      string `json:"uuid"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// S3Sink is an AuditSink that writes one object per event under
// prefix/kind/timestamp-uuid.json. It never buffers or batches: each
// call is a single PutObject, matching the audit trail's append-only,
// tamper-evident intent rather than the throughput needs of a queue.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Sink creates an S3Sink writing into bucket under prefix.
func NewS3Sink(client *s3.Client, bucket, prefix string) *S3Sink {
	return &S3Sink{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: slog.Default().With("component", "busaudit"),
	}
}

// put writes e to S3 on its own goroutine. The session goroutine that
// called RecordConnect/etc. must not block on S3 latency, so put
// deliberately detaches from the caller's context: audit events are
// best-effort, not a durable queue (spec Non-goals), and a failed
// write is logged rather than retried.
func (s *S3Sink) put(e event) {
	raw, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("marshal audit event failed", "error", err)
		return
	}

	key := fmt.Sprintf("%s%s/%s-%s.json", s.prefix, e.Kind, e.Timestamp, uuid.NewString())

	go func() {
		putCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := s.client.PutObject(putCtx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(raw),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			s.logger.Error("audit put failed", "kind", e.Kind, "uuid", e.UUID, "error", err)
		}
	}()
}

func (s *S3Sink) RecordConnect(_ context.Context, uuid string) {
	s.put(event{Kind: "connect", UUID: uuid, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)})
}

func (s *S3Sink) RecordAuthFailure(_ context.Context, uuid, reason string) {
	s.put(event{Kind: "auth_failure", UUID: uuid, Reason: reason, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)})
}

func (s *S3Sink) RecordDisconnect(_ context.Context, uuid string) {
	s.put(event{Kind: "disconnect", UUID: uuid, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)})
}
