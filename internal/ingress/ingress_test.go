package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/orchestrator"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/persistence"
)

type fakeRecords struct {
	mu      sync.Mutex
	created []persistence.RecordKey
	err     error
}

func (f *fakeRecords) CreateRecord(ctx context.Context, key persistence.RecordKey, userID, documentURL string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, key)
	return nil
}

type fakeRunner struct {
	mu      sync.Mutex
	runs    []orchestrator.Input
	block   chan struct{}
	started chan struct{}
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, in orchestrator.Input) error {
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.runs = append(f.runs, in)
	f.mu.Unlock()
	return f.err
}

func s3Event(bucket, key string) []byte {
	raw, _ := json.Marshal(map[string]any{
		"Records": []map[string]any{
			{
				"eventSource": "aws:s3",
				"s3": map[string]any{
					"bucket": map[string]any{"name": bucket},
					"object": map[string]any{"key": key},
				},
			},
		},
	})
	return raw
}

func TestHandleEventDerivesIdentifiersFromS3Key(t *testing.T) {
	records := &fakeRecords{}
	runner := &fakeRunner{}
	a := New(records, runner)

	err := a.HandleEvent(context.Background(), s3Event("my-bucket", "user-1/child-1/iep-123/scan.pdf"))
	require.NoError(t, err)

	require.Len(t, runner.runs, 1)
	in := runner.runs[0]
	require.Equal(t, "iep-123", in.IepID)
	require.Equal(t, "child-1", in.ChildID)
	require.Equal(t, "user-1", in.UserID)
	require.Equal(t, "my-bucket", in.Bucket)
	require.Equal(t, "user-1/child-1/iep-123/scan.pdf", in.Key)
}

func TestHandleEventURLDecodesKeyWithPlusAndPercentEncoding(t *testing.T) {
	records := &fakeRecords{}
	runner := &fakeRunner{}
	a := New(records, runner)

	err := a.HandleEvent(context.Background(), s3Event("my-bucket", "user+1/child-1/iep-123/my%20scan.pdf"))
	require.NoError(t, err)

	require.Len(t, runner.runs, 1)
	require.Equal(t, "user 1", runner.runs[0].UserID)
	require.Equal(t, "user 1/child-1/iep-123/my scan.pdf", runner.runs[0].Key)
}

func TestHandleEventRejectsKeyWithTooFewPathSegments(t *testing.T) {
	records := &fakeRecords{}
	runner := &fakeRunner{}
	a := New(records, runner)

	err := a.HandleEvent(context.Background(), s3Event("my-bucket", "onlyonesegment.pdf"))
	require.Error(t, err)
	require.Empty(t, runner.runs)
}

func TestHandleEventAcceptsDirectInvocationPayload(t *testing.T) {
	records := &fakeRecords{}
	runner := &fakeRunner{}
	a := New(records, runner)

	raw, err := json.Marshal(map[string]string{
		"iep_id": "iep-9", "user_id": "user-9", "child_id": "child-9",
		"s3_bucket": "bucket", "s3_key": "user-9/child-9/iep-9/doc.pdf",
	})
	require.NoError(t, err)

	require.NoError(t, a.HandleEvent(context.Background(), raw))
	require.Len(t, runner.runs, 1)
	require.Equal(t, "iep-9", runner.runs[0].IepID)
}

func TestHandleEventRejectsUnrecognizedPayload(t *testing.T) {
	a := New(&fakeRecords{}, &fakeRunner{})
	err := a.HandleEvent(context.Background(), []byte(`{"foo":"bar"}`))
	require.Error(t, err)
}

func TestHandleEventPropagatesCreateRecordFailure(t *testing.T) {
	records := &fakeRecords{err: errors.New("ddb unavailable")}
	runner := &fakeRunner{}
	a := New(records, runner)

	err := a.HandleEvent(context.Background(), s3Event("bucket", "user-1/child-1/iep-1/doc.pdf"))
	require.Error(t, err)
	require.Empty(t, runner.runs)
}

func TestHandleEventDropsConcurrentDuplicateForSameDocument(t *testing.T) {
	records := &fakeRecords{}
	block := make(chan struct{})
	started := make(chan struct{})
	runner := &fakeRunner{block: block, started: started}
	a := New(records, runner)

	event := s3Event("bucket", "user-1/child-1/iep-dup/doc.pdf")

	firstDone := make(chan error, 1)
	go func() { firstDone <- a.HandleEvent(context.Background(), event) }()
	<-started

	require.NoError(t, a.HandleEvent(context.Background(), event))

	close(block)
	require.NoError(t, <-firstDone)

	require.Len(t, runner.runs, 1)
}
