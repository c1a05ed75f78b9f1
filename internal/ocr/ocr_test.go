package ocr

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

type fakeBlobs struct {
	objects map[string][]byte
}

func (f *fakeBlobs) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	v, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("not found")
	}
	return v, nil
}

type fakeClient struct {
	uploaded  []byte
	result    *types.OCRResult
	submitErr error
}

func (f *fakeClient) Upload(ctx context.Context, filename string, content []byte) (string, error) {
	f.uploaded = content
	return "file-1", nil
}

func (f *fakeClient) SignedURL(ctx context.Context, fileID string) (string, error) {
	return "https://ocr.example/signed/" + fileID, nil
}

func (f *fakeClient) Submit(ctx context.Context, signedURL string) (*types.OCRResult, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.result, nil
}

func TestAdapterProcessHappyPath(t *testing.T) {
	want := &types.OCRResult{Pages: []types.OCRPage{{Index: 0, Content: "page one"}}}
	client := &fakeClient{result: want}
	blobs := &fakeBlobs{objects: map[string][]byte{"bucket/uploads/doc.pdf": []byte("raw bytes")}}

	adapter := New(client, blobs)
	got, err := adapter.Process(context.Background(), "bucket", "uploads/doc.pdf")
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, []byte("raw bytes"), client.uploaded)
}

func TestAdapterProcessRetriesWithAlternateKeyDecoding(t *testing.T) {
	rawKey := "uploads/my file (1).pdf"
	encodedKey := url.QueryEscape(rawKey)

	want := &types.OCRResult{Pages: []types.OCRPage{{Index: 0, Content: "decoded"}}}
	client := &fakeClient{result: want}
	// Only the decoded form of the key exists in the blob store, but the
	// event envelope handed us the encoded form.
	blobs := &fakeBlobs{objects: map[string][]byte{"bucket/" + rawKey: []byte("raw")}}

	adapter := New(client, blobs)
	got, err := adapter.Process(context.Background(), "bucket", encodedKey)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestAdapterProcessReturnsErrorWhenKeyNeverFound(t *testing.T) {
	client := &fakeClient{}
	blobs := &fakeBlobs{objects: map[string][]byte{}}

	adapter := New(client, blobs)
	_, err := adapter.Process(context.Background(), "bucket", "missing.pdf")
	require.Error(t, err)
}

func TestAdapterProcessPropagatesSubmitFailureAsFatal(t *testing.T) {
	client := &fakeClient{submitErr: errors.New("upstream 500")}
	blobs := &fakeBlobs{objects: map[string][]byte{"bucket/doc.pdf": []byte("raw")}}

	adapter := New(client, blobs)
	_, err := adapter.Process(context.Background(), "bucket", "doc.pdf")
	require.Error(t, err)
}
