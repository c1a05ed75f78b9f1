// Package ocr adapts an external OCR provider into page-indexed text for
// a document, via the three-step handshake spec.md §4.2 describes:
// upload raw bytes, obtain a signed URL, submit an OCR job against it,
// then retrieve the JSON result. Grounded on the teacher's
// internal/extractor.OllamaExtractor: a thin provider-client wrapper
// with an Available/Extract shape, generalized here from a single
// synchronous call to the upload/sign/submit/fetch handshake an
// external OCR API requires.
package ocr

import (
	"context"
	"fmt"
	"net/url"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

// MistralOCRClient is the abstract external OCR provider. Production
// wiring talks to Mistral's document OCR API; tests supply a fake.
type MistralOCRClient interface {
	// Upload sends the raw document bytes and returns a provider-side
	// file handle (an opaque id the provider uses for the next steps).
	Upload(ctx context.Context, filename string, content []byte) (fileID string, err error)
	// SignedURL exchanges a file handle for a short-lived signed URL
	// the OCR job submission step reads from.
	SignedURL(ctx context.Context, fileID string) (string, error)
	// Submit starts an OCR job against a signed URL and returns the
	// page-indexed OCR result once the provider finishes processing.
	Submit(ctx context.Context, signedURL string) (*types.OCRResult, error)
}

// BlobFetcher retrieves the raw uploaded document bytes ahead of the OCR
// handshake. Kept distinct from persistence.BlobStore so this package
// does not need to import persistence for its one read.
type BlobFetcher interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// Adapter drives the upload -> signed URL -> submit -> result handshake
// against a MistralOCRClient.
type Adapter struct {
	client MistralOCRClient
	blobs  BlobFetcher
}

// New constructs an Adapter.
func New(client MistralOCRClient, blobs BlobFetcher) *Adapter {
	return &Adapter{client: client, blobs: blobs}
}

// Process runs OCR over the document at (bucket, key) and returns the
// page-indexed result. Keys that come from a URL-encoded upload-event
// envelope are retried with an alternate decoding when the first fetch
// fails, for any error the BlobFetcher returns.
func (a *Adapter) Process(ctx context.Context, bucket, key string) (*types.OCRResult, error) {
	content, fetchKey, err := a.fetchWithAlternateDecoding(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("ocr: fetch source document: %w", err)
	}

	fileID, err := a.client.Upload(ctx, fetchKey, content)
	if err != nil {
		return nil, fmt.Errorf("ocr: upload: %w", err)
	}

	signedURL, err := a.client.SignedURL(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("ocr: obtain signed url: %w", err)
	}

	result, err := a.client.Submit(ctx, signedURL)
	if err != nil {
		return nil, fmt.Errorf("ocr: submit job: %w", err)
	}
	return result, nil
}

// fetchWithAlternateDecoding tries key as given, then (if that fetch
// returns any error) its URL-decoded and URL-encoded forms in turn,
// returning the last error if none succeeds, since upload-event
// envelopes deliver keys with inconsistent percent-encoding across
// providers.
func (a *Adapter) fetchWithAlternateDecoding(ctx context.Context, bucket, key string) ([]byte, string, error) {
	candidates := []string{key}
	if decoded, err := url.QueryUnescape(key); err == nil && decoded != key {
		candidates = append(candidates, decoded)
	}
	if encoded := url.QueryEscape(key); encoded != key {
		candidates = append(candidates, encoded)
	}

	var lastErr error
	for _, candidate := range candidates {
		content, err := a.blobs.Get(ctx, bucket, candidate)
		if err == nil {
			return content, candidate, nil
		}
		lastErr = err
	}
	return nil, "", lastErr
}
