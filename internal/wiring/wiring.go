// Package wiring constructs the pipeline's collaborators from
// configuration, shared by the worker and ingress entrypoints so
// neither binary repeats the other's provider/store construction.
package wiring

import (
	"context"
	"fmt"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/config"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/extract"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/ingress"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/llm"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/meetingnotes"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/missinginfo"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/ocr"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/orchestrator"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/persistence"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/redact"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/secrets"
	"github.com/The-Burnes-Center/ai-iep-sub000/internal/translate"
)

// Pipeline holds every constructed collaborator a cmd/ entrypoint
// needs: the Persistence Service directly (for record reads the CLI
// exposes), the Orchestrator, and the Ingress Adapter.
type Pipeline struct {
	Persistence  *persistence.Service
	Orchestrator *orchestrator.Orchestrator
	Ingress      *ingress.Adapter
}

// Build reads config.Initialize's already-loaded settings and
// constructs every collaborator. Call config.Initialize before Build.
func Build(ctx context.Context) (*Pipeline, error) {
	svc, err := buildPersistence(ctx)
	if err != nil {
		return nil, fmt.Errorf("wiring: persistence: %w", err)
	}

	resolver, err := secrets.NewResolver(ctx)
	if err != nil {
		return nil, fmt.Errorf("wiring: secrets resolver: %w", err)
	}

	anthropicKey, err := resolver.Resolve(ctx, config.GetString("anthropic-api-key"), config.GetString("anthropic-api-key-parameter"))
	if err != nil {
		return nil, fmt.Errorf("wiring: resolve anthropic api key: %w", err)
	}
	llmClient, err := llm.NewClient(anthropicKey)
	if err != nil {
		return nil, fmt.Errorf("wiring: llm client: %w", err)
	}

	mistralKey, err := resolver.Resolve(ctx, config.GetString("mistral-api-key"), config.GetString("mistral-api-key-parameter"))
	if err != nil {
		return nil, fmt.Errorf("wiring: resolve mistral api key: %w", err)
	}
	ocrAdapter := ocr.New(ocr.NewMistralClient(mistralKey), svc.Blobs)

	detector, err := redact.NewComprehendDetector(ctx)
	if err != nil {
		return nil, fmt.Errorf("wiring: comprehend detector: %w", err)
	}
	redactor := redact.New(detector, config.GetStringSlice("allowed-pii-entity-types"))

	extractor := extract.New(llmClient, config.GetInt("extractor-max-tool-turns"))
	notesExtractor := meetingnotes.New(llmClient)
	infoReviewer := missinginfo.New(llmClient)
	translator := translate.New(llmClient, translate.EmbeddedGlossary{}, translate.EmbeddedGlossary{})

	orch := orchestrator.New(orchestrator.Deps{
		Persistence:  svc,
		OCR:          ocrAdapter,
		Redactor:     redactor,
		Extractor:    extractor,
		MeetingNotes: notesExtractor,
		MissingInfo:  infoReviewer,
		Translator:   translator,
		StepTimeout:  config.GetDuration("step-timeout"),
		MaxRetries:   config.GetInt("step-max-retries"),
	})

	in := ingress.New(svc, orch)

	return &Pipeline{Persistence: svc, Orchestrator: orch, Ingress: in}, nil
}

func buildPersistence(ctx context.Context) (*persistence.Service, error) {
	bucket := config.GetString("bucket")

	var metadata persistence.MetadataStore
	var blobs persistence.BlobStore
	var err error

	switch config.GetString("backend") {
	case "dynamodb":
		metadata, err = persistence.NewDynamoDBStore(ctx, config.GetString("documents-table"))
		if err != nil {
			return nil, fmt.Errorf("dynamodb store: %w", err)
		}
		blobs, err = persistence.NewS3BlobStore(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 blob store: %w", err)
		}
	default:
		metadata, err = persistence.NewSQLiteStore(ctx, config.GetString("sqlite-path"))
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		blobs, err = persistence.NewLocalBlobStore(config.GetString("local-blob-dir"))
		if err != nil {
			return nil, fmt.Errorf("local blob store: %w", err)
		}
	}

	profiles, err := buildProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("user profile store: %w", err)
	}

	return persistence.New(metadata, blobs, profiles, bucket), nil
}

// buildProfiles mirrors buildPersistence's backend switch: the dynamodb
// backend reads real preferences from the user-profiles table, while
// the local sqlite backend has no such table and always sees defaults.
func buildProfiles(ctx context.Context) (persistence.UserProfileStore, error) {
	if config.GetString("backend") != "dynamodb" {
		return persistence.StaticUserProfileStore{}, nil
	}
	store, err := persistence.NewDynamoDBUserProfileStore(ctx, config.GetString("user-profiles-table"))
	if err != nil {
		return nil, fmt.Errorf("dynamodb user profile store: %w", err)
	}
	return store, nil
}
