package redact

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/comprehend"
	comprehendtypes "github.com/aws/aws-sdk-go-v2/service/comprehend/types"
)

// ComprehendDetector is the production EntityDetector, backed by AWS
// Comprehend's DetectPiiEntities API (comprehend_redactor.py's
// boto3 detect_pii_entities call, carried over 1:1 via the AWS SDK for
// Go v2 the rest of this module already depends on for DynamoDB, S3,
// and SSM).
type ComprehendDetector struct {
	client *comprehend.Client
}

// NewComprehendDetector loads the default AWS config and constructs a
// ComprehendDetector.
func NewComprehendDetector(ctx context.Context) (*ComprehendDetector, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &ComprehendDetector{client: comprehend.NewFromConfig(cfg)}, nil
}

// Detect calls DetectPiiEntities for one page of text and converts the
// response into this package's Entity shape. Comprehend caps input at
// 100KB per call; callers already operate one OCR page at a time, which
// is comfortably under that limit for scanned IEP documents.
func (d *ComprehendDetector) Detect(ctx context.Context, text, languageCode string) ([]Entity, error) {
	out, err := d.client.DetectPiiEntities(ctx, &comprehend.DetectPiiEntitiesInput{
		Text:         aws.String(text),
		LanguageCode: comprehendtypes.LanguageCode(languageCode),
	})
	if err != nil {
		return nil, fmt.Errorf("comprehend detect_pii_entities: %w", err)
	}

	entities := make([]Entity, 0, len(out.Entities))
	for _, e := range out.Entities {
		if e.Type == "" || e.BeginOffset == nil || e.EndOffset == nil {
			continue
		}
		entities = append(entities, Entity{
			Type:        string(e.Type),
			BeginOffset: int(*e.BeginOffset),
			EndOffset:   int(*e.EndOffset),
		})
	}
	return entities, nil
}
