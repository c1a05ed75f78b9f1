package persistence

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

// userProfileItem is the wire shape of one user-profiles-table item,
// grounded on user-profile-handler/lambda_function.py: profiles key on
// userId and carry primaryLanguage/secondaryLanguage fields, either of
// which may be absent.
type userProfileItem struct {
	UserID            string `dynamodbav:"userId"`
	PrimaryLanguage   string `dynamodbav:"primaryLanguage"`
	SecondaryLanguage string `dynamodbav:"secondaryLanguage"`
}

// DynamoDBUserProfileStore is the production UserProfileStore, backed
// by the user-profiles DynamoDB table the profile-management Lambda
// also owns.
type DynamoDBUserProfileStore struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoDBUserProfileStore loads the default AWS config and returns
// a production UserProfileStore backed by table.
func NewDynamoDBUserProfileStore(ctx context.Context, table string) (*DynamoDBUserProfileStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &DynamoDBUserProfileStore{client: dynamodb.NewFromConfig(cfg), table: table}, nil
}

// GetUserPrefs looks up userID's profile and derives its language
// preferences. A missing item, or one with no primaryLanguage, falls
// back to types.DefaultUserPrefs, mirroring the handler's implicit
// "en"-only default for profiles that never set a language.
func (s *DynamoDBUserProfileStore) GetUserPrefs(ctx context.Context, userID string) (types.UserPrefs, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"userId": &ddbtypes.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return types.UserPrefs{}, fmt.Errorf("dynamodb get user profile: %w", err)
	}
	if out.Item == nil {
		return types.DefaultUserPrefs(), nil
	}

	var item userProfileItem
	primary, hasPrimary := out.Item["primaryLanguage"]
	secondary, hasSecondary := out.Item["secondaryLanguage"]
	if hasPrimary {
		if av, ok := primary.(*ddbtypes.AttributeValueMemberS); ok {
			item.PrimaryLanguage = av.Value
		}
	}
	if hasSecondary {
		if av, ok := secondary.(*ddbtypes.AttributeValueMemberS); ok {
			item.SecondaryLanguage = av.Value
		}
	}

	if item.PrimaryLanguage == "" {
		return types.DefaultUserPrefs(), nil
	}

	languages := []string{item.PrimaryLanguage}
	if item.SecondaryLanguage != "" && item.SecondaryLanguage != item.PrimaryLanguage {
		languages = append(languages, item.SecondaryLanguage)
	}
	return types.UserPrefs{Languages: languages, DefaultLanguage: item.PrimaryLanguage}, nil
}

// StaticUserProfileStore always returns types.DefaultUserPrefs, standing
// in for DynamoDBUserProfileStore in the local sqlite backend, which has
// no user-profiles table to query.
type StaticUserProfileStore struct{}

// GetUserPrefs implements UserProfileStore.
func (StaticUserProfileStore) GetUserPrefs(ctx context.Context, userID string) (types.UserPrefs, error) {
	return types.DefaultUserPrefs(), nil
}
