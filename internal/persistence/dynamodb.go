package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

// dynamoItem is the wire shape of one DynamoDB item, kept distinct from
// types.Record so the legacy inline fields and the content reference
// marshal with DynamoDB-friendly (omitempty) semantics.
type dynamoItem struct {
	IepID   string `dynamodbav:"iepId"`
	ChildID string `dynamodbav:"childId"`
	UserID  string `dynamodbav:"userId"`

	Status      string `dynamodbav:"status"`
	CurrentStep string `dynamodbav:"current_step"`
	Progress    int    `dynamodbav:"progress"`
	LastError   string `dynamodbav:"last_error,omitempty"`
	FailedStep  string `dynamodbav:"failed_step,omitempty"`

	CreatedAt string `dynamodbav:"createdAt"`
	UpdatedAt string `dynamodbav:"updatedAt"`

	DocumentURL string `dynamodbav:"documentUrl,omitempty"`

	ContentS3Reference *types.ContentS3Reference `dynamodbav:"contentS3Reference,omitempty"`

	Summaries     map[string]string                `dynamodbav:"summaries,omitempty"`
	Sections      map[string][]types.Section        `dynamodbav:"sections,omitempty"`
	DocumentIndex map[string]string                 `dynamodbav:"document_index,omitempty"`
	Abbreviations map[string][]types.Abbreviation    `dynamodbav:"abbreviations,omitempty"`
	MeetingNotes  map[string]string                 `dynamodbav:"meetingNotes,omitempty"`

	MissingInfo map[string][]types.MissingInfoItem `dynamodbav:"missingInfo,omitempty"`
}

func (i *dynamoItem) toRecord() (*types.Record, error) {
	rec := &types.Record{
		IepID:              i.IepID,
		ChildID:            i.ChildID,
		UserID:             i.UserID,
		Status:             types.Status(i.Status),
		CurrentStep:        i.CurrentStep,
		Progress:           i.Progress,
		LastError:          i.LastError,
		FailedStep:         i.FailedStep,
		DocumentURL:        i.DocumentURL,
		ContentS3Reference: i.ContentS3Reference,
		Summaries:          i.Summaries,
		Sections:           i.Sections,
		DocumentIndex:      i.DocumentIndex,
		Abbreviations:      i.Abbreviations,
		MeetingNotes:       i.MeetingNotes,
		MissingInfo:        i.MissingInfo,
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, i.CreatedAt); err != nil {
		return nil, fmt.Errorf("parse createdAt: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, i.UpdatedAt); err != nil {
		return nil, fmt.Errorf("parse updatedAt: %w", err)
	}
	return rec, nil
}

// DynamoDBStore is the production MetadataStore, backed by Amazon
// DynamoDB. Progress monotonicity (I4) is enforced with a conditional
// expression so concurrent writers fail fast instead of racing.
type DynamoDBStore struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoDBStore loads the default AWS config and returns a
// production MetadataStore backed by table.
func NewDynamoDBStore(ctx context.Context, table string) (*DynamoDBStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &DynamoDBStore{client: dynamodb.NewFromConfig(cfg), table: table}, nil
}

func recordKeyAV(key RecordKey) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"iepId":   &ddbtypes.AttributeValueMemberS{Value: key.IepID},
		"childId": &ddbtypes.AttributeValueMemberS{Value: key.ChildID},
	}
}

func (d *DynamoDBStore) GetRecord(ctx context.Context, key RecordKey) (*types.Record, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key:       recordKeyAV(key),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get item: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return item.toRecord()
}

func (d *DynamoDBStore) CreateRecord(ctx context.Context, rec *types.Record) error {
	item := dynamoItem{
		IepID:       rec.IepID,
		ChildID:     rec.ChildID,
		UserID:      rec.UserID,
		Status:      string(rec.Status),
		CurrentStep: rec.CurrentStep,
		Progress:    rec.Progress,
		CreatedAt:   rec.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   rec.UpdatedAt.Format(time.RFC3339Nano),
		DocumentURL: rec.DocumentURL,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(iepId)"),
	})
	if err != nil {
		return fmt.Errorf("dynamodb put item: %w", err)
	}
	return nil
}

func (d *DynamoDBStore) UpdateProgress(ctx context.Context, key RecordKey, upd ProgressUpdate) error {
	names := map[string]string{
		"#p":  "progress",
		"#cs": "current_step",
		"#u":  "updatedAt",
	}
	values := map[string]ddbtypes.AttributeValue{
		":p":  &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", upd.Progress)},
		":cs": &ddbtypes.AttributeValueMemberS{Value: upd.CurrentStep},
		":u":  &ddbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}
	update := "SET #p = :p, #cs = :cs, #u = :u"

	if upd.Status != nil {
		names["#s"] = "status"
		values[":s"] = &ddbtypes.AttributeValueMemberS{Value: string(*upd.Status)}
		update += ", #s = :s"
	}
	if upd.ErrorMessage != nil {
		names["#le"] = "last_error"
		values[":le"] = &ddbtypes.AttributeValueMemberS{Value: *upd.ErrorMessage}
		update += ", #le = :le"
	}

	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table),
		Key:                       recordKeyAV(key),
		UpdateExpression:          aws.String(update),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_not_exists(progress) OR progress <= :p"),
	})
	if err != nil {
		var cfe *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrProgressWouldDecrease
		}
		return fmt.Errorf("dynamodb update progress: %w", err)
	}
	return nil
}

func (d *DynamoDBStore) RecordFailure(ctx context.Context, key RecordKey, errorMessage, failedStep string) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.table),
		Key:       recordKeyAV(key),
		UpdateExpression: aws.String(
			"SET #s = :failed, progress = :zero, last_error = :err, failed_step = :step, updatedAt = :u"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":failed": &ddbtypes.AttributeValueMemberS{Value: string(types.StatusFailed)},
			":zero":   &ddbtypes.AttributeValueMemberN{Value: "0"},
			":err":    &ddbtypes.AttributeValueMemberS{Value: errorMessage},
			":step":   &ddbtypes.AttributeValueMemberS{Value: failedStep},
			":u":      &ddbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_exists(iepId)"),
	})
	if err != nil {
		var cfe *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrNotFound
		}
		return fmt.Errorf("dynamodb record failure: %w", err)
	}
	return nil
}

func (d *DynamoDBStore) SetContentReference(ctx context.Context, key RecordKey, ref types.ContentS3Reference) error {
	av, err := attributevalue.MarshalMap(ref)
	if err != nil {
		return fmt.Errorf("marshal content reference: %w", err)
	}

	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.table),
		Key:       recordKeyAV(key),
		UpdateExpression: aws.String(
			"SET contentS3Reference = :ref, updatedAt = :u " +
				"REMOVE summaries, sections, document_index, abbreviations, meetingNotes"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":ref": &ddbtypes.AttributeValueMemberM{Value: av},
			":u":   &ddbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_exists(iepId)"),
	})
	if err != nil {
		return fmt.Errorf("dynamodb set content reference: %w", err)
	}
	return nil
}

func (d *DynamoDBStore) ClearContentReference(ctx context.Context, key RecordKey) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.table),
		Key:              recordKeyAV(key),
		UpdateExpression: aws.String("SET updatedAt = :u REMOVE contentS3Reference"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":u": &ddbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb clear content reference: %w", err)
	}
	return nil
}

func (d *DynamoDBStore) SaveOCRData(ctx context.Context, key RecordKey, dataType string, data *types.OCRResult) error {
	column, err := ocrColumn(dataType)
	if err != nil {
		return err
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal ocr data: %w", err)
	}

	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(d.table),
		Key:                      recordKeyAV(key),
		UpdateExpression:         aws.String("SET #c = :v, updatedAt = :u"),
		ExpressionAttributeNames: map[string]string{"#c": column},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":v": &ddbtypes.AttributeValueMemberS{Value: string(b)},
			":u": &ddbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb save ocr data: %w", err)
	}
	return nil
}

func (d *DynamoDBStore) GetOCRData(ctx context.Context, key RecordKey, dataType string) (*types.OCRResult, error) {
	column, err := ocrColumn(dataType)
	if err != nil {
		return nil, err
	}

	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(d.table),
		Key:                      recordKeyAV(key),
		ProjectionExpression:     aws.String("#c"),
		ExpressionAttributeNames: map[string]string{"#c": column},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get ocr data: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	av, ok := out.Item[column]
	if !ok {
		return nil, ErrNotFound
	}
	s, ok := av.(*ddbtypes.AttributeValueMemberS)
	if !ok || s.Value == "" {
		return nil, ErrNotFound
	}

	var result types.OCRResult
	if err := json.Unmarshal([]byte(s.Value), &result); err != nil {
		return nil, fmt.Errorf("unmarshal ocr data: %w", err)
	}
	return &result, nil
}

// SaveAPIFields applies summaries.<lang>, document_index.<lang> and
// meetingNotes.<lang> paths; sections and abbreviations paths are
// ignored by this backend.
func (d *DynamoDBStore) SaveAPIFields(ctx context.Context, key RecordKey, fields map[string]any) error {
	rec, err := d.GetRecord(ctx, key)
	if err != nil {
		return err
	}
	if rec.ContentS3Reference != nil {
		return ErrMixedContentState
	}

	if rec.Summaries == nil {
		rec.Summaries = map[string]string{}
	}
	if rec.DocumentIndex == nil {
		rec.DocumentIndex = map[string]string{}
	}
	if rec.MeetingNotes == nil {
		rec.MeetingNotes = map[string]string{}
	}

	for path, value := range fields {
		field, lang, ok := splitFieldPath(path)
		if !ok {
			continue
		}
		switch field {
		case "summaries":
			if v, ok := value.(string); ok {
				rec.Summaries[lang] = v
			}
		case "document_index":
			if v, ok := value.(string); ok {
				rec.DocumentIndex[lang] = v
			}
		case "meetingNotes":
			if v, ok := value.(string); ok {
				rec.MeetingNotes[lang] = v
			}
		}
	}

	av, err := attributevalue.MarshalMap(map[string]any{
		"summaries":      rec.Summaries,
		"document_index": rec.DocumentIndex,
		"meetingNotes":   rec.MeetingNotes,
	})
	if err != nil {
		return fmt.Errorf("marshal api fields: %w", err)
	}

	names := map[string]string{"#u": "updatedAt"}
	values := map[string]ddbtypes.AttributeValue{
		":u": &ddbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}
	update := "SET #u = :u"
	for k, v := range av {
		ph := "#" + k
		vn := ":" + k
		names[ph] = k
		values[vn] = v
		update += fmt.Sprintf(", %s = %s", ph, vn)
	}

	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table),
		Key:                       recordKeyAV(key),
		UpdateExpression:          aws.String(update),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("dynamodb save api fields: %w", err)
	}
	return nil
}

func (d *DynamoDBStore) AppendToListField(ctx context.Context, key RecordKey, path string, items []any) error {
	_, lang, ok := splitFieldPath(path)
	if !ok {
		return fmt.Errorf("unsupported list field path %q", path)
	}

	av, err := attributevalue.MarshalList(items)
	if err != nil {
		return fmt.Errorf("marshal list items: %w", err)
	}

	// A nested SET fails when the parent map is absent, so create an
	// empty missingInfo map first if the record has none.
	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.table),
		Key:              recordKeyAV(key),
		UpdateExpression: aws.String("SET missingInfo = if_not_exists(missingInfo, :m)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":m": &ddbtypes.AttributeValueMemberM{Value: map[string]ddbtypes.AttributeValue{}},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb init missing info map: %w", err)
	}

	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.table),
		Key:       recordKeyAV(key),
		UpdateExpression: aws.String(
			"SET missingInfo.#lang = list_append(if_not_exists(missingInfo.#lang, :empty), :items), updatedAt = :u"),
		ExpressionAttributeNames: map[string]string{"#lang": lang},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":items": &ddbtypes.AttributeValueMemberL{Value: av},
			":empty": &ddbtypes.AttributeValueMemberL{Value: []ddbtypes.AttributeValue{}},
			":u":     &ddbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb append list field: %w", err)
	}
	return nil
}

func (d *DynamoDBStore) SetDocumentURL(ctx context.Context, key RecordKey, url string) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.table),
		Key:              recordKeyAV(key),
		UpdateExpression: aws.String("SET documentUrl = :url, updatedAt = :u"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":url": &ddbtypes.AttributeValueMemberS{Value: url},
			":u":   &ddbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb set document url: %w", err)
	}
	return nil
}
