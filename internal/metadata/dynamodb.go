package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/artcurate/artcurate/internal/config"
	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/uid"
)

const (
	dynamoTimeFormat = "2006-01-02T15:04:05.000000000Z"
	dynamoItemType   = "artwork"
)

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoDBStore.
// It is satisfied by *dynamodb.Client and by test mocks.
type DynamoDBAPI interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoDBStore implements MetadataStore on a single DynamoDB table with a
// pk/sk key schema. Each artwork is one item keyed ARTWORK#<id> / #METADATA.
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
}

// NewDynamoDBStore creates a DynamoDBStore from configuration, resolving
// credentials through the default AWS chain.
func NewDynamoDBStore(ctx context.Context, cfg *config.DynamoDBConfig) (*DynamoDBStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("dynamodb config is required")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}

	return NewDynamoDBStoreWithClient(dynamodb.NewFromConfig(awsCfg), cfg.Table), nil
}

// NewDynamoDBStoreWithClient creates a DynamoDBStore with an injected client.
func NewDynamoDBStoreWithClient(client DynamoDBAPI, table string) *DynamoDBStore {
	return &DynamoDBStore{client: client, tableName: table}
}

func (s *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err != nil {
		return fmt.Errorf("describing table %s: %w", s.tableName, err)
	}
	return nil
}

func (s *DynamoDBStore) Close() error {
	return nil
}

func pkArtwork(recordID string) string {
	return "ARTWORK#" + recordID
}

func skMetadata() string {
	return "#METADATA"
}

func artworkKey(recordID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pkArtwork(recordID)},
		"sk": &types.AttributeValueMemberS{Value: skMetadata()},
	}
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *DynamoDBStore) Insert(ctx context.Context, rec *ArtworkRecord) (string, error) {
	cp := prepareInsert(rec, uid.NewRecordID)

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                recordToItem(&cp),
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return "", fmt.Errorf("record already exists: %s", cp.RecordID)
		}
		return "", fmt.Errorf("inserting record %q: %w", cp.RecordID, err)
	}
	return cp.RecordID, nil
}

func (s *DynamoDBStore) ScanAll(ctx context.Context) ([]ArtworkRecord, error) {
	var out []ArtworkRecord

	var exclusiveStartKey map[string]types.AttributeValue
	for {
		input := &dynamodb.ScanInput{
			TableName:                aws.String(s.tableName),
			FilterExpression:         aws.String("#t = :type"),
			ExpressionAttributeNames: map[string]string{"#t": "type"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":type": &types.AttributeValueMemberS{Value: dynamoItemType},
			},
		}
		if exclusiveStartKey != nil {
			input.ExclusiveStartKey = exclusiveStartKey
		}

		resp, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scanning artworks: %w", err)
		}
		for _, item := range resp.Items {
			out = append(out, itemToRecord(item))
		}

		if resp.LastEvaluatedKey == nil {
			break
		}
		exclusiveStartKey = resp.LastEvaluatedKey
	}

	SortRecords(out)
	return out, nil
}

func (s *DynamoDBStore) UpdateFields(ctx context.Context, recordID string, fields map[string]string) error {
	if err := ValidateUpdate(fields); err != nil {
		return err
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	input := &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 artworkKey(recordID),
		ConditionExpression: aws.String("attribute_exists(pk)"),
	}
	if len(names) == 0 {
		resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:            aws.String(s.tableName),
			Key:                  artworkKey(recordID),
			ProjectionExpression: aws.String("pk"),
		})
		if err != nil {
			return fmt.Errorf("checking record %q: %w", recordID, err)
		}
		if resp.Item == nil {
			return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
		}
		return nil
	}

	attrNames := make(map[string]string, len(names))
	attrValues := make(map[string]types.AttributeValue, len(names))
	sets := make([]string, 0, len(names))
	for i, name := range names {
		value := fields[name]
		if name == FieldSplit {
			value = string(NormalizeSplit(value))
		}
		n := fmt.Sprintf("#f%d", i)
		v := fmt.Sprintf(":v%d", i)
		attrNames[n] = name
		attrValues[v] = &types.AttributeValueMemberS{Value: value}
		sets = append(sets, n+" = "+v)
	}
	input.UpdateExpression = aws.String("SET " + strings.Join(sets, ", "))
	input.ExpressionAttributeNames = attrNames
	input.ExpressionAttributeValues = attrValues

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
		}
		return fmt.Errorf("updating record %q: %w", recordID, err)
	}
	return nil
}

func (s *DynamoDBStore) Delete(ctx context.Context, recordID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 artworkKey(recordID),
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
		}
		return fmt.Errorf("deleting record %q: %w", recordID, err)
	}
	return nil
}

// GroupByField scans and groups client-side; DynamoDB has no server-side
// aggregation.
func (s *DynamoDBStore) GroupByField(ctx context.Context, field string) ([]FieldGroup, error) {
	if err := ValidateGroupField(field); err != nil {
		return nil, err
	}
	records, err := s.ScanAll(ctx)
	if err != nil {
		return nil, err
	}
	return GroupRecords(records, field)
}

func recordToItem(r *ArtworkRecord) map[string]types.AttributeValue {
	str := func(v string) types.AttributeValue {
		return &types.AttributeValueMemberS{Value: v}
	}
	return map[string]types.AttributeValue{
		"pk":                   str(pkArtwork(r.RecordID)),
		"sk":                   str(skMetadata()),
		"type":                 str(dynamoItemType),
		FieldRecordID:          str(r.RecordID),
		FieldObjectID:          str(r.ObjectID),
		FieldTitle:             str(r.Title),
		FieldArtist:            str(r.Artist),
		FieldDepartment:        str(r.Department),
		FieldCulture:           str(r.Culture),
		FieldPeriod:            str(r.Period),
		FieldObjectDate:        str(r.ObjectDate),
		FieldMedium:            str(r.Medium),
		FieldSource:            str(r.Source),
		FieldOriginalBlobID:    str(r.OriginalBlobID),
		FieldTransformedBlobID: str(r.TransformedBlobID),
		FieldSplit:             str(string(r.Split)),
		FieldCreatedAt:         str(r.CreatedAt.UTC().Format(dynamoTimeFormat)),
	}
}

func itemToRecord(item map[string]types.AttributeValue) ArtworkRecord {
	createdAt, _ := time.Parse(dynamoTimeFormat, getString(item, FieldCreatedAt))
	return ArtworkRecord{
		RecordID:          getString(item, FieldRecordID),
		ObjectID:          getString(item, FieldObjectID),
		Title:             getString(item, FieldTitle),
		Artist:            getString(item, FieldArtist),
		Department:        getString(item, FieldDepartment),
		Culture:           getString(item, FieldCulture),
		Period:            getString(item, FieldPeriod),
		ObjectDate:        getString(item, FieldObjectDate),
		Medium:            getString(item, FieldMedium),
		Source:            getString(item, FieldSource),
		OriginalBlobID:    getString(item, FieldOriginalBlobID),
		TransformedBlobID: getString(item, FieldTransformedBlobID),
		Split:             NormalizeSplit(getString(item, FieldSplit)),
		CreatedAt:         createdAt,
	}
}

func getString(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key]; ok {
		if sv, ok := v.(*types.AttributeValueMemberS); ok {
			return sv.Value
		}
	}
	return ""
}

// Ensure DynamoDBStore implements MetadataStore at compile time.
var _ MetadataStore = (*DynamoDBStore)(nil)
