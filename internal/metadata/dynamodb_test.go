package metadata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	curerr "github.com/artcurate/artcurate/internal/errors"
)

// mockDynamoDB is an in-memory DynamoDBAPI keyed by pk. Scan returns items
// in pages of pageSize to exercise pagination.
type mockDynamoDB struct {
	items    map[string]map[string]types.AttributeValue
	order    []string
	pageSize int
	scans    int
	updates  []*dynamodb.UpdateItemInput
}

func newMockDynamoDB(pageSize int) *mockDynamoDB {
	return &mockDynamoDB{items: make(map[string]map[string]types.AttributeValue), pageSize: pageSize}
}

func (m *mockDynamoDB) pk(key map[string]types.AttributeValue) string {
	return key["pk"].(*types.AttributeValueMemberS).Value
}

func (m *mockDynamoDB) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{}, nil
}

func (m *mockDynamoDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: m.items[m.pk(params.Key)]}, nil
}

func (m *mockDynamoDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	pk := m.pk(params.Item)
	if _, exists := m.items[pk]; exists {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	m.items[pk] = params.Item
	m.order = append(m.order, pk)
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDB) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updates = append(m.updates, params)
	item, exists := m.items[m.pk(params.Key)]
	if !exists {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	for placeholder, name := range params.ExpressionAttributeNames {
		value := ":v" + placeholder[2:]
		item[name] = params.ExpressionAttributeValues[value]
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamoDB) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	pk := m.pk(params.Key)
	if _, exists := m.items[pk]; !exists {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	delete(m.items, pk)
	for i, k := range m.order {
		if k == pk {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *mockDynamoDB) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.scans++
	start := 0
	if params.ExclusiveStartKey != nil {
		last := m.pk(params.ExclusiveStartKey)
		for i, k := range m.order {
			if k == last {
				start = i + 1
				break
			}
		}
	}
	end := start + m.pageSize
	if end > len(m.order) {
		end = len(m.order)
	}

	out := &dynamodb.ScanOutput{}
	for _, k := range m.order[start:end] {
		out.Items = append(out.Items, m.items[k])
	}
	if end < len(m.order) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: m.order[end-1]},
		}
	}
	return out, nil
}

func TestDynamoDBScanPaginates(t *testing.T) {
	mock := newMockDynamoDB(2)
	store := NewDynamoDBStoreWithClient(mock, "artworks")
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"e", "d", "c", "b", "a"} {
		rec := &ArtworkRecord{RecordID: id, ObjectID: id, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if _, err := store.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert(%s): %v", id, err)
		}
	}

	records, err := store.ScanAll(ctx)
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("len(records) = %d, want 5", len(records))
	}
	if mock.scans != 3 {
		t.Errorf("Scan calls = %d, want 3", mock.scans)
	}
	if records[0].RecordID != "e" || records[4].RecordID != "a" {
		t.Errorf("scan order = %s..%s, want e..a", records[0].RecordID, records[4].RecordID)
	}
	if !records[1].CreatedAt.Equal(base.Add(time.Second)) {
		t.Errorf("CreatedAt = %v, want %v", records[1].CreatedAt, base.Add(time.Second))
	}
}

func TestDynamoDBInsertDuplicate(t *testing.T) {
	store := NewDynamoDBStoreWithClient(newMockDynamoDB(10), "artworks")
	ctx := context.Background()

	if _, err := store.Insert(ctx, &ArtworkRecord{RecordID: "x"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := store.Insert(ctx, &ArtworkRecord{RecordID: "x"}); err == nil {
		t.Fatal("expected duplicate insert error")
	}
}

func TestDynamoDBUpdateFields(t *testing.T) {
	mock := newMockDynamoDB(10)
	store := NewDynamoDBStoreWithClient(mock, "artworks")
	ctx := context.Background()

	id, err := store.Insert(ctx, &ArtworkRecord{ObjectID: "1"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err = store.UpdateFields(ctx, id, map[string]string{
		FieldSplit:   "train",
		FieldCulture: "NA",
	})
	if err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	in := mock.updates[0]
	if got := aws.ToString(in.UpdateExpression); got != "SET #f0 = :v0, #f1 = :v1" {
		t.Errorf("UpdateExpression = %q", got)
	}
	if aws.ToString(in.ConditionExpression) != "attribute_exists(pk)" {
		t.Errorf("ConditionExpression = %q", aws.ToString(in.ConditionExpression))
	}

	records, err := store.ScanAll(ctx)
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	if records[0].Split != SplitTrain || records[0].Culture != "NA" {
		t.Errorf("record after update = %+v", records[0])
	}

	err = store.UpdateFields(ctx, "missing", map[string]string{FieldSplit: "test"})
	if !errors.Is(err, curerr.ErrNotFound) {
		t.Errorf("UpdateFields(missing) = %v, want ErrNotFound", err)
	}
}

func TestDynamoDBDeleteAndGroup(t *testing.T) {
	store := NewDynamoDBStoreWithClient(newMockDynamoDB(1), "artworks")
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		rec := &ArtworkRecord{RecordID: id, ObjectID: "42", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if _, err := store.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := store.Delete(ctx, "r2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "r2"); !errors.Is(err, curerr.ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}

	groups, err := store.GroupByField(ctx, FieldObjectID)
	if err != nil {
		t.Fatalf("GroupByField: %v", err)
	}
	if len(groups) != 1 || groups[0].Count != 2 {
		t.Fatalf("groups = %+v, want one group of 2", groups)
	}
	if groups[0].MemberIDs[0] != "r1" || groups[0].MemberIDs[1] != "r3" {
		t.Errorf("MemberIDs = %v, want [r1 r3]", groups[0].MemberIDs)
	}
}
