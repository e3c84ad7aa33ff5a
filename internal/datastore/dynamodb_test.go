package datastore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/errors"
)

// fakeDynamo is an in-memory table that honours the condition expressions
// DynamoStore relies on: attribute_not_exists on put and attribute_exists on update.
type fakeDynamo struct {
	mu          sync.Mutex
	tableExists bool
	items       map[string]map[string]types.AttributeValue
	keys        []string // insertion order for scans
	pageSize    int
	scanCalls   int
	created     int
	failWith    error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{tableExists: true, items: map[string]map[string]types.AttributeValue{}, pageSize: 2}
}

func keyOf(m map[string]types.AttributeValue) string {
	if s, ok := m[attrUID].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	uid := keyOf(in.Item)
	if _, exists := f.items[uid]; exists && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("item exists")}
	}
	if _, exists := f.items[uid]; !exists {
		f.keys = append(f.keys, uid)
	}
	f.items[uid] = maps.Clone(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	uid := keyOf(in.Key)
	item, exists := f.items[uid]
	if !exists {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}

	var current []types.AttributeValue
	if l, ok := item[attrDetections].(*types.AttributeValueMemberL); ok {
		current = slices.Clone(l.Value)
	}
	// The only non-empty list among the values is the element being appended;
	// the empty one is the if_not_exists fallback.
	for _, v := range in.ExpressionAttributeValues {
		if l, ok := v.(*types.AttributeValueMemberL); ok && len(l.Value) > 0 {
			current = append(current, l.Value...)
		}
	}
	updated := maps.Clone(item)
	updated[attrDetections] = &types.AttributeValueMemberL{Value: current}
	f.items[uid] = updated
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	item, ok := f.items[keyOf(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: maps.Clone(item)}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.scanCalls++

	start := 0
	if in.ExclusiveStartKey != nil {
		start = slices.Index(f.keys, keyOf(in.ExclusiveStartKey)) + 1
	}
	end := min(start+f.pageSize, len(f.keys))

	out := &dynamodb.ScanOutput{}
	for _, uid := range f.keys[start:end] {
		out.Items = append(out.Items, maps.Clone(f.items[uid]))
	}
	if end < len(f.keys) {
		out.LastEvaluatedKey = uidKey(f.keys[end-1])
	}
	return out, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.tableExists {
		return nil, &types.ResourceNotFoundException{Message: aws.String("no table")}
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableStatus: types.TableStatusActive}}, nil
}

func (f *fakeDynamo) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	f.tableExists = true
	return &dynamodb.CreateTableOutput{}, nil
}

func newTestDynamoStore(t *testing.T, client *fakeDynamo, clock func() time.Time) *DynamoStore {
	t.Helper()
	store := NewDynamoStore(client, conf.DynamoDBSettings{Table: "Predictions", Region: "eu-north-1"}, nil)
	if clock != nil {
		store.now = clock
	}
	require.NoError(t, store.Open())
	return store
}

func TestDynamoStoreContract(t *testing.T) {
	t.Parallel()
	runStoreContract(t, func(t *testing.T, clock func() time.Time) Interface {
		t.Helper()
		return newTestDynamoStore(t, newFakeDynamo(), clock)
	})
}

func TestDynamoStoreScanFollowsPages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := newFakeDynamo()
	store := newTestDynamoStore(t, fake, newSteppingClock().Now)

	for _, uid := range []string{"p1", "p2", "p3", "p4", "p5"} {
		require.NoError(t, store.SavePrediction(ctx, uid, "o", "p"))
		require.NoError(t, store.SaveDetection(ctx, uid, "car", 0.8, BoundingBox{}))
	}

	rows, err := store.GetPredictionsByScore(ctx, 0.5)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "p5", rows[0].UID)
	assert.Equal(t, "p1", rows[4].UID)
	assert.Equal(t, 3, fake.scanCalls)
}

func TestDynamoStoreItemLayout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := newFakeDynamo()
	store := newTestDynamoStore(t, fake, nil)

	require.NoError(t, store.SavePrediction(ctx, "u1", "images/a.jpg", "predicted/a_predicted.jpg"))
	require.NoError(t, store.SaveDetection(ctx, "u1", "cat", 0.91, BoundingBox{1, 2, 3, 4}))

	item := fake.items["u1"]
	for _, attr := range []string{"uid", "created_at", "original_path", "predicted_path", "detections"} {
		assert.Contains(t, item, attr)
	}
	list, ok := item[attrDetections].(*types.AttributeValueMemberL)
	require.True(t, ok)
	require.Len(t, list.Value, 1)
	det, ok := list.Value[0].(*types.AttributeValueMemberM)
	require.True(t, ok)
	assert.Contains(t, det.Value, "label")
	assert.Contains(t, det.Value, "score")
	assert.Contains(t, det.Value, "bbox")
}

func TestDynamoStoreOpenCreatesMissingTable(t *testing.T) {
	t.Parallel()

	fake := newFakeDynamo()
	fake.tableExists = false
	store := NewDynamoStore(fake, conf.DynamoDBSettings{Table: "T", CreateTable: true}, nil)
	require.NoError(t, store.Open())
	assert.Equal(t, 1, fake.created)
}

func TestDynamoStoreOpenMissingTableWithoutCreate(t *testing.T) {
	t.Parallel()

	fake := newFakeDynamo()
	fake.tableExists = false
	store := NewDynamoStore(fake, conf.DynamoDBSettings{Table: "T"}, nil)
	err := store.Open()
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
	assert.Zero(t, fake.created)
}

func TestDynamoStoreThrottlingIsConflict(t *testing.T) {
	t.Parallel()

	fake := newFakeDynamo()
	store := newTestDynamoStore(t, fake, nil)
	fake.failWith = &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}

	err := store.SavePrediction(context.Background(), "u", "o", "p")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict), "got %v", err)

	fake.failWith = &types.InternalServerError{Message: aws.String("boom")}
	_, err = store.GetPrediction(context.Background(), "u")
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
}
