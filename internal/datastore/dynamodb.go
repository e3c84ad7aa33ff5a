package datastore

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/polybot/yolo-service/internal/awsclient"
	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/logger"
)

const (
	dynamoOpenTimeout   = 30 * time.Second
	dynamoTableWaitTime = 2 * time.Minute

	attrUID        = "uid"
	attrCreatedAt  = "created_at"
	attrDetections = "detections"
)

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// dynamoItem is one session document. Detections are embedded in a list.
type dynamoItem struct {
	UID           string            `dynamodbav:"uid"`
	CreatedAt     time.Time         `dynamodbav:"created_at"`
	OriginalPath  string            `dynamodbav:"original_path"`
	PredictedPath string            `dynamodbav:"predicted_path"`
	Detections    []dynamoDetection `dynamodbav:"detections"`
}

type dynamoDetection struct {
	Label string     `dynamodbav:"label"`
	Score float64    `dynamodbav:"score"`
	BBox  [4]float64 `dynamodbav:"bbox"`
}

// DynamoStore implements Interface on a DynamoDB table keyed by uid.
// Every write touches a single item, so appends are atomic without locks.
type DynamoStore struct {
	client   DynamoDBAPI
	settings conf.DynamoDBSettings
	log      logger.Logger
	now      func() time.Time
}

// NewDynamoStore creates a store. A nil client is built from the default AWS
// configuration on Open.
func NewDynamoStore(client DynamoDBAPI, settings conf.DynamoDBSettings, log logger.Logger) *DynamoStore {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &DynamoStore{
		client:   client,
		settings: settings,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func dynamoError(err error, operation, uid string) error {
	kv := []any{"table_operation", operation}
	if uid != "" {
		kv = append(kv, "uid", uid)
	}
	if code := awsclient.ErrorCode(err); code != "" {
		kv = append(kv, "aws_error_code", code)
		if awsclient.IsCode(err, "ProvisionedThroughputExceededException", "ThrottlingException", "RequestLimitExceeded") {
			return conflictError(err, operation, "throttled")
		}
	}
	return dbError(err, operation, errors.PriorityMedium, kv...)
}

// Open builds the client if needed and checks that the table exists,
// creating it when output.dynamodb.createtable is set.
func (s *DynamoStore) Open() error {
	ctx, cancel := context.WithTimeout(context.Background(), dynamoOpenTimeout)
	defer cancel()

	if s.client == nil {
		cfg, err := awsclient.LoadConfig(ctx, s.settings.Region)
		if err != nil {
			return err
		}
		s.client = dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = awsclient.Endpoint(s.settings.Endpoint)
		})
	}

	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.settings.Table)})
	if err == nil {
		s.log.Info("dynamodb table ready", logger.String("table", s.settings.Table))
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) || !s.settings.CreateTable {
		return dynamoError(err, "describe_table", "")
	}
	return s.createTable(ctx)
}

func (s *DynamoStore) createTable(ctx context.Context) error {
	s.log.Info("creating dynamodb table", logger.String("table", s.settings.Table))

	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(s.settings.Table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrUID), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrUID), KeyType: types.KeyTypeHash},
		},
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return dynamoError(err, "create_table", "")
		}
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.settings.Table)}, dynamoTableWaitTime); err != nil {
		return dynamoError(err, "wait_table", "")
	}
	return nil
}

// Close is a no-op; the SDK client holds no connections that need releasing.
func (s *DynamoStore) Close() error {
	return nil
}

// SavePrediction puts the session item unless the uid already exists.
func (s *DynamoStore) SavePrediction(ctx context.Context, uid, originalImage, predictedImage string) error {
	if strings.TrimSpace(uid) == "" {
		return validationError("uid must not be empty", "uid", uid)
	}

	item, err := attributevalue.MarshalMap(dynamoItem{
		UID:           uid,
		CreatedAt:     s.now(),
		OriginalPath:  originalImage,
		PredictedPath: predictedImage,
		Detections:    []dynamoDetection{},
	})
	if err != nil {
		return dbError(err, "save_prediction", errors.PriorityMedium, "uid", uid)
	}

	cond, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(attrUID))).
		Build()
	if err != nil {
		return dbError(err, "save_prediction", errors.PriorityMedium, "uid", uid)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.settings.Table),
		Item:                      item,
		ConditionExpression:       cond.Condition(),
		ExpressionAttributeNames:  cond.Names(),
		ExpressionAttributeValues: cond.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			s.log.Debug("prediction session already exists", logger.String("uid", uid))
			return nil
		}
		return dynamoError(err, "save_prediction", uid)
	}
	return nil
}

// SaveDetection appends to the detections list of an existing item. The
// condition keeps UpdateItem from creating an item for an unknown uid.
func (s *DynamoStore) SaveDetection(ctx context.Context, uid, label string, score float64, box BoundingBox) error {
	if err := validateDetection(uid, label, score); err != nil {
		return err
	}

	detection := dynamoDetection{Label: label, Score: score, BBox: box}
	update := expression.Set(
		expression.Name(attrDetections),
		expression.ListAppend(
			expression.IfNotExists(expression.Name(attrDetections), expression.Value([]dynamoDetection{})),
			expression.Value([]dynamoDetection{detection}),
		),
	)
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name(attrUID))).
		Build()
	if err != nil {
		return dbError(err, "save_detection", errors.PriorityMedium, "uid", uid)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.settings.Table),
		Key:                       uidKey(uid),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return notFoundError("prediction session", uid)
		}
		return dynamoError(err, "save_detection", uid)
	}
	return nil
}

// GetPrediction reads the item with strong consistency so a detection saved
// just before is visible.
func (s *DynamoStore) GetPrediction(ctx context.Context, uid string) (*PredictionView, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.settings.Table),
		Key:            uidKey(uid),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, dynamoError(err, "get_prediction", uid)
	}
	if len(out.Item) == 0 {
		return nil, notFoundError("prediction", uid)
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, dbError(err, "get_prediction", errors.PriorityMedium, "uid", uid, "reason", "decode")
	}

	detections := make([]DetectionObject, 0, len(item.Detections))
	for _, d := range item.Detections {
		detections = append(detections, DetectionObject{PredictionUID: uid, Label: d.Label, Score: d.Score, Box: d.BBox})
	}
	return newPredictionView(item.UID, item.CreatedAt, item.OriginalPath, item.PredictedPath, detections), nil
}

// GetPredictionsByScore scans the table. DynamoDB cannot filter on elements of
// a list of maps, so qualifying items are selected client side.
func (s *DynamoStore) GetPredictionsByScore(ctx context.Context, minScore float64) ([]PredictionSummary, error) {
	proj := expression.NamesList(
		expression.Name(attrUID),
		expression.Name(attrCreatedAt),
		expression.Name(attrDetections),
	)
	expr, err := expression.NewBuilder().WithProjection(proj).Build()
	if err != nil {
		return nil, dbError(err, "get_predictions_by_score", errors.PriorityMedium)
	}

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                aws.String(s.settings.Table),
		ProjectionExpression:     expr.Projection(),
		ExpressionAttributeNames: expr.Names(),
	})

	rows := make([]PredictionSummary, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, dynamoError(err, "get_predictions_by_score", "")
		}

		var items []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, dbError(err, "get_predictions_by_score", errors.PriorityMedium, "reason", "decode")
		}
		for i := range items {
			if slices.ContainsFunc(items[i].Detections, func(d dynamoDetection) bool { return d.Score >= minScore }) {
				rows = append(rows, PredictionSummary{UID: items[i].UID, Timestamp: items[i].CreatedAt})
			}
		}
	}

	slices.SortFunc(rows, func(a, b PredictionSummary) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.UID, a.UID)
	})
	return rows, nil
}

func uidKey(uid string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrUID: &types.AttributeValueMemberS{Value: uid},
	}
}
