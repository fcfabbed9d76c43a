package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamotypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/codepool/codepool/pkg/engine"
	"github.com/codepool/codepool/pkg/telemetry"
)

const (
	// DynamoDB batch API limits.
	maxBatchGetItems   = 100
	maxBatchWriteItems = 25

	// Bounded retries for unprocessed batch leftovers.
	maxBatchRetries = 5

	timeLayout = time.RFC3339Nano
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// NewDynamoClient builds a DynamoDB client from an AWS config. A non-empty
// endpoint overrides the resolved one, which is how local emulators are
// wired in.
func NewDynamoClient(cfg aws.Config, endpoint string) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// DynamoStore implements engine.CodeStore on a DynamoDB table keyed by the
// code id. Conditional updates ride on DynamoDB condition expressions, and
// every applied update bumps the version attribute atomically.
type DynamoStore struct {
	client DynamoAPI
	table  string
	logger *telemetry.Logger
	now    func() time.Time
}

// NewDynamoStore creates a DynamoDB-backed code store.
func NewDynamoStore(client DynamoAPI, table string, tel *telemetry.Telemetry) *DynamoStore {
	logger := telemetry.NopLogger()
	if tel != nil && tel.Logger != nil {
		logger = tel.Logger.NewComponentLogger("dynamo_store")
	}
	return &DynamoStore{
		client: client,
		table:  table,
		logger: logger,
		now:    time.Now,
	}
}

// codeItem is the table representation of a CodeRecord. Timestamps are
// stored as RFC3339 strings so the table stays human-readable.
type codeItem struct {
	ID           string       `dynamodbav:"id"`
	Status       string       `dynamodbav:"status"`
	ResourceRef  string       `dynamodbav:"resource_ref,omitempty"`
	ResourceName string       `dynamodbav:"resource_name,omitempty"`
	CreatedAt    string       `dynamodbav:"created_at,omitempty"`
	UpdatedAt    string       `dynamodbav:"updated_at"`
	Outputs      []outputItem `dynamodbav:"outputs,omitempty"`
	LastSyncAt   string       `dynamodbav:"last_sync_at,omitempty"`
	SyncError    string       `dynamodbav:"sync_error,omitempty"`
	Version      int64        `dynamodbav:"version"`
}

type outputItem struct {
	Key         string `dynamodbav:"key"`
	Value       string `dynamodbav:"value"`
	Description string `dynamodbav:"description,omitempty"`
}

func itemFromRecord(rec *engine.CodeRecord) codeItem {
	item := codeItem{
		ID:           rec.ID,
		Status:       string(rec.Status),
		ResourceRef:  rec.ResourceRef,
		ResourceName: rec.ResourceName,
		UpdatedAt:    rec.UpdatedAt.UTC().Format(timeLayout),
		SyncError:    rec.SyncError,
		Version:      rec.Version,
	}
	if rec.CreatedAt != nil {
		item.CreatedAt = rec.CreatedAt.UTC().Format(timeLayout)
	}
	if rec.LastSyncAt != nil {
		item.LastSyncAt = rec.LastSyncAt.UTC().Format(timeLayout)
	}
	for _, o := range rec.Outputs {
		item.Outputs = append(item.Outputs, outputItem(o))
	}
	return item
}

func (item codeItem) toRecord() (*engine.CodeRecord, error) {
	rec := &engine.CodeRecord{
		ID:           item.ID,
		Status:       engine.CodeStatus(item.Status),
		ResourceRef:  item.ResourceRef,
		ResourceName: item.ResourceName,
		SyncError:    item.SyncError,
		Version:      item.Version,
	}
	var err error
	if rec.UpdatedAt, err = parseItemTime(item.UpdatedAt); err != nil {
		return nil, fmt.Errorf("record %s: %w", item.ID, err)
	}
	if item.CreatedAt != "" {
		t, err := parseItemTime(item.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", item.ID, err)
		}
		rec.CreatedAt = &t
	}
	if item.LastSyncAt != "" {
		t, err := parseItemTime(item.LastSyncAt)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", item.ID, err)
		}
		rec.LastSyncAt = &t
	}
	for _, o := range item.Outputs {
		rec.Outputs = append(rec.Outputs, engine.Output(o))
	}
	return rec, nil
}

func parseItemTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed timestamp %q: %w", s, err)
	}
	return t, nil
}

func (s *DynamoStore) key(id string) map[string]dynamotypes.AttributeValue {
	return map[string]dynamotypes.AttributeValue{
		"id": &dynamotypes.AttributeValueMemberS{Value: id},
	}
}

// Get returns the record for id, or a NOT_FOUND-coded error.
func (s *DynamoStore) Get(ctx context.Context, id string) (*engine.CodeRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, s.classify("get", err).WithCodeID(id)
	}
	if len(out.Item) == 0 {
		return nil, engine.NewPermanentError(fmt.Sprintf("code %s not found", id), nil).
			WithCode(engine.ErrCodeNotFound).WithCodeID(id)
	}

	var item codeItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, engine.NewPermanentError("failed to decode record", err).WithCodeID(id)
	}
	return item.toRecordOrError(id)
}

func (item codeItem) toRecordOrError(id string) (*engine.CodeRecord, error) {
	rec, err := item.toRecord()
	if err != nil {
		return nil, engine.NewPermanentError("corrupt record", err).WithCodeID(id)
	}
	return rec, nil
}

// BatchGet returns the records for the given ids, keyed by id. Missing ids
// are absent from the result.
func (s *DynamoStore) BatchGet(ctx context.Context, ids []string) (map[string]*engine.CodeRecord, error) {
	result := make(map[string]*engine.CodeRecord, len(ids))

	for start := 0; start < len(ids); start += maxBatchGetItems {
		end := start + maxBatchGetItems
		if end > len(ids) {
			end = len(ids)
		}

		keys := make([]map[string]dynamotypes.AttributeValue, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, s.key(id))
		}

		requests := map[string]dynamotypes.KeysAndAttributes{
			s.table: {Keys: keys, ConsistentRead: aws.Bool(true)},
		}

		for attempt := 0; len(requests) > 0; attempt++ {
			if attempt > maxBatchRetries {
				return nil, engine.NewTransientError("batch get left unprocessed keys", nil).
					WithCode(engine.ErrCodeStoreDown)
			}

			out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: requests,
			})
			if err != nil {
				return nil, s.classify("batch_get", err)
			}

			for _, raw := range out.Responses[s.table] {
				var item codeItem
				if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
					return nil, engine.NewPermanentError("failed to decode record", err)
				}
				rec, err := item.toRecordOrError(item.ID)
				if err != nil {
					return nil, err
				}
				result[rec.ID] = rec
			}

			requests = out.UnprocessedKeys
		}
	}

	return result, nil
}

// Put writes a full record unconditionally.
func (s *DynamoStore) Put(ctx context.Context, rec *engine.CodeRecord) error {
	item, err := attributevalue.MarshalMap(itemFromRecord(rec))
	if err != nil {
		return engine.NewPermanentError("failed to encode record", err).WithCodeID(rec.ID)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return s.classify("put", err).WithCodeID(rec.ID)
	}
	return nil
}

// BatchPut writes the given records unconditionally in chunks.
func (s *DynamoStore) BatchPut(ctx context.Context, records []*engine.CodeRecord) error {
	for start := 0; start < len(records); start += maxBatchWriteItems {
		end := start + maxBatchWriteItems
		if end > len(records) {
			end = len(records)
		}

		writes := make([]dynamotypes.WriteRequest, 0, end-start)
		for _, rec := range records[start:end] {
			item, err := attributevalue.MarshalMap(itemFromRecord(rec))
			if err != nil {
				return engine.NewPermanentError("failed to encode record", err).WithCodeID(rec.ID)
			}
			writes = append(writes, dynamotypes.WriteRequest{
				PutRequest: &dynamotypes.PutRequest{Item: item},
			})
		}

		requests := map[string][]dynamotypes.WriteRequest{s.table: writes}

		for attempt := 0; len(requests) > 0; attempt++ {
			if attempt > maxBatchRetries {
				return engine.NewTransientError("batch put left unprocessed items", nil).
					WithCode(engine.ErrCodeStoreDown)
			}

			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: requests,
			})
			if err != nil {
				return s.classify("batch_put", err)
			}
			requests = out.UnprocessedItems
		}
	}

	return nil
}

// Scan returns every record in the pool, following pagination.
func (s *DynamoStore) Scan(ctx context.Context) ([]*engine.CodeRecord, error) {
	var records []*engine.CodeRecord
	var startKey map[string]dynamotypes.AttributeValue

	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, s.classify("scan", err)
		}

		for _, raw := range out.Items {
			var item codeItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, engine.NewPermanentError("failed to decode record", err)
			}
			rec, err := item.toRecordOrError(item.ID)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return records, nil
}

// Update applies a partial update guarded by the precondition. The version
// attribute is bumped and updated_at refreshed on every applied write.
func (s *DynamoStore) Update(ctx context.Context, id string, update engine.RecordUpdate, pre *engine.Precondition) error {
	upd := expression.
		Set(expression.Name("updated_at"), expression.Value(s.now().UTC().Format(timeLayout))).
		Set(expression.Name("version"), expression.Name("version").Plus(expression.Value(1)))

	for f, v := range update.Set {
		val, err := s.updateValue(f, v)
		if err != nil {
			return engine.NewPermanentError("invalid update value", err).WithCodeID(id)
		}
		upd = upd.Set(expression.Name(string(f)), expression.Value(val))
	}
	for _, f := range update.Remove {
		upd = upd.Remove(expression.Name(string(f)))
	}

	cond := expression.AttributeExists(expression.Name("id"))
	if pre != nil {
		if pre.Status != nil {
			cond = cond.And(expression.Equal(expression.Name("status"), expression.Value(string(*pre.Status))))
		}
		if pre.Version != nil {
			cond = cond.And(expression.Equal(expression.Name("version"), expression.Value(*pre.Version)))
		}
	}

	expr, err := expression.NewBuilder().WithUpdate(upd).WithCondition(cond).Build()
	if err != nil {
		return engine.NewPermanentError("failed to build update expression", err).WithCodeID(id)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.key(id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return s.resolveConditionFailure(ctx, id)
		}
		return s.classify("update", err).WithCodeID(id)
	}
	return nil
}

// updateValue converts an engine-provided value to its table representation.
func (s *DynamoStore) updateValue(f engine.FieldName, v interface{}) (interface{}, error) {
	switch f {
	case engine.FieldStatus:
		st, err := fieldAsStatus(f, v)
		if err != nil {
			return nil, err
		}
		return string(st), nil
	case engine.FieldCreatedAt, engine.FieldLastSyncAt:
		t, err := fieldAsTime(f, v)
		if err != nil {
			return nil, err
		}
		return t.UTC().Format(timeLayout), nil
	case engine.FieldOutputs:
		outs, err := fieldAsOutputs(f, v)
		if err != nil {
			return nil, err
		}
		items := make([]outputItem, 0, len(outs))
		for _, o := range outs {
			items = append(items, outputItem(o))
		}
		return items, nil
	default:
		return fieldAsString(f, v)
	}
}

// resolveConditionFailure distinguishes a missing record from a lost
// condition; DynamoDB reports both as the same exception.
func (s *DynamoStore) resolveConditionFailure(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); engine.IsNotFound(err) {
		return err
	}
	return engine.NewConflictError(fmt.Sprintf("conditional update of code %s failed", id), nil).
		WithCode(engine.ErrCodeConditionFailed).WithCodeID(id)
}

func isConditionalCheckFailed(err error) bool {
	var condErr *dynamotypes.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}

// classify maps a DynamoDB error onto the engine's error taxonomy.
func (s *DynamoStore) classify(operation string, err error) *engine.EngineError {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "ThrottlingException", "RequestLimitExceeded":
			return engine.NewThrottledError("store throttled", err).
				WithCode(engine.ErrCodeStoreThrottled).WithOperation(operation)
		case "AccessDeniedException", "UnrecognizedClientException":
			return engine.NewPermanentError("store access denied", err).
				WithCode(engine.ErrCodeStoreDenied).WithOperation(operation)
		case "ResourceNotFoundException":
			return engine.NewPermanentError(fmt.Sprintf("table %s does not exist", s.table), err).
				WithCode(engine.ErrCodeStoreDown).WithOperation(operation)
		}
	}
	return engine.NewTransientError("store request failed", err).
		WithCode(engine.ErrCodeStoreDown).WithOperation(operation)
}
