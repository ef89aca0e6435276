// Package dynamo implements store.Connection on Amazon DynamoDB.
//
// Every table is keyed by a numeric "id" partition key. Ids of new items come
// from an atomic counter item per table in Config.CounterTable. Relationship
// batches by id use BatchGetItem; every other query is a filtered Scan, with
// ordering, offset and limit applied client side.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/jacentio/leanmap/store"
)

// maxBatchAttempts bounds the retries of unprocessed BatchGetItem keys.
const maxBatchAttempts = 5

// API is the subset of *dynamodb.Client used by Conn.
type API interface {
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// Conn is a store.Connection backed by DynamoDB.
type Conn struct {
	client API
	config Config
	now    func() time.Time
}

var _ store.Connection = (*Conn)(nil)

// New creates a new Conn.
func New(client API, config Config) *Conn {
	config.validate()
	return &Conn{
		client: client,
		config: config,
		now:    time.Now,
	}
}

// Config returns the validated configuration.
func (c *Conn) Config() Config { return c.config }

// Fetch implements store.Connection.
func (c *Conn) Fetch(ctx context.Context, q *store.Query) ([]store.Record, error) {
	var (
		items []map[string]types.AttributeValue
		err   error
	)
	if ids, ok := idLookup(q); ok {
		items, err = c.batchGet(ctx, q.Table, ids)
	} else {
		items, err = c.scan(ctx, q)
	}
	if err != nil {
		return nil, err
	}

	now := c.now()
	records := make([]store.Record, 0, len(items))
	for _, item := range items {
		if c.config.SoftDelete && IsDeletedAt(item, c.config.TTLAttribute, now) {
			continue
		}
		rec, err := decodeItem(item)
		if err != nil {
			return nil, fmt.Errorf("decode %s item: %w", q.Table, err)
		}
		// Both read paths go through the same client side check.
		if q.Matches(rec) {
			records = append(records, rec)
		}
	}
	return q.Arrange(records), nil
}

// Render implements store.Connection. It returns the canonical text of the
// request Fetch would send, without the time dependent TTL filter.
func (c *Conn) Render(q *store.Query) (string, error) {
	var b strings.Builder
	if ids, ok := idLookup(q); ok {
		fmt.Fprintf(&b, "BatchGetItem %s id IN %v", q.Table, ids)
	} else {
		expr, ok, err := filterExpression(q.Conditions())
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Scan %s", q.Table)
		switch {
		case !ok:
			b.WriteString(" NONE")
		case !expr.empty():
			b.WriteString(" FILTER " + expr.render())
		}
	}
	for i, o := range q.Orders() {
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(o.Column)
		if o.Desc {
			b.WriteString(" DESC")
		}
	}
	if q.LimitValue() > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.LimitValue())
	}
	if q.OffsetValue() > 0 {
		fmt.Fprintf(&b, " OFFSET %d", q.OffsetValue())
	}
	return b.String(), nil
}

// batchGet loads items by id in chunks of BatchSize, keeping request order.
func (c *Conn) batchGet(ctx context.Context, table string, ids []int64) ([]map[string]types.AttributeValue, error) {
	byID := make(map[int64]map[string]types.AttributeValue, len(ids))
	for start := 0; start < len(ids); start += c.config.BatchSize {
		end := min(start+c.config.BatchSize, len(ids))
		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, idKey(id))
		}

		request := map[string]types.KeysAndAttributes{table: {Keys: keys}}
		for attempt := 0; len(request) > 0; attempt++ {
			if attempt == maxBatchAttempts {
				return nil, fmt.Errorf("batch get %s: %w", table, ErrUnprocessed)
			}
			out, err := c.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, fmt.Errorf("batch get %s: %w", table, describe(err))
			}
			for _, item := range out.Responses[table] {
				if id, ok := itemID(item); ok {
					byID[id] = item
				}
			}
			request = out.UnprocessedKeys
		}
	}

	items := make([]map[string]types.AttributeValue, 0, len(byID))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// scan loads every item matching the query conditions.
func (c *Conn) scan(ctx context.Context, q *store.Query) ([]map[string]types.AttributeValue, error) {
	expr, ok, err := filterExpression(q.Conditions())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if c.config.SoftDelete {
		expr = expr.and(ttlFilter(c.config.TTLAttribute, c.now()))
	}

	input := &dynamodb.ScanInput{TableName: aws.String(q.Table)}
	if !expr.empty() {
		input.FilterExpression = aws.String(expr.text)
		input.ExpressionAttributeNames = expr.names
		if len(expr.values) > 0 {
			input.ExpressionAttributeValues = expr.values
		}
	}

	// Paginate through all results
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Table, describe(err))
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// Insert implements store.Connection. Without an id in values the next counter
// value of the table is used.
func (c *Conn) Insert(ctx context.Context, table string, values store.Record) (int64, error) {
	var id int64
	if raw, ok := values[store.IDColumn]; ok && raw != nil {
		v, ok := store.ToID(raw)
		if !ok {
			return 0, fmt.Errorf("%w: non-integral id %v", store.ErrInvalidArgument, raw)
		}
		id = v
	} else {
		next, err := c.nextID(ctx, table)
		if err != nil {
			return 0, err
		}
		id = next
	}

	item, err := attributevalue.MarshalMap(map[string]any(values))
	if err != nil {
		return 0, fmt.Errorf("marshal %s item: %w", table, err)
	}
	item[store.IDColumn] = idValue(id)

	_, err = c.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		ClientRequestToken: aws.String(uuid.NewString()),
		TransactItems: []types.TransactWriteItem{{
			Put: &types.Put{
				TableName:           aws.String(table),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(id)"),
			},
		}},
	})
	if err != nil {
		return 0, mapCreateTransactionError(err, table, id)
	}
	return id, nil
}

// nextID atomically increments and returns the id counter of table.
func (c *Conn) nextID(ctx context.Context, table string) (int64, error) {
	out, err := c.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.config.CounterTable),
		Key: map[string]types.AttributeValue{
			"table": &types.AttributeValueMemberS{Value: table},
		},
		UpdateExpression:         aws.String("ADD #next :one"),
		ExpressionAttributeNames: map[string]string{"#next": "next_id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("next id for %s: %w", table, describe(err))
	}
	n, ok := out.Attributes["next_id"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("next id for %s: counter returned no value", table)
	}
	id, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("next id for %s: %w", table, err)
	}
	return id, nil
}

// Update implements store.Connection. A missing (or soft-deleted) item affects
// no rows.
func (c *Conn) Update(ctx context.Context, table string, id int64, values store.Record) (int64, error) {
	set := make(store.Record, len(values))
	for k, v := range values {
		if k != store.IDColumn {
			set[k] = v
		}
	}
	if len(set) == 0 {
		return 0, nil
	}

	update := expression{
		names:  make(map[string]string),
		values: make(map[string]types.AttributeValue),
	}
	clauses := make([]string, 0, len(set))
	for i, column := range sortedColumns(set) {
		name := fmt.Sprintf("#a%d", i)
		key := fmt.Sprintf(":v%d", i)
		av, err := attributevalue.Marshal(set[column])
		if err != nil {
			return 0, fmt.Errorf("marshal %s.%s: %w", table, column, err)
		}
		update.names[name] = column
		update.values[key] = av
		clauses = append(clauses, name+" = "+key)
	}
	update.text = "SET " + strings.Join(clauses, ", ")

	cond := expression{text: "attribute_exists(id)"}
	if c.config.SoftDelete {
		cond = cond.and(expression{
			text:  "attribute_not_exists(#ttl)",
			names: map[string]string{"#ttl": c.config.TTLAttribute},
		})
	}

	_, err := c.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       idKey(id),
		UpdateExpression:          aws.String(update.text),
		ConditionExpression:       aws.String(cond.text),
		ExpressionAttributeNames:  mergeExprNames(update.names, cond.names),
		ExpressionAttributeValues: update.values,
	})
	if err != nil {
		if isConditionFailure(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("update %s %d: %w", table, id, describe(err))
	}
	return 1, nil
}

// Delete implements store.Connection. With SoftDelete the item gets an expired
// TTL instead of being removed.
func (c *Conn) Delete(ctx context.Context, table string, id int64) error {
	if c.config.SoftDelete {
		return c.setTTL(ctx, table, id, c.now())
	}
	_, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       idKey(id),
	})
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", table, id, describe(err))
	}
	return nil
}

// setTTL marks an item for deletion by setting its TTL.
func (c *Conn) setTTL(ctx context.Context, table string, id int64, at time.Time) error {
	_, err := c.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(table),
		Key:                      idKey(id),
		UpdateExpression:         aws.String("SET #ttl = :now"),
		ConditionExpression:      aws.String("attribute_exists(id) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{"#ttl": c.config.TTLAttribute},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": unixValue(at),
		},
	})

	// Ignore condition failure - missing or already deleted
	if isConditionFailure(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("soft delete %s %d: %w", table, id, describe(err))
	}
	return nil
}

// mapCreateTransactionError maps DynamoDB transaction errors for Insert.
func mapCreateTransactionError(err error, table string, id int64) error {
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return fmt.Errorf("insert %s %d: %w", table, id, ErrAlreadyExists)
			}
		}
	}
	return fmt.Errorf("insert %s %d: %w", table, id, describe(err))
}

// isConditionFailure reports whether err is a failed condition expression.
func isConditionFailure(err error) bool {
	if err == nil {
		return false
	}
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

// describe prefixes service errors with their error code.
func describe(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultServer {
		return fmt.Errorf("%s (server fault): %w", apiErr.ErrorCode(), err)
	}
	return err
}

func idKey(id int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{store.IDColumn: idValue(id)}
}

func idValue(id int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)}
}

func itemID(item map[string]types.AttributeValue) (int64, bool) {
	n, ok := item[store.IDColumn].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(n.Value, 10, 64)
	return id, err == nil
}
