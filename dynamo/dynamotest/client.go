// Package dynamotest provides an in-memory dynamo.API for tests.
package dynamotest

import (
	"context"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Client is an in-memory dynamo.API. Scan ignores filter expressions and
// returns every item; dynamo.Conn re-checks conditions itself. Every request is
// logged so tests can assert on round trips.
type Client struct {
	Tables   map[string][]map[string]types.AttributeValue
	Counters map[string]int64

	// PageSize splits Scan results into pages when set.
	PageSize int

	// Unprocessed makes the first BatchGetItem call return its last key unprocessed.
	Unprocessed bool

	// FailWith, when set, is returned by every call.
	FailWith error

	BatchGets []*dynamodb.BatchGetItemInput
	Scans     []*dynamodb.ScanInput
	Updates   []*dynamodb.UpdateItemInput
	Deletes   []*dynamodb.DeleteItemInput
	Txs       []*dynamodb.TransactWriteItemsInput
}

// NewClient returns an empty Client.
func NewClient() *Client {
	return &Client{
		Tables:   make(map[string][]map[string]types.AttributeValue),
		Counters: make(map[string]int64),
	}
}

// Seed appends records to table. It panics if a record cannot be marshaled.
func (f *Client) Seed(table string, records ...map[string]any) {
	for _, rec := range records {
		item, err := attributevalue.MarshalMap(rec)
		if err != nil {
			panic("dynamotest: marshal seed: " + err.Error())
		}
		f.Tables[table] = append(f.Tables[table], item)
	}
}

func (f *Client) find(table string, key map[string]types.AttributeValue) (int, bool) {
	want := key["id"].(*types.AttributeValueMemberN).Value
	for i, item := range f.Tables[table] {
		if n, ok := item["id"].(*types.AttributeValueMemberN); ok && n.Value == want {
			return i, true
		}
	}
	return -1, false
}

// BatchGetItem implements dynamo.API.
func (f *Client) BatchGetItem(_ context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.BatchGets = append(f.BatchGets, in)
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	out := &dynamodb.BatchGetItemOutput{
		Responses:       make(map[string][]map[string]types.AttributeValue),
		UnprocessedKeys: make(map[string]types.KeysAndAttributes),
	}
	for table, ka := range in.RequestItems {
		keys := ka.Keys
		if f.Unprocessed && len(keys) > 1 {
			f.Unprocessed = false
			out.UnprocessedKeys[table] = types.KeysAndAttributes{Keys: keys[len(keys)-1:]}
			keys = keys[:len(keys)-1]
		}
		// Reverse to show that response order is not request order.
		for i := len(keys) - 1; i >= 0; i-- {
			if idx, ok := f.find(table, keys[i]); ok {
				out.Responses[table] = append(out.Responses[table], f.Tables[table][idx])
			}
		}
	}
	return out, nil
}

// Scan implements dynamo.API.
func (f *Client) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.Scans = append(f.Scans, in)
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	items := f.Tables[aws.ToString(in.TableName)]
	start := 0
	if in.ExclusiveStartKey != nil {
		n := in.ExclusiveStartKey["offset"].(*types.AttributeValueMemberN)
		start, _ = strconv.Atoi(n.Value)
	}
	end := len(items)
	if f.PageSize > 0 && start+f.PageSize < end {
		end = start + f.PageSize
	}
	out := &dynamodb.ScanOutput{Items: items[start:end]}
	if end < len(items) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"offset": &types.AttributeValueMemberN{Value: strconv.Itoa(end)},
		}
	}
	return out, nil
}

// UpdateItem implements dynamo.API.
func (f *Client) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.Updates = append(f.Updates, in)
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	table := aws.ToString(in.TableName)
	expr := aws.ToString(in.UpdateExpression)

	if strings.HasPrefix(expr, "ADD ") {
		counter := in.Key["table"].(*types.AttributeValueMemberS).Value
		f.Counters[counter]++
		return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
			"next_id": &types.AttributeValueMemberN{Value: strconv.FormatInt(f.Counters[counter], 10)},
		}}, nil
	}

	idx, ok := f.find(table, in.Key)
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	item := f.Tables[table][idx]
	if cond := aws.ToString(in.ConditionExpression); strings.Contains(cond, "attribute_not_exists(#ttl)") {
		if _, deleted := item[in.ExpressionAttributeNames["#ttl"]]; deleted {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("deleted")}
		}
	}
	for _, clause := range strings.Split(strings.TrimPrefix(expr, "SET "), ", ") {
		name, key, _ := strings.Cut(clause, " = ")
		item[in.ExpressionAttributeNames[name]] = in.ExpressionAttributeValues[key]
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

// DeleteItem implements dynamo.API.
func (f *Client) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.Deletes = append(f.Deletes, in)
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	table := aws.ToString(in.TableName)
	if idx, ok := f.find(table, in.Key); ok {
		f.Tables[table] = append(f.Tables[table][:idx], f.Tables[table][idx+1:]...)
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

// TransactWriteItems implements dynamo.API.
func (f *Client) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.Txs = append(f.Txs, in)
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	for _, ti := range in.TransactItems {
		table := aws.ToString(ti.Put.TableName)
		if _, exists := f.find(table, ti.Put.Item); exists {
			return nil, &types.TransactionCanceledException{
				Message: aws.String("Transaction cancelled"),
				CancellationReasons: []types.CancellationReason{
					{Code: aws.String("ConditionalCheckFailed")},
				},
			}
		}
	}
	for _, ti := range in.TransactItems {
		table := aws.ToString(ti.Put.TableName)
		f.Tables[table] = append(f.Tables[table], ti.Put.Item)
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

