package dynamo

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/leanmap/store"
)

// decodeItem converts a DynamoDB item into a record. Top-level numbers become
// int64 when integral and float64 otherwise; everything else decodes the way
// attributevalue does.
func decodeItem(item map[string]types.AttributeValue) (store.Record, error) {
	rec := make(store.Record, len(item))
	for column, av := range item {
		v, err := decodeValue(av)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", column, err)
		}
		rec[column] = v
	}
	return rec, nil
}

func decodeValue(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		return decodeNumber(v.Value)
	case *types.AttributeValueMemberNULL:
		return nil, nil
	}
	var out any
	if err := attributevalue.Unmarshal(av, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeNumber(s string) (any, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, err)
	}
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f), nil
	}
	return f, nil
}

func sortedColumns(rec store.Record) []string {
	return slices.Sorted(maps.Keys(rec))
}
