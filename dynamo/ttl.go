package dynamo

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IsDeleted checks if an item has an expired TTL (is marked for deletion).
func IsDeleted(item map[string]types.AttributeValue, attr string) bool {
	return IsDeletedAt(item, attr, time.Now())
}

// IsDeletedAt checks if an item's TTL has expired at now.
func IsDeletedAt(item map[string]types.AttributeValue, attr string, now time.Time) bool {
	ttlAttr, exists := item[attr]
	if !exists {
		return false // No TTL = active
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= now.Unix()
}

// ttlFilter returns the filter expression excluding soft-deleted items, with the
// names and values it references.
func ttlFilter(attr string, now time.Time) expression {
	return expression{
		text:  "(attribute_not_exists(#ttl) OR #ttl > :now)",
		names: map[string]string{"#ttl": attr},
		values: map[string]types.AttributeValue{
			":now": unixValue(now),
		},
	}
}

func unixValue(t time.Time) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}
