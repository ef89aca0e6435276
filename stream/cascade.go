// Package stream provides DynamoDB Streams handlers for cascade operations.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/leanmap/dynamo"
	"github.com/jacentio/leanmap/entity"
	"github.com/jacentio/leanmap/store"
)

// Handler processes DynamoDB stream events for cascade deletes.
type Handler struct {
	conn     *dynamo.Conn
	registry *entity.Registry
	ttlAttr  string
	logger   *slog.Logger
}

// NewHandler creates a new stream handler. Child tables are found through the
// HasOne references of registry, entity.Default when nil.
func NewHandler(conn *dynamo.Conn, registry *entity.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = entity.Default
	}
	ttlAttr := dynamo.DefaultConfig().TTLAttribute
	if conn != nil {
		ttlAttr = conn.Config().TTLAttribute
	}
	return &Handler{
		conn:     conn,
		registry: registry,
		ttlAttr:  ttlAttr,
		logger:   logger,
	}
}

// HandleCascadeDelete processes DynamoDB stream events to delete the rows
// referencing deleted items. Soft deletes (TTL newly set) and hard deletes
// (REMOVE) are propagated; each child delete produces its own stream event,
// so deeper levels cascade in later invocations.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleCascadeDelete(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	oldTTL := getNumberAttr(record.Change.OldImage, h.ttlAttr)
	switch record.EventName {
	case "MODIFY":
		// Only when TTL is newly set (was absent/0, now present)
		newTTL := getNumberAttr(record.Change.NewImage, h.ttlAttr)
		if oldTTL != 0 || newTTL == 0 {
			return nil
		}
	case "REMOVE":
		// Expiry of a soft-deleted item was cascaded when its TTL was set
		if oldTTL != 0 {
			return nil
		}
	default:
		return nil
	}

	table := TableFromARN(record.EventSourceArn)
	if table == "" {
		h.logger.Warn("cannot derive table from event source",
			"eventID", record.EventID,
			"arn", record.EventSourceArn,
		)
		return nil
	}

	var id int64
	av, ok := ConvertStreamKey(record.Change.Keys)[store.IDColumn]
	if !ok || attributevalue.Unmarshal(av, &id) != nil {
		h.logger.Warn("stream record without numeric id",
			"eventID", record.EventID,
			"table", table,
		)
		return nil
	}

	refs := h.registry.ChildrenOf(table)
	h.logger.Info("processing cascade delete",
		"table", table,
		"id", id,
		"event", record.EventName,
		"references", len(refs),
	)

	deleted := 0
	for _, ref := range refs {
		// 1. Query live children through this foreign key
		children, err := h.conn.Fetch(ctx, store.NewQuery(ref.Table).Where(ref.Column, store.OpEq, id))
		if err != nil {
			return fmt.Errorf("query children in %s: %w", ref.Table, err)
		}

		// 2. Delete each child (triggers its own cascade via stream)
		for _, child := range children {
			childID, ok := store.ToID(child[store.IDColumn])
			if !ok {
				continue
			}
			if err := h.conn.Delete(ctx, ref.Table, childID); err != nil {
				h.logger.Warn("failed to delete child",
					"table", ref.Table,
					"id", childID,
					"error", err,
				)
				// Continue - idempotent, will retry
				continue
			}
			deleted++
		}
	}

	h.logger.Info("cascade delete completed",
		"table", table,
		"id", id,
		"childrenDeleted", deleted,
	)

	return nil
}

// TableFromARN extracts the table name from a table or stream ARN such as
// "arn:aws:dynamodb:eu-west-1:123456789012:table/book/stream/2024-01-01T00:00:00.000".
func TableFromARN(arn string) string {
	_, resource, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	table, _, _ := strings.Cut(resource, "/")
	return table
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// ConvertStreamKey converts a DynamoDB stream key to an SDK attribute value map.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for k, v := range streamKey {
		switch v.DataType() {
		case events.DataTypeString:
			result[k] = &types.AttributeValueMemberS{Value: v.String()}
		case events.DataTypeNumber:
			result[k] = &types.AttributeValueMemberN{Value: v.Number()}
		case events.DataTypeBinary:
			result[k] = &types.AttributeValueMemberB{Value: v.Binary()}
		}
	}
	return result
}
