package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/weftlabs/weft/pkg/metrics"
)

const (
	writeMessageSQL = `SELECT message_store.write_message($1, $2, $3, $4, $5, $6)`

	getStreamMessagesSQL = `
		SELECT id, stream_name, type, position, global_position, data, metadata, time
		FROM message_store.get_stream_messages($1, $2, $3)`

	getCategoryMessagesSQL = `
		SELECT id, stream_name, type, position, global_position, data, metadata, time
		FROM message_store.get_category_messages($1, $2, $3, $4, $5, $6, $7)`

	getLastStreamMessageSQL = `
		SELECT id, stream_name, type, position, global_position, data, metadata, time
		FROM message_store.get_last_stream_message($1)`
)

// WriteMessage appends one message to a stream and returns its position.
// Appends to the same stream serialise on a server-side advisory lock, so
// concurrent writers are totally ordered by position.
func (c *Client) WriteMessage(ctx context.Context, streamName, messageType string, data any, opts *WriteOptions) (int64, error) {
	if err := validateWriteArgs(streamName, messageType); err != nil {
		return 0, err
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal %s data: %w", messageType, err)
	}

	var metadataJSON []byte
	var expected *int64
	if opts != nil {
		expected = opts.ExpectedVersion
		if opts.Metadata != nil {
			metadataJSON, err = json.Marshal(opts.Metadata)
			if err != nil {
				return 0, fmt.Errorf("failed to marshal %s metadata: %w", messageType, err)
			}
		}
	}

	var position int64
	err = c.pool.QueryRow(ctx, writeMessageSQL,
		uuid.New(), streamName, messageType, dataJSON, metadataJSON, expected,
	).Scan(&position)
	if err != nil {
		expectedVersion := int64(-1)
		if expected != nil {
			expectedVersion = *expected
		}
		if ce, ok := asConcurrencyError(err, streamName, expectedVersion); ok {
			metrics.WriteConflicts.Inc()
			return 0, ce
		}
		return 0, fmt.Errorf("failed to write %s to %s: %w", messageType, streamName, err)
	}

	metrics.MessagesWritten.WithLabelValues(messageType).Inc()
	return position, nil
}

// ReadStream returns messages of one stream at or after fromPosition in
// ascending position order.
func (c *Client) ReadStream(ctx context.Context, streamName string, fromPosition, batchSize int64) ([]Message, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	rows, err := c.pool.Query(ctx, getStreamMessagesSQL, streamName, fromPosition, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", streamName, err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan stream %s: %w", streamName, err)
	}
	metrics.MessagesRead.WithLabelValues("stream").Add(float64(len(messages)))
	return messages, nil
}

// ReadCategory returns messages across all streams of a category in
// ascending global-position order.
func (c *Client) ReadCategory(ctx context.Context, category string, fromGlobalPosition, batchSize int64, opts *CategoryOptions) ([]Message, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var correlation, condition *string
	var member, size *int64
	if opts != nil {
		if opts.Correlation != "" {
			correlation = &opts.Correlation
		}
		if opts.Condition != "" {
			condition = &opts.Condition
		}
		member = opts.ConsumerGroupMember
		size = opts.ConsumerGroupSize
	}

	rows, err := c.pool.Query(ctx, getCategoryMessagesSQL,
		category, fromGlobalPosition, batchSize, correlation, member, size, condition)
	if err != nil {
		return nil, fmt.Errorf("failed to read category %s: %w", category, err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan category %s: %w", category, err)
	}
	metrics.MessagesRead.WithLabelValues("category").Add(float64(len(messages)))
	return messages, nil
}

// ReadLastStreamMessage returns the highest-position message of a stream,
// or nil if the stream has no messages.
func (c *Client) ReadLastStreamMessage(ctx context.Context, streamName string) (*Message, error) {
	rows, err := c.pool.Query(ctx, getLastStreamMessageSQL, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to read last message of %s: %w", streamName, err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan last message of %s: %w", streamName, err)
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return &messages[0], nil
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.StreamName, &m.Type, &m.Position,
			&m.GlobalPosition, &m.Data, &m.Metadata, &m.Time); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
