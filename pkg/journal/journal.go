// Package journal records uploads in a DynamoDB table, one item per engine
// session, so that unfinished multipart uploads can be found and cleaned up
// after a crash.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/eunmann/s3-upload-stream/pkg/upload"
)

// Status values stored in the status attribute.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusAborted    = "aborted"
)

// ErrExists is returned by Begin when the session is already journaled.
var ErrExists = errors.New("journal: session already recorded")

// ErrNotFound is returned by Get for unknown sessions.
var ErrNotFound = errors.New("journal: session not found")

// Entry is one journaled upload.
type Entry struct {
	SessionID  string    `dynamodbav:"session_id"`
	UploadID   string    `dynamodbav:"upload_id"`
	Backend    string    `dynamodbav:"backend"`
	Bucket     string    `dynamodbav:"bucket"`
	Key        string    `dynamodbav:"key"`
	Status     string    `dynamodbav:"status"`
	PartSize   int64     `dynamodbav:"part_size"`
	Bytes      int64     `dynamodbav:"bytes"`
	Parts      int       `dynamodbav:"parts"`
	Location   string    `dynamodbav:"location,omitempty"`
	ETag       string    `dynamodbav:"etag,omitempty"`
	Error      string    `dynamodbav:"error,omitempty"`
	StartedAt  time.Time `dynamodbav:"started_at"`
	FinishedAt time.Time `dynamodbav:"finished_at"`
}

// API is the subset of *dynamodb.Client used by Journal.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Journal writes entries to one table keyed by session_id.
type Journal struct {
	api   API
	table string
	now   func() time.Time
}

// New returns a Journal for table.
func New(api API, table string) (*Journal, error) {
	if table == "" {
		return nil, errors.New("journal: empty table name")
	}
	return &Journal{api: api, table: table, now: time.Now}, nil
}

// Begin records a started engine as in progress.
func (j *Journal) Begin(ctx context.Context, backend string, e *upload.Engine, partSize int64) error {
	dest := e.Destination()
	entry := Entry{
		SessionID: e.SessionID(),
		UploadID:  e.UploadID(),
		Backend:   backend,
		Bucket:    dest.Bucket,
		Key:       dest.Key,
		Status:    StatusInProgress,
		PartSize:  partSize,
		StartedAt: j.now().UTC(),
	}
	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	_, err = j.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(j.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(session_id)"),
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return fmt.Errorf("%w: %s", ErrExists, entry.SessionID)
	}
	if err != nil {
		return fmt.Errorf("put journal entry %s: %w", entry.SessionID, err)
	}
	return nil
}

// Finish marks the session completed or aborted depending on err. The engine
// must be terminal.
func (j *Journal) Finish(ctx context.Context, e *upload.Engine, location, etag string, err error) error {
	st := e.Stats()
	status := StatusCompleted
	errText := ""
	if err != nil {
		status = StatusAborted
		errText = err.Error()
	}

	values, merr := attributevalue.MarshalMap(map[string]any{
		":status":   status,
		":bytes":    st.BytesUploaded,
		":parts":    st.PartsCompleted,
		":location": location,
		":etag":     etag,
		":error":    errText,
		":finished": j.now().UTC(),
		":open":     StatusInProgress,
	})
	if merr != nil {
		return fmt.Errorf("marshal journal update: %w", merr)
	}

	_, uerr := j.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(j.table),
		Key:       sessionKey(e.SessionID()),
		UpdateExpression: aws.String("SET #st = :status, #b = :bytes, parts = :parts, " +
			"#loc = :location, etag = :etag, #err = :error, finished_at = :finished"),
		ConditionExpression: aws.String("#st = :open"),
		ExpressionAttributeNames: map[string]string{
			"#st":  "status",
			"#b":   "bytes",
			"#loc": "location",
			"#err": "error",
		},
		ExpressionAttributeValues: values,
	})
	if uerr != nil {
		return fmt.Errorf("update journal entry %s: %w", e.SessionID(), uerr)
	}
	return nil
}

// Get loads one entry.
func (j *Journal) Get(ctx context.Context, sessionID string) (*Entry, error) {
	out, err := j.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(j.table),
		Key:            sessionKey(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get journal entry %s: %w", sessionID, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	var entry Entry
	if err := attributevalue.UnmarshalMap(out.Item, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal journal entry %s: %w", sessionID, err)
	}
	return &entry, nil
}

func sessionKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"session_id": &types.AttributeValueMemberS{Value: id},
	}
}
