package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eunmann/s3-upload-stream/pkg/transport"
	"github.com/eunmann/s3-upload-stream/pkg/transport/memtransport"
	"github.com/eunmann/s3-upload-stream/pkg/upload"
)

// fakeTable understands the two condition expressions Journal uses.
type fakeTable struct {
	items  map[string]map[string]types.AttributeValue
	update *dynamodb.UpdateItemInput
	err    error
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: map[string]map[string]types.AttributeValue{}}
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	id := in.Item["session_id"].(*types.AttributeValueMemberS).Value
	if aws.ToString(in.ConditionExpression) == "attribute_not_exists(session_id)" {
		if _, ok := f.items[id]; ok {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.update = in
	id := in.Key["session_id"].(*types.AttributeValueMemberS).Value
	item, ok := f.items[id]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	open := in.ExpressionAttributeValues[":open"].(*types.AttributeValueMemberS).Value
	if item["status"].(*types.AttributeValueMemberS).Value != open {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("not open")}
	}
	v := in.ExpressionAttributeValues
	item["status"] = v[":status"]
	item["bytes"] = v[":bytes"]
	item["parts"] = v[":parts"]
	item["location"] = v[":location"]
	item["etag"] = v[":etag"]
	item["error"] = v[":error"]
	item["finished_at"] = v[":finished"]
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	id := in.Key["session_id"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[id]}, nil
}

var dest = transport.Destination{Bucket: "bkt", Key: "backups/db.tar"}

func startEngine(t *testing.T) *upload.Engine {
	t.Helper()
	e, err := upload.New(memtransport.New(), dest, upload.Config{})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	return e
}

func fixedJournal(t *testing.T, table *fakeTable) *Journal {
	t.Helper()
	j, err := New(table, "uploads")
	require.NoError(t, err)
	j.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return j
}

func TestBeginAndFinishCompleted(t *testing.T) {
	table := newFakeTable()
	j := fixedJournal(t, table)
	ctx := context.Background()

	e := startEngine(t)
	require.NoError(t, j.Begin(ctx, "s3", e, upload.DefaultPartSize))

	entry, err := j.Get(ctx, e.SessionID())
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, entry.Status)
	assert.Equal(t, e.UploadID(), entry.UploadID)
	assert.Equal(t, "s3", entry.Backend)
	assert.Equal(t, "backups/db.tar", entry.Key)
	assert.Equal(t, upload.DefaultPartSize, entry.PartSize)

	_, err = e.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, e.Close())
	obj, err := e.Result()
	require.NoError(t, err)
	require.NoError(t, j.Finish(ctx, e, obj.Location, obj.ETag, nil))

	entry, err = j.Get(ctx, e.SessionID())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, entry.Status)
	assert.Equal(t, int64(5), entry.Bytes)
	assert.Equal(t, 1, entry.Parts)
	assert.Equal(t, obj.ETag, entry.ETag)
	assert.Empty(t, entry.Error)
	assert.Equal(t, "#st = :open", aws.ToString(table.update.ConditionExpression))

	// A finished entry cannot be finished again.
	err = j.Finish(ctx, e, obj.Location, obj.ETag, nil)
	var condErr *types.ConditionalCheckFailedException
	require.ErrorAs(t, err, &condErr)
}

func TestFinishAborted(t *testing.T) {
	table := newFakeTable()
	j := fixedJournal(t, table)
	ctx := context.Background()

	e := startEngine(t)
	require.NoError(t, j.Begin(ctx, "minio", e, upload.DefaultPartSize))
	abortErr := e.Abort(errors.New("input truncated"))
	require.Error(t, abortErr)
	require.NoError(t, j.Finish(ctx, e, "", "", abortErr))

	entry, err := j.Get(ctx, e.SessionID())
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, entry.Status)
	assert.Contains(t, entry.Error, "input truncated")
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), entry.FinishedAt)
}

func TestBeginTwice(t *testing.T) {
	j := fixedJournal(t, newFakeTable())
	e := startEngine(t)
	require.NoError(t, j.Begin(context.Background(), "s3", e, upload.DefaultPartSize))
	err := j.Begin(context.Background(), "s3", e, upload.DefaultPartSize)
	require.ErrorIs(t, err, ErrExists)
}

func TestGetMissing(t *testing.T) {
	j := fixedJournal(t, newFakeTable())
	_, err := j.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBackendError(t *testing.T) {
	table := newFakeTable()
	table.err = errors.New("ProvisionedThroughputExceeded")
	j := fixedJournal(t, table)

	err := j.Begin(context.Background(), "s3", startEngine(t), upload.DefaultPartSize)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ProvisionedThroughputExceeded")
	assert.NotErrorIs(t, err, ErrExists)
}

func TestNewRequiresTable(t *testing.T) {
	_, err := New(newFakeTable(), "")
	require.Error(t, err)
}
