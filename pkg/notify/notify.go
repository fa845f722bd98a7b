// Package notify publishes upload outcome events to an SQS queue so that
// downstream consumers can pick up finished objects.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/eunmann/s3-upload-stream/pkg/transport"
	"github.com/eunmann/s3-upload-stream/pkg/upload"
)

// Event types.
const (
	EventCompleted = "upload_completed"
	EventAborted   = "upload_aborted"
)

// Event is the JSON message body.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	UploadID  string    `json:"upload_id,omitempty"`
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	Location  string    `json:"location,omitempty"`
	ETag      string    `json:"etag,omitempty"`
	Bytes     int64     `json:"bytes"`
	Parts     int       `json:"parts"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// NewEvent describes the terminal outcome of e. It must be called after the
// engine reached a terminal state.
func NewEvent(e *upload.Engine, obj *transport.Object, err error) Event {
	st := e.Stats()
	dest := e.Destination()
	ev := Event{
		Type:      EventCompleted,
		SessionID: e.SessionID(),
		UploadID:  e.UploadID(),
		Bucket:    dest.Bucket,
		Key:       dest.Key,
		Bytes:     st.BytesUploaded,
		Parts:     st.PartsCompleted,
		Time:      time.Now().UTC(),
	}
	if err != nil {
		ev.Type = EventAborted
		ev.Error = err.Error()
		return ev
	}
	if obj != nil {
		ev.Location = obj.Location
		ev.ETag = obj.ETag
	}
	return ev
}

// SQSAPI is the subset of *sqs.Client used by Publisher.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher sends events to one queue.
type Publisher struct {
	api      SQSAPI
	queueURL string
}

// NewPublisher returns a Publisher for queueURL.
func NewPublisher(api SQSAPI, queueURL string) (*Publisher, error) {
	if queueURL == "" {
		return nil, errors.New("notify: empty queue URL")
	}
	return &Publisher{api: api, queueURL: queueURL}, nil
}

// Publish sends ev and returns the SQS message id. The event type is also set
// as the "event" message attribute for subscription filtering.
func (p *Publisher) Publish(ctx context.Context, ev Event) (string, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	out, err := p.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event": {DataType: aws.String("String"), StringValue: aws.String(ev.Type)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("send %s event for %s/%s: %w", ev.Type, ev.Bucket, ev.Key, err)
	}
	return aws.ToString(out.MessageId), nil
}
