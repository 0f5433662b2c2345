package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSNS struct {
	mock.Mock
}

func (m *mockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sns.PublishOutput), args.Error(1)
}

func TestSNSPublisherPublish(t *testing.T) {
	client := new(mockSNS)
	pub := NewSNSPublisher(client, "arn:aws:sns:us-east-1:123456789012:docseal")

	client.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		var ev Event
		if err := json.Unmarshal([]byte(aws.ToString(in.Message)), &ev); err != nil {
			return false
		}
		attr := in.MessageAttributes[attributeEventType]
		return aws.ToString(in.TopicArn) == "arn:aws:sns:us-east-1:123456789012:docseal" &&
			ev.Type == TypeBatchCompleted &&
			!ev.OccurredAt.IsZero() &&
			aws.ToString(attr.StringValue) == TypeBatchCompleted
	})).Return(&sns.PublishOutput{MessageId: aws.String("m-1")}, nil)

	err := pub.Publish(context.Background(), Event{Type: TypeBatchCompleted, Data: map[string]any{"total": 3}})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestSNSPublisherWrapsErrors(t *testing.T) {
	client := new(mockSNS)
	pub := NewSNSPublisher(client, "arn")
	boom := errors.New("throttled")
	client.On("Publish", mock.Anything, mock.Anything).Return(nil, boom)

	err := pub.Publish(context.Background(), Event{Type: TypeDocumentsPurged})
	assert.ErrorIs(t, err, boom)
}

func TestNewPublisherWithoutTopicIsNoop(t *testing.T) {
	pub, err := NewPublisher(context.Background(), "us-east-1", "")
	require.NoError(t, err)
	assert.IsType(t, NoopPublisher{}, pub)
	assert.NoError(t, pub.Publish(context.Background(), Event{Type: TypeDocumentSigned}))
}
