package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	kgo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
	"github.com/JakeFAU/heritage-crawler/internal/publisher/kafka"
)

func TestPublishKeysByRecordName(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	writer := NewMockMessageWriter(ctrl)
	pub := kafka.NewWithWriter(writer)

	change := crawler.RecordChange{
		RecordID:  12,
		Name:      "Old Town",
		TaskID:    4,
		TaskKind:  crawler.TaskKindSingle,
		Decision:  "forced",
		UpdatedAt: time.Unix(1700000000, 0).UTC(),
	}

	writer.EXPECT().
		WriteMessages(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msgs ...kgo.Message) error {
			require.Len(t, msgs, 1)
			require.Equal(t, "record-changes", msgs[0].Topic)
			require.Equal(t, "Old Town", string(msgs[0].Key))
			var got crawler.RecordChange
			require.NoError(t, json.Unmarshal(msgs[0].Value, &got))
			require.Equal(t, change, got)
			return nil
		})

	id, err := pub.Publish(context.Background(), "record-changes", change)
	require.NoError(t, err)
	require.Equal(t, "record-changes/Old Town", id)
}

func TestPublishWriteError(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	writer := NewMockMessageWriter(ctrl)
	pub := kafka.NewWithWriter(writer)
	writer.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).Return(errors.New("write failed"))

	_, err := pub.Publish(context.Background(), "record-changes", crawler.RecordChange{Name: "x"})
	require.Error(t, err)
}

func TestPublishRequiresTopic(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	pub := kafka.NewWithWriter(NewMockMessageWriter(ctrl))
	_, err := pub.Publish(context.Background(), "", crawler.RecordChange{})
	require.Error(t, err)
}

func TestNewRequiresBrokers(t *testing.T) {
	_, err := kafka.New(kafka.Config{Brokers: []string{" "}})
	require.Error(t, err)

	pub, err := kafka.New(kafka.Config{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}

// MockMessageWriter is a gomock mock of kafka.MessageWriter.
type MockMessageWriter struct {
	ctrl     *gomock.Controller
	recorder *MockMessageWriterMockRecorder
}

// MockMessageWriterMockRecorder is the mock recorder for MockMessageWriter.
type MockMessageWriterMockRecorder struct {
	mock *MockMessageWriter
}

// NewMockMessageWriter creates a new mock instance.
func NewMockMessageWriter(ctrl *gomock.Controller) *MockMessageWriter {
	mock := &MockMessageWriter{ctrl: ctrl}
	mock.recorder = &MockMessageWriterMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockMessageWriter) EXPECT() *MockMessageWriterMockRecorder {
	return m.recorder
}

// Close mocks base method.
func (m *MockMessageWriter) Close() error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Close")
	ret0, _ := ret[0].(error)
	return ret0
}

// Close indicates an expected call of Close.
func (mr *MockMessageWriterMockRecorder) Close() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Close", reflect.TypeOf((*MockMessageWriter)(nil).Close))
}

// WriteMessages mocks base method.
func (m *MockMessageWriter) WriteMessages(ctx context.Context, msgs ...kgo.Message) error {
	m.ctrl.T.Helper()
	varargs := []interface{}{ctx}
	for _, a := range msgs {
		varargs = append(varargs, a)
	}
	ret := m.ctrl.Call(m, "WriteMessages", varargs...)
	ret0, _ := ret[0].(error)
	return ret0
}

// WriteMessages indicates an expected call of WriteMessages.
func (mr *MockMessageWriterMockRecorder) WriteMessages(ctx interface{}, msgs ...interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	varargs := append([]interface{}{ctx}, msgs...)
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "WriteMessages", reflect.TypeOf((*MockMessageWriter)(nil).WriteMessages), varargs...)
}
