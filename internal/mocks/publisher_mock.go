package mocks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"

	"reels-pipeline/internal/messaging"
)

// MockPublisher - мок для messaging.Publisher.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, payload interface{}, correlationID string) error {
	args := m.Called(ctx, payload, correlationID)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// NewMockPublisher создает мок паблишера с проверкой ожиданий при
// завершении теста.
func NewMockPublisher(t *testing.T) *MockPublisher {
	m := &MockPublisher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ messaging.Publisher = (*MockPublisher)(nil)
