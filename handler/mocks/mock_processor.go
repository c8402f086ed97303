package mocks

import (
	"context"

	"cloudcode/handler"

	"github.com/stretchr/testify/mock"
)

// MockProcessor is a mock implementation of the Processor interface.
// Use this to test transports without a real dispatcher.
type MockProcessor struct {
	mock.Mock
}

// Ensure MockProcessor implements handler.Processor
var _ handler.Processor = (*MockProcessor)(nil)

// Process mocks envelope processing
func (m *MockProcessor) Process(ctx context.Context, data []byte) ([]byte, error) {
	args := m.Called(ctx, data)
	reply, _ := args.Get(0).([]byte)
	return reply, args.Error(1)
}

// Health mocks the health check
func (m *MockProcessor) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
