package mocks

import (
	"cloudcode/observability/types"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of Provider interface
type MockProvider struct {
	mock.Mock
}

// NewQuietProvider returns a provider whose logger and metrics accept any call.
func NewQuietProvider() *MockProvider {
	p := new(MockProvider)
	p.On("Logger", mock.Anything).Return(new(MockLogger).AllowAll()).Maybe()
	p.On("Metrics", mock.Anything).Return(new(MockMetrics).AllowAll()).Maybe()
	p.On("Close").Return(nil).Maybe()
	return p
}

// Logger mocks the Logger method
func (m *MockProvider) Logger(component string) types.Logger {
	args := m.Called(component)
	if logger, ok := args.Get(0).(types.Logger); ok {
		return logger
	}
	return nil
}

// Metrics mocks the Metrics method
func (m *MockProvider) Metrics(component string) types.Metrics {
	args := m.Called(component)
	if metrics, ok := args.Get(0).(types.Metrics); ok {
		return metrics
	}
	return nil
}

// Close mocks the Close method
func (m *MockProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}
