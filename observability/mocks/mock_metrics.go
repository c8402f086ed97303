package mocks

import (
	"github.com/stretchr/testify/mock"
)

// MockMetrics is a mock implementation of Metrics interface
type MockMetrics struct {
	mock.Mock
}

// RecordSuccess mocks the RecordSuccess method
func (m *MockMetrics) RecordSuccess(kind string) {
	m.Called(kind)
}

// RecordError mocks the RecordError method
func (m *MockMetrics) RecordError(kind string, errorType string) {
	m.Called(kind, errorType)
}

// RecordDuration mocks the RecordDuration method
func (m *MockMetrics) RecordDuration(kind string, duration float64) {
	m.Called(kind, duration)
}

// RecordBodySize mocks the RecordBodySize method
func (m *MockMetrics) RecordBodySize(direction string, bytes int64) {
	m.Called(direction, bytes)
}

// StartOperation mocks the StartOperation method
func (m *MockMetrics) StartOperation(kind string) {
	m.Called(kind)
}

// EndOperation mocks the EndOperation method
func (m *MockMetrics) EndOperation(kind string) {
	m.Called(kind)
}

// AllowAll registers permissive expectations for every method.
func (m *MockMetrics) AllowAll() *MockMetrics {
	m.On("RecordSuccess", mock.Anything).Maybe()
	m.On("RecordError", mock.Anything, mock.Anything).Maybe()
	m.On("RecordDuration", mock.Anything, mock.Anything).Maybe()
	m.On("RecordBodySize", mock.Anything, mock.Anything).Maybe()
	m.On("StartOperation", mock.Anything).Maybe()
	m.On("EndOperation", mock.Anything).Maybe()
	return m
}
