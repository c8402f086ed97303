// Package mocks provides testify mocks for the handler interfaces.
package mocks

import (
	"cloudcode/handler"

	"github.com/stretchr/testify/mock"
)

// MockRegistry is a mock implementation of the Registry interface.
// Use this to test the dispatcher without registering real callbacks.
type MockRegistry struct {
	mock.Mock
}

// Ensure MockRegistry implements handler.Registry
var _ handler.Registry = (*MockRegistry)(nil)

// Lookup mocks a hook, op or timer lookup
func (m *MockRegistry) Lookup(category handler.Category, name string) (handler.Func, bool) {
	args := m.Called(category, name)
	fn, _ := args.Get(0).(handler.Func)
	return fn, args.Bool(1)
}

// LookupHandler mocks a handler lookup
func (m *MockRegistry) LookupHandler(name, method string) (handler.HandlerFunc, bool) {
	args := m.Called(name, method)
	fn, _ := args.Get(0).(handler.HandlerFunc)
	return fn, args.Bool(1)
}

// FuncList mocks the list of registered names
func (m *MockRegistry) FuncList() []string {
	args := m.Called()
	if names, ok := args.Get(0).([]string); ok {
		return names
	}
	return nil
}
