package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"reels-pipeline/internal/provider"
)

// MockAdapter is a mock type for the provider.Adapter type
type MockAdapter struct {
	mock.Mock
	ProviderID string
}

// Provider provides a mock function returning the configured provider id
func (_m *MockAdapter) Provider() string {
	if _m.ProviderID != "" {
		return _m.ProviderID
	}
	return "mock"
}

// Invoke provides a mock function with given fields: ctx, req
func (_m *MockAdapter) Invoke(ctx context.Context, req provider.Request) (*provider.Result, error) {
	ret := _m.Called(ctx, req)

	var r0 *provider.Result
	if rf, ok := ret.Get(0).(func(context.Context, provider.Request) *provider.Result); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*provider.Result)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, provider.Request) error); ok {
		r1 = rf(ctx, req)
	} else {
		err := ret.Error(1)
		if err != nil {
			r1 = err
		}
	}

	return r0, r1
}

// NewMockAdapter creates a new instance of MockAdapter. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockAdapter(t interface {
	mock.TestingT
	Helper()
}, providerID string) *MockAdapter {
	m := &MockAdapter{ProviderID: providerID}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ provider.Adapter = (*MockAdapter)(nil)
