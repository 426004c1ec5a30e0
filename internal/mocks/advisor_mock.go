package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"reels-pipeline/internal/model"
	"reels-pipeline/internal/oracle"
)

// MockAdvisor is a mock type for the oracle.Advisor type
type MockAdvisor struct {
	mock.Mock
}

// Recommend provides a mock function with given fields: ctx, scenes, styleID, preset
func (_m *MockAdvisor) Recommend(ctx context.Context, scenes []model.Scene, styleID string, preset string) ([]oracle.Advice, error) {
	ret := _m.Called(ctx, scenes, styleID, preset)

	var r0 []oracle.Advice
	if rf, ok := ret.Get(0).(func(context.Context, []model.Scene, string, string) []oracle.Advice); ok {
		r0 = rf(ctx, scenes, styleID, preset)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]oracle.Advice)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, []model.Scene, string, string) error); ok {
		r1 = rf(ctx, scenes, styleID, preset)
	} else {
		err := ret.Error(1)
		if err != nil {
			r1 = err
		}
	}

	return r0, r1
}

// NewMockAdvisor creates a new instance of MockAdvisor. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockAdvisor(t interface {
	mock.TestingT
	Helper()
}) *MockAdvisor {
	m := &MockAdvisor{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ oracle.Advisor = (*MockAdvisor)(nil)
