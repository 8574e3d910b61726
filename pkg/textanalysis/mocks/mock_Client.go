// Package mocks provides test doubles for the textanalysis client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	textanalysis "github.com/caseward/forensics-cli/pkg/textanalysis"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Annotate provides a mock function with given fields: ctx, texts
func (_m *MockClient) Annotate(ctx context.Context, texts []string) ([]textanalysis.Result, error) {
	ret := _m.Called(ctx, texts)

	if len(ret) == 0 {
		panic("no return value specified for Annotate")
	}

	var r0 []textanalysis.Result
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, []string) ([]textanalysis.Result, error)); ok {
		return rf(ctx, texts)
	}
	if rf, ok := ret.Get(0).(func(context.Context, []string) []textanalysis.Result); ok {
		r0 = rf(ctx, texts)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]textanalysis.Result)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, []string) error); ok {
		r1 = rf(ctx, texts)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Model provides a mock function with no fields
func (_m *MockClient) Model() string {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Model")
	}

	if rf, ok := ret.Get(0).(func() string); ok {
		return rf()
	}
	return ret.String(0)
}

// NewMockClient creates a new instance of MockClient with expectations
// asserted at test cleanup.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
