// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockAttemptCache is a mock implementation of auth.AttemptCache.
type MockAttemptCache struct {
	mock.Mock
}

// NewMockAttemptCache creates a MockAttemptCache that asserts its
// expectations when the test ends.
func NewMockAttemptCache(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockAttemptCache {
	m := &MockAttemptCache{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockAttemptCache) Increment(ctx context.Context, subject string) (int, error) {
	args := m.Called(ctx, subject)
	return args.Int(0), args.Error(1)
}

func (m *MockAttemptCache) Get(ctx context.Context, subject string) (int, error) {
	args := m.Called(ctx, subject)
	return args.Int(0), args.Error(1)
}

func (m *MockAttemptCache) Reset(ctx context.Context, subject string) error {
	args := m.Called(ctx, subject)
	return args.Error(0)
}

func (m *MockAttemptCache) MarkLimitReached(ctx context.Context, subject string, at time.Time) (time.Time, error) {
	args := m.Called(ctx, subject, at)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockAttemptCache) LimitReachedAt(ctx context.Context, subject string) (time.Time, bool, error) {
	args := m.Called(ctx, subject)
	return args.Get(0).(time.Time), args.Bool(1), args.Error(2)
}
