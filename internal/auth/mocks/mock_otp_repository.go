// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/holomush/stepup/internal/auth"
)

// MockOTPRepository is a mock implementation of auth.OTPRepository.
type MockOTPRepository struct {
	mock.Mock
}

// NewMockOTPRepository creates a MockOTPRepository that asserts its
// expectations when the test ends.
func NewMockOTPRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockOTPRepository {
	m := &MockOTPRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockOTPRepository) GetBySubject(ctx context.Context, subject string) (*auth.OTPRecord, error) {
	args := m.Called(ctx, subject)
	rec, _ := args.Get(0).(*auth.OTPRecord)
	return rec, args.Error(1)
}

func (m *MockOTPRepository) GetBySubjectAndCode(ctx context.Context, subject, code string) (*auth.OTPRecord, error) {
	args := m.Called(ctx, subject, code)
	rec, _ := args.Get(0).(*auth.OTPRecord)
	return rec, args.Error(1)
}

func (m *MockOTPRepository) Upsert(ctx context.Context, record *auth.OTPRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockOTPRepository) Delete(ctx context.Context, subject string) error {
	args := m.Called(ctx, subject)
	return args.Error(0)
}

func (m *MockOTPRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}
