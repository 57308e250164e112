// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/holomush/stepup/internal/auth"
)

// MockAccountDirectory is a mock implementation of auth.AccountDirectory.
type MockAccountDirectory struct {
	mock.Mock
}

// NewMockAccountDirectory creates a MockAccountDirectory that asserts its
// expectations when the test ends.
func NewMockAccountDirectory(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockAccountDirectory {
	m := &MockAccountDirectory{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockAccountDirectory) Exists(ctx context.Context, subject string) (bool, error) {
	args := m.Called(ctx, subject)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccountDirectory) CredentialHash(ctx context.Context, subject string) (string, error) {
	args := m.Called(ctx, subject)
	return args.String(0), args.Error(1)
}

func (m *MockAccountDirectory) Contact(ctx context.Context, subject string) (*auth.Contact, error) {
	args := m.Called(ctx, subject)
	c, _ := args.Get(0).(*auth.Contact)
	return c, args.Error(1)
}
