package testutil

import (
	"context"
	"io"
	"log/slog"

	"github.com/stretchr/testify/mock"

	"github.com/spounge-ai/auditgate/internal/domain"
)

// MockRemoteClient is a testify mock of domain.RemoteClient.
type MockRemoteClient struct {
	mock.Mock
}

func (m *MockRemoteClient) Invoke(ctx context.Context, operation string, params map[string]any) (any, error) {
	args := m.Called(ctx, operation, params)
	return args.Get(0), args.Error(1)
}

func (m *MockRemoteClient) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockConnector is a testify mock of domain.Connector.
type MockConnector struct {
	mock.Mock
}

func (m *MockConnector) Connect(ctx context.Context, service, region string) (domain.RemoteClient, error) {
	args := m.Called(ctx, service, region)
	client, _ := args.Get(0).(domain.RemoteClient)
	return client, args.Error(1)
}

// ConnectorFor returns a connector that hands out client for any service.
func ConnectorFor(client domain.RemoteClient) *MockConnector {
	c := &MockConnector{}
	c.On("Connect", mock.Anything, mock.Anything, mock.Anything).Return(client, nil)
	return c
}

// DiscardLogger returns a logger that writes nowhere.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
