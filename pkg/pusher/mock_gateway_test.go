package pusher_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

// MockGateway implements gateway.Gateway.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) resp(args mock.Arguments) (*gateway.Response, error) {
	r, _ := args.Get(0).(*gateway.Response)
	return r, args.Error(1)
}

func (m *MockGateway) PushToDevice(ctx context.Context, token string, msg gateway.Message, env gateway.Environment) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, token, msg, env))
}
func (m *MockGateway) PushToAll(ctx context.Context, msg gateway.Message, env gateway.Environment) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, msg, env))
}
func (m *MockGateway) PushToAccount(ctx context.Context, account string, msg gateway.Message, env gateway.Environment) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, account, msg, env))
}
func (m *MockGateway) PushToAccounts(ctx context.Context, accounts []string, msg gateway.Message, env gateway.Environment) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, accounts, msg, env))
}
func (m *MockGateway) PushToTags(ctx context.Context, tags []string, op gateway.Operator, msg gateway.Message, env gateway.Environment) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, tags, op, msg, env))
}
func (m *MockGateway) CreateBatch(ctx context.Context, msg gateway.Message, env gateway.Environment) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, msg, env))
}
func (m *MockGateway) PushBatchToAccounts(ctx context.Context, pushID string, accounts []string) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, pushID, accounts))
}
func (m *MockGateway) PushBatchToDevices(ctx context.Context, pushID string, tokens []string) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, pushID, tokens))
}
func (m *MockGateway) QueryPushStatus(ctx context.Context, pushIDs []string) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, pushIDs))
}
func (m *MockGateway) CancelTimedPush(ctx context.Context, pushID string) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, pushID))
}
func (m *MockGateway) BatchSetTag(ctx context.Context, pairs []gateway.TagTokenPair) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, pairs))
}
func (m *MockGateway) BatchRemoveTag(ctx context.Context, pairs []gateway.TagTokenPair) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, pairs))
}
func (m *MockGateway) QueryTagsForToken(ctx context.Context, token string) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, token))
}
func (m *MockGateway) QueryTokensForAccount(ctx context.Context, account string) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, account))
}
func (m *MockGateway) DeleteTokenOfAccount(ctx context.Context, account, token string) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, account, token))
}
func (m *MockGateway) DeleteAllTokensOfAccount(ctx context.Context, account string) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, account))
}
func (m *MockGateway) QueryDeviceCount(ctx context.Context) (*gateway.Response, error) {
	return m.resp(m.Called(ctx))
}
func (m *MockGateway) QueryTokenInfo(ctx context.Context, token string) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, token))
}
func (m *MockGateway) QueryTagTokenCount(ctx context.Context, tag string) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, tag))
}
func (m *MockGateway) QueryTags(ctx context.Context, start, limit int) (*gateway.Response, error) {
	return m.resp(m.Called(ctx, start, limit))
}

var _ gateway.Gateway = (*MockGateway)(nil)
