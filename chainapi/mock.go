package chainapi

import (
	"context"

	"github.com/ruteri/derived-key-session/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockChainAPI mocks the ChainAPI interface
type MockChainAPI struct {
	mock.Mock
}

// AuthorizeDerivedKey mocks the AuthorizeDerivedKey method
func (m *MockChainAPI) AuthorizeDerivedKey(ctx context.Context, rootPublicKey, derivedPublicKey, accessSignature string, expirationBlock uint64, isRevoke bool) (string, error) {
	args := m.Called(ctx, rootPublicKey, derivedPublicKey, accessSignature, expirationBlock, isRevoke)
	return args.String(0), args.Error(1)
}

// AppendExtraData mocks the AppendExtraData method
func (m *MockChainAPI) AppendExtraData(ctx context.Context, unsignedTransactionHex, compressedDerivedPublicKey string) (string, error) {
	args := m.Called(ctx, unsignedTransactionHex, compressedDerivedPublicKey)
	return args.String(0), args.Error(1)
}

// SubmitTransaction mocks the SubmitTransaction method
func (m *MockChainAPI) SubmitTransaction(ctx context.Context, signedTransactionHex string) (interfaces.SubmitAck, error) {
	args := m.Called(ctx, signedTransactionHex)
	return args.Get(0).(interfaces.SubmitAck), args.Error(1)
}

// GetDerivedKeys mocks the GetDerivedKeys method
func (m *MockChainAPI) GetDerivedKeys(ctx context.Context, rootPublicKey string) (map[string]interfaces.DerivedKeyEntry, error) {
	args := m.Called(ctx, rootPublicKey)
	keys, _ := args.Get(0).(map[string]interfaces.DerivedKeyEntry)
	return keys, args.Error(1)
}

// GetBlockHeight mocks the GetBlockHeight method
func (m *MockChainAPI) GetBlockHeight(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}
