package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "fad9c8855b740a0b7ed4c221dbad0f33a83a49cad6b3fe8d5817ac83d38b6a19"

type fixedOwner struct {
	addr  common.Address
	err   error
	calls int
}

func (f *fixedOwner) PrivilegedAddress(context.Context) (common.Address, error) {
	f.calls++
	return f.addr, f.err
}

func TestLoadIdentity(t *testing.T) {
	id, err := LoadIdentity(testKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(id.Key.PublicKey), id.Address)
	assert.NotEqual(t, common.Address{}, id.Address)

	prefixed, err := LoadIdentity("0x" + testKey)
	require.NoError(t, err)
	assert.Equal(t, id.Address, prefixed.Address)
}

func TestLoadIdentityErrors(t *testing.T) {
	_, err := LoadIdentity("  ")
	assert.ErrorIs(t, err, ErrCredentialMissing)

	_, err = LoadIdentity("not-hex")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCredentialMissing)
}

func TestAuthorize(t *testing.T) {
	id, err := LoadIdentity(testKey)
	require.NoError(t, err)
	other := common.HexToAddress("0x00000000000000000000000000000000000000d2")

	tests := []struct {
		name    string
		id      *Identity
		owner   common.Address
		verdict Verdict
		reads   int
	}{
		{"owner", id, id.Address, VerdictAuthorized, 1},
		{"not owner", id, other, VerdictUnauthorized, 1},
		{"missing credential", nil, id.Address, VerdictCredentialMissing, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fixedOwner{addr: tt.owner}
			d, err := NewGate(r).Authorize(context.Background(), tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.verdict, d.Verdict)
			assert.Equal(t, tt.verdict == VerdictAuthorized, d.Allowed())
			assert.Equal(t, tt.reads, r.calls)
		})
	}
}

func TestAuthorizeUnauthorizedCarriesAddresses(t *testing.T) {
	id, err := LoadIdentity(testKey)
	require.NoError(t, err)
	owner := common.HexToAddress("0x00000000000000000000000000000000000000d2")

	d, err := NewGate(&fixedOwner{addr: owner}).Authorize(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id.Address, d.Operator)
	assert.Equal(t, owner, d.Owner)
	assert.Contains(t, d.String(), "is not owner")
}

func TestAuthorizeReadFailure(t *testing.T) {
	id, err := LoadIdentity(testKey)
	require.NoError(t, err)
	boom := errors.New("rpc down")

	_, err = NewGate(&fixedOwner{err: boom}).Authorize(context.Background(), id)
	assert.ErrorIs(t, err, boom)
}
