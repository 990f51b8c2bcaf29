package ethrpc

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vaultsync/internal/ir"
)

func TestBookkeepingABIMethods(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(bookkeepingABI))
	require.NoError(t, err)

	for _, m := range []string{
		methodTrackedCount, methodPending, methodTrackedList,
		methodScanUntracked, methodOwner, methodRecoverBatch, methodResetPending,
	} {
		_, ok := parsed.Methods[m]
		assert.True(t, ok, "missing method %s", m)
	}
	assert.True(t, parsed.Methods[methodTrackedCount].IsConstant())
	assert.False(t, parsed.Methods[methodRecoverBatch].IsConstant())
}

func TestRecoverBatchPacking(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(bookkeepingABI))
	require.NoError(t, err)

	data, err := parsed.Pack(methodRecoverBatch, []*big.Int{toBig(3), toBig(7)})
	require.NoError(t, err)
	assert.Equal(t, parsed.Methods[methodRecoverBatch].ID, data[:4])

	args, err := parsed.Methods[methodRecoverBatch].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	ids := *abi.ConvertType(args[0], new([]*big.Int)).(*[]*big.Int)
	require.Len(t, ids, 2)
	assert.Equal(t, uint64(7), ids[1].Uint64())
}

func TestScanUntrackedOutputDecoding(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(bookkeepingABI))
	require.NoError(t, err)

	packed, err := parsed.Methods[methodScanUntracked].Outputs.Pack([]*big.Int{toBig(11), toBig(12)})
	require.NoError(t, err)
	out, err := parsed.Unpack(methodScanUntracked, packed)
	require.NoError(t, err)

	raw := *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)
	assert.Equal(t, []uint64{11, 12}, []uint64{raw[0].Uint64(), raw[1].Uint64()})
}

func TestAssetLedgerBalanceOf(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(assetLedgerABI))
	require.NoError(t, err)

	holder := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	data, err := parsed.Pack(methodBalanceOf, holder)
	require.NoError(t, err)
	assert.Len(t, data, 4+32)
}

func TestToBig(t *testing.T) {
	assert.Equal(t, "18446744073709551615", toBig(ir.AssetID(^uint64(0))).String())
}

type rpcDataError struct {
	msg  string
	data any
}

func (e rpcDataError) Error() string { return e.msg }
func (e rpcDataError) ErrorData() any { return e.data }

func TestIsRevert(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"revert with data", rpcDataError{msg: "execution reverted", data: "0x08c379a0"}, true},
		{"wrapped revert", fmt.Errorf("estimate: %w", rpcDataError{msg: "reverted", data: "0x"}), true},
		{"revert message only", errors.New("execution reverted: AlreadyTracked"), true},
		{"rpc error without data", rpcDataError{msg: "nonce too low"}, false},
		{"transport failure", errors.New("dial tcp: connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRevert(tt.err))
		})
	}
}
