package evmevents

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTransferTopic() common.Hash {
	addrTy, _ := abi.NewType("address", "", nil)
	uintTy, _ := abi.NewType("uint256", "", nil)
	args := abi.Arguments{
		{Name: "arg0", Type: addrTy, Indexed: true},
		{Name: "arg1", Type: addrTy, Indexed: true},
		{Name: "arg2", Type: uintTy, Indexed: false},
	}
	ev := abi.NewEvent("Transfer", "Transfer", false, args)
	return ev.ID
}

func TestDecodeLogsTransfer(t *testing.T) {
	from := common.HexToAddress("0x0000000000000000000000000000000000000001")
	to := common.HexToAddress("0x0000000000000000000000000000000000000002")
	amountType, _ := abi.NewType("uint256", "", nil)
	data, err := abi.Arguments{{Type: amountType}}.Pack(big.NewInt(1000))
	require.NoError(t, err)

	log := Log{
		Address: common.HexToAddress("0x0000000000000000000000000000000000000003"),
		Topics:  []common.Hash{mustTransferTopic(), from.Hash(), to.Hash()},
		Data:    data,
		Index:   3,
	}

	d := NewDecoder(nil)
	events := d.DecodeLogs([]Log{log})
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "Transfer", ev.Name)
	assert.Equal(t, uint64(3), ev.Ordinal)
	require.Len(t, ev.Fields, 3)
	assert.Equal(t, "arg0", ev.Fields[0].Name)
	assert.Equal(t, to.Hex(), ev.Fields[1].Value)
	assert.Equal(t, "1000", ev.Fields[2].Value)
}

func TestDecodeLogsSortsByOrdinal(t *testing.T) {
	from := common.HexToAddress("0x0000000000000000000000000000000000000001")
	to := common.HexToAddress("0x0000000000000000000000000000000000000002")
	amountType, _ := abi.NewType("uint256", "", nil)
	data, _ := abi.Arguments{{Type: amountType}}.Pack(big.NewInt(1))

	logHigh := Log{Address: common.Address{}, Topics: []common.Hash{mustTransferTopic(), from.Hash(), to.Hash()}, Data: data, Index: 5}
	logLow := Log{Address: common.Address{}, Topics: []common.Hash{mustTransferTopic(), from.Hash(), to.Hash()}, Data: data, Index: 1}

	d := NewDecoder(nil)
	events := d.DecodeLogs([]Log{logHigh, logLow})
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Ordinal)
	assert.Equal(t, uint64(5), events[1].Ordinal)
}

func TestDecodeLogsSkipsUncatalogued(t *testing.T) {
	log := Log{
		Address: common.Address{},
		Topics:  []common.Hash{common.HexToHash("0xdeadbeef")},
		Data:    nil,
		Index:   0,
	}
	d := NewDecoder(nil)
	events := d.DecodeLogs([]Log{log})
	assert.Empty(t, events)
}

func TestDecodeLogsEmptyTopicsSkipped(t *testing.T) {
	d := NewDecoder(nil)
	events := d.DecodeLogs([]Log{{Topics: nil}})
	assert.Empty(t, events)
}
