package hiveengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBuilder() *Builder {
	return NewBuilder(Token{Symbol: "WAGER", Precision: 3}, "")
}

func TestValidateAccountName(t *testing.T) {
	valid := []string{"alice", "bob-2", "a.b.c", "hive.fund", "abc", "a234567890123456"}
	for _, name := range valid {
		assert.NoError(t, ValidateAccountName(name), name)
	}

	invalid := []string{
		"",
		"ab",                 // too short
		"a2345678901234567",  // too long
		"Alice",              // uppercase
		"3ice",               // leading digit
		"al..ice",            // consecutive separators
		"al.-ice",            // consecutive separators
		".alice",             // leading separator
		"alice.",             // trailing separator
		"al ice",             // whitespace
	}
	for _, name := range invalid {
		assert.Error(t, ValidateAccountName(name), name)
	}
}

func TestValidateQuantity(t *testing.T) {
	b := testBuilder()

	for _, q := range []string{"1", "0.001", "100.5", "42.123"} {
		assert.NoError(t, b.ValidateQuantity(q), q)
	}
	for _, q := range []string{"", "0", "0.000", "-1", "+1", "1.2345", "abc", "1."} {
		assert.Error(t, b.ValidateQuantity(q), q)
	}
}

func TestFormatAmountFloorsToPrecision(t *testing.T) {
	b := testBuilder()

	assert.Equal(t, "180.000", b.FormatAmount(180))
	assert.Equal(t, "0.001", b.FormatAmount(0.0019))
	assert.Equal(t, "33.333", b.FormatAmount(100.0/3.0))
}

func TestTransferRoundTrip(t *testing.T) {
	b := testBuilder()

	op, err := b.Transfer("treasury", "alice", "12.500", "prediction payout")
	require.NoError(t, err)
	require.NoError(t, b.ValidateOperation(op))

	cj, err := b.ToCustomJSON(op)
	require.NoError(t, err)
	assert.Equal(t, DefaultSidechainID, cj.ID)
	assert.Equal(t, []string{"treasury"}, cj.RequiredAuths)
	assert.Empty(t, cj.RequiredPostingAuths)

	parsed, err := b.ParseOperation(cj)
	require.NoError(t, err)
	assert.Equal(t, op.Signer, parsed.Signer)
	assert.Equal(t, op.Contract, parsed.Contract)
	assert.Equal(t, op.Action, parsed.Action)
	assert.JSONEq(t, string(op.Payload), string(parsed.Payload))
	require.NoError(t, b.ValidateOperation(parsed))
}

func TestAllBuildersRoundTrip(t *testing.T) {
	b := testBuilder()

	ops := make([]TokenOperation, 0, 5)

	op, err := b.TransferAmount("treasury", "alice", 180, "payout")
	require.NoError(t, err)
	ops = append(ops, op)

	op, err = b.Stake("alice", "alice", "5.000")
	require.NoError(t, err)
	ops = append(ops, op)

	op, err = b.Unstake("alice", "5.000")
	require.NoError(t, err)
	ops = append(ops, op)

	op, err = b.Delegate("alice", "bob", "2.000")
	require.NoError(t, err)
	ops = append(ops, op)

	op, err = b.CancelUnstake("alice", "9f2c7d0a")
	require.NoError(t, err)
	ops = append(ops, op)

	for _, op := range ops {
		require.NoError(t, b.ValidateOperation(op), op.Action)

		cj, err := b.ToCustomJSON(op)
		require.NoError(t, err, op.Action)

		parsed, err := b.ParseOperation(cj)
		require.NoError(t, err, op.Action)
		assert.Equal(t, op.Signer, parsed.Signer)
		assert.Equal(t, op.Action, parsed.Action)
		assert.JSONEq(t, string(op.Payload), string(parsed.Payload))
	}
}

func TestDelegateRejectsSelfDelegation(t *testing.T) {
	b := testBuilder()
	_, err := b.Delegate("alice", "alice", "1.000")
	require.Error(t, err)
}

func TestCancelUnstakeRejectsEmptyReference(t *testing.T) {
	b := testBuilder()
	_, err := b.CancelUnstake("alice", "  ")
	require.Error(t, err)
}

func TestTransferAmountRejectsNonPositive(t *testing.T) {
	b := testBuilder()
	_, err := b.TransferAmount("treasury", "alice", 0, "")
	require.Error(t, err)
	_, err = b.TransferAmount("treasury", "alice", -1, "")
	require.Error(t, err)
}

func TestBatchTransfer(t *testing.T) {
	b := testBuilder()

	ops, err := b.BatchTransfer("treasury", []TransferSpec{
		{To: "alice", Quantity: "1.000"},
		{To: "bob", Quantity: "2.000", Memo: "refund"},
	})
	require.NoError(t, err)
	require.Len(t, ops, 2)
	for _, op := range ops {
		assert.Equal(t, "treasury", op.Signer)
		assert.Equal(t, ActionTransfer, op.Action)
	}

	_, err = b.BatchTransfer("treasury", nil)
	require.Error(t, err)

	_, err = b.BatchTransfer("treasury", []TransferSpec{
		{To: "alice", Quantity: "1.000"},
		{To: "Bad", Quantity: "1.000"},
	})
	require.Error(t, err)
}
