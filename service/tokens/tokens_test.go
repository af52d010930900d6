package tokens

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	table := Default()
	assert.Equal(t, []string{"ICP", "SOL", "ckBTC", "ckETH", "ckUSDC"}, table.Symbols())

	rule, err := table.Lookup("ICP")
	require.NoError(t, err)
	assert.Equal(t, 8, rule.Decimals)
	assert.Equal(t, "0.00010000", rule.Fee)
	assert.Equal(t, "10000", rule.FeeUnits().String())
	assert.Equal(t, "10000", rule.MinTransferUnits().String())
}

func TestLookupUnknownToken(t *testing.T) {
	_, err := Default().Lookup("DOGE")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownToken)

	_, err = Default().Lookup("icp")
	assert.ErrorIs(t, err, ErrUnknownToken, "lookup is case-sensitive")
}

func TestFeeFor(t *testing.T) {
	tests := []struct {
		name string
		fee  string
		dec  int
		op   OperationKind
		want string
	}{
		{name: "transfer is base fee", fee: "0.0001", dec: 8, op: OpTransfer, want: "10000"},
		{name: "withdraw scales by 1.5", fee: "0.0001", dec: 8, op: OpWithdraw, want: "15000"},
		{name: "deposit is free", fee: "0.0001", dec: 8, op: OpDeposit, want: "0"},
		{name: "odd fee rounds up", fee: "0.00000001", dec: 8, op: OpWithdraw, want: "2"},
		{name: "odd fee of 3 units", fee: "0.00000003", dec: 8, op: OpWithdraw, want: "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := NewTable([]RuleConfig{{Symbol: "TKN", Decimals: tt.dec, MinTransfer: "0", Fee: tt.fee, AddressScheme: SchemeICP}})
			require.NoError(t, err)
			rule, err := table.Lookup("TKN")
			require.NoError(t, err)

			got, err := rule.FeeFor(tt.op)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFeeForUnknownOperation(t *testing.T) {
	rule, err := Default().Lookup("ICP")
	require.NoError(t, err)
	_, err = rule.FeeFor(OperationKind("STAKE"))
	assert.Error(t, err)
}

func TestRuleAccessorsReturnCopies(t *testing.T) {
	rule, err := Default().Lookup("ICP")
	require.NoError(t, err)

	rule.FeeUnits().SetInt64(0)
	rule.MinTransferUnits().SetInt64(0)

	again, err := Default().Lookup("ICP")
	require.NoError(t, err)
	assert.Equal(t, "10000", again.FeeUnits().String())
	assert.Equal(t, "10000", rule.FeeUnits().String())
}

func TestNewTableRejectsBadRules(t *testing.T) {
	valid := RuleConfig{Symbol: "A", Decimals: 8, MinTransfer: "0.1", Fee: "0.01", AddressScheme: SchemeICP}

	tests := []struct {
		name   string
		mutate func(*RuleConfig)
	}{
		{name: "missing symbol", mutate: func(c *RuleConfig) { c.Symbol = "" }},
		{name: "negative decimals", mutate: func(c *RuleConfig) { c.Decimals = -1 }},
		{name: "fee too precise", mutate: func(c *RuleConfig) { c.Fee = "0.000000001" }},
		{name: "bad min transfer", mutate: func(c *RuleConfig) { c.MinTransfer = "1e3" }},
		{name: "unknown scheme", mutate: func(c *RuleConfig) { c.AddressScheme = "bitcoin" }},
		{name: "negative multiplier", mutate: func(c *RuleConfig) { c.FeeMultipliers = map[string]string{"WITHDRAW": "-1"} }},
		{name: "unknown operation", mutate: func(c *RuleConfig) { c.FeeMultipliers = map[string]string{"STAKE": "1"} }},
		{name: "bad multiplier", mutate: func(c *RuleConfig) { c.FeeMultipliers = map[string]string{"WITHDRAW": "x"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := NewTable([]RuleConfig{cfg})
			assert.Error(t, err)
		})
	}

	_, err := NewTable([]RuleConfig{valid, valid})
	assert.ErrorContains(t, err, "duplicate")
}

func TestParseYAML(t *testing.T) {
	doc := []byte(`
tokens:
  - symbol: TKN
    decimals: 6
    min_transfer: "1"
    fee: "0.5"
    address_scheme: evm
    fee_multipliers:
      WITHDRAW: "2"
`)
	table, err := Parse(doc)
	require.NoError(t, err)

	rule, err := table.Lookup("TKN")
	require.NoError(t, err)
	assert.Equal(t, SchemeEVM, rule.AddressScheme)

	fee, err := rule.FeeFor(OpWithdraw)
	require.NoError(t, err)
	assert.Equal(t, "1000000", fee.String())

	fee, err = rule.FeeFor(OpTransfer)
	require.NoError(t, err)
	assert.Equal(t, "500000", fee.String(), "unset multipliers fall back to defaults")

	assert.Equal(t, "2", rule.Config().FeeMultipliers["WITHDRAW"])
}

func TestParseYAMLErrors(t *testing.T) {
	_, err := Parse([]byte("tokens: []"))
	assert.Error(t, err)

	_, err = Parse([]byte("tokens:\n  - symbol: X\n    colour: red\n"))
	assert.Error(t, err, "unknown fields are rejected")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tokens:\n  - symbol: ICP\n    decimals: 8\n    min_transfer: \"0.0001\"\n    fee: \"0.0001\"\n    address_scheme: icp\n"), 0o600))

	table, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ICP"}, table.Symbols())

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	table, err = Load("")
	require.NoError(t, err)
	assert.True(t, table.Has("ckBTC"))
}
