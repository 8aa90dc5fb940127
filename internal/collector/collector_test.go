package collector

import (
	"context"
	"io"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propaudit/internal/config"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	collector, err := NewCollector(nil, &config.CollectorConfig{
		GovernorAddress: "0x408ED6354d4973f66138C91495F2f2FCbd8724C3",
		BatchSize:       10,
	}, nil, nil, logger)
	require.NoError(t, err)
	return collector
}

// packProposalCreated 按事件ABI编码一条 ProposalCreated 日志
func packProposalCreated(t *testing.T, c *Collector, description string, targets []common.Address, values []*big.Int, calldatas [][]byte) types.Log {
	t.Helper()

	event := c.governorABI.Events["ProposalCreated"]
	data, err := event.Inputs.Pack(
		big.NewInt(42),
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		targets,
		values,
		[]string{""},
		calldatas,
		big.NewInt(18_500_000),
		big.NewInt(18_540_000),
		description,
	)
	require.NoError(t, err)

	return types.Log{
		Address:     c.governor,
		Topics:      []common.Hash{c.eventTopic},
		Data:        data,
		BlockNumber: 18_499_990,
	}
}

func TestParseProposalCreated(t *testing.T) {
	c := newTestCollector(t)

	target := common.HexToAddress("0x2222222222222222222222222222222222222222")
	eventLog := packProposalCreated(t, c,
		"Treasury grant\n\nSend funds to the grants program.",
		[]common.Address{target},
		[]*big.Int{big.NewInt(0)},
		[][]byte{{0xa9, 0x05, 0x9c, 0xbb}},
	)

	proposal, err := c.parseProposalCreated(context.Background(), eventLog)
	require.NoError(t, err)

	assert.Equal(t, "42", proposal.ID)
	assert.Equal(t, "Treasury grant", proposal.Title)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", proposal.Proposer)
	require.Len(t, proposal.Targets, 1)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", proposal.Targets[0])
	require.Len(t, proposal.Calldatas, 1)
	assert.Equal(t, "0xa9059cbb", proposal.Calldatas[0])
	assert.Equal(t, uint64(18_500_000), proposal.StartBlock)
	assert.Equal(t, uint64(18_540_000), proposal.EndBlock)
	assert.Equal(t, uint64(18_499_990), proposal.BlockNumber)
	assert.True(t, proposal.IsExecutable())
}

func TestParseSocialProposal(t *testing.T) {
	// targets为空、values全零、calldatas全空的提案是社交提案
	c := newTestCollector(t)

	eventLog := packProposalCreated(t, c,
		"Temperature check: should we do X?",
		[]common.Address{},
		[]*big.Int{},
		[][]byte{},
	)

	proposal, err := c.parseProposalCreated(context.Background(), eventLog)
	require.NoError(t, err)
	assert.False(t, proposal.IsExecutable())
}

func TestParseProposalCreatedBadData(t *testing.T) {
	c := newTestCollector(t)

	_, err := c.parseProposalCreated(context.Background(), types.Log{Data: []byte{0x01, 0x02}})
	assert.Error(t, err)
}

func TestNewCollectorRequiresGovernor(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	_, err := NewCollector(nil, &config.CollectorConfig{}, nil, nil, logger)
	assert.Error(t, err)
}
