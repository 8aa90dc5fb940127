package validation

import (
	"io"
	"math/big"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"propaudit/pkg/models"
)

func newTestValidator(strict bool) *Validator {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewValidator(logger, strict)
}

// validGraph 构造一个满足全部结构约束的最小图
func validGraph() *models.Graph {
	g := models.NewGraph()
	g.AddNode(&models.Node{
		Address: models.RootAddress, Label: models.RootLabel,
		FirstSeenOrder: 0, FirstSeenDepth: 0,
		TotalValueIn: big.NewInt(0), TotalValueOut: big.NewInt(0),
	})
	g.AddNode(&models.Node{
		Address: "0xaaaa000000000000000000000000000000000001", Label: "Unknown(0xaaaa0000)",
		FirstSeenOrder: 1, FirstSeenDepth: 1,
		TotalValueIn: big.NewInt(0), TotalValueOut: big.NewInt(0),
	})
	g.AddNode(&models.Node{
		Address: "0xbbbb000000000000000000000000000000000002", Label: "Unknown(0xbbbb0000)",
		FirstSeenOrder: 2, FirstSeenDepth: 2,
		TotalValueIn: big.NewInt(0), TotalValueOut: big.NewInt(0),
		IsRoot: true,
	})
	g.AddEdge(&models.Edge{
		From: models.RootAddress, To: "0xaaaa000000000000000000000000000000000001",
		Kind: models.EdgeKindRoot, Value: big.NewInt(0), Depth: 1, Order: 1, Succeeded: true,
	})
	g.AddEdge(&models.Edge{
		From: "0xaaaa000000000000000000000000000000000001", To: "0xbbbb000000000000000000000000000000000002",
		Kind: "CALL", Value: big.NewInt(0), Depth: 2, Order: 2, Succeeded: true,
	})
	return g
}

func TestNewValidator(t *testing.T) {
	validator := newTestValidator(true)

	assert.NotNil(t, validator)
	assert.True(t, validator.strictMode)
	assert.Equal(t, 6, len(validator.rules)) // 默认注册的规则数量
}

func TestValidateGraph_Valid(t *testing.T) {
	validator := newTestValidator(false)

	result := validator.ValidateGraph(validGraph())

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateGraph_Nil(t *testing.T) {
	validator := newTestValidator(false)

	result := validator.ValidateGraph(nil)

	assert.False(t, result.Valid)
	assert.Equal(t, "NIL_GRAPH", result.Errors[0].Code)
}

func TestValidateGraph_MissingRoot(t *testing.T) {
	validator := newTestValidator(false)

	g := models.NewGraph()
	g.AddNode(&models.Node{
		Address: "0xaaaa000000000000000000000000000000000001",
		FirstSeenOrder: 1, FirstSeenDepth: 1,
	})

	result := validator.ValidateGraph(g)

	assert.False(t, result.Valid)
	assert.Equal(t, "MISSING_ROOT", result.Errors[0].Code)
}

func TestValidateGraph_EdgeOrderGap(t *testing.T) {
	validator := newTestValidator(false)

	g := validGraph()
	g.Edges[1].Order = 5 // 序号出现空洞

	result := validator.ValidateGraph(g)

	assert.False(t, result.Valid)
	assert.Equal(t, "EDGE_ORDER_GAP", result.Errors[0].Code)
}

func TestValidateGraph_RootEdgeDepth(t *testing.T) {
	validator := newTestValidator(false)

	g := validGraph()
	g.Edges[0].Depth = 2

	result := validator.ValidateGraph(g)

	assert.False(t, result.Valid)
	assert.Equal(t, "ROOT_EDGE_DEPTH", result.Errors[0].Code)
}

func TestValidateGraph_RootInEdge(t *testing.T) {
	validator := newTestValidator(false)

	g := validGraph()
	g.AddEdge(&models.Edge{
		From: "0xbbbb000000000000000000000000000000000002", To: models.RootAddress,
		Kind: "CALL", Value: big.NewInt(0), Depth: 3, Order: 3, Succeeded: true,
	})

	result := validator.ValidateGraph(g)

	assert.False(t, result.Valid)
	assert.Equal(t, "ROOT_IN_EDGE", result.Errors[0].Code)
}

func TestValidateGraph_FailureMarkConflict(t *testing.T) {
	validator := newTestValidator(false)

	g := validGraph()
	g.Edges[1].FailureReason = "execution reverted"
	g.Edges[1].Succeeded = true

	result := validator.ValidateGraph(g)

	assert.False(t, result.Valid)
	assert.Equal(t, "FAILURE_MARK_CONFLICT", result.Errors[0].Code)
}

func TestValidateGraph_InvalidAddress(t *testing.T) {
	validator := newTestValidator(false)

	g := validGraph()
	// 大写地址说明规范化被跳过了
	g.Nodes[2].Address = "0xBBBB000000000000000000000000000000000002"
	g.RebuildIndex()

	result := validator.ValidateGraph(g)

	assert.False(t, result.Valid)
	assert.Equal(t, "INVALID_NODE_ADDRESS", result.Errors[0].Code)
}

func TestValidateGraph_PendingCreatePlaceholderAllowed(t *testing.T) {
	validator := newTestValidator(false)

	g := validGraph()
	g.AddNode(&models.Node{
		Address: models.PendingCreateAddress, Label: "Pending Create",
		FirstSeenOrder: 3, FirstSeenDepth: 3,
	})
	g.AddEdge(&models.Edge{
		From: "0xbbbb000000000000000000000000000000000002", To: models.PendingCreateAddress,
		Kind: "CREATE2", Value: big.NewInt(0), Depth: 3, Order: 3, Succeeded: true,
	})

	result := validator.ValidateGraph(g)

	assert.True(t, result.Valid)
}

func TestValidateGraph_StrictModeWarnings(t *testing.T) {
	validator := newTestValidator(true)

	g := validGraph()
	g.Warnings = append(g.Warnings, "STATICCALL 携带非零value")

	result := validator.ValidateGraph(g)

	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Warnings)
	assert.Empty(t, result.Errors)
}
