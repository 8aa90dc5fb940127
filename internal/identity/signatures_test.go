package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"propaudit/internal/config"
)

func newOfflineSignatureResolver() *SignatureResolver {
	cfg := config.DefaultDecoderConfig()
	cfg.EnableAPI = false
	return NewSignatureResolver(cfg, newTestLogger())
}

func TestResolveSignatureCommonTable(t *testing.T) {
	resolver := newOfflineSignatureResolver()

	assert.Equal(t, "transfer(address,uint256)", resolver.ResolveSignature("0xa9059cbb"))
	assert.Equal(t, "execute(uint256)", resolver.ResolveSignature("0xfe0d94c1"))
	// 大小写不敏感
	assert.Equal(t, "transfer(address,uint256)", resolver.ResolveSignature("0xA9059CBB"))
}

func TestResolveSignatureUnknownSelector(t *testing.T) {
	// API关闭时未知选择器原样返回，描述文本永远有内容可写
	resolver := newOfflineSignatureResolver()

	assert.Equal(t, "0xdeadbeef", resolver.ResolveSignature("0xdeadbeef"))
}

func TestResolveSignatureEmptySelector(t *testing.T) {
	resolver := newOfflineSignatureResolver()

	assert.Equal(t, "", resolver.ResolveSignature(""))
}

func TestFunctionName(t *testing.T) {
	assert.Equal(t, "transfer", FunctionName("transfer(address,uint256)"))
	assert.Equal(t, "execute", FunctionName("execute(uint256)"))
	assert.Equal(t, "0xdeadbeef", FunctionName("0xdeadbeef"))
}
