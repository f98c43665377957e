package chain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWallet(t *testing.T) {
	// 32 bytes of anything non-zero on the curve works.
	priv := strings.Repeat("11", 32)
	w, err := NewWallet(priv)
	require.NoError(t, err)

	addr := w.Address()
	assert.True(t, strings.HasPrefix(addr, "0x"))
	assert.Len(t, addr, 42)
	assert.Equal(t, strings.ToLower(addr), addr)

	// Same key, same address.
	w2, err := NewWallet(priv)
	require.NoError(t, err)
	assert.Equal(t, addr, w2.Address())
}

func TestNewWalletRejects(t *testing.T) {
	_, err := NewWallet("not hex")
	assert.Error(t, err)

	_, err = NewWallet("1234")
	assert.Error(t, err)

	_, err = NewWallet(strings.Repeat("00", 32))
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	w, err := GenerateWallet()
	require.NoError(t, err)

	msg := []byte(`{"from":"0xabc","method":"join","nonce":7}`)
	sig, err := w.Sign(msg)
	require.NoError(t, err)
	assert.Len(t, sig, 64)

	assert.True(t, Verify(w.PubKeyHex(), msg, sig))

	// A different message or a different key must not verify.
	assert.False(t, Verify(w.PubKeyHex(), []byte("tampered"), sig))
	other, err := GenerateWallet()
	require.NoError(t, err)
	assert.False(t, Verify(other.PubKeyHex(), msg, sig))
}

func TestGenerateWalletDistinct(t *testing.T) {
	a, err := GenerateWallet()
	require.NoError(t, err)
	b, err := GenerateWallet()
	require.NoError(t, err)
	assert.NotEqual(t, a.Address(), b.Address())
}
