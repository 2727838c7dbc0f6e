package secret

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestBox_SealOpen(t *testing.T) {
	box, err := NewBox(testKey)
	require.NoError(t, err)

	sealed, err := box.Seal("TempMail123!@#abc")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "TempMail")

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "TempMail123!@#abc", plain)
}

func TestBox_SealUsesFreshNonce(t *testing.T) {
	box, err := NewBox(testKey)
	require.NoError(t, err)

	a, err := box.Seal("same")
	require.NoError(t, err)
	b, err := box.Seal("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestBox_OpenWithWrongKey(t *testing.T) {
	box, err := NewBox(testKey)
	require.NoError(t, err)
	sealed, err := box.Seal("secret")
	require.NoError(t, err)

	other, err := NewBox([]byte(strings.Repeat("x", 32)))
	require.NoError(t, err)

	_, err = other.Open(sealed)
	assert.Error(t, err)
}

func TestNewBox_RejectsShortKey(t *testing.T) {
	_, err := NewBox([]byte("short"))
	assert.Error(t, err)
}
