package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avatarbot/internal/infra/config"
)

func TestEncryptFromArgs(t *testing.T) {
	var out strings.Builder
	require.NoError(t, encryptTo(&out, strings.NewReader(""), []string{"sk-secret"}, "pass"))

	enc := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(enc, "enc:"), enc)

	plain, err := config.DecryptValue(strings.TrimPrefix(enc, "enc:"), "pass")
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", plain)
}

func TestEncryptFromStdin(t *testing.T) {
	var out strings.Builder
	require.NoError(t, encryptTo(&out, strings.NewReader("token-value\r\n"), nil, "pass"))

	plain, err := config.DecryptValue(strings.TrimPrefix(strings.TrimSpace(out.String()), "enc:"), "pass")
	require.NoError(t, err)
	assert.Equal(t, "token-value", plain)
}

func TestEncryptErrors(t *testing.T) {
	var out strings.Builder
	assert.ErrorContains(t, encryptTo(&out, strings.NewReader(""), []string{"x"}, ""), "AVATARBOT_CONFIG_KEY")
	assert.ErrorContains(t, encryptTo(&out, strings.NewReader(""), nil, "pass"), "nothing to encrypt")
	assert.Empty(t, out.String())
}
