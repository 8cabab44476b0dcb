package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, Config{}.Validate())
	require.NoError(t, Config{AddressWidth: Width64}.Validate())
	require.ErrorIs(t, Config{AddressWidth: 8}.Validate(), ErrInvalidConfig)

	assert.Equal(t, 4, Config{}.word())
	assert.Equal(t, 8, Config{AddressWidth: Width64}.word())
}

func TestConfigYAML(t *testing.T) {
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte("address_width: 64\nallow_allocation: true\n"), &cfg))
	assert.Equal(t, Config{AddressWidth: Width64, AllowAllocation: true}, cfg)

	out, err := yaml.Marshal(DefaultConfig())
	require.NoError(t, err)
	assert.Contains(t, string(out), "address_width: 32")
}
