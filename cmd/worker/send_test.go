package worker

import (
	"testing"

	"github.com/jmehdipour/newsletter/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildProviders(t *testing.T) {
	cfg := config.Config{Providers: []config.ProviderConfig{
		{Name: "log", Kind: "log", Enabled: true},
		{Name: "relay", Kind: "http", Enabled: true, BaseURL: "http://relay.local/", TimeoutMs: 100},
		{Name: "pm", Kind: "postmark", Enabled: true, Token: "t"},
		{Name: "off", Kind: "http", Enabled: false},
	}}

	provs, err := buildProviders(cfg, nil)
	require.NoError(t, err)
	require.Len(t, provs, 3)
	assert.Equal(t, "log", provs[0].Name())
	assert.Equal(t, "relay", provs[1].Name())
	assert.Equal(t, "pm", provs[2].Name())
	for _, p := range provs {
		assert.True(t, p.Ready())
	}
}

func TestBuildProvidersErrors(t *testing.T) {
	_, err := buildProviders(config.Config{}, nil)
	assert.Error(t, err)

	_, err = buildProviders(config.Config{Providers: []config.ProviderConfig{{Name: "relay", Kind: "http", Enabled: true}}}, nil)
	assert.Error(t, err)

	_, err = buildProviders(config.Config{Providers: []config.ProviderConfig{{Name: "x", Kind: "smtp", Enabled: true}}}, nil)
	assert.Error(t, err)
}
