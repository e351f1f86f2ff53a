package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RejectsEmptyListen(t *testing.T) {
	cfg := Default()
	cfg.Listen = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsDuplicateServerNames(t *testing.T) {
	cfg := Default()
	cfg.Servers = []ServerConfig{
		{Name: "dup", Protocol: "stdio", Command: "true"},
		{Name: "dup", Protocol: "stdio", Command: "true"},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsStdioWithoutCommand(t *testing.T) {
	cfg := Default()
	cfg.Servers = []ServerConfig{{Name: "a", Protocol: "stdio"}}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsHTTPWithoutURL(t *testing.T) {
	cfg := Default()
	cfg.Servers = []ServerConfig{{Name: "a", Protocol: "http"}}
	assert.Error(t, cfg.Validate())
}

func TestValidate_AcceptsWellFormedServers(t *testing.T) {
	cfg := Default()
	cfg.Servers = []ServerConfig{
		{Name: "stdio-srv", Protocol: "stdio", Command: "true"},
		{Name: "http-srv", Protocol: "http", URL: "https://example.com"},
	}
	assert.NoError(t, cfg.Validate())
}

func TestServerConfig_ToUpstreamConfig_MapsProtocolToKind(t *testing.T) {
	sc := ServerConfig{Name: "x", Protocol: "sse", URL: "https://example.com/sse"}
	uc := sc.ToUpstreamConfig()
	assert.Equal(t, "sse", string(uc.Kind))
	assert.Equal(t, "x", uc.Name)
}

func TestAuthConfig_ToRemoteAuth_Bearer(t *testing.T) {
	a := &AuthConfig{Kind: "bearer", Token: "secret"}
	ra := a.ToRemoteAuth()
	require.NotNil(t, ra)
	assert.Equal(t, "secret", ra.Token)
}

func TestAuthConfig_ToRemoteAuth_NilIsNil(t *testing.T) {
	var a *AuthConfig
	assert.Nil(t, a.ToRemoteAuth())
}

func TestLoad_ReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	contents := "listen: \"0.0.0.0:9090\"\nread-only-mode: true\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.Listen)
	assert.True(t, cfg.ReadOnlyMode)
}

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
}
