package provider

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hatlonely/rdbx/ref"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProvider(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("a: 1\n"), 0644))

	p, err := NewFileProviderWithOptions(&FileProviderOptions{FilePath: filename})
	require.NoError(t, err)
	data, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, "a: 1\n", string(data))

	_, err = NewFileProviderWithOptions(&FileProviderOptions{})
	assert.Error(t, err)

	p, err = NewFileProviderWithOptions(&FileProviderOptions{FilePath: filename + ".missing"})
	require.NoError(t, err)
	_, err = p.Load()
	assert.Error(t, err)
}

func TestEnvProvider(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(`
# comment
export RDBX_DATABASE__DEFAULT__HOSTNAME="10.0.0.2"
RDBX_DEBUG=true
OTHER=1
`), 0644))

	p, err := NewEnvProviderWithOptions(&EnvProviderOptions{
		Prefix:   "RDBX_",
		EnvFiles: []string{envFile, envFile + ".missing"},
	})
	require.NoError(t, err)
	p.environ = func() []string {
		return []string{"RDBX_DATABASE__DEFAULT__HOSTNAME=10.0.0.1", "RDBX_NAME=app", "HOME=/root"}
	}

	vars, err := p.Vars()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"DATABASE__DEFAULT__HOSTNAME": "10.0.0.2",
		"DEBUG":                       "true",
		"NAME":                        "app",
	}, vars)

	data, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, "DATABASE__DEFAULT__HOSTNAME=10.0.0.2\nDEBUG=true\nNAME=app\n", string(data))
}

func TestNewProviderWithOptions(t *testing.T) {
	p, err := NewProviderWithOptions(&ref.TypeOptions{
		Namespace: "github.com/hatlonely/rdbx/cfg/provider",
		Type:      "EnvProvider",
	})
	require.NoError(t, err)
	assert.IsType(t, &EnvProvider{}, p)
}
