package apps_test

import (
	"archive/zip"
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgerun/galileo-go/pkg/apps"
)

func TestRegistry_BuildDefault(t *testing.T) {
	r := apps.NewRegistry()
	client, err := r.Build("default", map[string]any{"method": "post", "path": "/orders"})
	require.NoError(t, err)
	assert.Equal(t, "default", client.Name())

	req, err := client.NextRequest()
	require.NoError(t, err)
	assert.Equal(t, "post", req.Method)
	assert.Equal(t, "/orders", req.Endpoint)
}

func TestRegistry_BuildUnknown(t *testing.T) {
	r := apps.NewRegistry()
	_, err := r.Build("nonexistent", nil)
	assert.ErrorIs(t, err, apps.ErrNotFound)
}

func TestDefaultApp_Defaults(t *testing.T) {
	app := apps.NewDefaultApp("default", nil)
	req, err := app.NextRequest()
	require.NoError(t, err)
	assert.Equal(t, "get", req.Method)
	assert.Equal(t, "/", req.Endpoint)
	assert.Empty(t, req.Kwargs)
}

func TestDefaultApp_KwargsPassthrough(t *testing.T) {
	app := apps.NewDefaultApp("default", map[string]any{"kwargs": map[string]any{"n": 1}})
	req, err := app.NextRequest()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 1}, req.Kwargs)
}

func writeManifest(t *testing.T, dir, name, body string) {
	t.Helper()
	appDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "manifest.yml"), []byte(body), 0o644))
}

func TestDirectoryLoader_ListAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "checkout", "name: checkout\ngenerator: default\nparameters:\n  path: /checkout\n")

	loader := apps.NewDirectoryLoader(root, apps.NewRegistry())
	infos, err := loader.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "checkout", infos[0].Name)

	client, err := loader.Load("checkout", nil)
	require.NoError(t, err)
	req, err := client.NextRequest()
	require.NoError(t, err)
	assert.Equal(t, "/checkout", req.Endpoint)
}

func TestDirectoryLoader_Load_MissingManifest(t *testing.T) {
	loader := apps.NewDirectoryLoader(t.TempDir(), apps.NewRegistry())
	_, err := loader.Load("ghost", nil)
	assert.ErrorIs(t, err, apps.ErrNotFound)
}

func TestDirectoryLoader_Load_ParamsOverrideManifest(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "checkout", "name: checkout\ngenerator: default\nparameters:\n  path: /checkout\n")

	loader := apps.NewDirectoryLoader(root, apps.NewRegistry())
	client, err := loader.Load("checkout", map[string]any{"path": "/v2/checkout"})
	require.NoError(t, err)
	req, err := client.NextRequest()
	require.NoError(t, err)
	assert.Equal(t, "/v2/checkout", req.Endpoint)
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestRepositoryFallbackLoader_DownloadsOnMiss(t *testing.T) {
	zipData := buildZip(t, map[string]string{
		"manifest.yml": "name: remote\ngenerator: default\nparameters:\n  path: /remote\n",
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(zipData)
	}))
	defer srv.Close()

	root := t.TempDir()
	loader := apps.NewRepositoryFallbackLoader(apps.NewDirectoryLoader(root, apps.NewRegistry()), apps.NewRepositoryClient(srv.URL))

	client, err := loader.Load("remote", nil)
	require.NoError(t, err)
	req, err := client.NextRequest()
	require.NoError(t, err)
	assert.Equal(t, "/remote", req.Endpoint)
}

func TestRepositoryFallbackLoader_NotFoundAnywhere(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	root := t.TempDir()
	loader := apps.NewRepositoryFallbackLoader(apps.NewDirectoryLoader(root, apps.NewRegistry()), apps.NewRepositoryClient(srv.URL))

	_, err := loader.Load("ghost", nil)
	assert.ErrorIs(t, err, apps.ErrNotFound)
}
