package apps

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when neither the directory loader nor its
// repository fallback has an app under the requested name.
var ErrNotFound = errors.New("apps: not found")

// Manifest is the minimal manifest.yml shape every app directory must
// provide: a name and the registered plugin it resolves to, plus whatever
// construction parameters the plugin understands.
type Manifest struct {
	Name       string         `yaml:"name"`
	Generator  string         `yaml:"generator"`
	Parameters map[string]any `yaml:"parameters"`
}

// AppInfo is the list() result: a name paired with its manifest.
type AppInfo struct {
	Name     string
	Manifest Manifest
}

// Loader resolves an app by name to a runnable AppClient.
type Loader interface {
	List() ([]AppInfo, error)
	Load(name string, params map[string]any) (AppClient, error)
}

const manifestFile = "manifest.yml"

// DirectoryLoader loads apps from subdirectories of Root, each holding a
// manifest.yml naming a plugin registered in Registry.
type DirectoryLoader struct {
	Root     string
	Registry *Registry
}

// NewDirectoryLoader constructs a loader rooted at root.
func NewDirectoryLoader(root string, registry *Registry) *DirectoryLoader {
	return &DirectoryLoader{Root: root, Registry: registry}
}

func (l *DirectoryLoader) List() ([]AppInfo, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return nil, err
	}

	var result []AppInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifestPath := filepath.Join(l.Root, entry.Name(), manifestFile)
		manifest, err := loadManifest(manifestPath)
		if err != nil {
			continue
		}
		result = append(result, AppInfo{Name: manifest.Name, Manifest: manifest})
	}
	return result, nil
}

func (l *DirectoryLoader) Load(name string, params map[string]any) (AppClient, error) {
	manifestPath := filepath.Join(l.Root, name, manifestFile)
	manifest, err := loadManifest(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("%w: no manifest.yml for %q: %v", ErrNotFound, name, err)
	}

	generator := manifest.Generator
	if generator == "" {
		generator = "default"
	}

	merged := make(map[string]any, len(manifest.Parameters)+len(params))
	for k, v := range manifest.Parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}

	return l.Registry.Build(generator, merged)
}

func loadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	if m.Name == "" {
		return Manifest{}, fmt.Errorf("manifest error: no app name specified in %s", path)
	}
	return m, nil
}

// RepositoryClient fetches app packages from a remote repository.
type RepositoryClient struct {
	BaseURL string
	Client  *http.Client
}

// NewRepositoryClient builds a client against baseURL (e.g.
// "http://apps.example.com").
func NewRepositoryClient(baseURL string) *RepositoryClient {
	return &RepositoryClient{BaseURL: baseURL, Client: &http.Client{}}
}

// Exists checks whether the repository has an app package under name.
func (c *RepositoryClient) Exists(name string) (bool, error) {
	resp, err := c.Client.Head(c.BaseURL + "/api/apps/" + name + "/download")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// DownloadApp fetches the zip for name and extracts it into destRoot/name.
func (c *RepositoryClient) DownloadApp(name, destRoot string) error {
	resp, err := c.Client.Get(c.BaseURL + "/api/apps/" + name + "/download")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("apps: repository returned %d for %q", resp.StatusCode, name)
	}

	tmp, err := os.CreateTemp("", "galileo-app-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return err
	}

	return extractZip(tmp.Name(), filepath.Join(destRoot, name))
}

func extractZip(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	for _, f := range r.File {
		target := filepath.Join(destDir, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("apps: zip entry %q escapes destination directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		dst, err := os.Create(target)
		if err != nil {
			src.Close()
			return err
		}
		_, copyErr := io.Copy(dst, src)
		src.Close()
		dst.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

// RepositoryFallbackLoader tries the directory loader first and falls
// back to downloading the app package from a remote repository on a
// local miss.
type RepositoryFallbackLoader struct {
	Loader *DirectoryLoader
	Repo   *RepositoryClient
}

// NewRepositoryFallbackLoader pairs a directory loader with a repository
// client.
func NewRepositoryFallbackLoader(loader *DirectoryLoader, repo *RepositoryClient) *RepositoryFallbackLoader {
	return &RepositoryFallbackLoader{Loader: loader, Repo: repo}
}

func (l *RepositoryFallbackLoader) List() ([]AppInfo, error) {
	apps := make(map[string]AppInfo)
	// only the local directory is listed; apps held solely by the
	// repository are not included.
	local, err := l.Loader.List()
	if err == nil {
		for _, info := range local {
			apps[info.Name] = info
		}
	}
	result := make([]AppInfo, 0, len(apps))
	for _, info := range apps {
		result = append(result, info)
	}
	return result, nil
}

func (l *RepositoryFallbackLoader) Load(name string, params map[string]any) (AppClient, error) {
	app, err := l.Loader.Load(name, params)
	if err == nil {
		return app, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	exists, existsErr := l.Repo.Exists(name)
	if existsErr != nil || !exists {
		return nil, fmt.Errorf("%w: no app with name %q found", ErrNotFound, name)
	}

	if err := l.Repo.DownloadApp(name, l.Loader.Root); err != nil {
		return nil, err
	}
	return l.Loader.Load(name, params)
}
