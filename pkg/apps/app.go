// Package apps implements the app loader: request-factory plugins a
// client pulls requests from. An app is registered by name in a Registry
// at startup, and the directory/repository loaders only resolve *which*
// registered plugin a manifest names and with what parameters to
// construct it.
package apps

import "fmt"

// AppRequest is one request a client app wants dispatched.
type AppRequest struct {
	AppName  string
	Method   string
	Endpoint string
	Kwargs   map[string]any
}

// AppClient produces a stream of AppRequest values for a client's request
// generator factory.
type AppClient interface {
	Name() string
	NextRequest() (AppRequest, error)
}

// Plugin constructs an AppClient from manifest-resolved construction
// parameters (the manifest's own fields plus any caller-supplied
// overrides).
type Plugin func(name string, parameters map[string]any) (AppClient, error)

// Registry holds the plugins known to this process, keyed by the name a
// manifest.yml's `generator` field names.
type Registry struct {
	plugins map[string]Plugin
}

// NewRegistry constructs an empty registry with the built-in default app
// pre-registered under "default".
func NewRegistry() *Registry {
	r := &Registry{plugins: make(map[string]Plugin)}
	r.Register("default", func(name string, parameters map[string]any) (AppClient, error) {
		return NewDefaultApp(name, parameters), nil
	})
	return r
}

// Register installs a plugin under name, overwriting any prior
// registration.
func (r *Registry) Register(name string, plugin Plugin) {
	r.plugins[name] = plugin
}

// Build instantiates the plugin registered under name.
func (r *Registry) Build(name string, parameters map[string]any) (AppClient, error) {
	plugin, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: no plugin registered under %q", ErrNotFound, name)
	}
	return plugin(name, parameters)
}
