package apps

// DefaultApp produces one request per call using parameters['method']
// (default "get"), parameters['path'] (default "/"), and
// parameters['kwargs'] forwarded verbatim (the router sends them as a
// JSON request body).
type DefaultApp struct {
	name   string
	method string
	path   string
	kwargs map[string]any
}

// NewDefaultApp builds the built-in default app from opaque parameters.
func NewDefaultApp(name string, parameters map[string]any) *DefaultApp {
	method := "get"
	if m, ok := parameters["method"].(string); ok && m != "" {
		method = m
	}
	path := "/"
	if p, ok := parameters["path"].(string); ok && p != "" {
		path = p
	}
	var kwargs map[string]any
	if k, ok := parameters["kwargs"].(map[string]any); ok {
		kwargs = k
	} else {
		kwargs = map[string]any{}
	}
	return &DefaultApp{name: name, method: method, path: path, kwargs: kwargs}
}

func (a *DefaultApp) Name() string { return a.name }

func (a *DefaultApp) NextRequest() (AppRequest, error) {
	return AppRequest{AppName: a.name, Method: a.method, Endpoint: a.path, Kwargs: a.kwargs}, nil
}
