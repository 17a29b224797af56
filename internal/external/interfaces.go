package external

import "net/http"

// HTTPDoer is the request surface shared by BaseClient and plain
// *http.Client. Adapters depend on it so tests can stub the archive side.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

var (
	_ HTTPDoer = (*BaseClient)(nil)
	_ HTTPDoer = (*http.Client)(nil)
)
