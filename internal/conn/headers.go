package conn

import "net/http"

// headerTransport injects static headers into every outgoing request.
// Used for HTTP and SSE servers whose registry entries declare headers
// (API keys, tenant ids).
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}

	return t.base.RoundTrip(clone)
}

// httpClientFor returns an http.Client injecting the entry's headers, or
// nil when no headers are configured so the SDK default client is used.
func httpClientFor(headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return nil
	}

	return &http.Client{
		Transport: &headerTransport{
			base:    http.DefaultTransport,
			headers: headers,
		},
	}
}
