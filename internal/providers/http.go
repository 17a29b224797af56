package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"slices"
	"time"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/credentials"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/external"
)

// NewHTTPClient returns the http.Client shared by the HTTP-based adapters.
// Cookies persist for the run, and the Authorization header follows
// redirects to authHosts (single sign-on servers such as
// urs.earthdata.nasa.gov), which net/http otherwise drops.
func NewHTTPClient(timeout time.Duration, authHosts ...string) *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Timeout: timeout,
		Jar:     jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			if auth := via[0].Header.Get("Authorization"); auth != "" && slices.Contains(authHosts, req.URL.Hostname()) {
				req.Header.Set("Authorization", auth)
			}
			return nil
		},
	}
}

// authorize applies the account to req: bearer when it carries a token,
// basic when it carries a user.
func authorize(req *http.Request, acc credentials.Account) {
	switch {
	case !acc.Token.IsZero():
		req.Header.Set("Authorization", "Bearer "+acc.Token.Unmask())
	case acc.User != "":
		req.SetBasicAuth(acc.User, acc.Password.Unmask())
	}
}

// HTTPAdapter downloads files over HTTP(S) through the resilient BaseClient.
type HTTPAdapter struct {
	client external.HTTPDoer
}

// NewHTTP returns an HTTPAdapter using client.
func NewHTTP(client external.HTTPDoer) *HTTPAdapter {
	return &HTTPAdapter{client: client}
}

func (a *HTTPAdapter) Protocol() string { return "http" }

func (a *HTTPAdapter) Fetch(ctx context.Context, run *RunContext, task *FetchTask) (*Transfer, error) {
	return fetchObjects(ctx, run, task, run.MinRawBytes, func(ctx context.Context, obj *RemoteObject, w io.Writer) error {
		return a.get(ctx, run.Account, obj.Target(), w)
	}), nil
}

// get streams url into w. Unavailable archives, rate limits and transport
// errors stay retryable under the run's policy; an open circuit breaker and
// any other non-2xx status are permanent.
func (a *HTTPAdapter) get(ctx context.Context, acc credentials.Account, url string, w io.Writer) error {
	body, err := a.open(ctx, acc, url)
	if err != nil {
		return err
	}
	defer body.Close()
	_, err = io.Copy(w, body)
	return err
}

func (a *HTTPAdapter) open(ctx context.Context, acc credentials.Account, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, external.Permanent(err)
	}
	authorize(req, acc)

	resp, err := a.client.Do(req)
	if err != nil {
		if external.IsBreakerOpen(err) {
			return nil, external.Permanent(err)
		}
		return nil, err
	}
	if err := external.StatusError(resp); err != nil {
		resp.Body.Close()
		if external.Retryable(resp.StatusCode) {
			return nil, err
		}
		return nil, external.Permanent(err)
	}
	return resp.Body, nil
}
