package providers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
)

const tokenMark = "\x00"

// tokenRegexp matches the remote filename of obj with the provider token
// captured by spec.TokenPattern.
func tokenRegexp(spec *registry.ProductSpec, obj *RemoteObject) (*regexp.Regexp, error) {
	tok := obj.Tokens
	tok.Token = tokenMark
	quoted := regexp.QuoteMeta(spec.RemoteName(tok))
	return regexp.Compile("^" + strings.ReplaceAll(quoted, tokenMark, "("+spec.TokenPattern+")") + "$")
}

// matchToken returns the token of the best match of re among names. Several
// matches mean several productions of the same file; the greatest token is
// the latest and wins.
func matchToken(re *regexp.Regexp, names []string) (string, bool) {
	best, found := "", false
	for _, n := range names {
		m := re.FindStringSubmatch(n)
		if m == nil {
			continue
		}
		if !found || m[1] > best {
			best, found = m[1], true
		}
	}
	return best, found
}

// lister returns the entry names below a rendered URL.
type lister func(ctx context.Context, url string) ([]string, error)

// resolveTokens completes the filenames of task objects that carry a token,
// listing each distinct URL once. Objects left unresolved fail in
// fetchObjects with ErrNoToken or with the listing error.
func resolveTokens(ctx context.Context, run *RunContext, task *FetchTask, list lister) {
	spec := run.Spec
	listings := make(map[string][]string)
	failures := make(map[string]error)

	for i := range task.Objects {
		obj := &task.Objects[i]
		if obj.Resolved() {
			continue
		}
		if err, ok := failures[obj.URL]; ok {
			obj.resolveErr = err
			continue
		}
		names, ok := listings[obj.URL]
		if !ok {
			err := run.Retry.Do(ctx, obj.URL, func(ctx context.Context) error {
				var err error
				names, err = list(ctx, obj.URL)
				return err
			})
			if err != nil {
				run.Log().WarnContext(ctx, "listing failed", "url", obj.URL, "error", err)
				failures[obj.URL] = err
				obj.resolveErr = err
				continue
			}
			listings[obj.URL] = names
		}

		re, err := tokenRegexp(spec, obj)
		if err != nil {
			obj.resolveErr = fmt.Errorf("token pattern: %w", err)
			continue
		}
		if token, ok := matchToken(re, names); ok {
			obj.Resolve(spec, run.Workspace.Remote, token)
		}
	}
}
