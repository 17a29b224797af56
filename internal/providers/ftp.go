package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"path"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/credentials"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/external"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

// ftpSession is the subset of an FTP control connection the adapter uses.
type ftpSession interface {
	NameList(dir string) ([]string, error)
	Retr(file string) (io.ReadCloser, error)
	Quit() error
}

// ftpDialer opens a logged-in session with host.
type ftpDialer func(ctx context.Context, host string, acc credentials.Account) (ftpSession, error)

// FTPAdapter downloads from FTP archives. One control connection is kept per
// task and re-opened after any failure.
type FTPAdapter struct {
	dial ftpDialer
}

// NewFTP returns an FTPAdapter dialling with timeout.
func NewFTP(timeout time.Duration) *FTPAdapter {
	return &FTPAdapter{dial: func(ctx context.Context, host string, acc credentials.Account) (ftpSession, error) {
		return dialFTP(ctx, host, acc, timeout)
	}}
}

func (a *FTPAdapter) Protocol() string { return "ftp" }

func (a *FTPAdapter) Fetch(ctx context.Context, run *RunContext, task *FetchTask) (*Transfer, error) {
	conns := &ftpConns{dial: a.dial, acc: run.Account, open: map[string]ftpSession{}}
	defer conns.close()

	if run.Spec.TokenPattern != "" {
		resolveTokens(ctx, run, task, func(ctx context.Context, dir string) ([]string, error) {
			u, err := url.Parse(dir)
			if err != nil {
				return nil, external.Permanent(err)
			}
			var names []string
			err = conns.with(ctx, u.Host, func(s ftpSession) error {
				var err error
				names, err = s.NameList(u.Path)
				return err
			})
			for i := range names {
				names[i] = path.Base(names[i])
			}
			return names, err
		})
	}

	return fetchObjects(ctx, run, task, run.MinRawBytes, func(ctx context.Context, obj *RemoteObject, w io.Writer) error {
		u, err := url.Parse(obj.Target())
		if err != nil {
			return external.Permanent(err)
		}
		return conns.with(ctx, u.Host, func(s ftpSession) error {
			r, err := s.Retr(u.Path)
			if err != nil {
				return err
			}
			defer r.Close()
			_, err = io.Copy(w, r)
			return err
		})
	}), nil
}

// ftpConns caches one session per host for the lifetime of a task.
type ftpConns struct {
	dial ftpDialer
	acc  credentials.Account
	open map[string]ftpSession
}

func (c *ftpConns) with(ctx context.Context, host string, fn func(ftpSession) error) error {
	s, ok := c.open[host]
	if !ok {
		var err error
		s, err = c.dial(ctx, host, c.acc)
		if err != nil {
			return classifyFTP(err)
		}
		c.open[host] = s
	}
	if err := fn(s); err != nil {
		s.Quit()
		delete(c.open, host)
		return classifyFTP(err)
	}
	return nil
}

func (c *ftpConns) close() {
	for host, s := range c.open {
		s.Quit()
		delete(c.open, host)
	}
}

// classifyFTP makes missing files and refused logins permanent. Transient
// 4xx replies and network errors stay retryable.
func classifyFTP(err error) error {
	var tp *textproto.Error
	if !errors.As(err, &tp) {
		return err
	}
	switch {
	case tp.Code == ftp.StatusFileUnavailable:
		return external.Permanent(types.NewAppError(types.ErrCodeUpstreamNotFound, tp.Msg, err))
	case tp.Code == ftp.StatusNotLoggedIn:
		return external.Permanent(types.NewAppError(types.ErrCodeTransferFailed, "ftp login refused", err))
	case tp.Code >= 500:
		return external.Permanent(err)
	}
	return err
}

type ftpConn struct{ *ftp.ServerConn }

func (c ftpConn) Retr(file string) (io.ReadCloser, error) { return c.ServerConn.Retr(file) }

func dialFTP(ctx context.Context, host string, acc credentials.Account, timeout time.Duration) (ftpSession, error) {
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "21")
	}
	c, err := ftp.Dial(host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("ftp dial %s: %w", host, err)
	}
	user, pass := "anonymous", "anonymous"
	if !acc.Anonymous() {
		user, pass = acc.User, acc.Password.Unmask()
	}
	if err := c.Login(user, pass); err != nil {
		c.Quit()
		return nil, err
	}
	return ftpConn{c}, nil
}
