package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/credentials"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/external"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/types"
)

type sftpSession interface {
	ReadDir(dir string) ([]string, error)
	Open(file string) (io.ReadCloser, error)
	Close() error
}

type sftpDialer func(ctx context.Context, host string, acc credentials.Account) (sftpSession, error)

// SFTPAdapter downloads over SFTP with password authentication. Host keys
// are checked against KnownHostsFile when one is configured.
type SFTPAdapter struct {
	dial sftpDialer
}

// NewSFTP returns an SFTPAdapter. An empty knownHostsFile accepts any host
// key.
func NewSFTP(timeout time.Duration, knownHostsFile string) (*SFTPAdapter, error) {
	hostKeys := ssh.InsecureIgnoreHostKey()
	if knownHostsFile != "" {
		cb, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts: %w", err)
		}
		hostKeys = cb
	}
	return &SFTPAdapter{dial: func(ctx context.Context, host string, acc credentials.Account) (sftpSession, error) {
		return dialSFTP(ctx, host, acc, hostKeys, timeout)
	}}, nil
}

func (a *SFTPAdapter) Protocol() string { return "sftp" }

func (a *SFTPAdapter) Fetch(ctx context.Context, run *RunContext, task *FetchTask) (*Transfer, error) {
	if run.Account.Anonymous() {
		return nil, fmt.Errorf("sftp %s: account %q has no credentials", run.Spec.Key, run.Spec.Account)
	}
	sessions := map[string]sftpSession{}
	defer func() {
		for _, s := range sessions {
			s.Close()
		}
	}()
	with := func(ctx context.Context, host string, fn func(sftpSession) error) error {
		s, ok := sessions[host]
		if !ok {
			var err error
			if s, err = a.dial(ctx, host, run.Account); err != nil {
				return err
			}
			sessions[host] = s
		}
		if err := fn(s); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.Close()
				delete(sessions, host)
			}
			return classifySFTP(err)
		}
		return nil
	}

	if run.Spec.TokenPattern != "" {
		resolveTokens(ctx, run, task, func(ctx context.Context, dir string) ([]string, error) {
			u, err := url.Parse(dir)
			if err != nil {
				return nil, external.Permanent(err)
			}
			var names []string
			err = with(ctx, u.Host, func(s sftpSession) error {
				names, err = s.ReadDir(u.Path)
				return err
			})
			return names, err
		})
	}

	return fetchObjects(ctx, run, task, run.MinRawBytes, func(ctx context.Context, obj *RemoteObject, w io.Writer) error {
		u, err := url.Parse(obj.Target())
		if err != nil {
			return external.Permanent(err)
		}
		return with(ctx, u.Host, func(s sftpSession) error {
			f, err := s.Open(u.Path)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(w, f)
			return err
		})
	}), nil
}

func classifySFTP(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return external.Permanent(types.NewAppError(types.ErrCodeUpstreamNotFound, "no such file", err))
	}
	if errors.Is(err, fs.ErrPermission) {
		return external.Permanent(err)
	}
	return err
}

type sftpClient struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (c *sftpClient) ReadDir(dir string) ([]string, error) {
	infos, err := c.sftp.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	return names, nil
}

func (c *sftpClient) Open(file string) (io.ReadCloser, error) { return c.sftp.Open(file) }

func (c *sftpClient) Close() error {
	return errors.Join(c.sftp.Close(), c.ssh.Close())
}

func dialSFTP(ctx context.Context, host string, acc credentials.Account, hostKeys ssh.HostKeyCallback, timeout time.Duration) (sftpSession, error) {
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "22")
	}
	cfg := &ssh.ClientConfig{
		User:            acc.User,
		Auth:            []ssh.AuthMethod{ssh.Password(acc.Password.Unmask())},
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("sftp dial %s: %w", host, err)
	}
	sc, chans, reqs, err := ssh.NewClientConn(conn, host, cfg)
	if err != nil {
		conn.Close()
		return nil, external.Permanent(fmt.Errorf("ssh handshake with %s: %w", host, err))
	}
	client := ssh.NewClient(sc, chans, reqs)
	sf, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, err
	}
	return &sftpClient{ssh: client, sftp: sf}, nil
}
