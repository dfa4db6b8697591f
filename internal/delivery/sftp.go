package delivery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/livinlefevreloca/relay/internal/stage"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPBackend delivers into a directory on an SFTP server.
type SFTPBackend struct {
	addr       string
	remotePath string
	timeout    time.Duration
	config     *ssh.ClientConfig
}

func NewSFTPBackend(cfg SFTPConfig, logger *slog.Logger) (*SFTPBackend, error) {
	var auth []ssh.AuthMethod
	if cfg.PrivateKeyFile != "" {
		pem, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read sftp private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse sftp private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKeyCallback = cb
	} else {
		logger.Warn("no known_hosts_file configured, sftp host key is not verified", "host", cfg.Host)
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &SFTPBackend{
		addr:       net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		remotePath: cfg.RemotePath,
		timeout:    timeout,
		config: &ssh.ClientConfig{
			User:            cfg.Username,
			Auth:            auth,
			HostKeyCallback: hostKeyCallback,
			Timeout:         timeout,
		},
	}, nil
}

func (b *SFTPBackend) Name() string { return BackendSFTP }

// Connect dials the server and opens an SFTP subsystem. Cancelling ctx tears
// the connection down, which aborts any operation in flight.
func (b *SFTPBackend) Connect(ctx context.Context) (Session, error) {
	dialer := net.Dialer{Timeout: b.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", b.addr)
	if err != nil {
		return nil, stage.Transient(fmt.Errorf("dial %s: %w", b.addr, err))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, b.addr, b.config)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("sftp authentication failed: %w", err)
		}
		return nil, stage.Transient(fmt.Errorf("ssh handshake: %w", err))
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, stage.Transient(fmt.Errorf("open sftp subsystem: %w", err))
	}

	s := newSFTPSession(client, b.remotePath, sshClient.Close)
	s.stop = context.AfterFunc(ctx, func() { s.Close() })
	return s, nil
}

type sftpSession struct {
	client     *sftp.Client
	remotePath string
	closeConn  func() error
	stop       func() bool
	dirReady   bool

	closeOnce sync.Once
	closeErr  error
}

func newSFTPSession(client *sftp.Client, remotePath string, closeConn func() error) *sftpSession {
	return &sftpSession{
		client:     client,
		remotePath: remotePath,
		closeConn:  closeConn,
		stop:       func() bool { return false },
	}
}

func (s *sftpSession) RemotePath(filename string) string {
	return path.Join(s.remotePath, filename)
}

// Exists reports whether a non-empty file is already in place. Exports are
// never empty, so a zero-byte file is a broken transfer and gets replaced.
func (s *sftpSession) Exists(ctx context.Context, filename string) (bool, error) {
	info, err := s.client.Stat(s.RemotePath(filename))
	if err == nil {
		return info.Size() > 0, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, s.wrap(ctx, err)
}

func (s *sftpSession) Upload(ctx context.Context, filename, content string) (string, error) {
	if !s.dirReady {
		if err := s.client.MkdirAll(s.remotePath); err != nil {
			return "", s.wrap(ctx, fmt.Errorf("create remote directory %s: %w", s.remotePath, err))
		}
		s.dirReady = true
	}

	// The file only appears under its final name once it is complete.
	remote := s.RemotePath(filename)
	tmp := s.RemotePath("." + filename + "." + strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + ".part")
	if err := s.write(tmp, content); err != nil {
		s.client.Remove(tmp)
		return "", s.wrap(ctx, err)
	}
	if err := s.rename(tmp, remote); err != nil {
		s.client.Remove(tmp)
		return "", s.wrap(ctx, fmt.Errorf("move %s into place: %w", tmp, err))
	}
	return remote, nil
}

func (s *sftpSession) write(name, content string) error {
	f, err := s.client.Create(name)
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(content)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// rename replaces target atomically where the server supports the
// posix-rename extension; otherwise it removes target first.
func (s *sftpSession) rename(from, target string) error {
	if err := s.client.PosixRename(from, target); err == nil {
		return nil
	}
	if err := s.client.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return s.client.Rename(from, target)
}

// wrap prefers the context error when the session was torn down by
// cancellation; anything else on an open session is a connection problem.
func (s *sftpSession) wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	var status *sftp.StatusError
	if errors.As(err, &status) || errors.Is(err, fs.ErrPermission) {
		return err
	}
	return stage.Transient(err)
}

func (s *sftpSession) Close() error {
	s.closeOnce.Do(func() {
		s.stop()
		s.closeErr = s.client.Close()
		if s.closeConn != nil {
			if err := s.closeConn(); err != nil && s.closeErr == nil && !errors.Is(err, net.ErrClosed) {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}
