// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/mkndaq/nephostat/internal/config"
)

// PassphraseFunc supplies the passphrase of an encrypted private key
type PassphraseFunc func() (string, error)

// remoteFS is the part of an SFTP client used by Put
type remoteFS interface {
	MkdirAll(dir string) error
	Create(path string) (io.WriteCloser, error)
	Stat(path string) (os.FileInfo, error)
	Close() error
}

// sftpSession is an SFTP client with the connections it runs on
type sftpSession struct {
	*sftp.Client
	ssh   *ssh.Client
	agent io.Closer // nil without an agent
}

func (s *sftpSession) Create(path string) (io.WriteCloser, error) {
	return s.Client.Create(path)
}

func (s *sftpSession) Close() error {
	err := s.Client.Close()
	if cerr := s.ssh.Close(); err == nil {
		err = cerr
	}
	if s.agent != nil {
		s.agent.Close()
	}
	return err
}

// SFTPUploader uploads files over SFTP. The SSH connection is opened on
// first use and kept until Close or until an upload fails with anything
// other than an SFTP status from the server.
type SFTPUploader struct {
	cfg        config.SFTPConfig
	passphrase PassphraseFunc
	log        logrus.FieldLogger
	dial       func(ctx context.Context) (remoteFS, error)

	mu sync.Mutex
	fs remoteFS
}

// NewSFTPUploader creates an uploader for cfg. passphrase may be nil.
func NewSFTPUploader(cfg config.SFTPConfig, passphrase PassphraseFunc, log logrus.FieldLogger) (*SFTPUploader, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("sftp host is required")
	}
	u := &SFTPUploader{cfg: cfg, passphrase: passphrase, log: log}
	u.dial = u.dialSFTP
	return u, nil
}

func (u *SFTPUploader) connect(ctx context.Context) (remoteFS, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.fs != nil {
		return u.fs, nil
	}
	fs, err := u.dial(ctx)
	if err != nil {
		return nil, err
	}
	u.fs = fs
	return fs, nil
}

func (u *SFTPUploader) dialSFTP(ctx context.Context) (remoteFS, error) {
	clientConfig, agentConn, err := u.buildSSHConfig()
	if err != nil {
		return nil, fmt.Errorf("build SSH config: %w", err)
	}
	closeAgent := func() {
		if agentConn != nil {
			agentConn.Close()
		}
	}

	port := u.cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(u.cfg.Host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: clientConfig.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		closeAgent()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		closeAgent()
		return nil, fmt.Errorf("SSH handshake: %w", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		closeAgent()
		return nil, fmt.Errorf("create SFTP client: %w", err)
	}

	u.log.WithField("host", addr).Debug("SFTP connected")
	return &sftpSession{Client: sftpClient, ssh: client, agent: agentConn}, nil
}

// buildSSHConfig returns the client config and the agent connection its
// auth methods use, if any. The caller closes the agent connection.
func (u *SFTPUploader) buildSSHConfig() (*ssh.ClientConfig, net.Conn, error) {
	var authMethods []ssh.AuthMethod

	agentConn, agentAuth := sshAgentAuth()
	if agentAuth != nil {
		authMethods = append(authMethods, agentAuth)
	}
	fail := func(err error) (*ssh.ClientConfig, net.Conn, error) {
		if agentConn != nil {
			agentConn.Close()
		}
		return nil, nil, err
	}

	keyFile := u.cfg.Key
	if keyFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
				candidate := filepath.Join(home, ".ssh", name)
				if _, err := os.Stat(candidate); err == nil {
					keyFile = candidate
					break
				}
			}
		}
	}
	if keyFile != "" {
		keyAuth, err := u.publicKeyAuth(keyFile)
		if err != nil {
			return fail(fmt.Errorf("key file auth: %w", err))
		}
		authMethods = append(authMethods, keyAuth)
	}

	if len(authMethods) == 0 {
		return fail(fmt.Errorf("no authentication methods available"))
	}

	hostKeyCallback, err := u.hostKeyCallback()
	if err != nil {
		return fail(err)
	}

	user := u.cfg.User
	if user == "" {
		user = os.Getenv("USER")
		if user == "" {
			user = os.Getenv("USERNAME")
		}
	}

	timeout := u.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, agentConn, nil
}

func (u *SFTPUploader) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if u.cfg.KnownHosts != "" {
		cb, err := knownhosts.New(u.cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("known hosts: %w", err)
		}
		return cb, nil
	}
	if home, err := os.UserHomeDir(); err == nil {
		defaultKnownHosts := filepath.Join(home, ".ssh", "known_hosts")
		if _, err := os.Stat(defaultKnownHosts); err == nil {
			if cb, err := knownhosts.New(defaultKnownHosts); err == nil {
				return cb, nil
			}
		}
	}
	u.log.Warn("no known_hosts file; accepting any SFTP host key")
	return ssh.InsecureIgnoreHostKey(), nil
}

func (u *SFTPUploader) publicKeyAuth(keyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(key)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && u.passphrase != nil {
		pass, perr := u.passphrase()
		if perr != nil {
			return nil, perr
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(pass))
	}
	if err != nil {
		return nil, err
	}
	return ssh.PublicKeys(signer), nil
}

func sshAgentAuth() (net.Conn, ssh.AuthMethod) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, nil
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, nil
	}
	return conn, ssh.PublicKeysCallback(agent.NewClient(conn).Signers)
}

// Put copies localPath to remotePath, creating remote directories as needed.
// The upload is checked by comparing the remote size with the local size.
func (u *SFTPUploader) Put(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer localFile.Close()

	localInfo, err := localFile.Stat()
	if err != nil {
		return fmt.Errorf("stat local file: %w", err)
	}

	fs, err := u.connect(ctx)
	if err != nil {
		return err
	}
	if err := u.put(fs, localFile, localInfo.Size(), remotePath); err != nil {
		if connectionLost(err) {
			u.reset(fs)
		}
		return err
	}
	return nil
}

var errSizeMismatch = errors.New("size mismatch")

// connectionLost reports whether err may have come from a broken
// connection. Status replies and size checks prove the server answered.
func connectionLost(err error) bool {
	var status *sftp.StatusError
	return !errors.As(err, &status) && !errors.Is(err, errSizeMismatch)
}

func (u *SFTPUploader) put(fs remoteFS, local io.Reader, size int64, remotePath string) error {
	if err := fs.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("create remote directory: %w", err)
	}

	remoteFile, err := fs.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote file: %w", err)
	}
	if _, err := io.Copy(remoteFile, local); err != nil {
		remoteFile.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := remoteFile.Close(); err != nil {
		return fmt.Errorf("close remote file: %w", err)
	}

	remoteInfo, err := fs.Stat(remotePath)
	if err != nil {
		return fmt.Errorf("stat remote file: %w", err)
	}
	if remoteInfo.Size() != size {
		return fmt.Errorf("%w for %s: local %d, remote %d", errSizeMismatch, remotePath, size, remoteInfo.Size())
	}
	return nil
}

// reset drops fs so the next Put reconnects. A connection replaced in the
// meantime is kept.
func (u *SFTPUploader) reset(fs remoteFS) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fs != fs {
		return
	}
	u.log.Debug("SFTP connection reset")
	u.closeLocked()
}

func (u *SFTPUploader) closeLocked() error {
	if u.fs == nil {
		return nil
	}
	err := u.fs.Close()
	u.fs = nil
	return err
}

// Close closes the SFTP session and SSH connection
func (u *SFTPUploader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closeLocked()
}
