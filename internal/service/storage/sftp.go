package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"detectionapi/internal/config"
	"detectionapi/internal/logger"
)

// SFTPStore uploads artifacts to a remote host whose base path is also served over HTTP.
type SFTPStore struct {
	cfg    config.StorageConfig
	logger *logger.Logger
}

func NewSFTPStore(cfg config.StorageConfig, log *logger.Logger) *SFTPStore {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	return &SFTPStore{cfg: cfg, logger: log}
}

func (s *SFTPStore) Name() string { return config.StorageSFTP }

// sftpConn bundles the client with the SSH connection it runs on.
type sftpConn struct {
	*sftp.Client
	ssh *ssh.Client
}

func (c *sftpConn) Close() error {
	err := c.Client.Close()
	if sshErr := c.ssh.Close(); err == nil {
		err = sshErr
	}
	return err
}

func (s *SFTPStore) connect(ctx context.Context) (*sftpConn, error) {
	type connResult struct {
		conn *sftpConn
		err  error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		// TODO: verify host keys against a known_hosts file once one is configurable.
		sshConfig := &ssh.ClientConfig{
			User:            s.cfg.Username,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         s.cfg.Timeout,
		}

		switch {
		case s.cfg.KeyFile != "":
			key, err := os.ReadFile(s.cfg.KeyFile)
			if err != nil {
				resultChan <- connResult{nil, fmt.Errorf("sftp: failed to read private key: %w", err)}
				return
			}
			signer, err := ssh.ParsePrivateKey(key)
			if err != nil {
				resultChan <- connResult{nil, fmt.Errorf("sftp: failed to parse private key: %w", err)}
				return
			}
			sshConfig.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
		case s.cfg.Password != "":
			sshConfig.Auth = []ssh.AuthMethod{ssh.Password(s.cfg.Password)}
		default:
			resultChan <- connResult{nil, fmt.Errorf("sftp: no authentication method provided")}
			return
		}

		addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
		sshConn, err := ssh.Dial("tcp", addr, sshConfig)
		if err != nil {
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to connect: %w", err)}
			return
		}

		client, err := sftp.NewClient(sshConn)
		if err != nil {
			sshConn.Close()
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to create client: %w", err)}
			return
		}
		resultChan <- connResult{&sftpConn{Client: client, ssh: sshConn}, nil}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if result := <-resultChan; result.conn != nil {
				result.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case result := <-resultChan:
		return result.conn, result.err
	}
}

func (s *SFTPStore) remotePath(key string) string {
	return path.Join("/", s.cfg.Path, key)
}

func (s *SFTPStore) Put(ctx context.Context, key, _ string, r io.Reader) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	conn, err := s.connect(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	target := s.remotePath(key)
	if err := conn.MkdirAll(path.Dir(target)); err != nil {
		return "", fmt.Errorf("sftp: failed to create directory %s: %w", path.Dir(target), err)
	}

	tmp := target + ".part"
	dst, err := conn.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("sftp: failed to create file: %w", err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		_ = conn.Remove(tmp)
		return "", fmt.Errorf("sftp: failed to write file: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = conn.Remove(tmp)
		return "", fmt.Errorf("sftp: failed to close file: %w", err)
	}
	if err := conn.PosixRename(tmp, target); err != nil {
		_ = conn.Remove(tmp)
		return "", fmt.Errorf("sftp: failed to rename file: %w", err)
	}

	s.logger.Debug("Uploaded %s to %s", key, s.cfg.Host)
	return joinURL(s.cfg.PublicBaseURL, key), nil
}

func (s *SFTPStore) Exists(ctx context.Context, key string) (bool, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	_, err = conn.Stat(s.remotePath(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sftp: failed to stat %s: %w", key, err)
	}
	return true, nil
}

func (s *SFTPStore) Delete(ctx context.Context, key string) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Remove(s.remotePath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sftp: failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *SFTPStore) Close() error { return nil }
