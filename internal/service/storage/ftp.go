package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"path"
	"strings"

	"github.com/jlaffaye/ftp"

	"detectionapi/internal/config"
	"detectionapi/internal/logger"
)

// ftpConn is the subset of *ftp.ServerConn the store uses.
type ftpConn interface {
	ChangeDir(path string) error
	MakeDir(path string) error
	Stor(path string, r io.Reader) error
	Rename(from, to string) error
	Delete(path string) error
	List(path string) ([]*ftp.Entry, error)
	Quit() error
}

// FTPStore uploads artifacts to an FTP server whose base path is also served over HTTP.
type FTPStore struct {
	cfg    config.StorageConfig
	logger *logger.Logger
	dial   func(ctx context.Context) (ftpConn, error)
}

func NewFTPStore(cfg config.StorageConfig, log *logger.Logger) *FTPStore {
	if cfg.Port == 0 {
		cfg.Port = 21
	}
	s := &FTPStore{cfg: cfg, logger: log}
	s.dial = s.connect
	return s
}

func (s *FTPStore) Name() string { return config.StorageFTP }

func (s *FTPStore) connect(ctx context.Context) (ftpConn, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(s.cfg.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp: connection failed: %w", err)
	}

	if s.cfg.Username != "" {
		if err := conn.Login(s.cfg.Username, s.cfg.Password); err != nil {
			if quitErr := conn.Quit(); quitErr != nil {
				s.logger.Warning("ftp: failed to quit after login error: %v", quitErr)
			}
			return nil, fmt.Errorf("ftp: login failed: %w", err)
		}
	}
	return conn, nil
}

func (s *FTPStore) remotePath(key string) string {
	return path.Join("/", s.cfg.Path, key)
}

// makeDirs creates each component of dir, ignoring "already exists" replies.
func (s *FTPStore) makeDirs(conn ftpConn, dir string) error {
	current := ""
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		current += "/" + part
		if err := conn.ChangeDir(current); err == nil {
			continue
		}
		if err := conn.MakeDir(current); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "exists") || isUnavailable(err) {
				continue
			}
			return fmt.Errorf("ftp: failed to create directory %s: %w", current, err)
		}
	}
	return nil
}

func (s *FTPStore) Put(ctx context.Context, key, _ string, r io.Reader) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	conn, err := s.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Quit()

	target := s.remotePath(key)
	if err := s.makeDirs(conn, path.Dir(target)); err != nil {
		return "", err
	}

	tmp := target + ".part"
	if err := conn.Stor(tmp, r); err != nil {
		_ = conn.Delete(tmp)
		return "", fmt.Errorf("ftp: failed to store file: %w", err)
	}
	if err := conn.Rename(tmp, target); err != nil {
		_ = conn.Delete(tmp)
		return "", fmt.Errorf("ftp: failed to rename temporary file: %w", err)
	}

	s.logger.Debug("Uploaded %s to %s", key, s.cfg.Host)
	return joinURL(s.cfg.PublicBaseURL, key), nil
}

func (s *FTPStore) Exists(ctx context.Context, key string) (bool, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Quit()

	target := s.remotePath(key)
	dir := path.Dir(target)
	entries, err := conn.List(dir)
	if err != nil {
		// a missing directory means a missing artifact
		if isUnavailable(err) {
			return false, nil
		}
		return false, fmt.Errorf("ftp: failed to list %s: %w", dir, err)
	}
	name := path.Base(target)
	for _, entry := range entries {
		if entry.Type == ftp.EntryTypeFile && entry.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *FTPStore) Delete(ctx context.Context, key string) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	if err := conn.Delete(s.remotePath(key)); err != nil {
		if isUnavailable(err) {
			return nil
		}
		return fmt.Errorf("ftp: failed to delete %s: %w", key, err)
	}
	return nil
}

// isUnavailable reports a 550 "file unavailable" reply (not found, no access).
func isUnavailable(err error) bool {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code == ftp.StatusFileUnavailable
	}
	return strings.HasPrefix(err.Error(), "550")
}

func (s *FTPStore) Close() error { return nil }
