package storage

import (
	"context"
	"errors"
	"io"
	"net/textproto"
	"path"
	"strings"
	"testing"

	"github.com/jlaffaye/ftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detectionapi/internal/config"
	"detectionapi/internal/logger"
)

// fakeFTPConn keeps files in memory and answers like an FTP server.
type fakeFTPConn struct {
	files   map[string]string
	dirs    map[string]bool
	listErr error
	quits   int
}

func newFakeFTPConn() *fakeFTPConn {
	return &fakeFTPConn{files: map[string]string{}, dirs: map[string]bool{"/": true}}
}

func unavailable(msg string) error {
	return &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: msg}
}

func (c *fakeFTPConn) ChangeDir(p string) error {
	if !c.dirs[p] {
		return unavailable("No such directory")
	}
	return nil
}

func (c *fakeFTPConn) MakeDir(p string) error {
	c.dirs[p] = true
	return nil
}

func (c *fakeFTPConn) Stor(p string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.files[p] = string(data)
	return nil
}

func (c *fakeFTPConn) Rename(from, to string) error {
	data, ok := c.files[from]
	if !ok {
		return unavailable("No such file")
	}
	delete(c.files, from)
	c.files[to] = data
	return nil
}

func (c *fakeFTPConn) Delete(p string) error {
	if _, ok := c.files[p]; !ok {
		return unavailable("No such file")
	}
	delete(c.files, p)
	return nil
}

func (c *fakeFTPConn) List(p string) ([]*ftp.Entry, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	if !c.dirs[p] {
		return nil, unavailable("No such directory")
	}
	var entries []*ftp.Entry
	for name := range c.files {
		if path.Dir(name) == p {
			entries = append(entries, &ftp.Entry{Name: path.Base(name), Type: ftp.EntryTypeFile})
		}
	}
	return entries, nil
}

func (c *fakeFTPConn) Quit() error {
	c.quits++
	return nil
}

func newTestFTPStore(conn *fakeFTPConn) *FTPStore {
	s := NewFTPStore(config.StorageConfig{
		Host:          "ftp.example.com",
		Path:          "detections",
		PublicBaseURL: "https://cdn.example.com",
	}, logger.NewNop())
	s.dial = func(context.Context) (ftpConn, error) { return conn, nil }
	return s
}

func TestFTPStore_PutExistsDelete(t *testing.T) {
	conn := newFakeFTPConn()
	s := newTestFTPStore(conn)
	ctx := context.Background()

	url, err := s.Put(ctx, "annotated_images/abc12345.jpg", "image/jpeg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/annotated_images/abc12345.jpg", url)
	assert.Equal(t, "jpeg-bytes", conn.files["/detections/annotated_images/abc12345.jpg"])
	assert.NotContains(t, conn.files, "/detections/annotated_images/abc12345.jpg.part")

	ok, err := s.Exists(ctx, "annotated_images/abc12345.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "annotated_images/abc12345.jpg"))
	ok, err = s.Exists(ctx, "annotated_images/abc12345.jpg")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 4, conn.quits)
}

func TestFTPStore_ExistsMissingDirectory(t *testing.T) {
	s := newTestFTPStore(newFakeFTPConn())

	ok, err := s.Exists(context.Background(), "json_results/nothing.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFTPStore_ExistsReportsListFailure(t *testing.T) {
	conn := newFakeFTPConn()
	conn.listErr = &textproto.Error{Code: ftp.StatusNotAvailable, Msg: "Service not available, closing control connection"}
	s := newTestFTPStore(conn)

	ok, err := s.Exists(context.Background(), "annotated_images/abc12345.jpg")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "failed to list /detections/annotated_images")

	var tpErr *textproto.Error
	require.True(t, errors.As(err, &tpErr))
	assert.Equal(t, ftp.StatusNotAvailable, tpErr.Code)
}

func TestFTPStore_DeleteMissingIsNoop(t *testing.T) {
	s := newTestFTPStore(newFakeFTPConn())

	assert.NoError(t, s.Delete(context.Background(), "annotated_images/gone.jpg"))
}

func TestFTPStore_DeleteReportsOtherFailures(t *testing.T) {
	conn := &deleteFailingConn{fakeFTPConn: newFakeFTPConn()}
	s := newTestFTPStore(conn.fakeFTPConn)
	s.dial = func(context.Context) (ftpConn, error) { return conn, nil }

	err := s.Delete(context.Background(), "annotated_images/abc12345.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete annotated_images/abc12345.jpg")
}

type deleteFailingConn struct {
	*fakeFTPConn
}

func (deleteFailingConn) Delete(string) error {
	return &textproto.Error{Code: ftp.StatusNotLoggedIn, Msg: "Not logged in"}
}

func TestIsUnavailable(t *testing.T) {
	assert.True(t, isUnavailable(unavailable("No such file")))
	assert.True(t, isUnavailable(errors.New("550 Requested action not taken")))
	assert.False(t, isUnavailable(&textproto.Error{Code: ftp.StatusNotAvailable, Msg: "busy"}))
	assert.False(t, isUnavailable(errors.New("connection reset by peer")))
}
