package sink

import (
	"crypto/tls"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"hls-ftp-relay/internal/platform/logger"
	"hls-ftp-relay/internal/relay"

	ftpserver "github.com/fclairamb/ftpserverlib"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const (
	testFTPUser = "relay"
	testFTPPass = "secret"
	testFTPDir  = "live"
)

var (
	errDiskFull      = errors.New("disk full")
	errRenameRefused = errors.New("rename refused")
	errBadLogin      = errors.New("bad username or password")
)

// faultFs serves a real directory and can be told to fail uploads or renames.
type faultFs struct {
	afero.Fs
	failWrites  atomic.Bool
	failRenames atomic.Bool
	hold        chan struct{} // if set, writes wait until it is closed
}

func (f *faultFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil || flag&(os.O_WRONLY|os.O_RDWR) == 0 {
		return file, err
	}
	return &faultFile{File: file, fs: f}, nil
}

func (f *faultFs) Rename(oldname, newname string) error {
	if f.failRenames.Load() {
		return errRenameRefused
	}
	return f.Fs.Rename(oldname, newname)
}

type faultFile struct {
	afero.File
	fs *faultFs
}

func (f *faultFile) Write(p []byte) (int, error) {
	if f.fs.hold != nil {
		<-f.fs.hold
	}
	if f.fs.failWrites.Load() {
		return 0, errDiskFull
	}
	return f.File.Write(p)
}

type testFTPDriver struct {
	fs       *faultFs
	settings *ftpserver.Settings
}

func (d *testFTPDriver) GetSettings() (*ftpserver.Settings, error) { return d.settings, nil }

func (d *testFTPDriver) ClientConnected(ftpserver.ClientContext) (string, error) {
	return "relay test server", nil
}

func (d *testFTPDriver) ClientDisconnected(ftpserver.ClientContext) {}

func (d *testFTPDriver) AuthUser(_ ftpserver.ClientContext, user, pass string) (ftpserver.ClientDriver, error) {
	if user != testFTPUser || pass != testFTPPass {
		return nil, errBadLogin
	}
	return d.fs, nil
}

func (d *testFTPDriver) GetTLSConfig() (*tls.Config, error) { return nil, nil }

type ftpServerOptions struct {
	// legacyListing hides MLSD and MLST, so clients fall back to LIST and MDTM.
	legacyListing bool
	holdWrites    chan struct{}
}

type testFTPServer struct {
	addr string
	root string
	fs   *faultFs
}

// startFTPServer serves a temporary directory containing an empty "live"
// folder on a loopback port until the test ends.
func startFTPServer(t *testing.T, opts ftpServerOptions) *testFTPServer {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, testFTPDir), 0o755))

	fs := &faultFs{Fs: afero.NewBasePathFs(afero.NewOsFs(), root), hold: opts.holdWrites}
	srv := ftpserver.NewFtpServer(&testFTPDriver{
		fs: fs,
		settings: &ftpserver.Settings{
			ListenAddr:          "127.0.0.1:0",
			DefaultTransferType: ftpserver.TransferTypeBinary,
			DisableMLSD:         opts.legacyListing,
			DisableMLST:         opts.legacyListing,
		},
	})
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Stop() })

	return &testFTPServer{addr: srv.Addr(), root: root, fs: fs}
}

func (s *testFTPServer) sink(t *testing.T, cfg Config) relay.Sink {
	t.Helper()
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 10 * time.Millisecond
	}
	sk, err := NewDialer(cfg, logger.Discard()).Sink(relay.Destination{
		Host:     s.addr,
		User:     testFTPUser,
		Password: testFTPPass,
		Path:     "/" + testFTPDir,
	})
	require.NoError(t, err)
	return sk
}

func (s *testFTPServer) path(name string) string {
	return filepath.Join(s.root, testFTPDir, name)
}

func (s *testFTPServer) write(t *testing.T, name, body string, modTime time.Time) {
	t.Helper()
	p := s.path(name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(p, modTime, modTime))
}

func (s *testFTPServer) read(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(s.path(name))
	require.NoError(t, err)
	return string(b)
}

// files lists the names in the served directory, sorted.
func (s *testFTPServer) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(s.root, testFTPDir))
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}
