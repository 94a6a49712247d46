// Package sink stores relayed segments and playlists on FTP servers.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"hls-ftp-relay/internal/relay"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jlaffaye/ftp"
)

const (
	defaultPort = "21"

	DefaultTimeout       = 30 * time.Second
	DefaultDialRetries   = 3
	DefaultRetryInterval = 500 * time.Millisecond
)

// Config controls how FTP connections are made.
type Config struct {
	Timeout       time.Duration
	DialRetries   int
	RetryInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.DialRetries < 0 {
		c.DialRetries = 0
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	return c
}

// Dialer builds FTP sinks. It implements relay.SinkDialer.
type Dialer struct {
	cfg Config
	log *slog.Logger
}

func NewDialer(cfg Config, log *slog.Logger) *Dialer {
	return &Dialer{cfg: cfg.withDefaults(), log: log}
}

// Sink returns an FTP sink for dst. No connection is made until first use.
func (d *Dialer) Sink(dst relay.Destination) (relay.Sink, error) {
	addr, err := hostPort(dst.Host)
	if err != nil {
		return nil, &relay.ValidationError{Fields: []string{"ftp_host"}, Reason: err.Error()}
	}
	return &FTPSink{
		addr:     addr,
		user:     dst.User,
		password: dst.Password,
		dir:      dst.Path,
		cfg:      d.cfg,
		log:      d.log.With(slog.String("ftp_addr", addr), slog.String("ftp_path", dst.Path)),
	}, nil
}

// FTPSink is a relay.Sink over one FTP directory. Every call opens its own
// control connection, so a sink may be shared by concurrent goroutines.
type FTPSink struct {
	addr     string
	user     string
	password string
	dir      string
	cfg      Config
	log      *slog.Logger
}

// Store uploads data under a temporary name unique to this call and renames
// it onto name, so readers see either the previous file or the complete new
// one. A failed upload removes its temporary file and leaves name untouched.
func (s *FTPSink) Store(ctx context.Context, name string, data []byte) error {
	return s.withConn(ctx, func(c *ftp.ServerConn) error {
		tmp := tempName(name)
		if err := c.Stor(tmp, bytes.NewReader(data)); err != nil {
			s.discard(c, tmp)
			return fmt.Errorf("%w: stor %s: %w", relay.ErrSinkWrite, tmp, err)
		}
		if err := c.Rename(tmp, name); err != nil {
			s.discard(c, tmp)
			return fmt.Errorf("%w: rename %s: %w", relay.ErrSinkWrite, name, err)
		}
		return nil
	}, relay.ErrSinkWrite)
}

func (s *FTPSink) discard(c *ftp.ServerConn, tmp string) {
	if err := c.Delete(tmp); err != nil {
		s.log.Debug("temp file cleanup failed", slog.String("file", tmp), slog.String("error", err.Error()))
	}
}

// tempName never ends in relay.SegmentSuffix, so partial uploads stay out of
// the playlist.
func tempName(name string) string {
	return name + "." + uuid.NewString() + relay.TempSuffix
}

// List returns the regular files in the directory. Modification times come
// from the listing when it is precise (MLSD), else from MDTM where the server
// supports it, else from the coarse LIST timestamp.
func (s *FTPSink) List(ctx context.Context) ([]relay.Entry, error) {
	var out []relay.Entry
	err := s.withConn(ctx, func(c *ftp.ServerConn) error {
		entries, err := c.List("")
		if err != nil {
			return fmt.Errorf("%w: %w", relay.ErrSinkList, err)
		}
		useMDTM := !c.IsTimePreciseInList() && c.IsGetTimeSupported()
		out = make([]relay.Entry, 0, len(entries))
		for _, e := range entries {
			if e.Type != ftp.EntryTypeFile {
				continue
			}
			modTime := e.Time
			if useMDTM {
				if t, err := c.GetTime(e.Name); err == nil {
					modTime = t
				} else {
					s.log.Debug("mdtm failed", slog.String("file", e.Name), slog.String("error", err.Error()))
				}
			}
			out = append(out, relay.Entry{Name: e.Name, ModTime: modTime})
		}
		return nil
	}, relay.ErrSinkList)
	return out, err
}

// Delete removes name from the directory.
func (s *FTPSink) Delete(ctx context.Context, name string) error {
	return s.withConn(ctx, func(c *ftp.ServerConn) error {
		if err := c.Delete(name); err != nil {
			return fmt.Errorf("%w: %s: %w", relay.ErrSinkDelete, name, err)
		}
		return nil
	}, relay.ErrSinkDelete)
}

// withConn connects, runs fn inside the sink directory and quits. Connection
// failures are wrapped in kind. Cancelling ctx closes every connection the
// call opened, which aborts a transfer in progress.
func (s *FTPSink) withConn(ctx context.Context, fn func(c *ftp.ServerConn) error, kind error) error {
	conns := &connSet{ctx: ctx, timeout: s.cfg.Timeout}
	release := context.AfterFunc(ctx, conns.closeAll)
	defer func() {
		release()
		conns.closeAll()
	}()

	c, err := s.connect(ctx, conns)
	if err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	defer func() {
		if err := c.Quit(); err != nil {
			s.log.Debug("ftp quit failed", slog.String("error", err.Error()))
		}
	}()
	return fn(c)
}

// connect dials and logs in, retrying transient dial failures. Rejected
// credentials are not retried.
func (s *FTPSink) connect(ctx context.Context, conns *connSet) (*ftp.ServerConn, error) {
	var conn *ftp.ServerConn
	op := func() error {
		c, err := ftp.Dial(s.addr, ftp.DialWithDialFunc(conns.dial))
		if err != nil {
			return fmt.Errorf("dial %s: %w", s.addr, err)
		}
		if err := c.Login(s.user, s.password); err != nil {
			_ = c.Quit()
			return backoff.Permanent(fmt.Errorf("login: %w", err))
		}
		conn = c
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.RetryInterval), uint64(s.cfg.DialRetries)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		s.log.Debug("ftp connect retry", slog.String("error", err.Error()), slog.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}

	if s.dir != "" {
		if err := conn.ChangeDir(s.dir); err != nil {
			_ = conn.Quit()
			return nil, fmt.Errorf("cwd %s: %w", s.dir, err)
		}
	}
	return conn, nil
}

// connSet dials the control and data connections of one sink operation.
// Every read and write must complete within timeout.
type connSet struct {
	ctx     context.Context
	timeout time.Duration

	mu     sync.Mutex
	conns  []net.Conn
	closed bool
}

func (cs *connSet) dial(network, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: cs.timeout}
	c, err := d.DialContext(cs.ctx, network, addr)
	if err != nil {
		return nil, err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		_ = c.Close()
		return nil, net.ErrClosed
	}
	cs.conns = append(cs.conns, c)
	return &deadlineConn{Conn: c, timeout: cs.timeout}, nil
}

func (cs *connSet) closeAll() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.closed = true
	for _, c := range cs.conns {
		_ = c.Close()
	}
	cs.conns = nil
}

// deadlineConn pushes the deadline forward before every read and write, so
// a stalled peer fails the operation after timeout of inactivity.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

// hostPort normalises an FTP host, which may carry an ftp:// scheme and an
// explicit port, into a dialable address.
func hostPort(host string) (string, error) {
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(host, "ftp://")
	host = strings.TrimSuffix(host, "/")
	if host == "" {
		return "", fmt.Errorf("empty ftp host")
	}
	if strings.ContainsAny(host, "/ ") {
		return "", fmt.Errorf("invalid ftp host %q", host)
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), defaultPort), nil
}
