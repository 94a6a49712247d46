package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"hls-ftp-relay/internal/platform/logger"
)

var errBoom = errors.New("boom")

type fakeManifests struct {
	mu    sync.Mutex
	m     *Manifest
	err   error
	calls int
}

func (f *fakeManifests) set(td float64, uris ...string) {
	m := &Manifest{TargetDuration: td}
	for _, u := range uris {
		m.Segments = append(m.Segments, ManifestSegment{URI: u})
	}
	f.mu.Lock()
	f.m, f.err = m, nil
	f.mu.Unlock()
}

func (f *fakeManifests) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeManifests) FetchManifest(ctx context.Context, url string) (*Manifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.m == nil {
		return &Manifest{}, nil
	}
	cp := *f.m
	cp.Segments = append([]ManifestSegment(nil), f.m.Segments...)
	return &cp, nil
}

// fakeSegments serves "data:<url>" for every url unless told to fail it.
type fakeSegments struct {
	mu       sync.Mutex
	failures map[string]int
	fetches  map[string]int
}

func newFakeSegments() *fakeSegments {
	return &fakeSegments{failures: map[string]int{}, fetches: map[string]int{}}
}

func (f *fakeSegments) failNext(url string, n int) {
	f.mu.Lock()
	f.failures[url] += n
	f.mu.Unlock()
}

func (f *fakeSegments) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[url]
}

func (f *fakeSegments) FetchSegment(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[url]++
	if f.failures[url] > 0 {
		f.failures[url]--
		return nil, errBoom
	}
	return []byte("data:" + url), nil
}

type fakeFile struct {
	data    []byte
	modTime time.Time
}

// fakeSink is an in-memory directory. Files written through Store get the
// current fake time as their modification time.
type fakeSink struct {
	mu          sync.Mutex
	files       map[string]fakeFile
	now         time.Time
	storeFails  map[string]int
	deleteFails map[string]int
	listErr     error
	stores      map[string]int
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		files:       map[string]fakeFile{},
		now:         time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		storeFails:  map[string]int{},
		deleteFails: map[string]int{},
		stores:      map[string]int{},
	}
}

func (s *fakeSink) put(name string, modTime time.Time) {
	s.mu.Lock()
	s.files[name] = fakeFile{data: []byte(name), modTime: modTime}
	s.mu.Unlock()
}

func (s *fakeSink) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[name]
	return ok
}

func (s *fakeSink) read(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.files[name].data)
}

func (s *fakeSink) storeCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stores[name]
}

func (s *fakeSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.files))
	for n := range s.files {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (s *fakeSink) Store(ctx context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores[name]++
	if s.storeFails[name] > 0 {
		s.storeFails[name]--
		return errBoom
	}
	s.files[name] = fakeFile{data: append([]byte(nil), data...), modTime: s.now}
	return nil
}

func (s *fakeSink) List(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]Entry, 0, len(s.files))
	for n, f := range s.files {
		out = append(out, Entry{Name: n, ModTime: f.modTime})
	}
	return out, nil
}

func (s *fakeSink) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteFails[name] > 0 {
		s.deleteFails[name]--
		return errBoom
	}
	if _, ok := s.files[name]; !ok {
		return errors.New("no such file")
	}
	delete(s.files, name)
	return nil
}

type testRig struct {
	manifests *fakeManifests
	segments  *fakeSegments
	sink      *fakeSink
}

func newTestRig() *testRig {
	return &testRig{
		manifests: &fakeManifests{},
		segments:  newFakeSegments(),
		sink:      newFakeSink(),
	}
}

// engine builds an Engine over the rig. Unless opts sets a clock, the
// sweeper sees the sink's fixed time, so freshly stored files never expire.
func (r *testRig) engine(t interface{ Fatalf(string, ...any) }, manifestURL string, opts Options) *Engine {
	if opts.Now == nil {
		now := r.sink.now
		opts.Now = func() time.Time { return now }
	}
	e, err := NewEngine(StreamConfig{ID: "test", ManifestURL: manifestURL}, r.manifests, r.segments, r.sink, opts, logger.Discard(), nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func (r *testRig) deps() Dependencies {
	return Dependencies{
		Manifests: r.manifests,
		Segments:  r.segments,
		Sinks: SinkDialerFunc(func(Destination) (Sink, error) {
			return r.sink, nil
		}),
	}
}
