// Package session runs one bill per browser session and exposes it over
// HTTP.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/splitbill/internal/bill"
	"github.com/zombor/splitbill/internal/parser"
	"github.com/zombor/splitbill/internal/persist"
	"github.com/zombor/splitbill/internal/scanning"
	"github.com/zombor/splitbill/internal/settle"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrScanInProgress  = errors.New("a scan is already running")
	ErrNoImage         = errors.New("no receipt image uploaded")

	errRecognizerPanic = errors.New("recognizer panicked")
)

// Scan progress reported while a scan runs.
const (
	StatusPreparing   = "preparing image"
	StatusRecognizing = "recognizing text"
)

// Parser turns recognized text into receipt lines.
type Parser interface {
	Parse(text string) []parser.Line
}

// IDGenerator generates session ids.
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Options configure a Service.
type Options struct {
	// MaxImageSize is the longest side images are scaled to before
	// recognition. Zero keeps the original size.
	MaxImageSize int
	// ScanTimeout bounds a single recognition. Zero means no bound.
	ScanTimeout time.Duration
	// Export controls the summary text.
	Export settle.ExportOptions
	// IdleTimeout is how long a bill stays in memory after its last request.
	// Evicted bills are read back from the string store on their next
	// request. Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration
	// Shared re-reads the bill from the string store on every request, for
	// stores that several instances write to.
	Shared bool
}

// DefaultIdleTimeout is used when Options.IdleTimeout is zero.
const DefaultIdleTimeout = 30 * time.Minute

// Image is the receipt photo attached to a session.
type Image struct {
	Path        string `json:"-"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// View is what a client sees of a session.
type View struct {
	ID         string
	State      bill.State
	Image      *Image
	Scanning   bool
	ScanStatus string
}

// Summary is the settled bill.
type Summary struct {
	Total  decimal.Decimal
	Shares []settle.Share
}

type session struct {
	mu       sync.Mutex
	id       string
	store    *bill.Store
	adapter  *persist.Adapter
	image    *Image
	scanning bool
	status   string
	lastUsed time.Time
}

func (s *session) view() View {
	v := View{ID: s.id, State: s.store.State(), Scanning: s.scanning, ScanStatus: s.status}
	if s.image != nil {
		img := *s.image
		v.Image = &img
	}
	return v
}

// Service owns every live bill. Bills are kept in memory and mirrored to a
// string store so a restart picks them up again.
type Service struct {
	kv          persist.KV
	recognizer  scanning.Recognizer
	parser      Parser
	images      Storage
	metrics     *Metrics
	opts        Options
	idGenerator IDGenerator
	timeSource  TimeSource

	mu       sync.Mutex
	sessions map[string]*session
}

// NewService creates a Service with uuid session ids.
func NewService(kv persist.KV, recognizer scanning.Recognizer, p Parser, images Storage, metrics *Metrics, opts Options) *Service {
	return NewServiceWithDeps(kv, recognizer, p, images, metrics, opts, uuidGenerator{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing.
func NewServiceWithDeps(kv persist.KV, recognizer scanning.Recognizer, p Parser, images Storage, metrics *Metrics, opts Options, idGen IDGenerator, timeSrc TimeSource) *Service {
	if opts.Export == (settle.ExportOptions{}) {
		opts.Export = settle.DefaultExportOptions()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &Service{
		kv:          kv,
		recognizer:  recognizer,
		parser:      p,
		images:      images,
		metrics:     metrics,
		opts:        opts,
		idGenerator: idGen,
		timeSource:  timeSrc,
		sessions:    make(map[string]*session),
	}
}

func recordKey(id string) string {
	return persist.DefaultKey + ":" + id
}

// acquire returns the session for id with its lock held; the caller
// unlocks it. A bill found in the string store is kept in memory. An id with
// no stored bill is kept only when create is set, otherwise the caller gets a
// throwaway empty bill.
func (s *Service) acquire(ctx context.Context, id string, create bool) (*session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	now := s.timeSource.Now()

	s.mu.Lock()
	s.evictIdle(now)
	sess, ok := s.sessions[id]
	s.mu.Unlock()

	fresh := false
	if !ok {
		adapter := persist.NewAdapter(s.kv, recordKey(id))
		state, found, err := adapter.Fetch(ctx)
		if err != nil {
			slog.Warn("Loading bill, starting empty", "session_id", id, "error", err)
		}
		if !found && !create {
			sess = &session{id: id, store: bill.NewStore()}
			sess.mu.Lock()
			return sess, nil
		}

		store := bill.NewStore()
		if found {
			store = bill.NewStoreFromState(state)
			slog.Debug("Hydrated bill", "session_id", id, "items", len(state.Items), "people", len(state.People))
		}
		adapter.Attach(context.WithoutCancel(ctx), store)

		s.mu.Lock()
		if existing, ok := s.sessions[id]; ok {
			sess = existing
		} else {
			sess = &session{id: id, store: store, adapter: adapter, lastUsed: now}
			s.sessions[id] = sess
			fresh = true
		}
		s.mu.Unlock()
	}

	sess.mu.Lock()
	s.mu.Lock()
	evicted := s.sessions[id] != sess
	s.mu.Unlock()
	if evicted {
		sess.mu.Unlock()
		return s.acquire(ctx, id, create)
	}

	if s.opts.Shared && !fresh && !sess.scanning {
		s.refresh(ctx, sess)
	}
	sess.lastUsed = now
	return sess, nil
}

// refresh replaces the bill with the stored one. A read error keeps the bill
// in memory. The caller holds sess.mu.
func (s *Service) refresh(ctx context.Context, sess *session) {
	state, found, err := sess.adapter.Fetch(ctx)
	if err != nil {
		slog.Warn("Refreshing bill, keeping the copy in memory", "session_id", sess.id, "error", err)
		return
	}
	if !found {
		state = bill.NewState()
	}
	sess.store = bill.NewStoreFromState(state)
	sess.adapter.Attach(context.WithoutCancel(ctx), sess.store)
}

// evictIdle forgets bills nobody has used for the idle timeout, together
// with their photos. Busy or scanning sessions are kept. The caller holds
// s.mu.
func (s *Service) evictIdle(now time.Time) {
	for id, sess := range s.sessions {
		if !sess.mu.TryLock() {
			continue
		}
		if !sess.scanning && now.Sub(sess.lastUsed) >= s.opts.IdleTimeout {
			s.dropImage(sess)
			delete(s.sessions, id)
			slog.Debug("Evicted idle bill", "session_id", id)
		}
		sess.mu.Unlock()
	}
}

// Create starts a new bill.
func (s *Service) Create(ctx context.Context) (View, error) {
	id := s.idGenerator.Generate()
	sess, err := s.acquire(ctx, id, true)
	if err != nil {
		return View{}, fmt.Errorf("creating session: %w", err)
	}
	defer sess.mu.Unlock()

	s.metrics.sessionCreated()
	slog.Info("Session created", "session_id", id)
	return sess.view(), nil
}

// Get returns the session.
func (s *Service) Get(ctx context.Context, id string) (View, error) {
	sess, err := s.acquire(ctx, id, false)
	if err != nil {
		return View{}, err
	}
	defer sess.mu.Unlock()
	return sess.view(), nil
}

// Update runs one bill operation under the session lock. op names the
// operation in metrics and logs.
func (s *Service) Update(ctx context.Context, id, op string, fn func(*bill.Store) error) (View, error) {
	sess, err := s.acquire(ctx, id, true)
	if err != nil {
		return View{}, err
	}
	defer sess.mu.Unlock()

	err = fn(sess.store)
	s.metrics.observeOperation(op, err)
	if err != nil {
		slog.Debug("Bill operation failed", "session_id", id, "operation", op, "error", err)
		return View{}, err
	}
	return sess.view(), nil
}

// Reset starts the bill over and drops the receipt image.
func (s *Service) Reset(ctx context.Context, id string) (View, error) {
	sess, err := s.acquire(ctx, id, false)
	if err != nil {
		return View{}, err
	}
	defer sess.mu.Unlock()

	if sess.scanning {
		return View{}, ErrScanInProgress
	}
	s.dropImage(sess)
	sess.store.Reset()
	s.metrics.observeOperation("reset", nil)
	slog.Info("Bill reset", "session_id", id)
	return sess.view(), nil
}

// sanitizeFilename keeps the extension and a short, plain base name.
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`).ReplaceAllString(base, "")
	base = regexp.MustCompile(`\s+`).ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// UploadImage attaches a receipt photo, replacing any previous one.
func (s *Service) UploadImage(ctx context.Context, id, filename string, data []byte, contentType string) (View, error) {
	sess, err := s.acquire(ctx, id, true)
	if err != nil {
		return View{}, err
	}
	defer sess.mu.Unlock()

	if sess.scanning {
		return View{}, ErrScanInProgress
	}

	clean := sanitizeFilename(filename)
	name := fmt.Sprintf("%s_%d_%s", id, s.timeSource.Now().UnixNano(), clean)
	path, err := s.images.Save(name, data)
	if err != nil {
		return View{}, fmt.Errorf("saving image: %w", err)
	}

	if sess.image != nil && sess.image.Path == path {
		sess.image = nil
	}
	s.dropImage(sess)
	sess.image = &Image{Path: path, Filename: clean, ContentType: contentType, Size: len(data)}
	slog.Info("Receipt image uploaded", "session_id", id, "filename", clean, "content_type", contentType, "size", len(data))
	return sess.view(), nil
}

// ImageData returns the uploaded photo.
func (s *Service) ImageData(ctx context.Context, id string) ([]byte, string, error) {
	sess, err := s.acquire(ctx, id, false)
	if err != nil {
		return nil, "", err
	}
	img := sess.image
	sess.mu.Unlock()

	if img == nil {
		return nil, "", ErrNoImage
	}
	data, err := s.images.Get(img.Path)
	if err != nil {
		return nil, "", fmt.Errorf("reading image: %w", err)
	}
	return data, img.ContentType, nil
}

// DeleteImage removes the photo so another can be chosen.
func (s *Service) DeleteImage(ctx context.Context, id string) (View, error) {
	sess, err := s.acquire(ctx, id, false)
	if err != nil {
		return View{}, err
	}
	defer sess.mu.Unlock()

	if sess.scanning {
		return View{}, ErrScanInProgress
	}
	if sess.image == nil {
		return View{}, ErrNoImage
	}
	s.dropImage(sess)
	return sess.view(), nil
}

// dropImage deletes the stored photo. The caller holds sess.mu.
func (s *Service) dropImage(sess *session) {
	if sess.image == nil {
		return
	}
	if err := s.images.Delete(sess.image.Path); err != nil {
		slog.Warn("Deleting receipt image", "session_id", sess.id, "error", err)
	}
	sess.image = nil
}

// Scan reads the uploaded photo and replaces the items with what was found.
// A failed recognition is not an error: the bill gets one blank row to fill
// in by hand. Only one scan per session may run at a time.
func (s *Service) Scan(ctx context.Context, id string) (View, error) {
	sess, err := s.acquire(ctx, id, false)
	if err != nil {
		return View{}, err
	}
	if sess.scanning {
		sess.mu.Unlock()
		return View{}, ErrScanInProgress
	}
	if sess.image == nil {
		sess.mu.Unlock()
		return View{}, ErrNoImage
	}
	img := *sess.image
	sess.scanning = true
	sess.status = StatusPreparing
	sess.mu.Unlock()

	finished := false
	defer func() {
		if !finished {
			sess.mu.Lock()
			sess.scanning = false
			sess.status = ""
			sess.mu.Unlock()
		}
	}()

	text, elapsed, err := s.recognize(ctx, sess, img)
	if err != nil {
		slog.Warn("Recognizing receipt text, continuing with a blank bill",
			"session_id", id,
			"content_type", img.ContentType,
			"file_size", img.Size,
			"error", err,
		)
		text = ""
	}
	lines := s.parser.Parse(text)
	s.metrics.observeScan(elapsed, len(lines), err)

	items := make([]bill.Item, 0, len(lines))
	for _, l := range lines {
		items = append(items, bill.Item{Label: l.Label, Price: l.Price, Qty: l.Qty})
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	finished = true
	sess.scanning = false
	sess.status = ""
	sess.store.LoadItems(items)
	slog.Info("Receipt scanned", "session_id", id, "items", len(items))
	return sess.view(), nil
}

// recognize reads the text of the session's receipt image. A panic in the
// image decoders or the recognizer is returned as an error.
func (s *Service) recognize(ctx context.Context, sess *session, img Image) (text string, seconds float64, err error) {
	start := s.timeSource.Now()
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", errRecognizerPanic, r)
		}
		seconds = s.timeSource.Now().Sub(start).Seconds()
	}()

	data, err := s.images.Get(img.Path)
	if err != nil {
		return "", 0, fmt.Errorf("reading image: %w", err)
	}

	prepared, contentType := scanning.Prepare(data, img.ContentType, s.opts.MaxImageSize)

	sess.mu.Lock()
	sess.status = StatusRecognizing
	sess.mu.Unlock()

	if s.opts.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ScanTimeout)
		defer cancel()
	}

	text, err = s.recognizer.Recognize(ctx, prepared, contentType)
	return text, 0, err
}

// Summarize settles the bill.
func (s *Service) Summarize(ctx context.Context, id string) (Summary, error) {
	view, err := s.Get(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Total: view.State.Total(), Shares: settle.Summarize(view.State)}, nil
}

// Export renders the settled bill as text for the clipboard.
func (s *Service) Export(ctx context.Context, id string) (string, error) {
	summary, err := s.Summarize(ctx, id)
	if err != nil {
		return "", err
	}
	return settle.Export(summary.Shares, s.opts.Export), nil
}

// FormatAmount renders an amount the way the export does.
func (s *Service) FormatAmount(amount decimal.Decimal) string {
	return s.opts.Export.Format(amount)
}
