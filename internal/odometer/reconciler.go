// Package odometer reconciles a manually entered mileage against the value
// read from a dashboard photo. A reading is never saved until the user
// explicitly accepts the AI value or confirms a matching manual value.
package odometer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grafostech/fleet-console/internal/directory"
	apperrors "github.com/grafostech/fleet-console/internal/errors"
	"github.com/grafostech/fleet-console/internal/history"
	"github.com/grafostech/fleet-console/internal/metrics"
	"github.com/grafostech/fleet-console/internal/recognition"
	"github.com/grafostech/fleet-console/internal/storage"
)

// Operation errors. Each matches apperrors.ErrConflict.
var (
	ErrAlreadySaved  = fmt.Errorf("%w: reading already saved", apperrors.ErrConflict)
	ErrNotReconciled = fmt.Errorf("%w: reading has no value to reconcile", apperrors.ErrConflict)
	ErrNoMatch       = fmt.Errorf("%w: manual value does not match the AI value", apperrors.ErrConflict)
	ErrNoImage       = fmt.Errorf("%w: no image captured", apperrors.ErrConflict)
	ErrAnalyzing     = fmt.Errorf("%w: analysis in progress", apperrors.ErrConflict)
)

// Image is an uploaded dashboard photo
type Image struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Reading is a snapshot of the in-flight reading. ImageRef is empty while
// the placeholder image is shown.
type Reading struct {
	ImageRef     string  `json:"image_ref"`
	VehicleID    string  `json:"vehicle_id"`
	ManualValue  int     `json:"manual_value"`
	AIValue      *int    `json:"ai_value"`
	Confidence   float64 `json:"confidence"`
	State        State   `json:"state"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithMetrics records saved readings on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithIDGenerator replaces the UUIDv7 record IDs.
func WithIDGenerator(fn func() string) Option {
	return func(r *Reconciler) {
		r.newID = fn
	}
}

// WithClock replaces time.Now for record timestamps.
func WithClock(fn func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = fn
	}
}

// Reconciler owns one odometer reading. All methods are safe for concurrent
// use; recognition runs in the background and its result is applied only if
// no newer capture, reprocess or reset happened in the meantime.
type Reconciler struct {
	recognizer recognition.Recognizer
	images     storage.Storage
	records    *history.Store
	metrics    *metrics.Metrics
	newID      func() string
	now        func() time.Time

	mu         sync.Mutex
	generation uint64
	image      *Image
	imageRef   string
	vehicleID  string
	manual     int
	ai         *int
	confidence float64
	analyzing  bool
	failed     bool
	saved      bool
	errMessage string

	wg sync.WaitGroup
}

// NewReconciler creates a Reconciler that saves finalized readings to records
func NewReconciler(recognizer recognition.Recognizer, images storage.Storage, records *history.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		recognizer: recognizer,
		images:     images,
		records:    records,
		newID:      func() string { return uuid.Must(uuid.NewV7()).String() },
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reading returns a snapshot of the current reading
func (r *Reconciler) Reading() Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *Reconciler) snapshot() Reading {
	var ai *int
	if r.ai != nil {
		v := *r.ai
		ai = &v
	}
	return Reading{
		ImageRef:     r.imageRef,
		VehicleID:    r.vehicleID,
		ManualValue:  r.manual,
		AIValue:      ai,
		Confidence:   r.confidence,
		State:        r.state(),
		ErrorMessage: r.errMessage,
	}
}

func (r *Reconciler) state() State {
	if r.saved {
		return StateSaved
	}
	if r.analyzing {
		return StateAnalyzing
	}
	if s := DeriveState(r.manual, r.ai, false); s != StateIdle {
		return s
	}
	if r.failed {
		return StateError
	}
	return StateIdle
}

// CaptureImage stores img, clears any previous result and starts recognition.
// The call returns as soon as the analysis has been launched.
func (r *Reconciler) CaptureImage(ctx context.Context, img Image) (Reading, error) {
	if len(img.Data) == 0 {
		return Reading{}, apperrors.NewValidationError("file", "Select an image to analyze.")
	}

	ref, err := r.images.Save(img.Filename, img.Data)
	if err != nil {
		return Reading{}, fmt.Errorf("saving image: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.image = &img
	r.imageRef = ref
	r.ai = nil
	r.confidence = 0
	r.saved = false
	r.failed = false
	r.errMessage = ""
	r.start(ctx)

	slog.Info("Odometer image captured", "image_ref", ref, "size", len(img.Data))
	return r.snapshot(), nil
}

// Reprocess runs recognition again on the current image. The manual value
// is kept.
func (r *Reconciler) Reprocess(ctx context.Context) (Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.saved:
		return Reading{}, ErrAlreadySaved
	case r.image == nil:
		return Reading{}, ErrNoImage
	case r.analyzing:
		return Reading{}, ErrAnalyzing
	}

	r.failed = false
	r.errMessage = ""
	r.start(ctx)
	return r.snapshot(), nil
}

// start launches recognition for the current image. Callers hold r.mu.
func (r *Reconciler) start(ctx context.Context) {
	r.generation++
	r.analyzing = true

	gen := r.generation
	img := *r.image
	ctx = context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.recognize(ctx, gen, img)
	}()
}

func (r *Reconciler) recognize(ctx context.Context, gen uint64, img Image) {
	raw, err := r.recognizer.Analyze(ctx, recognition.Request{
		Image:        img.Data,
		MIMEType:     img.MIMEType,
		Instructions: instructions,
		Schema:       Schema,
	})
	if err != nil {
		r.onRecognitionFailure(gen, err)
		return
	}

	res, err := decodeResult(raw)
	if err != nil {
		r.onRecognitionFailure(gen, err)
		return
	}
	r.onRecognitionResult(gen, res.Mileage, res.Confidence)
}

// onRecognitionResult applies a recognition result. An empty manual value is
// filled with the AI value; a typed one is kept and compared.
func (r *Reconciler) onRecognitionResult(gen uint64, value int, confidence float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.generation {
		slog.Debug("Discarding stale odometer result", "generation", gen, "current", r.generation)
		return
	}

	r.analyzing = false
	r.failed = false
	r.errMessage = ""
	r.ai = &value
	r.confidence = confidence
	if r.manual == 0 {
		r.manual = value
	}

	slog.Info("Odometer recognized", "mileage", value, "confidence", confidence, "state", r.state())
}

// onRecognitionFailure clears the AI value and keeps the manual one.
func (r *Reconciler) onRecognitionFailure(gen uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.generation {
		slog.Debug("Discarding stale odometer failure", "generation", gen, "current", r.generation)
		return
	}

	r.analyzing = false
	r.failed = true
	r.ai = nil
	r.confidence = 0
	r.errMessage = apperrors.Message(err)

	slog.Warn("Odometer recognition failed",
		"image_ref", r.imageRef,
		"outcome", recognition.Outcome(err),
		"error", err,
	)
}

// EditManualValue replaces the manual value. Edits are allowed while an
// analysis is running; its result is compared against the latest value.
func (r *Reconciler) EditManualValue(value int) (Reading, error) {
	if value < 0 {
		return Reading{}, apperrors.NewValidationError("value", "mileage cannot be negative")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saved {
		return Reading{}, ErrAlreadySaved
	}
	r.manual = value
	return r.snapshot(), nil
}

// SelectVehicle sets the vehicle the reading belongs to. Only active
// vehicles may be selected, and the choice is locked once saved.
func (r *Reconciler) SelectVehicle(v *directory.Vehicle) (Reading, error) {
	if v == nil || !v.Active() {
		return Reading{}, apperrors.NewValidationError("vehicle_id", "Select an active vehicle.")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saved {
		return Reading{}, ErrAlreadySaved
	}
	r.vehicleID = v.ID
	return r.snapshot(), nil
}

// AcceptAIValue copies the AI value into the manual field and saves the
// reading. It fails once the reading is saved, so it never records twice.
func (r *Reconciler) AcceptAIValue() (history.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saved {
		return history.Record{}, ErrAlreadySaved
	}
	if s := r.state(); r.ai == nil || (s != StateMatch && s != StateDivergence) {
		return history.Record{}, ErrNotReconciled
	}

	r.manual = *r.ai
	return r.finalize(*r.ai, history.SourceAI), nil
}

// ConfirmManualValue saves the reading with the manual value. The manual
// value must match the AI value; a divergence has to be resolved by
// accepting the AI value or editing the manual one.
func (r *Reconciler) ConfirmManualValue() (history.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state() {
	case StateSaved:
		return history.Record{}, ErrAlreadySaved
	case StateMatch:
	case StateDivergence:
		return history.Record{}, ErrNoMatch
	default:
		return history.Record{}, ErrNotReconciled
	}

	return r.finalize(r.manual, history.SourceManual), nil
}

// finalize records the reading and freezes it. Callers hold r.mu.
func (r *Reconciler) finalize(mileage int, source history.Source) history.Record {
	rec := history.Record{
		ID:         r.newID(),
		VehicleID:  r.vehicleID,
		Mileage:    mileage,
		AIMileage:  *r.ai,
		Confidence: r.confidence,
		Source:     source,
		ImageRef:   r.imageRef,
		CreatedAt:  r.now(),
		Outcome:    history.OutcomeSuccess,
	}
	r.records.Prepend(rec)
	r.saved = true
	r.metrics.RecordOdometer(string(source))

	slog.Info("Odometer reading saved",
		"record_id", rec.ID,
		"vehicle_id", rec.VehicleID,
		"mileage", rec.Mileage,
		"source", source,
	)
	return rec
}

// Reset returns to the idle placeholder. The vehicle selection is kept and
// any running analysis is ignored when it completes.
func (r *Reconciler) Reset() Reading {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.generation++
	r.image = nil
	r.imageRef = ""
	r.manual = 0
	r.ai = nil
	r.confidence = 0
	r.analyzing = false
	r.failed = false
	r.saved = false
	r.errMessage = ""
	return r.snapshot()
}

// Wait blocks until every launched analysis has returned.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}
