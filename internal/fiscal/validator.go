package fiscal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/grafostech/fleet-console/internal/errors"
	"github.com/grafostech/fleet-console/internal/metrics"
	"github.com/grafostech/fleet-console/internal/recognition"
	"github.com/grafostech/fleet-console/internal/storage"
)

const readErrorMessage = "Could not read the file."

// File is one uploaded photo
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Batch is a submitted set of photos. Items holds the placeholders as they
// were created; the live state is in the Collection.
type Batch struct {
	Items []Item
	done  chan struct{}
}

// Wait blocks until every item of the batch has settled
func (b *Batch) Wait() {
	<-b.done
}

// Done is closed once every item of the batch has settled
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Option configures a Validator
type Option func(*Validator)

// WithMetrics records every settled item on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

// WithConcurrencyLimit caps the analyses running at once for a batch.
// Zero or less means no limit.
func WithConcurrencyLimit(n int) Option {
	return func(v *Validator) {
		v.limit = n
	}
}

// WithIDGenerator replaces the UUIDv7 item IDs.
func WithIDGenerator(fn func() string) Option {
	return func(v *Validator) {
		v.newID = fn
	}
}

// WithClock replaces time.Now for item timestamps.
func WithClock(fn func() time.Time) Option {
	return func(v *Validator) {
		v.now = fn
	}
}

// Validator submits batches and resolves their items into a Collection
type Validator struct {
	recognizer recognition.Recognizer
	images     storage.Storage
	items      *Collection
	metrics    *metrics.Metrics
	limit      int
	newID      func() string
	now        func() time.Time

	wg sync.WaitGroup
}

// NewValidator creates a Validator that keeps its items in items
func NewValidator(recognizer recognition.Recognizer, images storage.Storage, items *Collection, opts ...Option) *Validator {
	v := &Validator{
		recognizer: recognizer,
		images:     images,
		items:      items,
		newID:      func() string { return uuid.Must(uuid.NewV7()).String() },
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Items returns the collection the validator writes to
func (v *Validator) Items() *Collection {
	return v.items
}

type task struct {
	id       string
	file     File
	expected string
}

// SubmitBatch creates one processing item per file and starts analyzing all
// of them concurrently. The items are visible in the collection before
// SubmitBatch returns. An empty expected invoice number rejects the whole
// submission before anything is stored.
func (v *Validator) SubmitBatch(ctx context.Context, files []File, expected string) (*Batch, error) {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return nil, apperrors.NewValidationError("invoice_number", "Enter the expected invoice number before uploading.")
	}
	if len(files) == 0 {
		return nil, apperrors.NewValidationError("files", "Select at least one image.")
	}

	now := v.now()
	placeholders := make([]Item, 0, len(files))
	tasks := make([]task, 0, len(files))
	for _, f := range files {
		item := Item{
			ID:                    v.newID(),
			FileName:              f.Name,
			ExpectedInvoiceNumber: expected,
			Status:                StatusProcessing,
			CreatedAt:             now,
		}

		ref, err := v.save(f)
		if err != nil {
			slog.Error("Failed to store fiscal note image", "file", f.Name, "error", err)
			item.Status = StatusRejected
			item.ErrorMessage = readErrorMessage
			v.metrics.RecordFiscalItem(string(item.Status))
		} else {
			item.ImageRef = ref
			tasks = append(tasks, task{id: item.ID, file: f, expected: expected})
		}
		placeholders = append(placeholders, item)
	}

	v.items.add(placeholders)
	v.items.startBatch()
	batch := &Batch{Items: placeholders, done: make(chan struct{})}

	slog.Info("Fiscal note batch submitted",
		"invoice_number", expected,
		"files", len(files),
		"analyzing", len(tasks),
	)

	ctx = context.WithoutCancel(ctx)
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		defer close(batch.done)
		defer v.items.finishBatch()

		var g errgroup.Group
		if v.limit > 0 {
			g.SetLimit(v.limit)
		}
		for _, t := range tasks {
			g.Go(func() error {
				v.analyze(ctx, t)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return batch, nil
}

func (v *Validator) save(f File) (string, error) {
	if len(f.Data) == 0 {
		return "", fmt.Errorf("file %q is empty", f.Name)
	}
	return v.images.Save(f.Name, f.Data)
}

// analyze resolves one item. Failures never escape: they become a rejected
// item with a message, and are not retried.
func (v *Validator) analyze(ctx context.Context, t task) {
	raw, err := v.recognizer.Analyze(ctx, recognition.Request{
		Image:        t.file.Data,
		MIMEType:     t.file.MIMEType,
		Instructions: instructions(t.expected),
		Schema:       Schema,
	})

	var data *AIData
	if err == nil {
		data, err = decodeAIData(raw)
	}

	if err != nil {
		slog.Warn("Fiscal note analysis failed",
			"item_id", t.id,
			"file", t.file.Name,
			"outcome", recognition.Outcome(err),
			"error", err,
		)
		v.resolve(t.id, func(item *Item) {
			item.Status = StatusRejected
			item.ErrorMessage = apperrors.Message(err)
		})
		return
	}

	status := Classify(*data)
	v.resolve(t.id, func(item *Item) {
		item.Status = status
		item.AIData = data
	})
}

func (v *Validator) resolve(id string, fn func(*Item)) {
	item, ok := v.items.update(id, fn)
	if !ok {
		slog.Debug("Ignoring result for removed fiscal note item", "item_id", id)
		return
	}
	v.metrics.RecordFiscalItem(string(item.Status))
	slog.Info("Fiscal note item settled", "item_id", id, "status", item.Status)
}

// RemoveItem deletes an item and its image. It may be called while the item
// is still being analyzed.
func (v *Validator) RemoveItem(id string) error {
	item, ok := v.items.Remove(id)
	if !ok {
		return apperrors.NewNotFoundError("fiscal note", id)
	}
	if item.ImageRef != "" {
		if err := v.images.Delete(item.ImageRef); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			slog.Error("Failed to delete fiscal note image", "image_ref", item.ImageRef, "error", err)
		}
	}
	return nil
}

// Wait blocks until every submitted batch has settled
func (v *Validator) Wait() {
	v.wg.Wait()
}
