package fiscal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	apperrors "github.com/grafostech/fleet-console/internal/errors"
	"github.com/grafostech/fleet-console/internal/metrics"
	"github.com/grafostech/fleet-console/internal/recognition"
)

type reply struct {
	data json.RawMessage
	err  error
}

func receipt(matches, signed bool) reply {
	return reply{data: json.RawMessage(fmt.Sprintf(
		`{"classification":"RECEIPT","foundNumber":"12345","numberMatches":%t,"hasSignature":%t,"confidence":0.9}`,
		matches, signed,
	))}
}

func goods() reply {
	return reply{data: json.RawMessage(`{"classification":"GOODS","foundNumber":null,"numberMatches":false,"hasSignature":false,"confidence":0.8}`)}
}

// gatedRecognizer holds each call until the test releases the reply for its
// image. Images are keyed by their content.
type gatedRecognizer struct {
	mu       sync.Mutex
	gates    map[string]chan reply
	requests map[string]recognition.Request
	started  chan string
}

func newGatedRecognizer() *gatedRecognizer {
	return &gatedRecognizer{
		gates:    make(map[string]chan reply),
		requests: make(map[string]recognition.Request),
		started:  make(chan string, 100),
	}
}

func (g *gatedRecognizer) gate(key string) chan reply {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[key]
	if !ok {
		ch = make(chan reply, 1)
		g.gates[key] = ch
	}
	return ch
}

func (g *gatedRecognizer) release(key string, r reply) {
	g.gate(key) <- r
}

func (g *gatedRecognizer) request(key string) recognition.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[key]
}

func (g *gatedRecognizer) Analyze(ctx context.Context, req recognition.Request) (json.RawMessage, error) {
	key := string(req.Image)
	g.mu.Lock()
	g.requests[key] = req
	g.mu.Unlock()

	g.started <- key
	r := <-g.gate(key)
	return r.data, r.err
}

// mockStorage is a mock implementation of storage.Storage
type mockStorage struct {
	mu      sync.Mutex
	files   map[string][]byte
	saveErr error
	n       int
}

func newMockStorage() *mockStorage {
	return &mockStorage{files: make(map[string][]byte)}
}

func (m *mockStorage) Save(filename string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return "", m.saveErr
	}
	m.n++
	key := fmt.Sprintf("img-%d_%s", m.n, filename)
	m.files[key] = data
	return key, nil
}

func (m *mockStorage) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[key]
	if !ok {
		return nil, apperrors.NewNotFoundError("image", key)
	}
	return data, nil
}

func (m *mockStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[key]; !ok {
		return apperrors.NewNotFoundError("image", key)
	}
	delete(m.files, key)
	return nil
}

func (m *mockStorage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

var _ = Describe("Validator", func() {
	var (
		recognizer *gatedRecognizer
		images     *mockStorage
		items      *Collection
		m          *metrics.Metrics
		validator  *Validator
		opts       []Option
		ctx        context.Context
		files      []File
		ignore     goleak.Option
	)

	status := func(id string) func() Status {
		return func() Status {
			item, _ := items.Get(id)
			return item.Status
		}
	}

	BeforeEach(func() {
		ignore = goleak.IgnoreCurrent()

		recognizer = newGatedRecognizer()
		images = newMockStorage()
		items = NewCollection()

		var err error
		m, err = metrics.New(prometheus.NewRegistry())
		Expect(err).NotTo(HaveOccurred())

		n := 0
		opts = []Option{
			WithMetrics(m),
			WithIDGenerator(func() string { n++; return fmt.Sprintf("item-%d", n) }),
			WithClock(func() time.Time { return time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC) }),
		}
		ctx = context.Background()
		files = []File{
			{Name: "a.jpg", MIMEType: "image/jpeg", Data: []byte("a")},
			{Name: "b.jpg", MIMEType: "image/jpeg", Data: []byte("b")},
			{Name: "c.jpg", MIMEType: "image/jpeg", Data: []byte("c")},
		}
	})

	JustBeforeEach(func() {
		validator = NewValidator(recognizer, images, items, opts...)
	})

	AfterEach(func() {
		validator.Wait()
		Expect(goleak.Find(ignore)).To(Succeed())
	})

	Describe("SubmitBatch validation", func() {
		It("rejects an empty invoice number without creating anything", func() {
			batch, err := validator.SubmitBatch(ctx, files, "")
			Expect(err).To(MatchError(apperrors.ErrInvalidInput))
			Expect(apperrors.Message(err)).To(Equal("Enter the expected invoice number before uploading."))
			Expect(batch).To(BeNil())
			Expect(items.Len()).To(Equal(0))
			Expect(images.count()).To(Equal(0))
			Consistently(recognizer.started).ShouldNot(Receive())
		})

		It("treats a blank invoice number as empty", func() {
			_, err := validator.SubmitBatch(ctx, files, "   ")
			Expect(err).To(MatchError(apperrors.ErrInvalidInput))
			Expect(items.Len()).To(Equal(0))
		})

		It("rejects a submission without files", func() {
			_, err := validator.SubmitBatch(ctx, nil, "12345")
			Expect(err).To(MatchError(apperrors.ErrInvalidInput))
		})
	})

	Describe("a submitted batch", func() {
		var batch *Batch

		JustBeforeEach(func() {
			var err error
			batch, err = validator.SubmitBatch(ctx, files, " 12345 ")
			Expect(err).NotTo(HaveOccurred())
		})

		It("creates one processing placeholder per file before any result", func() {
			Expect(batch.Items).To(HaveLen(3))
			for i, item := range batch.Items {
				Expect(item.Status).To(Equal(StatusProcessing))
				Expect(item.FileName).To(Equal(files[i].Name))
				Expect(item.ExpectedInvoiceNumber).To(Equal("12345"))
				Expect(item.ImageRef).NotTo(BeEmpty())
			}
			Expect(ids(items.List(FilterProcessing))).To(Equal([]string{"item-1", "item-2", "item-3"}))
			Expect(items.Processing()).To(BeTrue())

			for _, key := range []string{"a", "b", "c"} {
				recognizer.release(key, receipt(true, true))
			}
			batch.Wait()
		})

		It("starts every analysis at once", func() {
			started := map[string]bool{}
			for range 3 {
				var key string
				Eventually(recognizer.started).Should(Receive(&key))
				started[key] = true
			}
			Expect(started).To(HaveLen(3))

			for _, key := range []string{"a", "b", "c"} {
				recognizer.release(key, receipt(true, true))
			}
			batch.Wait()
		})

		It("sends the expected number and the document schema", func() {
			Eventually(recognizer.started).Should(Receive())
			for _, key := range []string{"a", "b", "c"} {
				recognizer.release(key, goods())
			}
			batch.Wait()

			req := recognizer.request("b")
			Expect(req.Instructions).To(ContainSubstring(`"12345"`))
			Expect(req.Schema).To(BeIdenticalTo(Schema))
			Expect(req.MIMEType).To(Equal("image/jpeg"))
		})

		It("settles each item with its own result, in any order", func() {
			recognizer.release("c", goods())
			Eventually(status("item-3")).Should(Equal(StatusReview))
			Expect(status("item-1")()).To(Equal(StatusProcessing))
			Expect(status("item-2")()).To(Equal(StatusProcessing))

			recognizer.release("a", receipt(false, true))
			Eventually(status("item-1")).Should(Equal(StatusRejected))
			Expect(status("item-2")()).To(Equal(StatusProcessing))

			recognizer.release("b", receipt(true, true))
			batch.Wait()

			Expect(status("item-2")()).To(Equal(StatusValidated))
			Expect(items.Processing()).To(BeFalse())
			Expect(items.Counts()).To(Equal(Counts{Validated: 1, Review: 2}))

			item, _ := items.Get("item-2")
			Expect(item.AIData.Classification).To(Equal(ClassificationReceipt))
			Expect(*item.AIData.FoundNumber).To(Equal("12345"))
		})

		It("keeps a failure from affecting the other items", func() {
			recognizer.release("a", reply{err: apperrors.NewTransportError("gemini", 0, fmt.Errorf("connection reset"))})
			Eventually(status("item-1")).Should(Equal(StatusRejected))

			recognizer.release("b", reply{data: json.RawMessage(`not json`)})
			recognizer.release("c", receipt(true, false))
			batch.Wait()

			first, _ := items.Get("item-1")
			Expect(first.ErrorMessage).To(Equal("Recognition service is unavailable. Try again."))
			Expect(first.AIData).To(BeNil())

			second, _ := items.Get("item-2")
			Expect(second.Status).To(Equal(StatusRejected))
			Expect(second.ErrorMessage).To(Equal("Could not interpret the recognition response."))

			Expect(status("item-3")()).To(Equal(StatusReview))
		})

		It("never retries a failed item", func() {
			recognizer.release("a", reply{err: apperrors.NewConfigError("recognition", "no key", nil)})
			recognizer.release("b", goods())
			recognizer.release("c", goods())
			batch.Wait()

			Eventually(recognizer.started).Should(HaveLen(3))
			Consistently(recognizer.started).Should(HaveLen(3))
		})

		It("drops the late result of an item removed mid-analysis", func() {
			placeholder, _ := items.Get("item-2")
			Expect(validator.RemoveItem("item-2")).To(Succeed())
			Expect(images.count()).To(Equal(2))
			_, err := images.Get(placeholder.ImageRef)
			Expect(err).To(MatchError(apperrors.ErrNotFound))

			for _, key := range []string{"a", "b", "c"} {
				recognizer.release(key, receipt(true, true))
			}
			batch.Wait()

			_, found := items.Get("item-2")
			Expect(found).To(BeFalse())
			Expect(ids(items.List(FilterAll))).To(Equal([]string{"item-1", "item-3"}))
			Expect(testutil.ToFloat64(m.FiscalItems.WithLabelValues("validated"))).To(Equal(2.0))
		})

		It("records settled items by status", func() {
			recognizer.release("a", receipt(true, true))
			recognizer.release("b", receipt(true, false))
			recognizer.release("c", reply{data: json.RawMessage(`{"classification":"OTHER","numberMatches":false,"hasSignature":false,"confidence":0.4}`)})
			batch.Wait()

			Expect(testutil.ToFloat64(m.FiscalItems.WithLabelValues("validated"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.FiscalItems.WithLabelValues("review"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.FiscalItems.WithLabelValues("rejected"))).To(Equal(1.0))
		})

		It("puts a newer batch in front while the older one is pending", func() {
			second, err := validator.SubmitBatch(ctx, []File{{Name: "d.jpg", Data: []byte("d")}}, "999")
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(items.List(FilterAll))).To(Equal([]string{"item-4", "item-1", "item-2", "item-3"}))

			recognizer.release("d", receipt(true, true))
			second.Wait()
			Expect(status("item-4")()).To(Equal(StatusValidated))
			Expect(items.Processing()).To(BeTrue())

			for _, key := range []string{"a", "b", "c"} {
				recognizer.release(key, goods())
			}
			batch.Wait()
			Expect(items.Processing()).To(BeFalse())
		})
	})

	Describe("files that cannot be stored", func() {
		BeforeEach(func() {
			files[1].Data = nil
		})

		It("rejects them immediately and analyzes the rest", func() {
			batch, err := validator.SubmitBatch(ctx, files, "12345")
			Expect(err).NotTo(HaveOccurred())
			Expect(batch.Items[1].Status).To(Equal(StatusRejected))
			Expect(batch.Items[1].ErrorMessage).To(Equal("Could not read the file."))

			recognizer.release("a", receipt(true, true))
			recognizer.release("c", receipt(true, true))
			batch.Wait()

			Expect(items.Counts()).To(Equal(Counts{Validated: 2, Review: 1}))
			Expect(recognizer.started).To(HaveLen(2))
		})
	})

	Describe("RemoveItem", func() {
		It("returns a not found error for unknown items", func() {
			Expect(validator.RemoveItem("nope")).To(MatchError(apperrors.ErrNotFound))
		})
	})

	Describe("with a concurrency limit", func() {
		BeforeEach(func() {
			opts = append(opts, WithConcurrencyLimit(1))
		})

		It("runs one analysis at a time", func() {
			batch, err := validator.SubmitBatch(ctx, files, "12345")
			Expect(err).NotTo(HaveOccurred())

			var first string
			Eventually(recognizer.started).Should(Receive(&first))
			Consistently(recognizer.started).ShouldNot(Receive())

			for _, key := range []string{"a", "b", "c"} {
				recognizer.release(key, goods())
			}
			batch.Wait()
			Expect(items.Counts()).To(Equal(Counts{Review: 3}))
		})
	})
})
