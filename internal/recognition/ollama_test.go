package recognition

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/grafostech/fleet-console/internal/errors"
)

var _ = Describe("Ollama", func() {
	const chatURL = "http://ollama.test/api/chat"

	var (
		backend  *Ollama
		received ollamaChatRequest
		text     string
		err      error
	)

	BeforeEach(func() {
		backend = NewOllama("http://ollama.test", "llava")
		httpmock.ActivateNonDefault(backend.client)
		received = ollamaChatRequest{}
	})

	AfterEach(func() {
		httpmock.DeactivateAndReset()
	})

	JustBeforeEach(func() {
		text, err = backend.Generate(context.Background(), Request{
			Image:        []byte("png bytes"),
			MIMEType:     "image/png",
			Instructions: "read the odometer",
			Schema:       testSchema,
		})
	})

	When("the server answers", func() {
		BeforeEach(func() {
			httpmock.RegisterResponder(http.MethodPost, chatURL,
				func(req *http.Request) (*http.Response, error) {
					Expect(json.NewDecoder(req.Body).Decode(&received)).To(Succeed())
					return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
						"message": map[string]any{"role": "assistant", "content": `{"mileage": 5, "confidence": 0.7}`},
						"done":    true,
					})
				})
		})

		It("should return the message content", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal(`{"mileage": 5, "confidence": 0.7}`))
		})

		It("should send the image base64-encoded on the user message", func() {
			Expect(received.Messages).To(HaveLen(2))
			Expect(received.Messages[1].Images).To(ConsistOf("cG5nIGJ5dGVz"))
		})

		It("should constrain the output with the JSON schema", func() {
			format, ok := received.Format.(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(format["type"]).To(Equal("object"))
			Expect(format["required"]).To(ConsistOf("mileage", "confidence"))
		})

		It("should disable streaming", func() {
			Expect(received.Stream).To(BeFalse())
			Expect(received.Model).To(Equal("llava"))
		})
	})

	When("the server returns an error status", func() {
		BeforeEach(func() {
			httpmock.RegisterResponder(http.MethodPost, chatURL,
				httpmock.NewStringResponder(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns a transport error with the status code", func() {
			Expect(err).To(MatchError(apperrors.ErrTransport))
			var te *apperrors.TransportError
			Expect(apperrors.As(err, &te)).To(BeTrue())
			Expect(te.StatusCode).To(Equal(http.StatusInternalServerError))
		})
	})

	When("the server returns an undecodable body", func() {
		BeforeEach(func() {
			httpmock.RegisterResponder(http.MethodPost, chatURL,
				httpmock.NewStringResponder(http.StatusOK, "not json"))
		})

		It("returns a parse error", func() {
			Expect(err).To(MatchError(apperrors.ErrParse))
		})
	})

	When("the server is unreachable", func() {
		It("returns a transport error", func() {
			Expect(err).To(MatchError(apperrors.ErrTransport))
		})
	})
})
