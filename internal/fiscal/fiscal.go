// Package fiscal validates batches of delivery-proof photos against an
// expected invoice number. Every photo is analyzed concurrently and its item
// is updated in place as soon as its own analysis settles.
package fiscal

import (
	"fmt"
	"time"

	apperrors "github.com/grafostech/fleet-console/internal/errors"
)

// Status of a fiscal note item
type Status string

const (
	StatusProcessing Status = "processing"
	StatusValidated  Status = "validated"
	StatusReview     Status = "review"
	StatusRejected   Status = "rejected"
)

// Classification of an analyzed photo
type Classification string

const (
	ClassificationReceipt Classification = "RECEIPT"
	ClassificationGoods   Classification = "GOODS"
	ClassificationOther   Classification = "OTHER"
)

// AIData is the structured reply for one photo.
type AIData struct {
	Classification Classification `json:"classification"`
	FoundNumber    *string        `json:"foundNumber"`
	NumberMatches  bool           `json:"numberMatches"`
	HasSignature   bool           `json:"hasSignature"`
	Confidence     float64        `json:"confidence"`
}

// Item is one uploaded photo and its validation outcome.
type Item struct {
	ID                    string    `json:"id"`
	FileName              string    `json:"file_name"`
	ImageRef              string    `json:"image_ref"`
	ExpectedInvoiceNumber string    `json:"expected_invoice_number"`
	Status                Status    `json:"status"`
	AIData                *AIData   `json:"ai_data,omitempty"`
	ErrorMessage          string    `json:"error_message,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// Classify derives the final status of an analyzed photo. A receipt is
// validated only with a matching number and a signature. Photos of goods go
// to review.
func Classify(data AIData) Status {
	switch data.Classification {
	case ClassificationReceipt:
		switch {
		case data.NumberMatches && data.HasSignature:
			return StatusValidated
		case !data.NumberMatches:
			return StatusRejected
		default:
			return StatusReview
		}
	case ClassificationGoods:
		return StatusReview
	default:
		return StatusRejected
	}
}

// Filter selects a bucket of items for display
type Filter string

const (
	FilterAll        Filter = "all"
	FilterValidated  Filter = "validated"
	FilterReview     Filter = "review"
	FilterProcessing Filter = "processing"
)

// ParseFilter reads a filter name. An empty name is FilterAll.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(s); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterValidated, FilterReview, FilterProcessing:
		return f, nil
	default:
		return "", apperrors.NewValidationError("filter", fmt.Sprintf("unknown filter %q", s))
	}
}

// Matches reports whether an item with status s belongs to the bucket.
// The review bucket also shows rejected items; the statuses stay distinct.
func (f Filter) Matches(s Status) bool {
	switch f {
	case FilterAll:
		return true
	case FilterValidated:
		return s == StatusValidated
	case FilterReview:
		return s == StatusReview || s == StatusRejected
	case FilterProcessing:
		return s == StatusProcessing
	default:
		return false
	}
}

// Counts are the item totals per display bucket
type Counts struct {
	Validated  int `json:"validated"`
	Review     int `json:"review"`
	Processing int `json:"processing"`
}
