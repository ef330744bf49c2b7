package fiscal

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/grafostech/fleet-console/internal/errors"
	"github.com/grafostech/fleet-console/internal/recognition"
)

// Schema is the structured output requested for a delivery-proof photo.
// classification is optional: a reply without it, or with an unlisted value,
// is rejected by Classify.
var Schema = &recognition.Schema{
	Type: recognition.TypeObject,
	Properties: map[string]*recognition.Schema{
		"classification": {
			Type:        recognition.TypeString,
			Enum:        []string{string(ClassificationReceipt), string(ClassificationGoods), string(ClassificationOther)},
			Description: "Kind of image",
		},
		"foundNumber": {
			Type:        recognition.TypeString,
			Description: "Invoice number found in the image, if any",
			Nullable:    true,
		},
		"numberMatches": {
			Type:        recognition.TypeBoolean,
			Description: "True if the number found matches the expected one",
		},
		"hasSignature": {
			Type:        recognition.TypeBoolean,
			Description: "True if a visible signature is present",
		},
		"confidence": {
			Type:        recognition.TypeNumber,
			Description: "Confidence of the analysis, from 0 to 1",
		},
	},
	Required: []string{"numberMatches", "hasSignature", "confidence"},
}

func instructions(expected string) string {
	return fmt.Sprintf(`You are a logistics specialist. Analyze this image.
The expected invoice number is %q.

Rules:
1. Classify the image as "RECEIPT" (delivery receipt stub, invoice or proof of receipt), "GOODS" (boxes, products, a truck) or "OTHER".
2. If it is a "RECEIPT", look for the invoice number %q in the image. It may be handwritten or printed.
3. If it is a "RECEIPT", check whether the recipient field has a signature (a scribble or a written name).

Return the result as JSON following the schema exactly.`, expected, expected)
}

func decodeAIData(raw json.RawMessage) (*AIData, error) {
	var data AIData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, apperrors.NewParseError(string(raw), err)
	}
	data.Confidence = min(max(data.Confidence, 0), 1)
	return &data, nil
}
