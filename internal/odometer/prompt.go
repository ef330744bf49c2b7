package odometer

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/grafostech/fleet-console/internal/errors"
	"github.com/grafostech/fleet-console/internal/recognition"
)

const instructions = "Analyze this dashboard image. Identify the odometer reading " +
	"(total distance traveled). Ignore trip meters (usually smaller numbers or " +
	"with decimals). Return the value as an integer."

// Schema is the structured output requested for a dashboard photo.
var Schema = &recognition.Schema{
	Type: recognition.TypeObject,
	Properties: map[string]*recognition.Schema{
		"mileage": {
			Type:        recognition.TypeInteger,
			Description: "The odometer reading value",
		},
		"confidence": {
			Type:        recognition.TypeNumber,
			Description: "Confidence score between 0 and 1",
		},
	},
	Required: []string{"mileage", "confidence"},
}

type result struct {
	Mileage    int     `json:"mileage"`
	Confidence float64 `json:"confidence"`
}

func decodeResult(raw json.RawMessage) (result, error) {
	var res result
	if err := json.Unmarshal(raw, &res); err != nil {
		return result{}, apperrors.NewParseError(string(raw), err)
	}
	if res.Mileage < 0 {
		return result{}, apperrors.NewParseError(string(raw), fmt.Errorf("negative mileage %d", res.Mileage))
	}
	res.Confidence = min(max(res.Confidence, 0), 1)
	return res, nil
}
