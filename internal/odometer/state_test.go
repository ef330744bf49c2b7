package odometer

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/grafostech/fleet-console/internal/errors"
)

func intPtr(v int) *int {
	return &v
}

var _ = DescribeTable("DeriveState",
	func(manual int, ai *int, saved bool, expected State) {
		Expect(DeriveState(manual, ai, saved)).To(Equal(expected))
	},
	Entry("no AI value", 12500, (*int)(nil), false, StateIdle),
	Entry("divergent values", 12500, intPtr(12580), false, StateDivergence),
	Entry("equal values", 12580, intPtr(12580), false, StateMatch),
	Entry("zero manual against a zero reading", 0, intPtr(0), false, StateMatch),
	Entry("saved with divergent values", 1, intPtr(12580), true, StateSaved),
	Entry("saved without an AI value", 0, (*int)(nil), true, StateSaved),
)

var _ = Describe("DeriveState", func() {
	It("matches exactly when the values are equal", func() {
		for _, ai := range []int{0, 1, 999, 12580} {
			for _, manual := range []int{0, 1, 999, 12580} {
				expected := StateDivergence
				if manual == ai {
					expected = StateMatch
				}
				Expect(DeriveState(manual, intPtr(ai), false)).To(Equal(expected))
			}
		}
	})
})

var _ = DescribeTable("ParseMileage",
	func(input string, expected int) {
		value, err := ParseMileage(input)
		Expect(err).NotTo(HaveOccurred())
		Expect(value).To(Equal(expected))
	},
	Entry("plain digits", "12500", 12500),
	Entry("thousands separator and unit", "12.500 km", 12500),
	Entry("empty", "", 0),
	Entry("no digits", "km", 0),
	Entry("leading zeros", "000123", 123),
)

var _ = Describe("ParseMileage", func() {
	It("rejects values that do not fit", func() {
		_, err := ParseMileage("12345678901234567890")
		Expect(err).To(MatchError(apperrors.ErrInvalidInput))
	})
})

var _ = Describe("decodeResult", func() {
	It("decodes mileage and confidence", func() {
		res, err := decodeResult(json.RawMessage(`{"mileage":12580,"confidence":0.98}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Mileage).To(Equal(12580))
		Expect(res.Confidence).To(Equal(0.98))
	})

	It("returns a parse error for a negative mileage", func() {
		_, err := decodeResult(json.RawMessage(`{"mileage":-1,"confidence":0.98}`))
		Expect(err).To(MatchError(apperrors.ErrParse))
	})

	It("clamps a negative confidence to zero", func() {
		res, err := decodeResult(json.RawMessage(`{"mileage":1,"confidence":-0.5}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Confidence).To(Equal(0.0))
	})
})
