package console

import (
	"encoding/json"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/grafostech/fleet-console/internal/fiscal"
	"github.com/grafostech/fleet-console/internal/history"
	"github.com/grafostech/fleet-console/internal/odometer"
)

func (c *client) reading() odometer.Reading {
	resp, body := c.do(http.MethodGet, "/api/odometer", nil)
	ExpectWithOffset(1, resp.StatusCode).To(Equal(http.StatusOK))
	var r odometer.Reading
	ExpectWithOffset(1, json.Unmarshal(body, &r)).To(Succeed())
	return r
}

func (c *client) state() odometer.State {
	return c.reading().State
}

type fiscalList struct {
	Items      []fiscal.Item `json:"items"`
	Counts     fiscal.Counts `json:"counts"`
	Processing bool          `json:"processing"`
}

func (c *client) fiscalNotes(filter string) fiscalList {
	resp, body := c.do(http.MethodGet, "/api/fiscal-notes?filter="+filter, nil)
	ExpectWithOffset(1, resp.StatusCode).To(Equal(http.StatusOK), string(body))
	var l fiscalList
	ExpectWithOffset(1, json.Unmarshal(body, &l)).To(Succeed())
	return l
}

var _ = Describe("Validation flows", func() {
	var (
		env   *testEnv
		admin *client
	)

	BeforeEach(func() {
		env = newTestEnv()
		admin = env.newClient()
		admin.login(adminEmail, adminPassword)
	})

	AfterEach(func() {
		env.close()
	})

	Describe("odometer reading", func() {
		It("starts idle with the first active vehicle selected", func() {
			r := admin.reading()
			Expect(r.State).To(Equal(odometer.StateIdle))
			Expect(r.VehicleID).NotTo(BeEmpty())
			Expect(r.AIValue).To(BeNil())
		})

		It("fills an empty manual value from the photo", func() {
			resp, body := admin.upload("/api/odometer/image", []upload{{field: "file", filename: "dash.jpg", data: []byte("dashboard")}}, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted), string(body))

			Eventually(admin.state).Should(Equal(odometer.StateMatch))
			r := admin.reading()
			Expect(r.ManualValue).To(Equal(12580))
			Expect(*r.AIValue).To(Equal(12580))
			Expect(r.Confidence).To(BeNumerically("~", 0.98, 0.001))

			resp, body = admin.do(http.MethodPost, "/api/odometer/accept-ai", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var saved struct {
				Record  history.Record   `json:"record"`
				Reading odometer.Reading `json:"reading"`
			}
			Expect(json.Unmarshal(body, &saved)).To(Succeed())
			Expect(saved.Record.Mileage).To(Equal(12580))
			Expect(saved.Record.Source).To(Equal(history.SourceAI))
			Expect(saved.Reading.State).To(Equal(odometer.StateSaved))
		})

		It("reconciles a divergent manual value before saving", func() {
			resp, body := admin.do(http.MethodPut, "/api/odometer/manual", map[string]any{"value": "12.500 km"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK), string(body))
			Expect(admin.reading().ManualValue).To(Equal(12500))

			resp, _ = admin.upload("/api/odometer/image", []upload{{field: "file", filename: "dash.jpg", data: []byte("dashboard")}}, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			Eventually(admin.state).Should(Equal(odometer.StateDivergence))

			By("refusing to confirm a divergent value")
			resp, _ = admin.do(http.MethodPost, "/api/odometer/confirm", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))

			By("matching after the manual value is corrected")
			resp, _ = admin.do(http.MethodPut, "/api/odometer/manual", map[string]any{"value": 12580})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(admin.state()).To(Equal(odometer.StateMatch))

			resp, _ = admin.do(http.MethodPost, "/api/odometer/confirm", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			By("freezing the saved reading")
			resp, _ = admin.do(http.MethodPost, "/api/odometer/accept-ai", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			resp, _ = admin.do(http.MethodPut, "/api/odometer/manual", map[string]any{"value": 1})
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))

			By("listing the record in the history")
			resp, body = admin.do(http.MethodGet, "/api/history", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var entries []history.Entry
			Expect(json.Unmarshal(body, &entries)).To(Succeed())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Mileage).To(Equal(12580))
			Expect(entries[0].AIMileage).To(Equal(12580))
			Expect(entries[0].Source).To(Equal(history.SourceManual))
			Expect(entries[0].Outcome).To(Equal(history.OutcomeSuccess))
			Expect(entries[0].VehicleLabel).NotTo(Equal(history.UnknownVehicle))

			By("starting over with the same vehicle")
			vehicleID := admin.reading().VehicleID
			resp, _ = admin.do(http.MethodPost, "/api/odometer/reset", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			r := admin.reading()
			Expect(r.State).To(Equal(odometer.StateIdle))
			Expect(r.ImageRef).To(BeEmpty())
			Expect(r.VehicleID).To(Equal(vehicleID))
		})

		It("rejects negative and oversized mileage", func() {
			resp, _ := admin.do(http.MethodPut, "/api/odometer/manual", map[string]any{"value": -5})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			resp, _ = admin.do(http.MethodPut, "/api/odometer/manual", map[string]any{"value": "1234567890"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("only selects active vehicles", func() {
			resp, body := admin.do(http.MethodGet, "/api/vehicles?status=inactive", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var inactive []struct {
				ID string `json:"id"`
			}
			Expect(json.Unmarshal(body, &inactive)).To(Succeed())
			Expect(inactive).NotTo(BeEmpty())

			resp, _ = admin.do(http.MethodPut, "/api/odometer/vehicle", map[string]any{"vehicle_id": inactive[0].ID})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			resp, body = admin.do(http.MethodPut, "/api/odometer/vehicle", map[string]any{"vehicle_id": "missing"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorMessage(body)).To(Equal("Select an active vehicle."))
		})

		It("requires a photo before reprocessing", func() {
			resp, _ := admin.do(http.MethodPost, "/api/odometer/reprocess", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))

			resp, body := admin.upload("/api/odometer/image", nil, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorMessage(body)).To(ContainSubstring("No file was selected"))
		})

		It("serves the photo to its own session only", func() {
			resp, _ := admin.upload("/api/odometer/image", []upload{{field: "file", filename: "dash.jpg", data: []byte("dashboard")}}, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			Eventually(admin.state).Should(Equal(odometer.StateMatch))
			ref := admin.reading().ImageRef

			resp, body := admin.do(http.MethodGet, "/api/images/"+ref, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(Equal([]byte("dashboard")))

			other := env.newClient()
			other.login(adminEmail, adminPassword)
			resp, _ = other.do(http.MethodGet, "/api/images/"+ref, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("fiscal notes", func() {
		BeforeEach(func() {
			env.backend.fiscalReplies["unsigned"] = `{"classification":"RECEIPT","foundNumber":"12345","numberMatches":true,"hasSignature":false,"confidence":0.7}`
			env.backend.fiscalReplies["garbled"] = `I could not read this document`
		})

		It("requires the expected invoice number", func() {
			resp, body := admin.upload("/api/fiscal-notes", []upload{{field: "files", filename: "nf.jpg", data: []byte("ok")}}, map[string]string{"invoice_number": "  "})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorMessage(body)).To(Equal("Enter the expected invoice number before uploading."))
			Expect(admin.fiscalNotes("all").Items).To(BeEmpty())
		})

		It("validates a batch item by item", func() {
			resp, body := admin.upload("/api/fiscal-notes", []upload{
				{field: "files", filename: "a.jpg", data: []byte("ok")},
				{field: "files", filename: "b.jpg", data: []byte("unsigned")},
				{field: "files", filename: "c.jpg", data: []byte("garbled")},
			}, map[string]string{"invoice_number": "12345"})
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted), string(body))

			var submitted struct {
				Items []fiscal.Item `json:"items"`
			}
			Expect(json.Unmarshal(body, &submitted)).To(Succeed())
			Expect(submitted.Items).To(HaveLen(3))
			for _, item := range submitted.Items {
				Expect(item.Status).To(Equal(fiscal.StatusProcessing))
				Expect(item.ExpectedInvoiceNumber).To(Equal("12345"))
			}

			Eventually(func() bool { return admin.fiscalNotes("all").Processing }).Should(BeFalse())

			all := admin.fiscalNotes("all")
			Expect(all.Items).To(HaveLen(3))
			Expect(all.Counts).To(Equal(fiscal.Counts{Validated: 1, Review: 2, Processing: 0}))

			validated := admin.fiscalNotes("validated")
			Expect(validated.Items).To(HaveLen(1))
			Expect(validated.Items[0].FileName).To(Equal("a.jpg"))
			Expect(*validated.Items[0].AIData.FoundNumber).To(Equal("12345"))

			review := admin.fiscalNotes("review")
			Expect(review.Items).To(HaveLen(2))
			statuses := map[string]fiscal.Status{}
			for _, item := range review.Items {
				statuses[item.FileName] = item.Status
			}
			Expect(statuses).To(Equal(map[string]fiscal.Status{
				"b.jpg": fiscal.StatusReview,
				"c.jpg": fiscal.StatusRejected,
			}))

			By("removing an item")
			id := validated.Items[0].ID
			resp, _ = admin.do(http.MethodDelete, "/api/fiscal-notes/"+id, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp, _ = admin.do(http.MethodDelete, "/api/fiscal-notes/"+id, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(admin.fiscalNotes("all").Counts.Validated).To(Equal(0))
		})

		It("rejects an unlisted classification but keeps what was read", func() {
			env.backend.fiscalReplies["canhoto"] = `{"classification":"CANHOTO","foundNumber":"12345","numberMatches":true,"hasSignature":true,"confidence":0.8}`

			resp, body := admin.upload("/api/fiscal-notes", []upload{{field: "files", filename: "c.jpg", data: []byte("canhoto")}}, map[string]string{"invoice_number": "12345"})
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted), string(body))
			Eventually(func() bool { return admin.fiscalNotes("all").Processing }).Should(BeFalse())

			items := admin.fiscalNotes("all").Items
			Expect(items).To(HaveLen(1))
			Expect(items[0].Status).To(Equal(fiscal.StatusRejected))
			Expect(items[0].ErrorMessage).To(BeEmpty())
			Expect(items[0].AIData).NotTo(BeNil())
			Expect(items[0].AIData.Classification).To(Equal(fiscal.Classification("CANHOTO")))
			Expect(*items[0].AIData.FoundNumber).To(Equal("12345"))
		})

		It("rejects an unknown filter", func() {
			resp, _ := admin.do(http.MethodGet, "/api/fiscal-notes?filter=pending", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("keeps each session's batch separate", func() {
			resp, _ := admin.upload("/api/fiscal-notes", []upload{{field: "files", filename: "a.jpg", data: []byte("ok")}}, map[string]string{"invoice_number": "12345"})
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			other := env.newClient()
			other.login(adminEmail, adminPassword)
			Expect(other.fiscalNotes("all").Items).To(BeEmpty())
		})
	})
})
