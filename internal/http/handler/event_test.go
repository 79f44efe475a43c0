package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sitepulse/beacon/internal/http/handler"
	"github.com/sitepulse/beacon/internal/service"
	"github.com/sitepulse/beacon/internal/validate"
)

var _ = Describe("EventHandler", func() {
	var (
		router *gin.Engine
		svc    *mockIngestService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		svc = &mockIngestService{}
		h := handler.NewEventHandler(svc)
		router.POST("/event", h.Submit)
	})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/event", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("returns 202 with the job id when the event is accepted", func() {
		svc.submitFn = func(_ context.Context, payload map[string]any) (service.SubmitResult, error) {
			Expect(payload["site_id"]).To(Equal("acme"))
			return service.SubmitResult{JobID: "acme-1717236000000-k3x"}, nil
		}

		w := post(`{"site_id":"acme","event_type":"page_view","path":"/","timestamp":"2024-06-01T10:00:00Z"}`)

		Expect(w.Code).To(Equal(http.StatusAccepted))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["status"]).To(Equal("accepted"))
		Expect(resp["job_id"]).To(Equal("acme-1717236000000-k3x"))
	})

	It("returns 400 with every violation when the payload is invalid", func() {
		svc.submitFn = func(_ context.Context, _ map[string]any) (service.SubmitResult, error) {
			return service.SubmitResult{Violations: []validate.Violation{
				{Field: "site_id", Message: "site_id is required and must be a non-empty string"},
				{Field: "timestamp", Message: "timestamp must be a valid ISO 8601 date string"},
			}}, nil
		}

		w := post(`{"path":"/"}`)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
		var resp struct {
			Error      string `json:"error"`
			Violations []struct {
				Field string `json:"field"`
			} `json:"violations"`
		}
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Error).To(Equal("invalid event payload"))
		Expect(resp.Violations).To(HaveLen(2))
		Expect(resp.Violations[0].Field).To(Equal("site_id"))
	})

	It("returns 400 on a malformed JSON body", func() {
		w := post(`{"site_id": `)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns 500 when the queue is unavailable", func() {
		svc.submitFn = func(_ context.Context, _ map[string]any) (service.SubmitResult, error) {
			return service.SubmitResult{}, errors.New("enqueue: redis gone")
		}

		w := post(`{"site_id":"acme","event_type":"page_view","path":"/","timestamp":"2024-06-01T10:00:00Z"}`)

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
	})
})
