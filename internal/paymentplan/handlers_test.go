package paymentplan

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/presale-api/internal/common"
	"github.com/noah-isme/presale-api/internal/tenant"
)

type envelope[T any] struct {
	Success bool           `json:"success"`
	Data    T              `json:"data"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

type stubExporter struct {
	plans int
}

func (s *stubExporter) WritePlans(w io.Writer, plans []Plan) error {
	s.plans = len(plans)
	_, err := w.Write([]byte("xlsx"))
	return err
}

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
}

func newTestRouter(t *testing.T, admin ...func(http.Handler) http.Handler) (http.Handler, serviceFixture, *stubExporter) {
	t.Helper()
	f := newFixture(t)
	exporter := &stubExporter{}
	r := chi.NewRouter()
	r.Use(tenant.NewResolver("X-Store-ID", "store-1").Middleware)
	NewHandler(f.svc, exporter).Routes(r, Middlewares{Admin: admin})
	return r, f, exporter
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var out envelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestPlanHandlersFlow(t *testing.T) {
	h, _, exporter := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/payments", `{"deliveryId":"D1","numberOfPayments":4,"paymentFrequency":"weekly","startDate":"2025-11-15T00:00:00Z"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[Plan](t, rec)
	require.True(t, created.Success)
	require.EqualValues(t, 6000, created.Data.TotalAmount)
	id := created.Data.ID

	rec = do(t, h, http.MethodPost, "/payments", `{"deliveryId":"D1","numberOfPayments":2}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/payments/delivery/D1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, id, decode[Plan](t, rec).Data.ID)

	rec = do(t, h, http.MethodPost, "/payments/"+id+"/record", `{"amount":2000,"notes":"cash"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	recorded := decode[RecordResult](t, rec)
	require.EqualValues(t, 4000, recorded.Data.Plan.RemainingAmount)

	rec = do(t, h, http.MethodPost, "/payments/"+id+"/record", `{"amount":9000}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	over := decode[any](t, rec)
	require.Equal(t, "OVERPAYMENT", over.Code)
	require.EqualValues(t, 4000, over.Details["remaining"])

	rec = do(t, h, http.MethodGet, "/payments/"+id+"/schedule", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]ScheduleEntry](t, rec).Data, 4)

	rec = do(t, h, http.MethodGet, "/payments/"+id+"/next", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, decode[ScheduleEntry](t, rec).Data.Seq)

	rec = do(t, h, http.MethodGet, "/payments/"+id+"/analytics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 33.33, decode[Analytics](t, rec).Data.PercentagePaid)

	rec = do(t, h, http.MethodPut, "/payments/"+id+"/check-overdue", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPut, "/payments/"+id+"/status", `{"status":"paused"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, StatusPaused, decode[Plan](t, rec).Data.Status)

	rec = do(t, h, http.MethodPut, "/payments/"+id+"/status", `{"status":"completed"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/payments/statistics/global", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, decode[Statistics](t, rec).Data.TotalPlans)

	rec = do(t, h, http.MethodGet, "/payments/export.xlsx?status=paused", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "payment-plans-20251110.xlsx")
	require.Equal(t, "xlsx", rec.Body.String())
	require.Equal(t, 1, exporter.plans)

	rec = do(t, h, http.MethodGet, "/payments/export.xlsx?status=archived", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/payments/"+id+"/cancel", `{"reason":"customer left"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, StatusCancelled, decode[Plan](t, rec).Data.Status)

	rec = do(t, h, http.MethodDelete, "/payments/"+id, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/payments/"+id, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlanHandlersPreviewAndValidation(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/payments/preview", `{"totalAmount":10000,"numberOfPayments":3,"paymentFrequency":"weekly","startDate":"2025-01-01T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[Preview](t, rec)
	require.EqualValues(t, 3334, preview.Data.Schedule[2].AmountDue)

	rec = do(t, h, http.MethodPost, "/payments/preview", `{"totalAmount":10000,"numberOfPayments":3,"paymentFrequency":"daily","startDate":"2025-01-01T00:00:00Z"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_SCHEDULE", decode[any](t, rec).Code)

	rec = do(t, h, http.MethodPost, "/payments/preview", `{"totalAmount":10000,"numberOfPayments":0,"paymentFrequency":"weekly","startDate":"2025-01-01T00:00:00Z"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_SCHEDULE", decode[any](t, rec).Code)

	rec = do(t, h, http.MethodPost, "/payments", `{"deliveryId":"D1","numberOfPayments":0}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_SCHEDULE", decode[any](t, rec).Code)

	rec = do(t, h, http.MethodPost, "/payments", `{"deliveryId":"D1","numberOfPayments":600}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, common.CodeValidation, decode[any](t, rec).Code)

	rec = do(t, h, http.MethodPost, "/payments/missing/record", `{"amount":100}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/payments/customer/cust-9/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "none", decode[CustomerSummary](t, rec).Data.OverallStatus)

	rec = do(t, h, http.MethodGet, "/payments/overdue/list", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decode[[]Plan](t, rec).Data)
}

func TestPlanHandlersAdminRoutesGuarded(t *testing.T) {
	h, f, _ := newTestRouter(t, denyAll)
	plan := f.createScenarioPlan(t)

	rec := do(t, h, http.MethodDelete, "/payments/"+plan.ID, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPut, "/payments/check-all-overdue", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/payments/"+plan.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPlanHandlersCheckAllOverdueScopedToStore(t *testing.T) {
	h, f, _ := newTestRouter(t)
	f.createScenarioPlan(t)
	*f.clock = date(2025, 11, 23)

	rec := do(t, h, http.MethodPut, "/payments/check-all-overdue", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[SweepResult](t, rec)
	require.Equal(t, SweepResult{Checked: 1, Changed: 1, NewlyOverdue: 1}, result.Data)
	require.Contains(t, f.locker.keys, "store-1:"+sweepLockKey)

	req := httptest.NewRequest(http.MethodPut, "/payments/check-all-overdue", nil)
	req.Header.Set("X-Store-ID", "store-2")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, decode[SweepResult](t, rec).Data.Checked)
}

func TestPlanHandlersCancelReadsChunkedBody(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/payments", `{"deliveryId":"D1","numberOfPayments":2}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[Plan](t, rec).Data.ID

	req := httptest.NewRequest(http.MethodPut, "/payments/"+id+"/cancel", strings.NewReader(`{"reason":"order withdrawn"}`))
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	plan := decode[Plan](t, rec).Data
	require.Equal(t, StatusCancelled, plan.Status)
	require.Contains(t, plan.Schedule[len(plan.Schedule)-1].Notes, "Cancelled: order withdrawn")
}

func TestPlanHandlersCancelEmptyChunkedBody(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/payments", `{"deliveryId":"D1","numberOfPayments":2}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[Plan](t, rec).Data.ID

	req := httptest.NewRequest(http.MethodPut, "/payments/"+id+"/cancel", strings.NewReader(""))
	req.ContentLength = -1
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, StatusCancelled, decode[Plan](t, rec).Data.Status)

	rec = do(t, h, http.MethodPut, "/payments/"+id+"/cancel", `{"reason":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
