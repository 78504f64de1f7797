package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/teacurran/village-calendar-sub007/internal/api"
	"github.com/teacurran/village-calendar-sub007/internal/app/service"
	"github.com/teacurran/village-calendar-sub007/internal/common/security"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
	"github.com/teacurran/village-calendar-sub007/internal/domain/repository"
	"github.com/teacurran/village-calendar-sub007/internal/platform/queue"
)

type apiFixture struct {
	handler  http.Handler
	tokens   *security.TokenIssuer
	verifier *security.WebhookVerifier
	orders   *service.OrderService
	auth     *service.AuthService
	jobRepo  repository.JobRepository
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	orderRepo := repository.NewMemoryOrderRepository()
	jobRepo := repository.NewMemoryJobRepository()
	eventRepo := repository.NewMemoryWebhookEventRepository()
	userRepo := repository.NewMemoryUserRepository()

	tokens := security.NewTokenIssuer([]byte("test-secret"), time.Hour)
	verifier := security.NewWebhookVerifier([]byte("whsec_test"), 5*time.Minute)

	authService := service.NewAuthService(userRepo, tokens)
	orderService := service.NewOrderService(orderRepo, nil, logger)
	jobService := service.NewJobService(jobRepo, queue.NewChanNotifier(16), logger)
	webhookService := service.NewWebhookService(orderService, jobService, eventRepo, verifier, nil, logger)
	jobAdminService := service.NewJobAdminService(jobRepo, jobService, logger)

	return &apiFixture{
		handler:  api.NewRouter(tokens, authService, orderService, jobAdminService, webhookService),
		tokens:   tokens,
		verifier: verifier,
		orders:   orderService,
		auth:     authService,
		jobRepo:  jobRepo,
	}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) token(t *testing.T, role string) string {
	t.Helper()
	token, err := f.tokens.GenerateToken("user-1", role)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return token
}

func (f *apiFixture) checkoutPayload(t *testing.T) ([]byte, *model.Order) {
	t.Helper()
	order, err := f.orders.Create(context.Background(), service.CreateOrderParams{
		CustomerEmail: "pat@example.com",
		ProductTitle:  "Village Calendar 2027",
	})
	if err != nil {
		t.Fatalf("creating order: %v", err)
	}
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "payment_intent": "pi_1", "metadata": {"order_id": %q}}}
	}`, order.ID))
	return payload, order
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestPaymentWebhook_Delivery(t *testing.T) {
	f := newAPIFixture(t)
	payload, order := f.checkoutPayload(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", bytes.NewReader(payload))
	req.Header.Set("Signature", f.verifier.Sign(payload, time.Now()))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var result service.WebhookResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if result.Outcome != model.EventOutcomeProcessed {
		t.Errorf("outcome = %q, want processed", result.Outcome)
	}

	after, err := f.orders.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("reloading order: %v", err)
	}
	if after.Status != model.OrderStatusPaid {
		t.Errorf("order status = %s, want PAID", after.Status)
	}
}

func TestPaymentWebhook_SignatureRequired(t *testing.T) {
	f := newAPIFixture(t)
	payload, _ := f.checkoutPayload(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong secret", security.NewWebhookVerifier([]byte("whsec_other"), time.Minute).Sign(payload, time.Now())},
		{"garbage header", "t=abc,v1=zzz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", bytes.NewReader(payload))
			if tt.header != "" {
				req.Header.Set("Signature", tt.header)
			}
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestPaymentWebhook_ReplayAcknowledged(t *testing.T) {
	f := newAPIFixture(t)
	payload, _ := f.checkoutPayload(t)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", bytes.NewReader(payload))
		req.Header.Set("Signature", f.verifier.Sign(payload, time.Now()))
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d, want 200", i+1, rec.Code)
		}
		if i == 1 {
			var result service.WebhookResult
			if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if result.Outcome != service.OutcomeReplay {
				t.Errorf("second delivery outcome = %q, want replay", result.Outcome)
			}
		}
	}
}

func TestAdminJobs_RequiresToken(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/admin/jobs", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdminJobs_StaffCanList(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/admin/jobs", f.token(t, model.RoleStaff), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		Jobs  []model.Job `json:"jobs"`
		Total int         `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestAdminJobs_StaffCannotRetry(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/admin/jobs/some-id/retry", f.token(t, model.RoleStaff), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestAdminJobs_AdminRetriesFailedJob(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	job := &model.Job{ID: "job_1", QueueName: model.QueueOrderConfirmations, ActorID: "ord_1", RunAt: time.Now()}
	if err := f.jobRepo.Create(ctx, nil, job); err != nil {
		t.Fatalf("creating job: %v", err)
	}
	if err := f.jobRepo.MarkTerminal(ctx, job.ID, 3, "max attempts exhausted", "smtp timeout", time.Now()); err != nil {
		t.Fatalf("failing job: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/v1/admin/jobs/job_1/retry", f.token(t, model.RoleAdmin), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	after, err := f.jobRepo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reloading job: %v", err)
	}
	if after.Complete || after.CompletedWithFailure || after.Attempts != 0 {
		t.Errorf("job state = %+v, want a fresh pending job", after)
	}
}

func TestAdminUsers_RoleBoundary(t *testing.T) {
	f := newAPIFixture(t)
	body := []byte(`{"username": "new-staffer", "email": "staffer@example.com", "password": "hunter22"}`)

	rec := f.do(t, http.MethodPost, "/api/v1/admin/users", f.token(t, model.RoleStaff), body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff create status = %d, want 403", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/admin/users", f.token(t, model.RoleAdmin), body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin create status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestAuthLogin(t *testing.T) {
	f := newAPIFixture(t)
	_, err := f.auth.CreateStaff(context.Background(), service.CreateStaffRequest{
		Username: "casey",
		Email:    "casey@example.com",
		Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("seeding user: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", "",
		[]byte(`{"login_field": "casey@example.com", "password": "correct-horse"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var resp service.AuthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Token == "" {
		t.Error("response carries no token")
	}

	rec = f.do(t, http.MethodPost, "/api/v1/auth/login", "",
		[]byte(`{"login_field": "casey", "password": "wrong"}`))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, want 401", rec.Code)
	}
}
