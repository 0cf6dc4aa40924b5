package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"flowerbelle/backend/internal/domain"
	"flowerbelle/backend/internal/service"
	"flowerbelle/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real Authenticator and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, zap.NewNop(), time.UTC)
	auth := NewAuthenticator("test-secret-key", time.Hour, "123456", repo)

	return New(svc, auth, "*", zap.NewNop())
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

// doJSON sends an authenticated request, attaching a CSRF token to writes.
func doJSON(t *testing.T, api *API, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(map[string]string{
		"username": "owner",
		"password": "owner123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body domain.LoginResponse
	decodeBody(t, rec, &body)
	if body.AccessToken == "" || body.Role != domain.RoleOwner {
		t.Fatalf("unexpected login response %+v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "owner", Password: "wrongpassword"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "staff", "staff123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/products", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Items []domain.Product `json:"items"`
	}
	decodeBody(t, rec, &body)
	if len(body.Items) != 11 {
		t.Fatalf("expected 11 seeded products, got %d", len(body.Items))
	}
}

func TestOwnerOnlyRoutesRejectStaff(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "staff", "staff123")

	for _, tc := range []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/api/v1/reports/sales-summary", nil},
		{http.MethodGet, "/api/v1/users", nil},
		{http.MethodGet, "/api/v1/audit-logs", nil},
		{http.MethodPost, "/api/v1/stock-adjustments", domain.StockAdjustmentRequest{ProductID: 1, NewStockLevel: 5, Reason: "count"}},
		{http.MethodDelete, "/api/v1/products/1", nil},
	} {
		rec := doJSON(t, api, tc.method, tc.path, token, tc.body)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestCreateSaleAndVoidOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	staff := loginAs(t, api, "staff", "staff123")
	owner := loginAs(t, api, "owner", "owner123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/transactions", staff, domain.SaleRequest{
		PaymentDetails: domain.PaymentDetails{PaymentMethod: "CASH", AmountPaid: decimal.NewFromInt(5000)},
		Items:          []domain.SaleLineRequest{{ProductID: 1, Quantity: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var sale domain.TransactionDetail
	decodeBody(t, rec, &sale)
	if sale.Status != domain.TxStatusCompleted || !strings.HasPrefix(sale.TransactionNumber, "TXN-") {
		t.Fatalf("unexpected sale %+v", sale.SalesTransaction)
	}
	if !sale.TotalAmount.Equal(decimal.NewFromInt(2400)) || !sale.ChangeAmount.Equal(decimal.NewFromInt(2600)) {
		t.Fatalf("unexpected totals total=%s change=%s", sale.TotalAmount, sale.ChangeAmount)
	}

	voidPath := fmt.Sprintf("/api/v1/transactions/%d/void", sale.ID)

	rec = doJSON(t, api, http.MethodPost, voidPath, staff, domain.VoidRequest{Reason: "customer changed mind", ManagerPIN: "000000"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff void with bad PIN: expected 403, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, voidPath, staff, domain.VoidRequest{Reason: "customer changed mind", ManagerPIN: "123456"})
	if rec.Code != http.StatusOK {
		t.Fatalf("staff void with PIN: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var voided domain.VoidResponse
	decodeBody(t, rec, &voided)
	if voided.AlreadyVoided || voided.Transaction.Status != domain.TxStatusVoid {
		t.Fatalf("unexpected void response %+v", voided)
	}

	rec = doJSON(t, api, http.MethodPost, voidPath, owner, domain.VoidRequest{Reason: "again"})
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat void: expected 200, got %d", rec.Code)
	}
	decodeBody(t, rec, &voided)
	if !voided.AlreadyVoided {
		t.Fatalf("expected repeat void to report already_voided")
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/products/1", owner, nil)
	var product domain.Product
	decodeBody(t, rec, &product)
	if product.CurrentStock != 50 {
		t.Fatalf("expected stock restored to 50, got %d", product.CurrentStock)
	}
}

func TestCheckoutOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	staff := loginAs(t, api, "staff", "staff123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/cart/items", staff, domain.CartAddRequest{ProductID: 4, Quantity: 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("add to cart: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/checkout", staff, domain.CheckoutRequest{
		PaymentDetails: domain.PaymentDetails{PaymentMethod: "GCASH"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var sale domain.TransactionDetail
	decodeBody(t, rec, &sale)
	if !sale.TotalAmount.Equal(decimal.NewFromInt(1950)) || !sale.AmountPaid.Equal(sale.TotalAmount) {
		t.Fatalf("unexpected checkout totals total=%s paid=%s", sale.TotalAmount, sale.AmountPaid)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/checkout", staff, domain.CheckoutRequest{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second checkout: expected 404, got %d", rec.Code)
	}
}

func TestServiceErrorsMapToStatusCodes(t *testing.T) {
	api := newTestAPI(t)
	staff := loginAs(t, api, "staff", "staff123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/transactions", staff, domain.SaleRequest{
		PaymentDetails: domain.PaymentDetails{PaymentMethod: "CASH", AmountPaid: decimal.NewFromInt(1000000)},
		Items:          []domain.SaleLineRequest{{ProductID: 1, Quantity: 51}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("insufficient stock: expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/transactions/999", staff, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing transaction: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/transactions", staff, domain.SaleRequest{
		PaymentDetails: domain.PaymentDetails{PaymentMethod: "CASH", AmountPaid: decimal.NewFromInt(1)},
		Items:          []domain.SaleLineRequest{{ProductID: 1, Quantity: 1}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("underpaid cash: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/transactions/abc", staff, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/movements?from=14-02-2026", staff, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date: expected 400, got %d", rec.Code)
	}
}

func TestAdjustmentRaisesAlertVisibleToStaff(t *testing.T) {
	api := newTestAPI(t)
	owner := loginAs(t, api, "owner", "owner123")
	staff := loginAs(t, api, "staff", "staff123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/stock-adjustments", owner, domain.StockAdjustmentRequest{
		ProductID: 3, NewStockLevel: 4, Reason: "wilted stems",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("adjust: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/alerts?status=pending", staff, nil)
	var alerts struct {
		Items []domain.LowStockAlert `json:"items"`
	}
	decodeBody(t, rec, &alerts)
	if len(alerts.Items) != 1 || alerts.Items[0].ProductID != 3 {
		t.Fatalf("expected one pending alert for product 3, got %+v", alerts.Items)
	}

	rec = doJSON(t, api, http.MethodPost, fmt.Sprintf("/api/v1/alerts/%d/acknowledge", alerts.Items[0].ID), staff, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("acknowledge: expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodPost, fmt.Sprintf("/api/v1/alerts/%d/acknowledge", alerts.Items[0].ID), staff, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second acknowledge: expected 400, got %d", rec.Code)
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}

func TestCurrentUserAndChangePasswordOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	staff := loginAs(t, api, "staff", "staff123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/auth/me", staff, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var me map[string]any
	decodeBody(t, rec, &me)
	if me["username"] != "staff" || me["role"] != domain.RoleStaff {
		t.Fatalf("unexpected me payload %+v", me)
	}
	if _, leaked := me["password"]; leaked {
		t.Fatalf("password hash must not be serialized: %+v", me)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/change-password", staff, domain.PasswordChangeRequest{OldPassword: "nope-nope", NewPassword: "peonies-2026"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("wrong current password: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/change-password", staff, domain.PasswordChangeRequest{OldPassword: "staff123", NewPassword: "peonies-2026"})
	if rec.Code != http.StatusOK {
		t.Fatalf("change password: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "staff", Password: "staff123"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("old password: expected 401, got %d", rec.Code)
	}
	loginAs(t, api, "staff", "peonies-2026")
}

func TestCurrentUserRequiresToken(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/auth/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
