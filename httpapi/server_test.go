package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"warrantyledger/claim"
	"warrantyledger/identity"
	"warrantyledger/product"
)

type stubIdentityService struct {
	registered *identity.Principal
	registerErr error
	loginResult identity.LoginResult
	loginErr    error
	principalID string
	verifyErr   error
	principal   *identity.Principal
	roles       []identity.Role
	grantErr    error
	revokeErr   error
}

func (s *stubIdentityService) Register(_ context.Context, _ identity.RegisterRequest) (*identity.Principal, error) {
	return s.registered, s.registerErr
}

func (s *stubIdentityService) Login(_ context.Context, _ identity.LoginRequest) (identity.LoginResult, error) {
	return s.loginResult, s.loginErr
}

func (s *stubIdentityService) VerifyToken(_ string) (string, error) {
	if s.verifyErr != nil {
		return "", s.verifyErr
	}
	return s.principalID, nil
}

func (s *stubIdentityService) GetByID(_ context.Context, _ string) (*identity.Principal, error) {
	return s.principal, nil
}

func (s *stubIdentityService) ListRoles(_ context.Context, _ string) ([]identity.Role, error) {
	return s.roles, nil
}

func (s *stubIdentityService) Grant(_ context.Context, _, _ string, _ identity.Role) error {
	return s.grantErr
}

func (s *stubIdentityService) Revoke(_ context.Context, _, _ string, _ identity.Role) error {
	return s.revokeErr
}

type stubProductService struct {
	record      product.Record
	records     []product.Record
	active      bool
	registerErr error
	transferErr error
	getErr      error
	listErr     error
	activeErr   error

	lastCaller string
	lastParams product.RegisterParams
	lastToID   string
}

func (s *stubProductService) Register(_ context.Context, callerID string, params product.RegisterParams) (product.Record, error) {
	s.lastCaller = callerID
	s.lastParams = params
	return s.record, s.registerErr
}

func (s *stubProductService) Transfer(_ context.Context, callerID string, _ int64, toID string) (product.Record, error) {
	s.lastCaller = callerID
	s.lastToID = toID
	return s.record, s.transferErr
}

func (s *stubProductService) Get(_ context.Context, _ int64) (product.Record, error) {
	return s.record, s.getErr
}

func (s *stubProductService) ListByOwner(_ context.Context, _ string, _ int) ([]product.Record, error) {
	return s.records, s.listErr
}

func (s *stubProductService) IsWarrantyActive(_ context.Context, _ int64) (bool, error) {
	return s.active, s.activeErr
}

type stubClaimService struct {
	claim      claim.Claim
	submitErr  error
	processErr error
	serviceErr error
	getErr     error
}

func (s *stubClaimService) Submit(_ context.Context, _ string, _ int64, _ string) (claim.Claim, error) {
	return s.claim, s.submitErr
}

func (s *stubClaimService) Process(_ context.Context, _ string, _ int64, _ bool) (claim.Claim, error) {
	return s.claim, s.processErr
}

func (s *stubClaimService) RecordService(_ context.Context, _ string, _ int64, _ string) (claim.Claim, error) {
	return s.claim, s.serviceErr
}

func (s *stubClaimService) Get(_ context.Context, _ int64) (claim.Claim, error) {
	return s.claim, s.getErr
}

func newTestServer(idSvc IdentityService, prodSvc ProductService, claimSvc ClaimService) *Server {
	return NewServer(idSvc, prodSvc, claimSvc, nil)
}

func doRequest(s *Server, method, target, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleGetProduct_Success(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	start := now.Add(time.Hour)
	exp := start.Add(365 * 24 * time.Hour)

	prodSvc := &stubProductService{record: product.Record{
		ID:                 7,
		SerialNumber:       "SN-7788",
		Model:              "Fridge X200",
		ManufacturerID:     "mfr-1",
		OwnerID:            "cust-1",
		ManufacturedAt:     now,
		WarrantyDuration:   365 * 24 * time.Hour,
		WarrantyStart:      &start,
		WarrantyExpiration: &exp,
		ClaimLimit:         2,
		ClaimCount:         1,
	}}
	server := newTestServer(&stubIdentityService{principalID: "cust-1"}, prodSvc, &stubClaimService{})

	rec := doRequest(server, http.MethodGet, "/api/products/7", "token", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp productResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 7 || resp.SerialNumber != "SN-7788" || resp.ClaimCount != 1 {
		t.Fatalf("unexpected response payload: %+v", resp)
	}
	if resp.WarrantyStart != start.Format(time.RFC3339) {
		t.Fatalf("expected warranty_start %q, got %q", start.Format(time.RFC3339), resp.WarrantyStart)
	}
}

func TestHandleGetProduct_NotFound(t *testing.T) {
	server := newTestServer(
		&stubIdentityService{principalID: "cust-1"},
		&stubProductService{getErr: product.ErrNotFound},
		&stubClaimService{},
	)

	rec := doRequest(server, http.MethodGet, "/api/products/42", "token", "")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestHandleRegisterProduct_PassesCallerAndParams(t *testing.T) {
	prodSvc := &stubProductService{record: product.Record{ID: 1, SerialNumber: "SN-1"}}
	server := newTestServer(&stubIdentityService{principalID: "mfr-1"}, prodSvc, &stubClaimService{})

	body := `{"initial_owner_id":"ret-1","serial_number":"SN-1","model":"X","warranty_duration_seconds":31536000,"warranty_claim_limit":2}`
	rec := doRequest(server, http.MethodPost, "/api/products", "token", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if prodSvc.lastCaller != "mfr-1" {
		t.Fatalf("expected caller mfr-1, got %q", prodSvc.lastCaller)
	}
	if prodSvc.lastParams.WarrantyDuration != 31536000*time.Second {
		t.Fatalf("unexpected duration: %v", prodSvc.lastParams.WarrantyDuration)
	}
	if prodSvc.lastParams.InitialOwnerID != "ret-1" || prodSvc.lastParams.ClaimLimit != 2 {
		t.Fatalf("unexpected params: %+v", prodSvc.lastParams)
	}
}

func TestHandleRegisterProduct_ConflictOnDuplicateSerial(t *testing.T) {
	server := newTestServer(
		&stubIdentityService{principalID: "mfr-1"},
		&stubProductService{registerErr: product.ErrSerialExists},
		&stubClaimService{},
	)

	body := `{"initial_owner_id":"ret-1","serial_number":"SN-1"}`
	rec := doRequest(server, http.MethodPost, "/api/products", "token", body)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
}

func TestHandleTransfer_ForbiddenForNonOwner(t *testing.T) {
	server := newTestServer(
		&stubIdentityService{principalID: "other"},
		&stubProductService{transferErr: product.ErrNotOwner},
		&stubClaimService{},
	)

	rec := doRequest(server, http.MethodPost, "/api/products/3/transfer", "token", `{"to_id":"cust-1"}`)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}
}

func TestHandleTransfer_ReactivationConflict(t *testing.T) {
	server := newTestServer(
		&stubIdentityService{principalID: "ret-2"},
		&stubProductService{transferErr: product.ErrWarrantyAlreadyActivated},
		&stubClaimService{},
	)

	rec := doRequest(server, http.MethodPost, "/api/products/3/transfer", "token", `{"to_id":"cust-2"}`)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
}

func TestHandleSubmitClaim_LimitReached(t *testing.T) {
	server := newTestServer(
		&stubIdentityService{principalID: "cust-1"},
		&stubProductService{},
		&stubClaimService{submitErr: claim.ErrLimitReached},
	)

	rec := doRequest(server, http.MethodPost, "/api/products/3/claims", "token", `{"issue_description":"broken"}`)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
}

func TestHandleProcessClaim_Success(t *testing.T) {
	processedAt := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	by := "svc-1"
	server := newTestServer(
		&stubIdentityService{principalID: "svc-1"},
		&stubProductService{},
		&stubClaimService{claim: claim.Claim{
			ID:          5,
			ProductID:   3,
			CustomerID:  "cust-1",
			Processed:   true,
			Approved:    true,
			ProcessedAt: &processedAt,
			ProcessedBy: &by,
		}},
	)

	rec := doRequest(server, http.MethodPost, "/api/claims/5/decision", "token", `{"approved":true}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp claimResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Processed || !resp.Approved {
		t.Fatalf("expected processed approved claim, got %+v", resp)
	}
	if resp.ProcessedAt != processedAt.Format(time.RFC3339) {
		t.Fatalf("unexpected processed_at: %q", resp.ProcessedAt)
	}
}

func TestHandleRecordService_NotApproved(t *testing.T) {
	server := newTestServer(
		&stubIdentityService{principalID: "svc-1"},
		&stubProductService{},
		&stubClaimService{serviceErr: claim.ErrNotApproved},
	)

	rec := doRequest(server, http.MethodPost, "/api/claims/5/service", "token", `{"service_notes":"replaced compressor"}`)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
}

func TestAuthenticate_RejectsMissingToken(t *testing.T) {
	server := newTestServer(&stubIdentityService{}, &stubProductService{}, &stubClaimService{})

	rec := doRequest(server, http.MethodGet, "/api/products/1", "", "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestAuthenticate_RejectsBadToken(t *testing.T) {
	server := newTestServer(
		&stubIdentityService{verifyErr: errors.New("identity: invalid token")},
		&stubProductService{},
		&stubClaimService{},
	)

	rec := doRequest(server, http.MethodGet, "/api/products/1", "bogus", "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestHandleGrantRole_RequiresAdmin(t *testing.T) {
	server := newTestServer(
		&stubIdentityService{principalID: "user-1", grantErr: identity.ErrNotAdmin},
		&stubProductService{},
		&stubClaimService{},
	)

	rec := doRequest(server, http.MethodPost, "/api/roles/grant", "token", `{"principal_id":"user-2","role":"retailer"}`)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}
}

func TestHandleWarrantyStatus(t *testing.T) {
	server := newTestServer(
		&stubIdentityService{principalID: "cust-1"},
		&stubProductService{active: true},
		&stubClaimService{},
	)

	rec := doRequest(server, http.MethodGet, "/api/products/9/warranty", "token", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp["active"] {
		t.Fatalf("expected active warranty, got %+v", resp)
	}
}
