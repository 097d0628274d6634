package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"warrantyledger/claim"
	"warrantyledger/identity"
	"warrantyledger/product"
)

type principalResponse struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles,omitempty"`
}

type productResponse struct {
	ID                      int64  `json:"id"`
	SerialNumber            string `json:"serial_number"`
	Model                   string `json:"model"`
	ManufacturerID          string `json:"manufacturer_id"`
	OwnerID                 string `json:"owner_id"`
	ManufacturedAt          string `json:"manufactured_at"`
	WarrantyDurationSeconds int64  `json:"warranty_duration_seconds"`
	WarrantyStart           string `json:"warranty_start,omitempty"`
	WarrantyExpiration      string `json:"warranty_expiration,omitempty"`
	ClaimLimit              int    `json:"warranty_claim_limit"`
	ClaimCount              int    `json:"warranty_claim_count"`
}

type claimResponse struct {
	ID               int64  `json:"id"`
	ProductID        int64  `json:"product_id"`
	CustomerID       string `json:"customer_id"`
	IssueDescription string `json:"issue_description"`
	SubmittedAt      string `json:"submitted_at"`
	Processed        bool   `json:"processed"`
	Approved         bool   `json:"approved"`
	ProcessedAt      string `json:"processed_at,omitempty"`
	ServiceNotes     string `json:"service_notes,omitempty"`
	ServicedAt       string `json:"serviced_at,omitempty"`
}

func toProductResponse(rec product.Record) productResponse {
	resp := productResponse{
		ID:                      rec.ID,
		SerialNumber:            rec.SerialNumber,
		Model:                   rec.Model,
		ManufacturerID:          rec.ManufacturerID,
		OwnerID:                 rec.OwnerID,
		ManufacturedAt:          rec.ManufacturedAt.Format(time.RFC3339),
		WarrantyDurationSeconds: int64(rec.WarrantyDuration.Seconds()),
		ClaimLimit:              rec.ClaimLimit,
		ClaimCount:              rec.ClaimCount,
	}
	if rec.WarrantyStart != nil {
		resp.WarrantyStart = rec.WarrantyStart.Format(time.RFC3339)
	}
	if rec.WarrantyExpiration != nil {
		resp.WarrantyExpiration = rec.WarrantyExpiration.Format(time.RFC3339)
	}
	return resp
}

func toClaimResponse(c claim.Claim) claimResponse {
	resp := claimResponse{
		ID:               c.ID,
		ProductID:        c.ProductID,
		CustomerID:       c.CustomerID,
		IssueDescription: c.IssueDescription,
		SubmittedAt:      c.SubmittedAt.Format(time.RFC3339),
		Processed:        c.Processed,
		Approved:         c.Approved,
	}
	if c.ProcessedAt != nil {
		resp.ProcessedAt = c.ProcessedAt.Format(time.RFC3339)
	}
	if c.ServiceNotes != nil {
		resp.ServiceNotes = *c.ServiceNotes
	}
	if c.ServicedAt != nil {
		resp.ServicedAt = c.ServicedAt.Format(time.RFC3339)
	}
	return resp
}

func (s *Server) handleRegisterPrincipal(c echo.Context) error {
	var req identity.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	p, err := s.identityService.Register(c.Request().Context(), req)
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusCreated, principalResponse{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
	})
}

func (s *Server) handleLogin(c echo.Context) error {
	var req identity.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	result, err := s.identityService.Login(c.Request().Context(), req)
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"token":        result.Token,
		"principal_id": result.Principal.ID,
	})
}

func (s *Server) handleMe(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := s.identityService.GetByID(ctx, callerID(c))
	if err != nil {
		return s.writeError(c, err)
	}
	roles, err := s.identityService.ListRoles(ctx, p.ID)
	if err != nil {
		return s.writeError(c, err)
	}

	resp := principalResponse{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
	}
	for _, role := range roles {
		resp.Roles = append(resp.Roles, string(role))
	}
	return c.JSON(http.StatusOK, resp)
}

type roleRequest struct {
	PrincipalID string `json:"principal_id"`
	Role        string `json:"role"`
}

func (s *Server) handleGrantRole(c echo.Context) error {
	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	err := s.identityService.Grant(c.Request().Context(), callerID(c), req.PrincipalID, identity.Role(req.Role))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRevokeRole(c echo.Context) error {
	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	err := s.identityService.Revoke(c.Request().Context(), callerID(c), req.PrincipalID, identity.Role(req.Role))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type registerProductRequest struct {
	InitialOwnerID          string `json:"initial_owner_id"`
	SerialNumber            string `json:"serial_number"`
	Model                   string `json:"model"`
	WarrantyDurationSeconds int64  `json:"warranty_duration_seconds"`
	ClaimLimit              int    `json:"warranty_claim_limit"`
}

func (s *Server) handleRegisterProduct(c echo.Context) error {
	var req registerProductRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	rec, err := s.productService.Register(c.Request().Context(), callerID(c), product.RegisterParams{
		InitialOwnerID:   req.InitialOwnerID,
		SerialNumber:     req.SerialNumber,
		Model:            req.Model,
		WarrantyDuration: time.Duration(req.WarrantyDurationSeconds) * time.Second,
		ClaimLimit:       req.ClaimLimit,
	})
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusCreated, toProductResponse(rec))
}

func (s *Server) handleGetProduct(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid product id"))
	}

	ctx := c.Request().Context()
	if rec, ok := s.productCache.Get(ctx, id); ok {
		return c.JSON(http.StatusOK, toProductResponse(rec))
	}

	rec, err := s.productService.Get(ctx, id)
	if err != nil {
		return s.writeError(c, err)
	}
	s.productCache.Set(ctx, rec)

	return c.JSON(http.StatusOK, toProductResponse(rec))
}

func (s *Server) handleListMyProducts(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	records, err := s.productService.ListByOwner(c.Request().Context(), callerID(c), limit)
	if err != nil {
		return s.writeError(c, err)
	}

	items := make([]productResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toProductResponse(rec))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	})
}

func (s *Server) handleWarrantyStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid product id"))
	}

	active, err := s.productService.IsWarrantyActive(c.Request().Context(), id)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"active": active})
}

type transferRequest struct {
	ToID string `json:"to_id"`
}

func (s *Server) handleTransfer(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid product id"))
	}
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	ctx := c.Request().Context()
	rec, err := s.productService.Transfer(ctx, callerID(c), id, req.ToID)
	if err != nil {
		return s.writeError(c, err)
	}
	s.productCache.Invalidate(ctx, id)

	return c.JSON(http.StatusOK, toProductResponse(rec))
}

type submitClaimRequest struct {
	IssueDescription string `json:"issue_description"`
}

func (s *Server) handleSubmitClaim(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid product id"))
	}
	var req submitClaimRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	ctx := c.Request().Context()
	result, err := s.claimService.Submit(ctx, callerID(c), id, req.IssueDescription)
	if err != nil {
		return s.writeError(c, err)
	}
	s.productCache.Invalidate(ctx, id)

	return c.JSON(http.StatusCreated, toClaimResponse(result))
}

func (s *Server) handleGetClaim(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid claim id"))
	}

	result, err := s.claimService.Get(c.Request().Context(), id)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toClaimResponse(result))
}

type decisionRequest struct {
	Approved bool `json:"approved"`
}

func (s *Server) handleProcessClaim(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid claim id"))
	}
	var req decisionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	result, err := s.claimService.Process(c.Request().Context(), callerID(c), id, req.Approved)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toClaimResponse(result))
}

type serviceRequest struct {
	ServiceNotes string `json:"service_notes"`
}

func (s *Server) handleRecordService(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid claim id"))
	}
	var req serviceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	result, err := s.claimService.RecordService(c.Request().Context(), callerID(c), id, req.ServiceNotes)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toClaimResponse(result))
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("httpapi: invalid id")
	}
	return id, nil
}

// writeError maps domain errors onto HTTP statuses; each named error kind
// keeps its own message so clients can branch on the violated precondition.
func (s *Server) writeError(c echo.Context, err error) error {
	return c.JSON(statusOf(err), errorBody(err.Error()))
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized

	case errors.Is(err, product.ErrNotFound),
		errors.Is(err, claim.ErrNotFound),
		errors.Is(err, identity.ErrPrincipalNotFound):
		return http.StatusNotFound

	case errors.Is(err, product.ErrNotManufacturer),
		errors.Is(err, product.ErrNotOwner),
		errors.Is(err, claim.ErrNotOwner),
		errors.Is(err, claim.ErrNotServiceCenter),
		errors.Is(err, identity.ErrNotAdmin):
		return http.StatusForbidden

	case errors.Is(err, product.ErrSerialEmpty),
		errors.Is(err, product.ErrOwnerRequired),
		errors.Is(err, product.ErrOwnerNotRetailer),
		errors.Is(err, product.ErrRecipientRequired),
		errors.Is(err, claim.ErrIssueEmpty),
		errors.Is(err, claim.ErrServiceNotesEmpty),
		errors.Is(err, identity.ErrWeakPassword),
		errors.Is(err, identity.ErrUnknownRole):
		return http.StatusBadRequest

	case errors.Is(err, product.ErrSerialExists),
		errors.Is(err, product.ErrWarrantyAlreadyActivated),
		errors.Is(err, claim.ErrWarrantyNotActivated),
		errors.Is(err, claim.ErrWarrantyExpired),
		errors.Is(err, claim.ErrLimitReached),
		errors.Is(err, claim.ErrAlreadyProcessed),
		errors.Is(err, claim.ErrNotApproved),
		errors.Is(err, claim.ErrServiceRecorded),
		errors.Is(err, identity.ErrDuplicateEmail):
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}
