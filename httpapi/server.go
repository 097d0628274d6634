// Package httpapi exposes the ledger's command/query interface over HTTP. The
// handlers are thin: authentication resolves the caller, and every invariant
// stays inside the domain services.
package httpapi

import (
	"context"

	"warrantyledger/cache"
	"warrantyledger/claim"
	"warrantyledger/identity"
	"warrantyledger/product"
)

// IdentityService is the slice of the identity service the API consumes.
type IdentityService interface {
	Register(ctx context.Context, req identity.RegisterRequest) (*identity.Principal, error)
	Login(ctx context.Context, req identity.LoginRequest) (identity.LoginResult, error)
	VerifyToken(token string) (string, error)
	GetByID(ctx context.Context, principalID string) (*identity.Principal, error)
	ListRoles(ctx context.Context, principalID string) ([]identity.Role, error)
	Grant(ctx context.Context, callerID, principalID string, role identity.Role) error
	Revoke(ctx context.Context, callerID, principalID string, role identity.Role) error
}

// ProductService is the slice of the product service the API consumes.
type ProductService interface {
	Register(ctx context.Context, callerID string, params product.RegisterParams) (product.Record, error)
	Transfer(ctx context.Context, callerID string, productID int64, toID string) (product.Record, error)
	Get(ctx context.Context, id int64) (product.Record, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]product.Record, error)
	IsWarrantyActive(ctx context.Context, id int64) (bool, error)
}

// ClaimService is the slice of the claim service the API consumes.
type ClaimService interface {
	Submit(ctx context.Context, callerID string, productID int64, issueDescription string) (claim.Claim, error)
	Process(ctx context.Context, callerID string, claimID int64, approved bool) (claim.Claim, error)
	RecordService(ctx context.Context, callerID string, claimID int64, serviceNotes string) (claim.Claim, error)
	Get(ctx context.Context, claimID int64) (claim.Claim, error)
}

// Server bundles the services behind the HTTP handlers.
type Server struct {
	identityService IdentityService
	productService  ProductService
	claimService    ClaimService
	productCache    *cache.ProductCache
}

// NewServer wires the API server.
func NewServer(identitySvc IdentityService, productSvc ProductService, claimSvc ClaimService, productCache *cache.ProductCache) *Server {
	return &Server{
		identityService: identitySvc,
		productService:  productSvc,
		claimService:    claimSvc,
		productCache:    productCache,
	}
}
