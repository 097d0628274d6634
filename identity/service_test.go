package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:       "maria@acme-mfg.example",
		Password:    "supersafe",
		DisplayName: "Maria Manufacturer",
	}

	ctx := context.Background()
	p, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if p.Email != req.Email {
		t.Fatalf("expected email %q got %q", req.Email, p.Email)
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.Principal.ID != p.ID {
		t.Fatalf("login: expected principal id %q got %q", p.ID, resp.Principal.ID)
	}

	tokenPrincipalID, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if tokenPrincipalID != p.ID {
		t.Fatalf("verify token: expected %q got %q", p.ID, tokenPrincipalID)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "maria@acme-mfg.example",
		Password:    "short",
		DisplayName: "Maria Manufacturer",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "",
		Password:    "strongpassword",
		DisplayName: "",
	}); err == nil {
		t.Fatal("expected error for missing email and display name")
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:       "maria@acme-mfg.example",
		Password:    "strongpassword",
		DisplayName: "Maria Manufacturer",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "unknown@example.com",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_GrantRequiresAdmin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")
	ctx := context.Background()

	admin := mustRegister(t, svc, "admin@ledger.example")
	maker := mustRegister(t, svc, "maker@ledger.example")
	if err := repo.GrantRole(ctx, admin.ID, RoleAdmin, admin.ID); err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	if err := svc.Grant(ctx, maker.ID, maker.ID, RoleManufacturer); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}

	if err := svc.Grant(ctx, admin.ID, maker.ID, RoleManufacturer); err != nil {
		t.Fatalf("grant by admin: %v", err)
	}

	held, err := svc.HasRole(ctx, maker.ID, string(RoleManufacturer))
	if err != nil {
		t.Fatalf("has role: %v", err)
	}
	if !held {
		t.Fatal("expected manufacturer role to be held after grant")
	}

	// Granting twice is a no-op, not an error.
	if err := svc.Grant(ctx, admin.ID, maker.ID, RoleManufacturer); err != nil {
		t.Fatalf("repeat grant: %v", err)
	}

	if err := svc.Revoke(ctx, admin.ID, maker.ID, RoleManufacturer); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	held, err = svc.HasRole(ctx, maker.ID, string(RoleManufacturer))
	if err != nil {
		t.Fatalf("has role after revoke: %v", err)
	}
	if held {
		t.Fatal("expected manufacturer role to be gone after revoke")
	}
}

func TestService_GrantUnknownRole(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")
	ctx := context.Background()

	admin := mustRegister(t, svc, "admin@ledger.example")
	if err := repo.GrantRole(ctx, admin.ID, RoleAdmin, admin.ID); err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	if err := svc.Grant(ctx, admin.ID, admin.ID, Role("janitor")); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestService_Bootstrap(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")
	ctx := context.Background()

	if err := svc.Bootstrap(ctx, "root@ledger.example", "Ledger Admin", "bootstrappw"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	p, err := repo.GetByEmail(ctx, "root@ledger.example")
	if err != nil {
		t.Fatalf("bootstrap principal missing: %v", err)
	}
	held, err := svc.HasRole(ctx, p.ID, string(RoleAdmin))
	if err != nil {
		t.Fatalf("has role: %v", err)
	}
	if !held {
		t.Fatal("expected bootstrap principal to hold admin")
	}

	// Second bootstrap must not create another admin.
	if err := svc.Bootstrap(ctx, "other@ledger.example", "Other", "bootstrappw"); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if _, err := repo.GetByEmail(ctx, "other@ledger.example"); !errors.Is(err, ErrPrincipalNotFound) {
		t.Fatalf("expected no second admin principal, got err=%v", err)
	}
}

func mustRegister(t *testing.T, svc *Service, email string) *Principal {
	t.Helper()
	p, err := svc.Register(context.Background(), RegisterRequest{
		Email:       email,
		Password:    "strongpassword",
		DisplayName: strings.Split(email, "@")[0],
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return p
}

type fakeRepository struct {
	byEmail map[string]Principal
	byID    map[string]Principal
	grants  map[string]map[Role]bool
	nextID  int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		byEmail: make(map[string]Principal),
		byID:    make(map[string]Principal),
		grants:  make(map[string]map[Role]bool),
		nextID:  1,
	}
}

func (f *fakeRepository) CreatePrincipal(ctx context.Context, params CreatePrincipalParams) (Principal, error) {
	if _, exists := f.byEmail[strings.ToLower(params.Email)]; exists {
		return Principal{}, ErrDuplicateEmail
	}

	id := fmt.Sprintf("principal-%d", f.nextID)
	f.nextID++

	p := Principal{
		ID:           id,
		Email:        params.Email,
		DisplayName:  params.DisplayName,
		PasswordHash: params.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}

	f.byEmail[strings.ToLower(p.Email)] = p
	f.byID[p.ID] = p

	return p, nil
}

func (f *fakeRepository) GetByEmail(ctx context.Context, email string) (Principal, error) {
	p, ok := f.byEmail[strings.ToLower(email)]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return p, nil
}

func (f *fakeRepository) GetByID(ctx context.Context, principalID string) (Principal, error) {
	p, ok := f.byID[principalID]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return p, nil
}

func (f *fakeRepository) GrantRole(ctx context.Context, principalID string, role Role, grantedBy string) error {
	if _, ok := f.byID[principalID]; !ok {
		return ErrPrincipalNotFound
	}
	if f.grants[principalID] == nil {
		f.grants[principalID] = make(map[Role]bool)
	}
	f.grants[principalID][role] = true
	return nil
}

func (f *fakeRepository) RevokeRole(ctx context.Context, principalID string, role Role) error {
	delete(f.grants[principalID], role)
	return nil
}

func (f *fakeRepository) HasRole(ctx context.Context, principalID string, role Role) (bool, error) {
	return f.grants[principalID][role], nil
}

func (f *fakeRepository) ListRoles(ctx context.Context, principalID string) ([]Role, error) {
	out := make([]Role, 0, len(f.grants[principalID]))
	for role := range f.grants[principalID] {
		out = append(out, role)
	}
	return out, nil
}

func (f *fakeRepository) CountWithRole(ctx context.Context, role Role) (int, error) {
	n := 0
	for _, roles := range f.grants {
		if roles[role] {
			n++
		}
	}
	return n, nil
}
