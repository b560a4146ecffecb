package test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"matricare/authz"
	"matricare/httpapi"
	"matricare/identity"
	"matricare/profile"
	"matricare/registration"
	"matricare/roster"
	"matricare/test/infra"
)

type stack struct {
	pool          *pgxpool.Pool
	provider      *identity.LocalProvider
	registrations *registration.Service
	server        *httptest.Server
}

func newStack(t *testing.T) *stack {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	t.Cleanup(cancel)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	switch {
	case os.Getenv("INTEGRATION_PG_DSN") != "":
		dsn = os.Getenv("INTEGRATION_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Skipf("no docker and no local postgres: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(pool.Close)
	t.Cleanup(func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	})

	log := zap.NewNop()
	provider := identity.NewLocalProvider(identity.NewRepository(pool), identity.ProviderConfig{
		Secret:          "integration-secret-integration-secret",
		Issuer:          "matricare-integration",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
	})
	profiles := profile.NewRepository(pool)
	resolver := authz.NewResolver(profiles, log)
	registrations := registration.NewService(registration.NewPGRepository(pool), provider, profiles, log)
	mothers := roster.NewService(roster.NewPGRepository(pool))

	server := httptest.NewServer(httpapi.NewServer(provider, resolver, nil, profiles, registrations, mothers, log).Router())
	t.Cleanup(server.Close)

	return &stack{pool: pool, provider: provider, registrations: registrations, server: server}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func (s *stack) post(t *testing.T, path, token string, payload any) (int, []byte) {
	t.Helper()
	return s.roundTrip(t, http.MethodPost, path, token, payload)
}

func (s *stack) get(t *testing.T, path, token string) (int, []byte) {
	t.Helper()
	return s.roundTrip(t, http.MethodGet, path, token, nil)
}

func (s *stack) roundTrip(t *testing.T, method, path, token string, payload any) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, body
}

func (s *stack) seedAdmin(t *testing.T, ctx context.Context) string {
	t.Helper()
	email := fmt.Sprintf("admin-%s@example.com", uuid.NewString()[:8])
	_, tempPassword, err := s.provider.AdminCreateUser(ctx, identity.AdminCreateParams{
		Email:          email,
		Metadata:       identity.Metadata{FullName: "System Admin", Role: "ADMIN"},
		EmailConfirmed: true,
	})
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	_, session, err := s.provider.SignInWithPassword(ctx, email, tempPassword)
	if err != nil {
		t.Fatalf("admin sign-in: %v", err)
	}
	return session.AccessToken
}

// TestApprovalLifecycle drives the whole path through the real database:
// an applicant submits, an admin approves, the provisioned doctor signs in
// with the temporary password and reaches a role-gated route.
func TestApprovalLifecycle(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	adminToken := s.seedAdmin(t, ctx)

	applicantEmail := fmt.Sprintf("meera-%s@example.com", uuid.NewString()[:8])
	submitPayload := map[string]string{
		"email":           applicantEmail,
		"full_name":       "Dr. Meera Nair",
		"role_requested":  "DOCTOR",
		"phone":           "9876543210",
		"assigned_area":   "Ward 4",
		"degree_cert_url": "https://certs.example/meera.pdf",
	}

	status, body := s.post(t, "/auth/register-request", "", submitPayload)
	if status != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d body %s", status, body)
	}
	var submitted struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &submitted); err != nil {
		t.Fatalf("decode submit: %v", err)
	}
	if submitted.Status != "PENDING" {
		t.Fatalf("expected PENDING, got %s", submitted.Status)
	}

	// The partial unique index turns a second open application into a 409.
	status, _ = s.post(t, "/auth/register-request", "", submitPayload)
	if status != http.StatusConflict {
		t.Fatalf("duplicate pending: expected 409, got %d", status)
	}

	status, body = s.post(t, "/auth/register-requests/"+submitted.ID+"/decision", adminToken, map[string]any{
		"approved": true,
		"note":     "credentials verified",
	})
	if status != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d body %s", status, body)
	}
	var decided struct {
		Request struct {
			Status string `json:"status"`
		} `json:"request"`
		TempPassword string `json:"temp_password"`
	}
	if err := json.Unmarshal(body, &decided); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if decided.Request.Status != "APPROVED" || decided.TempPassword == "" {
		t.Fatalf("unexpected decision: %+v", decided)
	}

	status, _ = s.post(t, "/auth/register-requests/"+submitted.ID+"/decision", adminToken, map[string]any{"approved": false})
	if status != http.StatusConflict {
		t.Fatalf("second decision: expected 409, got %d", status)
	}

	status, body = s.post(t, "/auth/signin", "", map[string]string{
		"email": applicantEmail, "password": decided.TempPassword,
	})
	if status != http.StatusOK {
		t.Fatalf("doctor sign-in: expected 200, got %d body %s", status, body)
	}
	var doctorAuth struct {
		Session struct {
			AccessToken string `json:"access_token"`
		} `json:"session"`
		User struct {
			Role *string `json:"role"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &doctorAuth); err != nil {
		t.Fatalf("decode doctor auth: %v", err)
	}
	if doctorAuth.User.Role == nil || *doctorAuth.User.Role != "DOCTOR" {
		t.Fatalf("expected resolved DOCTOR role, got %v", doctorAuth.User.Role)
	}

	status, body = s.post(t, "/mothers", doctorAuth.Session.AccessToken, map[string]any{
		"full_name": "Radha Kumari",
		"age":       24,
		"area":      "Ward 4",
	})
	if status != http.StatusCreated {
		t.Fatalf("create mother: expected 201, got %d body %s", status, body)
	}
	var mother struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &mother); err != nil {
		t.Fatalf("decode mother: %v", err)
	}

	status, _ = s.get(t, "/mothers/"+mother.ID, doctorAuth.Session.AccessToken)
	if status != http.StatusOK {
		t.Fatalf("doctor detail: expected 200, got %d", status)
	}
}

// TestConcurrentDecisionsSingleWinner races several admins deciding the
// same request. The row lock admits exactly one transition; exactly one
// identity must come out the other side.
func TestConcurrentDecisionsSingleWinner(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	admin, _, err := s.provider.AdminCreateUser(ctx, identity.AdminCreateParams{
		Email:          fmt.Sprintf("admin-%s@example.com", uuid.NewString()[:8]),
		Metadata:       identity.Metadata{FullName: "System Admin", Role: "ADMIN"},
		EmailConfirmed: true,
	})
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	applicantEmail := fmt.Sprintf("race-%s@example.com", uuid.NewString()[:8])
	req, err := s.registrations.Submit(ctx, registration.SubmitParams{
		Email:         applicantEmail,
		FullName:      "Race Applicant",
		RoleRequested: "ASHA_WORKER",
		AssignedArea:  "Ward 9",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	const deciders = 6
	results := make(chan error, deciders)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < deciders; i++ {
		approved := i%2 == 0
		g.Go(func() error {
			_, err := s.registrations.Decide(gctx, registration.DecideParams{
				RequestID:  req.ID,
				ReviewerID: admin.ID,
				Approved:   approved,
			})
			results <- err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("deciders: %v", err)
	}
	close(results)

	var succeeded, conflicted int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, registration.ErrAlreadyDecided):
			conflicted++
		default:
			t.Fatalf("unexpected decision error: %v", err)
		}
	}
	if succeeded != 1 || conflicted != deciders-1 {
		t.Fatalf("expected one winner, got %d successes and %d conflicts", succeeded, conflicted)
	}

	var identityCount int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM identities WHERE lower(email) = lower($1)`, applicantEmail).Scan(&identityCount); err != nil {
		t.Fatalf("count identities: %v", err)
	}
	if identityCount > 1 {
		t.Fatalf("provisioning ran more than once: %d identities", identityCount)
	}

	stored, err := s.registrations.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status == registration.StatusPending {
		t.Fatalf("request left PENDING after decisions")
	}
	if stored.Status == registration.StatusApproved && identityCount != 1 {
		t.Fatalf("approved without exactly one identity: %d", identityCount)
	}
}
