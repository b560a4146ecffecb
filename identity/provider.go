package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong email or password. Unknown email
	// and bad password are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("identity: password must be at least 8 characters")
	// ErrInvalidToken signals a missing, malformed, or expired bearer token.
	ErrInvalidToken = errors.New("identity: invalid or expired token")
	// ErrRefreshTokenInvalid signals an unknown, revoked, or expired refresh token.
	ErrRefreshTokenInvalid = errors.New("identity: invalid or expired refresh token")
	// ErrRoleNotClaimable signals a signup metadata role outside the
	// self-assignable set. ADMIN is granted by direct profile mutation only.
	ErrRoleNotClaimable = errors.New("identity: role cannot be claimed at signup")
)

// SignUpParams contains the public signup payload. The metadata role, when
// present, is recorded as a hint and must name a non-admin role.
type SignUpParams struct {
	Email    string
	Password string
	Metadata Metadata
}

// AdminCreateParams provisions an identity without a caller-chosen password,
// used by registration approval. The returned temporary password is handed
// to the credential-setup flow.
type AdminCreateParams struct {
	Email          string
	Metadata       Metadata
	EmailConfirmed bool
}

// Provider is the identity collaborator contract: credential verification,
// token issuance and refresh, and push-style auth state notifications.
type Provider interface {
	SignUp(ctx context.Context, params SignUpParams) (Identity, *Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (Identity, *Session, error)
	SignInWithOAuth(provider string) (string, error)
	GetUser(ctx context.Context, accessToken string) (Identity, error)
	RefreshSession(ctx context.Context, refreshToken string) (Identity, *Session, error)
	SignOut(ctx context.Context, accessToken string) error
	AdminCreateUser(ctx context.Context, params AdminCreateParams) (Identity, string, error)
	Subscribe() (<-chan AuthEvent, func())
}

// LocalProvider implements Provider against the identities store with HS256
// access tokens and hashed opaque refresh tokens.
type LocalProvider struct {
	repo             Repository
	secret           []byte
	issuer           string
	accessTTL        time.Duration
	refreshTTL       time.Duration
	oauthRedirectURL string
	now              func() time.Time

	seq  atomic.Uint64
	mu   sync.Mutex
	subs map[int]chan AuthEvent
	next int
}

// ProviderConfig carries LocalProvider construction settings.
type ProviderConfig struct {
	Secret           string
	Issuer           string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	OAuthRedirectURL string
}

// NewLocalProvider creates an identity provider backed by the repository.
func NewLocalProvider(repo Repository, cfg ProviderConfig) *LocalProvider {
	return &LocalProvider{
		repo:             repo,
		secret:           []byte(cfg.Secret),
		issuer:           cfg.Issuer,
		accessTTL:        cfg.AccessTokenTTL,
		refreshTTL:       cfg.RefreshTokenTTL,
		oauthRedirectURL: cfg.OAuthRedirectURL,
		now:              time.Now,
		subs:             make(map[int]chan AuthEvent),
	}
}

// WithClock overrides the provider clock, for tests.
func (p *LocalProvider) WithClock(now func() time.Time) *LocalProvider {
	p.now = now
	return p
}

// SignUp registers a new identity and opens a session for it.
func (p *LocalProvider) SignUp(ctx context.Context, params SignUpParams) (Identity, *Session, error) {
	if len(params.Password) < 8 {
		return Identity{}, nil, ErrWeakPassword
	}
	if params.Email == "" || params.Metadata.FullName == "" {
		return Identity{}, nil, fmt.Errorf("identity: email and full name are required")
	}
	if params.Metadata.Role != "" {
		role := strings.ToUpper(strings.TrimSpace(params.Metadata.Role))
		if role == "ADMIN" {
			return Identity{}, nil, ErrRoleNotClaimable
		}
		if role != "DOCTOR" && role != "ASHA_WORKER" {
			return Identity{}, nil, ErrRoleNotClaimable
		}
		params.Metadata.Role = role
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, nil, fmt.Errorf("identity: hash password: %w", err)
	}

	ident, err := p.repo.CreateIdentity(ctx, CreateIdentityParams{
		Email:        params.Email,
		PasswordHash: string(hash),
		Metadata:     params.Metadata,
	})
	if err != nil {
		return Identity{}, nil, err
	}

	session, err := p.issueSession(ctx, ident)
	if err != nil {
		return Identity{}, nil, err
	}

	p.publish(EventSignedIn, &ident, session)
	return ident, session, nil
}

// SignInWithPassword authenticates an identity and opens a session.
func (p *LocalProvider) SignInWithPassword(ctx context.Context, email, password string) (Identity, *Session, error) {
	ident, err := p.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return Identity{}, nil, ErrInvalidCredentials
		}
		return Identity{}, nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(ident.PasswordHash), []byte(password)); err != nil {
		return Identity{}, nil, ErrInvalidCredentials
	}

	session, err := p.issueSession(ctx, ident)
	if err != nil {
		return Identity{}, nil, err
	}

	p.publish(EventSignedIn, &ident, session)
	return ident, session, nil
}

// SignInWithOAuth returns the federation redirect URL for the named
// provider. Credential exchange happens at the provider; the callback lands
// on the configured redirect URL.
func (p *LocalProvider) SignInWithOAuth(provider string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", fmt.Errorf("identity: oauth provider required")
	}
	if p.oauthRedirectURL == "" {
		return "", fmt.Errorf("identity: oauth redirect not configured")
	}
	return fmt.Sprintf("/oauth/%s/authorize?redirect_to=%s", provider, url.QueryEscape(p.oauthRedirectURL)), nil
}

// GetUser resolves a bearer token to its identity.
func (p *LocalProvider) GetUser(ctx context.Context, accessToken string) (Identity, error) {
	claims, err := parseAccessToken(p.secret, p.issuer, accessToken)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	ident, err := p.repo.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, err
	}
	return ident, nil
}

// RefreshSession rotates a refresh token and issues a new session.
func (p *LocalProvider) RefreshSession(ctx context.Context, refreshToken string) (Identity, *Session, error) {
	stored, err := p.repo.GetRefreshSession(ctx, HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrRefreshSessionNotFound) {
			return Identity{}, nil, ErrRefreshTokenInvalid
		}
		return Identity{}, nil, err
	}
	now := p.now().UTC()
	if stored.RevokedAt != nil || stored.ExpiresAt.Before(now) {
		return Identity{}, nil, ErrRefreshTokenInvalid
	}

	ident, err := p.repo.GetByID(ctx, stored.IdentityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return Identity{}, nil, ErrRefreshTokenInvalid
		}
		return Identity{}, nil, err
	}

	if err := p.repo.RevokeRefreshSession(ctx, stored.ID, now); err != nil {
		return Identity{}, nil, err
	}

	session, err := p.issueSession(ctx, ident)
	if err != nil {
		return Identity{}, nil, err
	}

	p.publish(EventTokenRefreshed, &ident, session)
	return ident, session, nil
}

// SignOut revokes every refresh session for the token holder.
func (p *LocalProvider) SignOut(ctx context.Context, accessToken string) error {
	claims, err := parseAccessToken(p.secret, p.issuer, accessToken)
	if err != nil {
		return ErrInvalidToken
	}
	if err := p.repo.RevokeRefreshSessionsByIdentity(ctx, claims.Subject, p.now().UTC()); err != nil {
		return err
	}
	p.publish(EventSignedOut, nil, nil)
	return nil
}

// AdminCreateUser provisions an identity with a generated temporary
// password. Used by registration approval; never exposed publicly.
func (p *LocalProvider) AdminCreateUser(ctx context.Context, params AdminCreateParams) (Identity, string, error) {
	if params.Email == "" {
		return Identity{}, "", fmt.Errorf("identity: email required")
	}

	tempPassword, err := newTempPassword()
	if err != nil {
		return Identity{}, "", fmt.Errorf("identity: generate temp password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, "", fmt.Errorf("identity: hash password: %w", err)
	}

	ident, err := p.repo.CreateIdentity(ctx, CreateIdentityParams{
		Email:          params.Email,
		PasswordHash:   string(hash),
		EmailConfirmed: params.EmailConfirmed,
		Metadata:       params.Metadata,
	})
	if err != nil {
		return Identity{}, "", err
	}
	return ident, tempPassword, nil
}

// Subscribe registers for auth state-change events. The returned cancel
// stops delivery; it does not abort in-flight provider calls.
func (p *LocalProvider) Subscribe() (<-chan AuthEvent, func()) {
	ch := make(chan AuthEvent, 16)
	p.mu.Lock()
	id := p.next
	p.next++
	p.subs[id] = ch
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		if existing, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(existing)
		}
		p.mu.Unlock()
	}
	return ch, cancel
}

func (p *LocalProvider) issueSession(ctx context.Context, ident Identity) (*Session, error) {
	accessToken, expiresAt, err := newAccessToken(p.secret, p.issuer, p.accessTTL, ident)
	if err != nil {
		return nil, err
	}

	refreshToken, err := newRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("identity: generate refresh token: %w", err)
	}

	now := p.now().UTC()
	if err := p.repo.CreateRefreshSession(ctx, RefreshSession{
		ID:         uuid.NewString(),
		IdentityID: ident.ID,
		TokenHash:  HashToken(refreshToken),
		CreatedAt:  now,
		ExpiresAt:  now.Add(p.refreshTTL),
	}); err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

func (p *LocalProvider) publish(eventType EventType, ident *Identity, session *Session) {
	event := AuthEvent{
		Type:     eventType,
		Seq:      p.seq.Add(1),
		Identity: ident,
		Session:  session,
	}
	p.mu.Lock()
	for _, ch := range p.subs {
		select {
		case ch <- event:
		default:
			// Slow subscriber; it will resync from the next event.
		}
	}
	p.mu.Unlock()
}

func newTempPassword() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
