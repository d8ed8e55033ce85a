package httpapi

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"kasirponsel/backend/internal/domain"
)

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// UserStore persists auth credentials. The repository implements it.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username, passwordHash string) error
}

type credential struct {
	passwordHash string
	role         string
	active       bool
	createdAt    time.Time
}

type shopClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// AuthManager issues and validates access tokens and keeps an in-process
// snapshot of credentials loaded from the user store.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration

	userStore UserStore

	mu    sync.RWMutex
	users map[string]credential
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if strings.TrimSpace(secret) == "" {
		secret = "dev-change-me"
		log.Println("[httpapi] WARN: AUTH_SECRET is empty, using insecure development secret")
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	m := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		users:     map[string]credential{},
	}
	if err := m.bootstrapUsers(context.Background()); err != nil {
		log.Printf("[httpapi] WARN: bootstrap users failed: %v", err)
	}
	return m
}

func (m *AuthManager) Login(ctx context.Context, username, password string) (*domain.LoginResponse, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}

	m.mu.RLock()
	cred, ok := m.users[username]
	m.mu.RUnlock()
	if !ok {
		// A user created on another instance may not be in the snapshot yet.
		if err := m.bootstrapUsers(ctx); err == nil {
			m.mu.RLock()
			cred, ok = m.users[username]
			m.mu.RUnlock()
		}
	}
	if !ok || !cred.active {
		return nil, fmt.Errorf("invalid credentials")
	}
	if err := verifyPassword(cred.passwordHash, password); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}

	token, expiresAt, err := m.sign(username, cred.role)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		ExpiresAt:   expiresAt.UTC().Format(time.RFC3339),
	}, nil
}

func (m *AuthManager) ParseToken(tokenString string) (*domain.Actor, error) {
	claims := &shopClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Role != RoleAdmin && claims.Role != RoleStaff {
		return nil, fmt.Errorf("invalid role claim")
	}
	return &domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

// CreateStaff provisions a staff account. Admin accounts are seeded, never
// created through the API.
func (m *AuthManager) CreateStaff(ctx context.Context, req domain.StaffCreateRequest) (*domain.StaffUser, error) {
	username := strings.TrimSpace(strings.ToLower(req.Username))
	if len(username) < 4 {
		return nil, fmt.Errorf("username must be at least 4 characters")
	}
	if len(req.Password) < 6 {
		return nil, fmt.Errorf("password must be at least 6 characters")
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  hash,
		Role:      RoleStaff,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.userStore.CreateUser(ctx, account); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.users[account.Username] = credential{
		passwordHash: account.Password,
		role:         account.Role,
		active:       account.Active,
		createdAt:    account.CreatedAt,
	}
	m.mu.Unlock()

	return &domain.StaffUser{
		Username:  account.Username,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}, nil
}

func (m *AuthManager) ListStaff(ctx context.Context) ([]domain.StaffUser, error) {
	if err := m.bootstrapUsers(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.StaffUser, 0, len(m.users))
	for username, cred := range m.users {
		if cred.role != RoleStaff {
			continue
		}
		out = append(out, domain.StaffUser{
			Username:  username,
			Role:      cred.role,
			Active:    cred.active,
			CreatedAt: cred.createdAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *AuthManager) bootstrapUsers(ctx context.Context) error {
	users, err := m.userStore.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	next := make(map[string]credential, len(users))
	for _, u := range users {
		username := strings.TrimSpace(strings.ToLower(u.Username))
		if username == "" {
			continue
		}
		hash := u.Password
		if !isPasswordHash(hash) {
			// Legacy plaintext password from an old seed. Upgrade in place.
			upgraded, hashErr := hashPassword(hash)
			if hashErr != nil {
				log.Printf("[httpapi] WARN: upgrade password for %s failed: %v", username, hashErr)
				continue
			}
			if err := m.userStore.UpdateUserPassword(ctx, u.Username, upgraded); err != nil {
				log.Printf("[httpapi] WARN: persist upgraded password for %s failed: %v", username, err)
			}
			hash = upgraded
		}
		next[username] = credential{
			passwordHash: hash,
			role:         u.Role,
			active:       u.Active,
			createdAt:    u.CreatedAt,
		}
	}

	m.mu.Lock()
	m.users = next
	m.mu.Unlock()
	return nil
}

func (m *AuthManager) sign(username, role string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.tokenTTL)
	claims := shopClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "kasirponsel",
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func verifyPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") ||
		strings.HasPrefix(value, "$2b$") ||
		strings.HasPrefix(value, "$2y$")
}
