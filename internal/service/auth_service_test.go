package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/theftclaim-api/internal/models"
	appErrors "github.com/noah-isme/theftclaim-api/pkg/errors"
)

type mockAuthRepo struct {
	user           *models.User
	findByEmailErr error
	lookedUpEmail  string
	lastLogin      time.Time
}

func (m *mockAuthRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	m.lookedUpEmail = email
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	if m.user == nil {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

func (m *mockAuthRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	if m.user == nil || m.user.ID != id {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

func (m *mockAuthRepo) UpdateLastLogin(_ context.Context, _ string, ts time.Time) error {
	m.lastLogin = ts
	return nil
}

type recordingAudit struct {
	logs []*models.AuditLog
}

func (r *recordingAudit) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	r.logs = append(r.logs, log)
	return nil
}

func newAdjuster(t *testing.T, active bool) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{ID: "123", Email: "adjuster@example.com", FullName: "Dana", PasswordHash: string(hash), Active: active, Role: models.RoleAdjuster}
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := &mockAuthRepo{user: newAdjuster(t, true)}
	audit := &recordingAudit{}
	svc := NewAuthService(repo, audit, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret: "secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "theftclaim-api",
	})

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: " Adjuster@Example.com", Password: "password", IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "adjuster@example.com", repo.lookedUpEmail)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, int64(3600), res.ExpiresIn)
	assert.Equal(t, models.RoleAdjuster, res.User.Role)
	assert.Equal(t, res.IssuedAt, repo.lastLogin)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionLogin, audit.logs[0].Action)
	assert.Equal(t, "10.0.0.1", audit.logs[0].IPAddress)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "123", claims.UserID)
	assert.Equal(t, "theftclaim-api", claims.Issuer)
}

func TestAuthServiceLoginInactiveIsAudited(t *testing.T) {
	repo := &mockAuthRepo{user: newAdjuster(t, false)}
	audit := &recordingAudit{}
	svc := NewAuthService(repo, audit, nil, nil, AuthConfig{AccessTokenSecret: "secret"})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "adjuster@example.com", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionLoginFailed, audit.logs[0].Action)
	assert.JSONEq(t, `{"outcome":"inactive"}`, string(audit.logs[0].NewValues))
	assert.True(t, repo.lastLogin.IsZero())
}

func TestAuthServiceLoginRejectsBadCredentials(t *testing.T) {
	repo := &mockAuthRepo{user: newAdjuster(t, true)}
	audit := &recordingAudit{}
	svc := NewAuthService(repo, audit, nil, nil, AuthConfig{AccessTokenSecret: "secret"})

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "adjuster@example.com", Password: "nope"})
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionLoginFailed, audit.logs[0].Action)

	repo.user = nil
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "ghost@example.com", Password: "password"})
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
	assert.Len(t, audit.logs, 1)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "not-an-email", Password: "x"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	repo.findByEmailErr = assert.AnError
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "adjuster@example.com", Password: "password"})
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceProfile(t *testing.T) {
	repo := &mockAuthRepo{user: &models.User{ID: "u1", Email: "claimant@example.com", FullName: "Pat", Role: models.RoleClaimant, Active: true}}
	svc := NewAuthService(repo, nil, nil, nil, AuthConfig{AccessTokenSecret: "secret"})

	info, err := svc.Profile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Pat", info.FullName)

	_, err = svc.Profile(context.Background(), "u2")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	repo.user.Active = false
	_, err = svc.Profile(context.Background(), "u1")
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestValidateToken(t *testing.T) {
	svc := NewAuthService(&mockAuthRepo{}, nil, nil, nil, AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour, Issuer: "theftclaim-api"})
	user := &models.User{ID: "u1", Email: "admin@example.com", Role: models.RoleAdmin}
	token, err := svc.generateAccessToken(user, time.Now().UTC())
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	other := NewAuthService(&mockAuthRepo{}, nil, nil, nil, AuthConfig{AccessTokenSecret: "different"})
	_, err = other.ValidateToken(token)
	assert.Error(t, err)

	foreign := NewAuthService(&mockAuthRepo{}, nil, nil, nil, AuthConfig{AccessTokenSecret: "secret", Issuer: "someone-else"})
	_, err = foreign.ValidateToken(token)
	assert.Error(t, err)

	expired, err := svc.generateAccessToken(user, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.Error(t, err)

	noRole := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.JWTClaims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{Issuer: "theftclaim-api"}})
	signed, err := noRole.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(signed)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
