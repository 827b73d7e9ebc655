package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrtobomPatricio/crmpro/internal/domain"
	"github.com/OrtobomPatricio/crmpro/pkg/config"
)

func signTestToken(t *testing.T, secret string, claims *JWTClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateTokenRoundTrip(t *testing.T) {
	auth := &AuthService{cfg: &config.Config{JWTSecret: "test-secret"}}

	userID := uuid.New()
	accountID := uuid.New()
	signed := signTestToken(t, "test-secret", &JWTClaims{
		UserID:    userID,
		AccountID: accountID,
		Username:  "carlos",
		Role:      domain.RoleAgent,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "crmpro",
		},
	})

	claims, err := auth.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, accountID, claims.AccountID)
	assert.Equal(t, "carlos", claims.Username)
	assert.Equal(t, domain.RoleAgent, claims.Role)
}

func TestValidateTokenRejectsBadSecret(t *testing.T) {
	auth := &AuthService{cfg: &config.Config{JWTSecret: "right-secret"}}

	signed := signTestToken(t, "wrong-secret", &JWTClaims{
		UserID: uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := auth.ValidateToken(signed)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	auth := &AuthService{cfg: &config.Config{JWTSecret: "test-secret"}}

	signed := signTestToken(t, "test-secret", &JWTClaims{
		UserID: uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := auth.ValidateToken(signed)
	assert.Error(t, err)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	auth := &AuthService{cfg: &config.Config{JWTSecret: "test-secret"}}
	_, err := auth.ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestCreateUserValidation(t *testing.T) {
	auth := &AuthService{}
	ctx := context.Background()

	err := auth.CreateUser(ctx, &domain.User{Role: domain.RoleAgent}, "short")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 6 characters")

	err = auth.CreateUser(ctx, &domain.User{Role: "owner"}, "longenough")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid role")
}

func TestChangePasswordValidation(t *testing.T) {
	auth := &AuthService{}
	err := auth.ChangePassword(context.Background(), uuid.New(), "12345")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 6 characters")
}

func TestRenderTemplate(t *testing.T) {
	name := "Maria"
	rec := &domain.CampaignRecipient{Phone: "51987654321", Name: &name}

	tests := []struct {
		name     string
		template string
		rec      *domain.CampaignRecipient
		want     string
	}{
		{
			name:     "english placeholders",
			template: "Hola {{name}}, te escribimos al {{phone}}",
			rec:      rec,
			want:     "Hola Maria, te escribimos al 51987654321",
		},
		{
			name:     "spanish placeholders",
			template: "Hola {{nombre}} ({{telefono}})",
			rec:      rec,
			want:     "Hola Maria (51987654321)",
		},
		{
			name:     "missing name renders empty and trims",
			template: "Hola {{name}}",
			rec:      &domain.CampaignRecipient{Phone: "51987654321"},
			want:     "Hola",
		},
		{
			name:     "no placeholders untouched",
			template: "Promo de temporada",
			rec:      rec,
			want:     "Promo de temporada",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderTemplate(tt.template, tt.rec))
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "51987654321", normalizePhone("+51 987 654 321"))
	assert.Equal(t, "5112345678", normalizePhone("(511) 234-5678"))
	assert.Equal(t, "", normalizePhone("sin numero"))
}

func TestValidateCampaignStart(t *testing.T) {
	deviceID := uuid.New()

	tests := []struct {
		name     string
		campaign *domain.Campaign
		wantErr  string
	}{
		{
			name:     "draft with device and recipients",
			campaign: &domain.Campaign{Status: domain.CampaignStatusDraft, DeviceID: &deviceID, TotalRecipients: 10},
		},
		{
			name:     "paused resumes",
			campaign: &domain.Campaign{Status: domain.CampaignStatusPaused, DeviceID: &deviceID, TotalRecipients: 3},
		},
		{
			name:     "already running",
			campaign: &domain.Campaign{Status: domain.CampaignStatusRunning, DeviceID: &deviceID, TotalRecipients: 10},
			wantErr:  "cannot be started",
		},
		{
			name:     "completed cannot restart",
			campaign: &domain.Campaign{Status: domain.CampaignStatusCompleted, DeviceID: &deviceID, TotalRecipients: 10},
			wantErr:  "cannot be started",
		},
		{
			name:     "no device assigned",
			campaign: &domain.Campaign{Status: domain.CampaignStatusDraft, TotalRecipients: 10},
			wantErr:  "no device",
		},
		{
			name:     "no recipients",
			campaign: &domain.Campaign{Status: domain.CampaignStatusDraft, DeviceID: &deviceID},
			wantErr:  "no recipients",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCampaignStart(tt.campaign)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
