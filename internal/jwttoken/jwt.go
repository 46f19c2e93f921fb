package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"dosegate/internal/platform/middleware"
	id "dosegate/pkg/domain"
	dErrors "dosegate/pkg/domain-errors"
)

// Claims represents the JWT claims for device and admin tokens.
type Claims struct {
	TenantID  string `json:"tenant_id"`
	PatientID string `json:"patient_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

const (
	RoleDevice = "device"
	RoleAdmin  = "admin"
)

// Service handles JWT creation and validation.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewService(signingKey, issuer, audience string) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// GenerateDeviceToken issues a token bound to a patient's registered device.
func (s *Service) GenerateDeviceToken(tenantID id.TenantID, patientID id.PatientID, deviceID id.DeviceID, expiresIn time.Duration) (string, error) {
	return s.sign(Claims{
		TenantID:  tenantID.String(),
		PatientID: patientID.String(),
		DeviceID:  deviceID.String(),
		Role:      RoleDevice,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
}

// GenerateAdminToken issues a tenant-scoped admin token.
func (s *Service) GenerateAdminToken(tenantID id.TenantID, expiresIn time.Duration) (string, error) {
	return s.sign(Claims{
		TenantID: tenantID.String(),
		Role:     RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
}

func (s *Service) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// ValidateToken parses and validates a bearer token, returning the identity
// claims consumed by the auth middleware.
func (s *Service) ValidateToken(tokenString string) (*middleware.TokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	out := &middleware.TokenClaims{Admin: claims.Role == RoleAdmin}
	out.TenantID, err = id.ParseTenantID(claims.TenantID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid tenant claim")
	}
	if claims.PatientID != "" {
		out.PatientID, err = id.ParsePatientID(claims.PatientID)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid patient claim")
		}
	}
	if claims.DeviceID != "" {
		out.DeviceID, err = id.ParseDeviceID(claims.DeviceID)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid device claim")
		}
	}
	if !out.Admin && (out.PatientID.IsNil() || out.DeviceID.IsNil()) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "device token missing patient or device claim")
	}
	return out, nil
}
