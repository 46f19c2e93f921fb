package jwttoken

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "dosegate/pkg/domain"
	dErrors "dosegate/pkg/domain-errors"
)

func newTestService() *Service {
	return NewService("test-signing-key", "dosegate", "dosegate-api")
}

func TestDeviceToken(t *testing.T) {
	svc := newTestService()
	tenantID := id.TenantID(uuid.New())
	patientID := id.PatientID(uuid.New())
	deviceID := id.DeviceID(uuid.New())

	t.Run("round trip preserves the identity claims", func(t *testing.T) {
		token, err := svc.GenerateDeviceToken(tenantID, patientID, deviceID, time.Hour)
		require.NoError(t, err)

		claims, err := svc.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, tenantID, claims.TenantID)
		assert.Equal(t, patientID, claims.PatientID)
		assert.Equal(t, deviceID, claims.DeviceID)
		assert.False(t, claims.Admin)
	})

	t.Run("expired token is unauthorized", func(t *testing.T) {
		token, err := svc.GenerateDeviceToken(tenantID, patientID, deviceID, -time.Minute)
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("wrong signing key is rejected", func(t *testing.T) {
		token, err := svc.GenerateDeviceToken(tenantID, patientID, deviceID, time.Hour)
		require.NoError(t, err)

		other := NewService("different-key", "dosegate", "dosegate-api")
		_, err = other.ValidateToken(token)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		_, err := svc.ValidateToken("not.a.token")
		require.Error(t, err)
	})
}

func TestAdminToken(t *testing.T) {
	svc := newTestService()
	tenantID := id.TenantID(uuid.New())

	token, err := svc.GenerateAdminToken(tenantID, time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, tenantID, claims.TenantID)
	assert.True(t, claims.Admin)
	assert.True(t, claims.PatientID.IsNil())
}

// A device-role token without patient and device claims must not validate;
// it would bypass the ownership checks downstream.
func TestDeviceTokenRequiresFullIdentity(t *testing.T) {
	svc := newTestService()
	token, err := svc.sign(Claims{
		TenantID: uuid.NewString(),
		Role:     RoleDevice,
	})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
