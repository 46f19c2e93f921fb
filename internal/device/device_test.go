package device_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"dosegate/internal/device"
	"dosegate/internal/device/store"
	id "dosegate/pkg/domain"
	dErrors "dosegate/pkg/domain-errors"
	"dosegate/pkg/testutil"
)

const iphoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"

type DeviceSuite struct {
	suite.Suite
	svc       *device.Service
	patientID id.PatientID
	ctx       context.Context
}

func (s *DeviceSuite) SetupTest() {
	s.svc = device.NewService(store.NewInMemory())
	s.patientID = id.PatientID(uuid.New())
	s.ctx = testutil.ContextAt(time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC))
}

func TestDeviceSuite(t *testing.T) {
	suite.Run(t, new(DeviceSuite))
}

// ============================================================
// Register
// ============================================================

func (s *DeviceSuite) TestRegister() {
	s.Run("binds a device and names it from the user agent", func() {
		reg, err := s.svc.Register(s.ctx, s.patientID, iphoneUA, "pair-me-7741", 2)
		s.Require().NoError(err)
		s.False(reg.ID.IsNil())
		s.NotEmpty(reg.DisplayName)
		s.NotEqual("pair-me-7741", reg.PairingSecretHash, "secret must be stored hashed")
	})

	s.Run("enforces the per-patient cap", func() {
		_, err := s.svc.Register(s.ctx, s.patientID, iphoneUA, "pair-me-7742", 2)
		s.Require().NoError(err)

		_, err = s.svc.Register(s.ctx, s.patientID, iphoneUA, "pair-me-7743", 2)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("a zero cap disables registration", func() {
		_, err := s.svc.Register(s.ctx, id.PatientID(uuid.New()), iphoneUA, "pair-me-7744", 0)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("requires a pairing secret", func() {
		_, err := s.svc.Register(s.ctx, s.patientID, iphoneUA, "", 2)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

// ============================================================
// Verify and IsRegistered
// ============================================================

func (s *DeviceSuite) TestVerify() {
	reg, err := s.svc.Register(s.ctx, s.patientID, iphoneUA, "pair-me-7741", 2)
	s.Require().NoError(err)

	s.Run("accepts the correct secret", func() {
		s.NoError(s.svc.Verify(s.ctx, s.patientID, reg.ID, "pair-me-7741"))
	})

	s.Run("rejects a wrong secret", func() {
		err := s.svc.Verify(s.ctx, s.patientID, reg.ID, "wrong")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("rejects another patient's device", func() {
		err := s.svc.Verify(s.ctx, id.PatientID(uuid.New()), reg.ID, "pair-me-7741")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("rejects an unregistered device", func() {
		err := s.svc.Verify(s.ctx, s.patientID, id.DeviceID(uuid.New()), "pair-me-7741")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *DeviceSuite) TestIsRegistered() {
	reg, err := s.svc.Register(s.ctx, s.patientID, iphoneUA, "pair-me-7741", 2)
	s.Require().NoError(err)

	ok, err := s.svc.IsRegistered(s.ctx, s.patientID, reg.ID)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.svc.IsRegistered(s.ctx, id.PatientID(uuid.New()), reg.ID)
	s.Require().NoError(err)
	s.False(ok)

	ok, err = s.svc.IsRegistered(s.ctx, s.patientID, id.DeviceID(uuid.New()))
	s.Require().NoError(err)
	s.False(ok)
}

// ============================================================
// User agent parsing
// ============================================================

func TestParseUserAgent(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", "Unknown Device"},
		{"gibberish", "not-a-user-agent", "Unknown Browser on Unknown OS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := device.ParseUserAgent(tc.raw); got != tc.want {
				t.Errorf("ParseUserAgent(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}

	t.Run("recognizable agent includes browser and os", func(t *testing.T) {
		got := device.ParseUserAgent(iphoneUA)
		if got == "Unknown Device" || got == "" {
			t.Errorf("ParseUserAgent(iphone) = %q", got)
		}
	})
}
