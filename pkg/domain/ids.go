package domain

import (
	"github.com/google/uuid"

	dErrors "dosegate/pkg/domain-errors"
)

// Typed IDs prevent cross-entity assignment at compile time. Construct via the
// Parse* functions at trust boundaries; direct casting bypasses validation.
type (
	TenantID   uuid.UUID
	PatientID  uuid.UUID
	AttemptID  uuid.UUID
	UnitID     uuid.UUID
	DeviceID   uuid.UUID
	GrantID    uuid.UUID
	RecordID   uuid.UUID
	EventID    uuid.UUID
	SettingsID uuid.UUID
)

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return u, nil
}

func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s)
	return TenantID(u), err
}

func ParsePatientID(s string) (PatientID, error) {
	u, err := parseUUID(s)
	return PatientID(u), err
}

func ParseAttemptID(s string) (AttemptID, error) {
	u, err := parseUUID(s)
	return AttemptID(u), err
}

func ParseUnitID(s string) (UnitID, error) {
	u, err := parseUUID(s)
	return UnitID(u), err
}

func ParseDeviceID(s string) (DeviceID, error) {
	u, err := parseUUID(s)
	return DeviceID(u), err
}

func ParseGrantID(s string) (GrantID, error) {
	u, err := parseUUID(s)
	return GrantID(u), err
}

func ParseRecordID(s string) (RecordID, error) {
	u, err := parseUUID(s)
	return RecordID(u), err
}

func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s)
	return EventID(u), err
}

func (id TenantID) String() string   { return uuid.UUID(id).String() }
func (id PatientID) String() string  { return uuid.UUID(id).String() }
func (id AttemptID) String() string  { return uuid.UUID(id).String() }
func (id UnitID) String() string     { return uuid.UUID(id).String() }
func (id DeviceID) String() string   { return uuid.UUID(id).String() }
func (id GrantID) String() string    { return uuid.UUID(id).String() }
func (id RecordID) String() string   { return uuid.UUID(id).String() }
func (id EventID) String() string    { return uuid.UUID(id).String() }
func (id SettingsID) String() string { return uuid.UUID(id).String() }

// TextMarshaler/TextUnmarshaler so the typed IDs serialize as UUID strings
// in JSON bodies and cache entries instead of raw byte arrays.
func (id TenantID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id PatientID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id AttemptID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id UnitID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id DeviceID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id GrantID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id RecordID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id EventID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id SettingsID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func unmarshalUUID(text []byte) (uuid.UUID, error) {
	if len(text) == 0 {
		return uuid.Nil, nil
	}
	return uuid.Parse(string(text))
}

func (id *TenantID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID(text)
	*id = TenantID(u)
	return err
}

func (id *PatientID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID(text)
	*id = PatientID(u)
	return err
}

func (id *AttemptID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID(text)
	*id = AttemptID(u)
	return err
}

func (id *UnitID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID(text)
	*id = UnitID(u)
	return err
}

func (id *DeviceID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID(text)
	*id = DeviceID(u)
	return err
}

func (id *GrantID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID(text)
	*id = GrantID(u)
	return err
}

func (id *RecordID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID(text)
	*id = RecordID(u)
	return err
}

func (id *EventID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID(text)
	*id = EventID(u)
	return err
}

func (id *SettingsID) UnmarshalText(text []byte) error {
	u, err := unmarshalUUID(text)
	*id = SettingsID(u)
	return err
}

func (id TenantID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id PatientID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id AttemptID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id UnitID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id DeviceID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id GrantID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id RecordID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id SettingsID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
