package types

type EventType string

type DepositStatus string

type AuditAction string

const (
	EventTypeAuth              EventType = "auth"
	EventTypeAuthOK            EventType = "auth_ok"
	EventTypeAuthError         EventType = "auth_error"
	EventTypeRestrictionUpdate EventType = "restriction_update"
	EventTypePlatformNotice    EventType = "platform_notice"
)

// DepositStatusApproved marks deposits that count towards the withdrawal
// threshold.
const DepositStatusApproved DepositStatus = "approved"

const (
	AuditActionThreshold AuditAction = "set_threshold"
	AuditActionOverride  AuditAction = "set_override"
	AuditActionTemplate  AuditAction = "set_template"
	AuditActionApply     AuditAction = "apply"
	AuditActionRefresh   AuditAction = "refresh"
)

// WithdrawalRestrictionModal is the dialog id shared by every trigger that can
// surface the restriction dialog.
const WithdrawalRestrictionModal = "withdrawal-restriction"
