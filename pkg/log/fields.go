package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches pkg/middleware keys)
	FieldUserID   = "user_id"
	FieldUsername = "username"

	// Social graph
	FieldTargetID        = "target_id"
	FieldFollowRequestID = "follow_request_id"
	FieldOutcome         = "outcome"

	FieldService = "service"

	// Audit
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
