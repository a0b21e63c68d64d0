package logx

const (
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	FieldUserID    = "user_id"
	FieldUsername  = "username"
	FieldSessionID = "session_id"
	FieldRoomID    = "room_id"
	FieldMessageID = "message_id"

	FieldService = "service"

	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
