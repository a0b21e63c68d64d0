package logx

import "context"

const (
	ActionAuth        = "chat.auth"
	ActionAuthFailed  = "chat.auth_failed"
	ActionJoinRoom    = "chat.join_room"
	ActionLeaveRoom   = "chat.leave_room"
	ActionSendMessage = "chat.send_message"
	ActionDisconnect  = "chat.disconnect"
	ActionRegister    = "user.register"
	ActionLogin       = "user.login"
)

const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Audit emits a log_type=audit entry through the context logger.
func Audit(ctx context.Context, action string, userID uint64, msg string) {
	l := Ctx(ctx)
	l.Info().
		Str(FieldLogType, LogTypeAudit).
		Str(FieldAction, action).
		Uint64(FieldUserID, userID).
		Msg(msg)
}

func AuditDetail(ctx context.Context, action string, userID uint64, detail, msg string) {
	l := Ctx(ctx)
	l.Info().
		Str(FieldLogType, LogTypeAudit).
		Str(FieldAction, action).
		Uint64(FieldUserID, userID).
		Str(FieldDetail, detail).
		Msg(msg)
}
