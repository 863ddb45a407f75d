package handler

const (
	errInternalServer    = "Internal server error"
	errNoToken           = "No API token registered for this source"
	errTokenlessSource   = "This source does not use API tokens"
	errTokenNotFound     = "Token not found"
	errUnknownKind       = "Unknown intention kind"
	errBadCursor         = "Malformed pagination cursor"
	errInvalidSchedule   = "Exactly one of scheduled_at/cron_expr and depends_on_id must be set"
	errInvalidCronExpr   = "Invalid cron expression"
	errScheduledNotFound = "Scheduled intention not found"
	errSignInToken       = "Sign-in token is invalid or expired"
)
