package observability

import "go.uber.org/zap"

// Field helpers re-exported so callers do not import zap directly.
var (
	String  = zap.String
	Int     = zap.Int
	Int64   = zap.Int64
	Bool    = zap.Bool
	Float64 = zap.Float64
	Error   = zap.Error
)
