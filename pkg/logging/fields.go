package logging

import "go.uber.org/zap"

// Field constructors for the identifiers that show up in most log lines.

func UserID(id string) zap.Field { return zap.String("user_id", id) }

func WithdrawalID(id string) zap.Field { return zap.String("withdrawal_id", id) }

func Operation(op string) zap.Field { return zap.String("operation", op) }

func Address(addr string) zap.Field { return zap.String("treasury_address", addr) }
