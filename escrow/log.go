package escrow

import "log/slog"

func slogTask(id TaskID) slog.Attr    { return slog.String("task_id", string(id)) }
func slogUser(id UserID) slog.Attr    { return slog.String("user_id", string(id)) }
func slogPoints(n int64) slog.Attr    { return slog.Int64("points", n) }
func slogBalance(n int64) slog.Attr   { return slog.Int64("balance", n) }
func slogReason(r string) slog.Attr   { return slog.String("reason", r) }
func slogErr(err error) slog.Attr     { return slog.Any("error", err) }
