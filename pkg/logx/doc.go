// Package logx is the structured logging layer of ixbrbot.
//
// It wraps zerolog behind a small Logger value type. Console output is human
// readable, the optional file sink keeps JSON lines, and the optional
// Telegram sink forwards warnings to an operator chat. That sink is filtered
// by level, rate limited and folds repeats, so a failing feed reports once
// per window instead of once per poll.
//
// Loggers derived from a Service follow Service.Apply, so a config reload
// changes level and sinks without rebuilding components.
package logx
