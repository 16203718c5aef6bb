// Package tgui holds small helpers for Telegram HTML text and inline keyboards.
//
// Text helpers escape by default; H values are treated as already safe for
// ParseMode "HTML". Keyboards are built as transport buttons so callers never
// import the Telegram client.
package tgui
