// Package storage is the SQLite persistence layer of ixbrbot.
//
// One database file holds four tables:
//   - subscribed_chats: the recipient directory and per-chat quiet windows
//   - sent_messages: the delivery ledger, one row per (event guid, chat)
//   - pending_notifications: rendered messages deferred by a quiet window
//   - command_log: an audit trail of accepted commands
//
// Queries are built with squirrel and run on a single connection.
package storage
