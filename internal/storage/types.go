package storage

import (
	"errors"
	"time"

	"ixbrbot/internal/quiet"
)

var ErrNotFound = errors.New("storage: not found")

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Origin records how a delivery row came to exist.
type Origin string

const (
	OriginDirect           Origin = "direct"
	OriginPendingDelivered Origin = "pending_delivered"
	OriginPendingSummary   Origin = "pending_summary"
)

// FromQuietFlush reports whether the row was written by a quiet-window flush.
func (o Origin) FromQuietFlush() bool {
	return o == OriginPendingDelivered || o == OriginPendingSummary
}

// Sentinel fingerprints stored by a quiet-window flush. Neither can equal a
// real content hash, which is 32 hex characters.
const (
	FingerprintPendingDelivered = string(OriginPendingDelivered)
	FingerprintPendingSummary   = string(OriginPendingSummary)
)

// IsSentinelFingerprint reports whether h is one of the flush sentinels.
func IsSentinelFingerprint(h string) bool {
	return h == FingerprintPendingDelivered || h == FingerprintPendingSummary
}

// Delivery is one ledger row. MessageID 0 means there is no editable message.
// DeliveredHash is set on flush rows: the fingerprint of the queued text that
// went out, while ContentHash still holds the sentinel.
type Delivery struct {
	GUID          string
	ChatID        int64
	MessageID     int
	ContentHash   string
	DeliveredHash string
	Title         string
	Status        Status
	Origin        Origin
	SentAt        time.Time
	UpdatedAt     time.Time // zero until a successful edit
}

// Editable reports whether the ledger points at a message that can be edited.
func (d Delivery) Editable() bool { return d.MessageID != 0 }

// Pending is a deferred, pre-rendered notification.
type Pending struct {
	ID          int64
	GUID        string
	ChatID      int64
	Text        string
	Title       string
	ContentHash string
	CreatedAt   time.Time
}

// Chat is a recipient directory row.
type Chat struct {
	ID           int64
	Type         string
	Title        string
	SubscribedAt time.Time
	Active       bool
	Quiet        quiet.Window
}

type Stats struct {
	ActiveChats       int `json:"active_chats"`
	TotalMessagesSent int `json:"total_messages_sent"`
	FailedDeliveries  int `json:"failed_deliveries"`
}

// ImportResult summarizes a directory import.
type ImportResult struct {
	Imported      int `json:"imported"`
	Skipped       int `json:"skipped"`
	Errors        int `json:"errors"`
	TotalInBackup int `json:"total_in_backup"`
}
