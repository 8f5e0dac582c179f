package db

import (
	"time"

	"github.com/google/uuid"
)

// User mirrors the users table.
type User struct {
	ID            int64
	CreditBalance int32
	ReferralCode  string
	CreatedAt     time.Time
}

// Tariff mirrors the tariffs table.
type Tariff struct {
	ID               uuid.UUID
	Name             string
	Description      string
	CreditsCount     int32
	PriceFiatCents   int64
	PriceNativeStars *int32
	IsActive         bool
	SortOrder        int32
}

// JobStatus is the closed set of Job.status values.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job mirrors the jobs table.
type Job struct {
	ID            uuid.UUID
	UserID        int64
	TargetHandle  string
	Status        JobStatus
	Progress      int32
	QueuePosition *int32
	StartedAt     *time.Time
	CompletedAt   *time.Time
	FollowersN    *int32
	FollowingN    *int32
	NonMutualN    *int32
	ArtifactPath  *string
	ErrorMessage  *string
	CreatedAt     time.Time
}

// NonMutualRecord mirrors the non_mutual_records table.
type NonMutualRecord struct {
	ID                uuid.UUID
	JobID             uuid.UUID
	TargetUserID      string
	TargetHandle      string
	TargetFullName    string
	TargetAvatarURL   string
	UserFollowsTarget bool
	TargetFollowsUser bool
	IsMutual          bool
}

// UpstreamSession mirrors the upstream_sessions table.
type UpstreamSession struct {
	ID              uuid.UUID
	CookieValue     string
	IsActive        bool
	IsValid         bool
	FailCount       int32
	RefreshAttempts int32
	NextRefreshAt   *time.Time
	Notes           string
	CreatedAt       time.Time
	LastUsedAt      *time.Time
	LastVerifiedAt  *time.Time
	LastError       *string
}

// RefreshCredential mirrors the refresh_credentials table.
type RefreshCredential struct {
	ID                   uuid.UUID
	Username             string
	PasswordCiphertext   string
	TOTPSecretCiphertext *string
	IsActive             bool
	LastUsedAt           *time.Time
	LastLoginSuccess     *bool
	LastError            *string
	CreatedAt            time.Time
}

// PaymentMethod is the closed set of Payment.method values.
type PaymentMethod string

const (
	PaymentMethodExternalAcquirer PaymentMethod = "external_acquirer"
	PaymentMethodNativeStars      PaymentMethod = "native_stars"
	PaymentMethodManual           PaymentMethod = "manual"
)

// PaymentStatus is the closed set of Payment.status values.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Payment mirrors the payments table.
type Payment struct {
	ID               uuid.UUID
	UserID           int64
	TariffID         uuid.UUID
	AmountCents      int64
	Currency         string
	CreditsCount     int32
	Method           PaymentMethod
	Status           PaymentStatus
	ExternalChargeID *string
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// PaymentEventKind is the closed set of PaymentEvent.kind values.
type PaymentEventKind string

const (
	PaymentEventCreated        PaymentEventKind = "created"
	PaymentEventPreCheckout    PaymentEventKind = "pre_checkout"
	PaymentEventCompleted      PaymentEventKind = "completed"
	PaymentEventFailed         PaymentEventKind = "failed"
	PaymentEventCancelled      PaymentEventKind = "cancelled"
	PaymentEventRetryScheduled PaymentEventKind = "retry_scheduled"
	PaymentEventRetryExecuted  PaymentEventKind = "retry_executed"
)

// PaymentEvent mirrors the payment_events table.
type PaymentEvent struct {
	ID           uuid.UUID
	PaymentID    uuid.UUID
	Kind         PaymentEventKind
	StatusBefore string
	StatusAfter  string
	Details      []byte // raw JSON
	ErrorMessage *string
	CreatedAt    time.Time
}
