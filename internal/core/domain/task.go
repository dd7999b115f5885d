package domain

import (
	"time"

	"github.com/google/uuid"
)

// Stage names one step of the settlement pipeline.
type Stage string

const (
	StageConfirm Stage = "CONFIRM"
	StageScreen  Stage = "SCREEN"
	StageReceipt Stage = "RECEIPT"
	StageMint    Stage = "MINT"
	StageSweep   Stage = "SWEEP"
)

// SettlementTask is one open unit of pipeline work. At most one exists per
// (DonationID, Stage).
type SettlementTask struct {
	DonationID uuid.UUID  `json:"donation_id"`
	Stage      Stage      `json:"stage"`
	Attempt    int        `json:"attempt"`
	NextRunAt  time.Time  `json:"next_run_at"`
	LastError  *string    `json:"last_error,omitempty"`
	LeaseOwner *string    `json:"-"`
	LeaseUntil *time.Time `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
}

// DeadLetterKind says why a task stopped.
type DeadLetterKind string

const (
	DeadLetterExhausted DeadLetterKind = "exhausted"
	DeadLetterFatal     DeadLetterKind = "fatal"
)

// DeadLetter is an archived task awaiting operator action.
type DeadLetter struct {
	ID         uuid.UUID      `json:"id"`
	DonationID uuid.UUID      `json:"donation_id"`
	Stage      Stage          `json:"stage"`
	Attempts   int            `json:"attempts"`
	LastError  string         `json:"last_error"`
	Kind       DeadLetterKind `json:"kind"`
	CreatedAt  time.Time      `json:"created_at"`
}
