// Package health defines the permission-gated port to the device's
// health-record store. The core only ever reads heart-rate samples through
// this interface; insert and delete exist for the seed/test path.
package health

import (
	"context"
	"time"

	"github.com/securimed/heartsync/internal/model"
)

// AccessType selects the permission being requested.
type AccessType string

const (
	AccessRead  AccessType = "read"
	AccessWrite AccessType = "write"
)

// RecordKind names a record type understood by the port.
type RecordKind string

// KindHeartRate is the only record kind this core syncs.
const KindHeartRate RecordKind = "heartrate"

// DataPort is the device health store. Implementations gate every operation
// behind granted permissions; a denied grant must surface as granted=false,
// never as an empty read.
type DataPort interface {
	// RequestPermission asks the user/OS for access and reports the grant.
	RequestPermission(ctx context.Context, access AccessType, kind RecordKind) (bool, error)

	// ReadRecords returns all samples strictly before the given time.
	// There is deliberately no lower bound: the sync engine always fetches
	// everything up to now and relies on idempotent upserts downstream.
	ReadRecords(ctx context.Context, kind RecordKind, before time.Time) ([]model.HeartRateSample, error)

	// InsertRecords stores samples and returns their source IDs. Seed/test path.
	InsertRecords(ctx context.Context, kind RecordKind, samples []model.HeartRateSample) ([]string, error)

	// DeleteRecords removes all samples strictly before the given time.
	DeleteRecords(ctx context.Context, kind RecordKind, before time.Time) error
}
