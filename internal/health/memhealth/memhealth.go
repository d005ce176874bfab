// Package memhealth is an in-memory health.DataPort used in tests and as the
// seedable device store for the demo daemon.
package memhealth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/securimed/heartsync/internal/errs"
	"github.com/securimed/heartsync/internal/health"
	"github.com/securimed/heartsync/internal/model"
)

// Port is a concurrency-safe in-memory device store. Permission grants are
// controlled per access type; the zero value denies everything until
// GrantAll or Grant is called.
type Port struct {
	mu      sync.Mutex
	grants  map[health.AccessType]bool
	samples map[int64]model.HeartRateSample

	// ReadErr, when set, is returned by ReadRecords to simulate a failing
	// device store.
	ReadErr error
}

var _ health.DataPort = (*Port)(nil)

// New returns an empty port with no permissions granted.
func New() *Port {
	return &Port{
		grants:  map[health.AccessType]bool{},
		samples: map[int64]model.HeartRateSample{},
	}
}

// Grant sets the grant decision for one access type.
func (p *Port) Grant(access health.AccessType, granted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.grants[access] = granted
}

// GrantAll grants read and write access.
func (p *Port) GrantAll() {
	p.Grant(health.AccessRead, true)
	p.Grant(health.AccessWrite, true)
}

// RequestPermission reports the configured grant decision.
func (p *Port) RequestPermission(_ context.Context, access health.AccessType, _ health.RecordKind) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.grants[access], nil
}

// ReadRecords returns samples strictly before the bound, ordered by timestamp.
func (p *Port) ReadRecords(_ context.Context, _ health.RecordKind, before time.Time) ([]model.HeartRateSample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ReadErr != nil {
		return nil, p.ReadErr
	}
	if !p.grants[health.AccessRead] {
		return nil, errs.ErrPermissionDenied
	}
	bound := before.UnixMilli()
	out := make([]model.HeartRateSample, 0, len(p.samples))
	for ts, s := range p.samples {
		if ts < bound {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampMillis < out[j].TimestampMillis })
	return out, nil
}

// InsertRecords stores samples keyed by timestamp and returns generated
// source IDs. Last write wins on timestamp collision, matching the stream's
// keyed-set semantics.
func (p *Port) InsertRecords(_ context.Context, _ health.RecordKind, samples []model.HeartRateSample) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.grants[health.AccessWrite] {
		return nil, errs.ErrPermissionDenied
	}
	ids := make([]string, 0, len(samples))
	for _, s := range samples {
		if s.SourceID == uuid.Nil {
			s.SourceID = uuid.Must(uuid.NewV4())
		}
		p.samples[s.TimestampMillis] = s
		ids = append(ids, s.SourceID.String())
	}
	return ids, nil
}

// DeleteRecords removes samples strictly before the bound.
func (p *Port) DeleteRecords(_ context.Context, _ health.RecordKind, before time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.grants[health.AccessWrite] {
		return errs.ErrPermissionDenied
	}
	bound := before.UnixMilli()
	for ts := range p.samples {
		if ts < bound {
			delete(p.samples, ts)
		}
	}
	return nil
}
