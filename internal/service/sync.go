package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/securimed/heartsync/internal/crypto"
	"github.com/securimed/heartsync/internal/errs"
	"github.com/securimed/heartsync/internal/health"
	"github.com/securimed/heartsync/internal/model"
	"github.com/securimed/heartsync/internal/store"
)

// Path segments under an owner's namespace.
const (
	segHeartRate  = "heartrate"
	segCaregivers = "caregivers"
	segGrants     = "grants"
)

// Notifier receives a user-facing acknowledgement after a sync cycle that
// was triggered with willNotify. It never influences engine behavior.
type Notifier func(model.SyncResult)

// Engine pulls samples from the health port, encrypts them with the
// session's stream key and replicates them under the session's namespace.
type Engine struct {
	health   health.DataPort
	store    store.Port
	sessions *SessionManager
	notify   Notifier
	log      *zap.Logger
}

// NewEngine constructs the sync engine. notify may be nil.
func NewEngine(h health.DataPort, st store.Port, sessions *SessionManager, notify Notifier, log *zap.Logger) *Engine {
	return &Engine{health: h, store: st, sessions: sessions, notify: notify, log: log}
}

// Harvest requests read permission and returns all samples recorded before
// the given bound. A denied grant surfaces as errs.ErrPermissionDenied; an
// empty slice means "no data in range", never "no access". There is no lower
// bound: the engine always fetches everything up to now and leans on the
// store's idempotent upserts instead of incremental fetch.
func (e *Engine) Harvest(ctx context.Context, before time.Time) ([]model.HeartRateSample, error) {
	granted, err := e.health.RequestPermission(ctx, health.AccessRead, health.KindHeartRate)
	if err != nil {
		return nil, fmt.Errorf("request permission: %w", err)
	}
	if !granted {
		return nil, errs.ErrPermissionDenied
	}
	samples, err := e.health.ReadRecords(ctx, health.KindHeartRate, before)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return samples, nil
}

// EncryptAndPublish seals each sample's beats-per-minute with the session's
// stream key and upserts one record per sample, keyed by timestamp, under
// the session's namespace. A single record's failure is logged and skipped,
// never aborting the batch. Publishing is abandoned (result discarded) if
// the session is invalidated mid-batch.
func (e *Engine) EncryptAndPublish(ctx context.Context, samples []model.HeartRateSample, sess *model.Session) (model.SyncResult, error) {
	var res model.SyncResult
	if sess == nil {
		return res, errs.ErrNoSession
	}
	streamKey, err := crypto.StreamKey(sess.Identity.KeyPair.RootSecret, segHeartRate)
	if err != nil {
		return res, fmt.Errorf("derive stream key: %w", err)
	}
	path := store.Join(sess.PublicKeyToken, segHeartRate)

	for _, s := range samples {
		if !e.sessions.Alive(sess) {
			e.log.Info("session cleared mid-sync, discarding batch",
				zap.Int("published", res.Published))
			return model.SyncResult{}, errs.ErrNoSession
		}
		if s.BeatsPerMinute <= 0 {
			res.Skipped++
			e.log.Warn("dropping malformed sample", zap.Int64("ts", s.TimestampMillis))
			continue
		}
		ct, err := crypto.SealBPM(streamKey, sess.PublicKeyToken, s.TimestampMillis, s.BeatsPerMinute)
		if err != nil {
			res.Skipped++
			e.log.Warn("seal failed, skipping record", zap.Int64("ts", s.TimestampMillis), zap.Error(err))
			continue
		}
		key := strconv.FormatInt(s.TimestampMillis, 10)
		if err := e.store.Put(ctx, path, key, ct); err != nil {
			res.Skipped++
			e.log.Warn("publish failed, skipping record", zap.Int64("ts", s.TimestampMillis), zap.Error(err))
			continue
		}
		res.Published++
	}

	if res.Skipped > 0 && res.Published == 0 && len(samples) > 0 {
		return res, &errs.PartialSyncError{Skipped: res.Skipped}
	}
	return res, nil
}

// Sync composes harvest and publish for the current session. No session is a
// logged no-op returning errs.ErrNoSession. willNotify only gates the
// user-facing notifier.
func (e *Engine) Sync(ctx context.Context, willNotify bool) (model.SyncResult, error) {
	sess := e.sessions.Current()
	if sess == nil {
		e.log.Info("sync skipped: no active session")
		return model.SyncResult{}, errs.ErrNoSession
	}

	samples, err := e.Harvest(ctx, time.Now())
	if err != nil {
		return model.SyncResult{}, err
	}
	res, err := e.EncryptAndPublish(ctx, samples, sess)
	if err != nil {
		return res, err
	}

	e.log.Info("sync complete",
		zap.Int("published", res.Published), zap.Int("skipped", res.Skipped))
	if willNotify && e.notify != nil {
		e.notify(res)
	}
	return res, nil
}

// Subscribe registers onUpdate for every change to the owner's encrypted
// heart-rate stream. Delivery is push-based, at-least-once and unordered;
// consumers must treat the stream as a set keyed by timestamp. Updates with
// unparseable keys are dropped.
func (e *Engine) Subscribe(ownerToken string, onUpdate func(model.EncryptedRecord)) (store.Unsubscribe, error) {
	return e.store.On(store.Join(ownerToken, segHeartRate), func(u store.Update) {
		ts, err := strconv.ParseInt(u.Key, 10, 64)
		if err != nil {
			e.log.Warn("ignoring update with bad key", zap.String("key", u.Key))
			return
		}
		onUpdate(model.EncryptedRecord{TimestampMillis: ts, Ciphertext: u.Value})
	})
}

// ReadStream point-reads the owner's encrypted stream, ordered by timestamp.
func (e *Engine) ReadStream(ctx context.Context, ownerToken string) ([]model.EncryptedRecord, error) {
	kv, err := e.store.Get(ctx, store.Join(ownerToken, segHeartRate))
	if err != nil {
		return nil, err
	}
	out := make([]model.EncryptedRecord, 0, len(kv))
	for k, v := range kv {
		ts, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, model.EncryptedRecord{TimestampMillis: ts, Ciphertext: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampMillis < out[j].TimestampMillis })
	return out, nil
}

// DecryptOwn decrypts a record from the session owner's stream.
func (e *Engine) DecryptOwn(sess *model.Session, rec model.EncryptedRecord) (int, error) {
	if sess == nil {
		return 0, errs.ErrNoSession
	}
	streamKey, err := crypto.StreamKey(sess.Identity.KeyPair.RootSecret, segHeartRate)
	if err != nil {
		return 0, err
	}
	return crypto.OpenBPM(streamKey, sess.PublicKeyToken, rec.TimestampMillis, rec.Ciphertext)
}

// DecryptShared decrypts a record from another owner's stream using the key
// grant that owner published for the caller. No grant means no access.
func (e *Engine) DecryptShared(ctx context.Context, sess *model.Session, ownerToken string, rec model.EncryptedRecord) (int, error) {
	if sess == nil {
		return 0, errs.ErrNoSession
	}
	ownerPub, err := crypto.DecodeKeyToken(ownerToken)
	if err != nil {
		return 0, errs.ErrInvalidToken
	}
	grants, err := e.store.Get(ctx, store.Join(ownerToken, segGrants))
	if err != nil {
		return 0, err
	}
	grant, ok := grants[sess.PublicKeyToken]
	if !ok {
		return 0, errs.ErrNotFound
	}
	streamKey, err := crypto.OpenGrant(grant, &ownerPub, &sess.Identity.KeyPair.EncPrivate)
	if err != nil {
		return 0, fmt.Errorf("open grant: %w", err)
	}
	return crypto.OpenBPM(streamKey, ownerToken, rec.TimestampMillis, rec.Ciphertext)
}
