// Package syncclient owns the offline-first sync loop: it hydrates local
// state from the durable store, records mutations to the diff journal, and
// flushes the combined envelope to the server when triggered.
package syncclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/avkdev/lingsync/internal/api"
	"github.com/avkdev/lingsync/internal/bus"
	"github.com/avkdev/lingsync/internal/errs"
	"github.com/avkdev/lingsync/internal/journal"
	"github.com/avkdev/lingsync/internal/model"
	"github.com/avkdev/lingsync/internal/session"
	"github.com/avkdev/lingsync/internal/store"
)

// API is the server surface the sync client needs.
type API interface {
	Sync(ctx context.Context, bearer string, req *api.SyncRequest) (*api.SyncResponse, error)
}

// LifecycleState mirrors the app-lifecycle observer signal.
type LifecycleState string

// Lifecycle states reported by the host application.
const (
	Foreground LifecycleState = "foreground"
	Background LifecycleState = "background"
	Inactive   LifecycleState = "inactive"
)

// DefaultInterval is the periodic flush interval.
const DefaultInterval = 60 * time.Second

// Client decides when to flush, builds the envelope, and reconciles the
// server's authoritative response into local state.
type Client struct {
	store   *store.Store
	journal *journal.Journal
	session *session.Manager
	server  API
	events  *bus.Bus
	log     *zap.Logger

	interval time.Duration
	sched    *gocron.Scheduler

	mu       sync.Mutex
	syncing  bool
	online   bool
	dirty    bool
	gen      uint64 // bumped on every progress mutation
	hydrated bool
	errShown bool
	lastSync time.Time
	progress model.Progress
	vocab    map[string]model.VocabularyEntry
}

// New constructs a sync client. Call Hydrate before anything else.
func New(st *store.Store, jr *journal.Journal, sess *session.Manager, server API, events *bus.Bus, log *zap.Logger, interval time.Duration) *Client {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Client{
		store:    st,
		journal:  jr,
		session:  sess,
		server:   server,
		events:   events,
		log:      log,
		interval: interval,
		online:   true, // optimistic until a probe says otherwise
		vocab:    make(map[string]model.VocabularyEntry),
	}
}

// Hydrate loads persisted progress and vocabulary. Hydration never marks the
// state dirty: only mutations after this point schedule a flush.
func (c *Client) Hydrate() {
	progress := store.Load(c.store, store.KeyProgress, model.Progress{Energy: 100}, func(p model.Progress) bool {
		return p.Energy >= 0 && p.Coins >= 0
	})
	vocab := store.Load(c.store, store.KeyVocabulary, map[string]model.VocabularyEntry{}, func(m map[string]model.VocabularyEntry) bool {
		for _, e := range m {
			if e.MasteryLevel < 0 || e.MasteryLevel > model.MaxMasteryLevel {
				return false
			}
		}
		return true
	})
	lastSync := store.Load(c.store, store.KeyLastSyncTime, time.Time{}, nil)

	c.mu.Lock()
	c.progress = progress
	c.vocab = vocab
	c.lastSync = lastSync
	c.hydrated = true
	c.dirty = false
	c.mu.Unlock()
}

// Start registers the periodic flush trigger.
func (c *Client) Start() {
	c.sched = gocron.NewScheduler(time.UTC)
	_, _ = c.sched.Every(c.interval).Do(func() {
		if err := c.Flush(context.Background()); err != nil {
			c.log.Debug("periodic flush", zap.Error(err))
		}
	})
	c.sched.StartAsync()
}

// Stop cancels the periodic trigger.
func (c *Client) Stop() {
	if c.sched != nil {
		c.sched.Stop()
	}
}

// OnConnectivityChange is the connectivity observer entry point. The
// offline-to-online transition requests an immediate flush.
func (c *Client) OnConnectivityChange(online bool) {
	c.mu.Lock()
	was := c.online
	c.online = online
	c.mu.Unlock()
	if online && !was {
		go func() {
			if err := c.Flush(context.Background()); err != nil {
				c.log.Debug("connectivity flush", zap.Error(err))
			}
		}()
	}
}

// OnLifecycle is the app-lifecycle observer entry point. Moving to the
// background or inactive state requests a flush so pending work survives a
// process kill.
func (c *Client) OnLifecycle(state LifecycleState) {
	if state == Background || state == Inactive {
		go func() {
			if err := c.Flush(context.Background()); err != nil {
				c.log.Debug("lifecycle flush", zap.Error(err))
			}
		}()
	}
}

// --- local mutations ---

// SetEnergy updates local energy and schedules a flush.
func (c *Client) SetEnergy(v int) error {
	c.mu.Lock()
	c.progress.Energy = v
	p := c.progress
	c.dirty = true
	c.gen++
	c.mu.Unlock()
	return c.store.Save(store.KeyProgress, p)
}

// AddCoins adjusts the local coin balance (floored at zero).
func (c *Client) AddCoins(delta int) error {
	c.mu.Lock()
	c.progress.Coins += delta
	if c.progress.Coins < 0 {
		c.progress.Coins = 0
	}
	p := c.progress
	c.dirty = true
	c.gen++
	c.mu.Unlock()
	return c.store.Save(store.KeyProgress, p)
}

// SetCurrentLanguage marks the given course current and schedules a flush.
func (c *Client) SetCurrentLanguage(userLanguagesID int64) error {
	c.mu.Lock()
	for i := range c.progress.Languages {
		c.progress.Languages[i].IsCurrentLanguage = c.progress.Languages[i].ID == userLanguagesID
	}
	p := c.progress
	c.dirty = true
	c.gen++
	c.mu.Unlock()
	return c.store.Save(store.KeyProgress, p)
}

// SetLanguages replaces the local course list (after server enrollment).
func (c *Client) SetLanguages(langs []model.LanguageProgress) error {
	c.mu.Lock()
	c.progress.Languages = langs
	p := c.progress
	c.dirty = true
	c.gen++
	c.mu.Unlock()
	return c.store.Save(store.KeyProgress, p)
}

// AddWord stages a vocabulary insert. An insert cannot be attributed without
// an active course, so staging one before enrollment is a local validation
// error rather than an envelope the server would reject on every retry.
func (c *Client) AddWord(wordID string, entry model.VocabularyEntry) error {
	c.mu.Lock()
	if c.progress.CurrentLanguage() == nil {
		c.mu.Unlock()
		return fmt.Errorf("no active language course: %w", errs.ErrValidation)
	}
	c.vocab[wordID] = entry
	v := c.snapshotVocabLocked()
	c.mu.Unlock()
	c.journal.RecordInsert(wordID, entry)
	return c.store.Save(store.KeyVocabulary, v)
}

// ReviewWord stages a vocabulary update.
func (c *Client) ReviewWord(wordID string, patch model.VocabularyPatch) error {
	c.mu.Lock()
	e, ok := c.vocab[wordID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("word %s: %w", wordID, errs.ErrNotFound)
	}
	if patch.MasteryLevel != nil {
		e.MasteryLevel = *patch.MasteryLevel
	}
	if patch.LastReviewSet {
		e.LastReview = patch.LastReview
	}
	c.vocab[wordID] = e
	v := c.snapshotVocabLocked()
	c.mu.Unlock()
	c.journal.RecordUpdate(wordID, patch)
	return c.store.Save(store.KeyVocabulary, v)
}

// RemoveWord stages a vocabulary delete.
func (c *Client) RemoveWord(wordID string) error {
	c.mu.Lock()
	delete(c.vocab, wordID)
	v := c.snapshotVocabLocked()
	c.mu.Unlock()
	c.journal.RecordDelete(wordID)
	return c.store.Save(store.KeyVocabulary, v)
}

func (c *Client) snapshotVocabLocked() map[string]model.VocabularyEntry {
	out := make(map[string]model.VocabularyEntry, len(c.vocab))
	for k, v := range c.vocab {
		out[k] = v
	}
	return out
}

// Progress returns a copy of the local progress state.
func (c *Client) Progress() model.Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.progress
	p.Languages = append([]model.LanguageProgress(nil), c.progress.Languages...)
	return p
}

// Vocabulary returns a copy of the local vocabulary set.
func (c *Client) Vocabulary() map[string]model.VocabularyEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotVocabLocked()
}

// LastSyncTime returns the time of the last successful flush.
func (c *Client) LastSyncTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSync
}

// Dirty reports whether unflushed mutations exist.
func (c *Client) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty || !c.journal.Empty()
}

// --- flush ---

// Flush performs one guarded flush attempt. Triggers that fire while a flush
// is in progress coalesce into a no-op; the next dirty check catches any
// mutations recorded meanwhile.
func (c *Client) Flush(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.syncing:
		c.mu.Unlock()
		return nil
	case !c.hydrated, !c.online:
		c.mu.Unlock()
		return nil
	case !c.dirty && c.journal.Empty():
		c.mu.Unlock()
		return nil
	}
	if c.session.State() == session.Unauthenticated {
		c.mu.Unlock()
		return nil
	}
	c.syncing = true
	req, flushed := c.buildEnvelopeLocked()
	gen := c.gen
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.syncing = false
		c.mu.Unlock()
	}()

	var resp *api.SyncResponse
	err := c.session.Authorize(ctx, func(token string) error {
		var serr error
		resp, serr = c.server.Sync(ctx, token, req)
		return serr
	})
	if err != nil {
		return c.handleFlushError(err)
	}

	c.applyResponse(resp, flushed, gen)
	return nil
}

// buildEnvelopeLocked assembles the wire payload: dirty progress fields plus
// the journal snapshot if it is non-empty. Pending inserts force the current
// course id into the envelope even when progress itself is clean, since the
// server cannot attribute an insert without it.
func (c *Client) buildEnvelopeLocked() (*api.SyncRequest, journal.Diff) {
	req := &api.SyncRequest{}
	if c.dirty {
		energy, coins := c.progress.Energy, c.progress.Coins
		req.UserProgress = &api.ProgressPatch{Energy: &energy, Coins: &coins}
	}
	d := c.journal.Snapshot()
	if !d.Empty() {
		req.VocabularyChanges = &api.VocabularyChanges{
			Inserts: d.Inserts,
			Updates: d.Updates,
			Deletes: d.Deletes,
		}
	}
	if c.dirty || len(d.Inserts) > 0 {
		if cur := c.progress.CurrentLanguage(); cur != nil {
			if req.UserProgress == nil {
				req.UserProgress = &api.ProgressPatch{}
			}
			id := cur.ID
			req.UserProgress.CurrentUserLanguagesID = &id
		}
	}
	return req, d
}

// applyResponse reconciles authoritative server values into local state. The
// acknowledgment covers only the flushed snapshot: journal entries and dirty
// progress recorded while the request was in flight stay pending, and server
// echoes never overwrite them.
func (c *Client) applyResponse(resp *api.SyncResponse, flushed journal.Diff, gen uint64) {
	c.mu.Lock()
	c.journal.ClearSnapshot(flushed)
	pending := c.journal.Snapshot()

	unchanged := c.gen == gen
	if unchanged {
		c.dirty = false
		if resp != nil && resp.Results.UserProgress != nil {
			c.progress.Energy = resp.Results.UserProgress.Energy
			c.progress.Coins = resp.Results.UserProgress.Coins
		}
	}
	if resp != nil && resp.Results.VocabularyChanges != nil {
		for _, row := range resp.Results.VocabularyChanges.Inserts {
			c.foldRowLocked(row, pending)
		}
		for _, row := range resp.Results.VocabularyChanges.Updates {
			c.foldRowLocked(row, pending)
		}
	}
	c.lastSync = time.Now()
	c.errShown = false
	p := c.progress
	v := c.snapshotVocabLocked()
	ls := c.lastSync
	c.mu.Unlock()

	if err := c.store.Save(store.KeyProgress, p); err != nil {
		c.log.Warn("persist reconciled progress", zap.Error(err))
	}
	if err := c.store.Save(store.KeyVocabulary, v); err != nil {
		c.log.Warn("persist reconciled vocabulary", zap.Error(err))
	}
	if err := c.store.Save(store.KeyLastSyncTime, ls); err != nil {
		c.log.Warn("persist last sync time", zap.Error(err))
	}
	c.log.Info("sync completed", zap.Time("at", ls))
	c.events.Publish(bus.SyncCompleted)
}

// foldRowLocked reconciles one echoed row into local vocabulary. Words with a
// newer pending operation keep their optimistic local value.
func (c *Client) foldRowLocked(row model.VocabularyRow, pending journal.Diff) {
	if _, ok := pending.Inserts[row.WordID]; ok {
		return
	}
	if _, ok := pending.Updates[row.WordID]; ok {
		return
	}
	if pending.Deletes[row.WordID] {
		return
	}
	c.vocab[row.WordID] = model.VocabularyEntry{
		LanguageID:   row.LanguageID,
		MasteryLevel: row.MasteryLevel,
		LastReview:   row.LastReview,
		CreatedAt:    row.CreatedAt,
	}
}

// handleFlushError preserves the journal and dirty flag, and surfaces an
// unreachable-server condition at most once per failure streak. Session
// failures are not reported as network problems; the session manager already
// published SessionExpired if the renewal was rejected.
func (c *Client) handleFlushError(err error) error {
	switch {
	case errors.Is(err, errs.ErrSessionExpired), errors.Is(err, errs.ErrUnauthorized):
		c.log.Info("flush deferred until re-authentication", zap.Error(err))
		return err
	case errors.Is(err, errs.ErrValidation):
		c.log.Error("sync envelope rejected", zap.Error(err))
		return err
	default:
		c.mu.Lock()
		first := !c.errShown
		c.errShown = true
		c.mu.Unlock()
		if first {
			c.events.Publish(bus.SyncUnavailable)
		}
		c.log.Warn("flush failed, will retry", zap.Error(err))
		return err
	}
}
