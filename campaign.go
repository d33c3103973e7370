package main

import (
	"math/rand"
	"sync"
	"time"
)

type SendResult struct {
	Sent   bool
	Reason string
}

// Sender is the seam between the state machine and the URL-navigation send
// driver. BeginSend checkpoints the in-flight operation and triggers the
// navigation; CompleteSend is the continuation that runs once the target
// conversation has (or has not) opened. They are deliberately two procedures:
// the navigation can destroy the page context, so the only thing connecting
// them is the persisted record.
type Sender interface {
	BeginSend(phone, message string, hasImage bool) error
	CompleteSend(phone, message string, hasImage bool) (SendResult, error)
}

// stepDelayMinimal is used when advancing past entries that need no send
// (skips, invalid entries) and when resuming from pause.
const stepDelayMinimal = 100 * time.Millisecond

// Campaign drives the persisted queue. It is the sole writer of the campaign
// record; all mutation happens under one mutex, and at most one scheduled step
// timer is outstanding at any time.
type Campaign struct {
	store  *StateStore
	sender Sender

	mu    sync.Mutex
	timer *time.Timer
	rng   *rand.Rand

	done     chan struct{}
	doneOnce sync.Once
}

func NewCampaign(store *StateStore, sender Sender) *Campaign {
	return &Campaign{
		store:  store,
		sender: sender,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		done:   make(chan struct{}),
	}
}

// Done is closed when the campaign finishes, is stopped, or halts on error.
func (c *Campaign) Done() <-chan struct{} {
	return c.done
}

func (c *Campaign) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.store.State()
	// The persisted running flag can leak in from a previous process that
	// crashed mid-run. "Already running" only holds when this process has a
	// step timer armed; otherwise fall through and schedule one.
	if st.IsRunning && !st.IsPaused && c.timer != nil {
		return nil
	}
	if !st.HasPendingWork() {
		Log("info", "Queue already processed, nothing to send")
		c.finishLocked()
		return nil
	}

	st.IsRunning = true
	st.IsPaused = false
	if err := c.store.Persist(); err != nil {
		return err
	}
	Logf("info", "Campaign started: %d entries, cursor at %d", len(st.Queue), st.Index)
	c.scheduleLocked(stepDelayMinimal)
	return nil
}

// Pause cancels the pending scheduled step without discarding any state.
func (c *Campaign) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.store.State()
	if !st.IsRunning || st.IsPaused {
		return
	}
	st.IsPaused = true
	c.cancelTimerLocked()
	if err := c.store.Persist(); err != nil {
		Logf("error", "Failed to persist pause: %v", err)
	}
	Log("info", "Campaign paused")
}

// Resume re-schedules the next step immediately rather than waiting out a
// fresh full delay window.
func (c *Campaign) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.store.State()
	if !st.IsRunning || !st.IsPaused {
		return
	}
	st.IsPaused = false
	if err := c.store.Persist(); err != nil {
		Logf("error", "Failed to persist resume: %v", err)
	}
	Log("info", "Campaign resumed")
	c.scheduleLocked(stepDelayMinimal)
}

// Stop cancels the pending step and clears both lifecycle flags. Queue and
// cursor are left untouched so the operator can inspect or resume manually.
func (c *Campaign) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.store.State()
	c.cancelTimerLocked()
	st.IsRunning = false
	st.IsPaused = false
	if err := c.store.Persist(); err != nil {
		Logf("error", "Failed to persist stop: %v", err)
	}
	Logf("info", "Campaign stopped at index %d/%d", st.Index, len(st.Queue))
	c.signalDone()
}

// ResumeIfNeeded runs unconditionally at startup. When the persisted record
// says a navigation was in flight, the previous run was torn down mid-send;
// finish that send before stepping normally. With no navigation outstanding
// this is a no-op.
func (c *Campaign) ResumeIfNeeded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.store.State()
	if !st.URLNavigationInProgress {
		return
	}

	Logf("info", "Detected interrupted send to %s, resuming where we left off", st.CurrentPhoneNumber)
	entry := c.inflightEntryLocked(st)
	if entry == nil {
		Logf("warn", "In-flight number %s no longer matches any queue entry, clearing flag", st.CurrentPhoneNumber)
		c.clearInflightLocked(st)
		st.RecomputeStats()
		if err := c.store.Persist(); err != nil {
			c.persistFailureLocked(err)
		}
		return
	}

	res, err := c.sender.CompleteSend(st.CurrentPhoneNumber, st.CurrentMessage, st.ImageData != "")
	if err != nil {
		res = SendResult{Sent: false, Reason: err.Error()}
	}
	c.recordOutcomeLocked(entry, res)
}

// step processes the entry at the cursor. Invoked only from the scheduled
// timer (or indirectly via Start/Resume scheduling one).
func (c *Campaign) step() {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.store.State()
	if !st.IsRunning || st.IsPaused {
		return
	}
	if st.Index >= len(st.Queue) {
		c.finishLocked()
		return
	}

	entry := &st.Queue[st.Index]

	// Invalid entries are never dispatched.
	if !entry.Valid {
		Logf("warn", "Skipping invalid number at index %d: %s (%s)", st.Index, entry.Phone, entry.ErrorReason)
		entry.Status = StatusFailed
		if entry.ErrorReason == "" {
			entry.ErrorReason = "invalid phone number"
		}
		c.advanceLocked(st)
		return
	}

	// Re-stepping never re-sends completed work; this is what makes
	// resume-after-reload idempotent. A failed entry is only re-dispatched
	// while its retry flag is up, so an entry gets the first attempt plus
	// retryMax extras before it counts as exhausted.
	if entry.Status == StatusSent || (entry.Status == StatusFailed && !entry.RetryPending) {
		Logf("debug", "Skipping already processed entry at index %d (%s)", st.Index, entry.Status)
		c.advanceLocked(st)
		return
	}

	entry.RetryPending = false
	entry.Status = StatusOpened
	st.RecomputeStats()
	if err := c.store.Persist(); err != nil {
		c.persistFailureLocked(err)
		return
	}

	message := st.Message
	if entry.CustomMessage != "" {
		message = entry.CustomMessage
	}
	hasImage := st.ImageData != ""

	Logf("info", "Sending %d/%d to %s", st.Index+1, len(st.Queue), entry.Phone)
	if err := c.sender.BeginSend(entry.Phone, message, hasImage); err != nil {
		c.recordOutcomeLocked(entry, SendResult{Sent: false, Reason: err.Error()})
		return
	}

	res, err := c.sender.CompleteSend(entry.Phone, message, hasImage)
	if err != nil {
		res = SendResult{Sent: false, Reason: err.Error()}
	}
	c.recordOutcomeLocked(entry, res)
}

// recordOutcomeLocked applies a resolved send attempt to the queue entry,
// clears the in-flight checkpoint and decides what happens next: retry the
// same index, advance, halt, or finish.
func (c *Campaign) recordOutcomeLocked(entry *QueueEntry, res SendResult) {
	st := c.store.State()

	if !res.Sent && entry.Retries < st.RetryMax {
		entry.Retries++
		entry.RetryPending = true
		entry.Status = StatusFailed
		entry.ErrorReason = res.Reason
		c.clearInflightLocked(st)
		st.RecomputeStats()
		if err := c.store.Persist(); err != nil {
			c.persistFailureLocked(err)
			return
		}
		Logf("warn", "Send to %s failed (%s), retry %d/%d scheduled", entry.Phone, res.Reason, entry.Retries, st.RetryMax)
		c.scheduleLocked(c.nextDelayLocked(st))
		return
	}

	entry.RetryPending = false
	if res.Sent {
		entry.Status = StatusSent
		entry.ErrorReason = ""
		Logf("info", "Message sent to %s", entry.Phone)
	} else {
		entry.Status = StatusFailed
		entry.ErrorReason = res.Reason
		Logf("error", "Send to %s failed permanently: %s", entry.Phone, res.Reason)

		if !st.ContinueOnError {
			c.clearInflightLocked(st)
			st.IsRunning = false
			st.IsPaused = false
			st.RecomputeStats()
			if err := c.store.Persist(); err != nil {
				Logf("error", "Failed to persist halted state: %v", err)
			}
			c.cancelTimerLocked()
			Log("error", "Halting campaign: continue_on_error is disabled")
			c.signalDone()
			return
		}
	}

	c.clearInflightLocked(st)
	st.Index++
	st.RecomputeStats()
	if err := c.store.Persist(); err != nil {
		c.persistFailureLocked(err)
		return
	}

	if st.Index >= len(st.Queue) {
		c.finishLocked()
		return
	}
	c.scheduleLocked(c.nextDelayLocked(st))
}

func (c *Campaign) advanceLocked(st *CampaignState) {
	st.Index++
	st.RecomputeStats()
	if err := c.store.Persist(); err != nil {
		c.persistFailureLocked(err)
		return
	}
	if st.Index >= len(st.Queue) {
		c.finishLocked()
		return
	}
	c.scheduleLocked(stepDelayMinimal)
}

func (c *Campaign) finishLocked() {
	st := c.store.State()
	st.IsRunning = false
	st.IsPaused = false
	st.RecomputeStats()
	if err := c.store.Persist(); err != nil {
		Logf("error", "Failed to persist finished state: %v", err)
	}
	Logf("info", "Campaign finished: %d sent, %d failed, %d pending",
		st.Stats.Sent, st.Stats.Failed, st.Stats.Pending)
	c.signalDone()
}

// persistFailureLocked handles the one error class that must halt stepping:
// the store already retried the write, so memory and disk have diverged.
func (c *Campaign) persistFailureLocked(err error) {
	Logf("error", "Campaign halted, cannot persist state: %v", err)
	c.cancelTimerLocked()
	c.store.State().IsRunning = false
	c.signalDone()
}

// inflightEntryLocked re-derives which queue entry the interrupted send was
// for. The cursor is authoritative when its entry matches the persisted
// number; otherwise fall back to the first opened entry with that number.
func (c *Campaign) inflightEntryLocked(st *CampaignState) *QueueEntry {
	if st.Index < len(st.Queue) {
		entry := &st.Queue[st.Index]
		if phoneSuffixMatch(entry.Phone, st.CurrentPhoneNumber) {
			return entry
		}
	}
	for i := range st.Queue {
		entry := &st.Queue[i]
		if entry.Status == StatusOpened && phoneSuffixMatch(entry.Phone, st.CurrentPhoneNumber) {
			return entry
		}
	}
	return nil
}

func (c *Campaign) clearInflightLocked(st *CampaignState) {
	st.URLNavigationInProgress = false
	st.CurrentPhoneNumber = ""
	st.CurrentMessage = ""
}

// scheduleLocked arms the single step timer. Arming a new one always replaces
// the previous one, so duplicate steps cannot pile up.
func (c *Campaign) scheduleLocked(d time.Duration) {
	st := c.store.State()
	if !st.IsRunning || st.IsPaused {
		return
	}
	c.cancelTimerLocked()
	c.timer = time.AfterFunc(d, c.step)
}

func (c *Campaign) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// nextDelayLocked samples the inter-send delay uniformly from [min, max].
func (c *Campaign) nextDelayLocked(st *CampaignState) time.Duration {
	min := st.DelayMin
	max := st.DelayMax
	if max < min {
		max = min
	}
	seconds := min
	if max > min {
		seconds = min + c.rng.Intn(max-min+1)
	}
	return time.Duration(seconds) * time.Second
}

func (c *Campaign) signalDone() {
	c.doneOnce.Do(func() { close(c.done) })
}
