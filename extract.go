package main

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Origin tags where a candidate number was seen. Identifier-based origins are
// the strong signals; bare numeric patterns are deliberately weak because of
// false-positive risk.
type Origin string

const (
	OriginChatID         Origin = "chat_id"
	OriginWaLink         Origin = "wa_link"
	OriginAPILink        Origin = "api_link"
	OriginDOMAttr        Origin = "dom_attr"
	OriginStorage        Origin = "storage"
	OriginDatabase       Origin = "database"
	OriginArchiveSurface Origin = "archive_surface"
	OriginBlockSurface   Origin = "block_surface"
	OriginNetwork        Origin = "network"
	OriginBareParam      Origin = "bare_param"
)

// originScores is tuning data, not logic. Points accumulate once per distinct
// origin ever observed for a candidate.
var originScores = map[Origin]int{
	OriginChatID:         30,
	OriginDatabase:       26,
	OriginWaLink:         25,
	OriginAPILink:        25,
	OriginDOMAttr:        20,
	OriginArchiveSurface: 20,
	OriginBlockSurface:   20,
	OriginStorage:        18,
	OriginNetwork:        15,
	OriginBareParam:      8,
}

const (
	// occurrenceBonus is added for every repeat sighting across any origin.
	occurrenceBonus = 2
	// structureBonus is added once when the candidate parses as a valid
	// Brazilian mobile or landline number.
	structureBonus = 15
)

// contextDenylist: a digit-shaped match sitting next to any of these terms is
// a price, date, document or order number, not a phone. Such candidates are
// discarded outright, never merely down-scored.
var contextDenylist = []string{
	"r$", "us$", "usd", "eur", "valor", "preço", "preco", "price", "total",
	"pedido", "order", "compra", "nota fiscal", "invoice", "boleto",
	"cpf", "cnpj", "protocolo", "ticket", "chamado", "código", "codigo",
	"data:", "hora:",
}

var (
	denyDatePattern = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{2,4}`)
	denyTimePattern = regexp.MustCompile(`\d{1,2}:\d{2}`)
)

// Candidate patterns shared with the network observer.
var (
	chatIDPattern    = regexp.MustCompile(`(\d{8,15})@c\.us`)
	waLinkPattern    = regexp.MustCompile(`wa\.me/(\d{8,15})`)
	apiLinkPattern   = regexp.MustCompile(`api\.whatsapp\.com/send\?phone=(\d{8,15})`)
	barePhonePattern = regexp.MustCompile(`phone=(\d{8,15})`)
)

type NumberType string

const (
	TypeNormal   NumberType = "normal"
	TypeArchived NumberType = "archived"
	TypeBlocked  NumberType = "blocked"
)

// PhoneRecord tracks one candidate across an extraction pass. Rebuilt from
// scratch every pass; never carried over.
type PhoneRecord struct {
	Number      string          `json:"number"`
	Sources     map[Origin]bool `json:"sources"`
	Score       int             `json:"score"`
	Occurrences int             `json:"occurrences"`
	Type        NumberType      `json:"type"`
}

type Candidate struct {
	Raw     string
	Origin  Origin
	Context string
	Type    NumberType
}

type ProgressEvent struct {
	Progress int  `json:"progress"`
	Count    int  `json:"count"`
	Paused   bool `json:"paused,omitempty"`
}

type ExtractionResults struct {
	Normal   []string `json:"normal"`
	Archived []string `json:"archived"`
	Blocked  []string `json:"blocked"`
	Scanned  int      `json:"scanned"`
	Rejected int      `json:"rejected"`
}

// Extractor harvests candidate numbers from every reachable surface of the
// host page. It owns its record set for the duration of one pass.
type Extractor struct {
	config     *ExtractionConfig
	eval       func(js string, out interface{}) error
	evalAsync  func(js string, out interface{}) error
	onProgress func(ProgressEvent)

	mu      sync.Mutex
	records map[string]*PhoneRecord
	denied  map[string]bool

	paused       atomic.Bool
	cancelled    atomic.Bool
	lastProgress atomic.Int32
}

func NewExtractor(config *ExtractionConfig, eval, evalAsync func(js string, out interface{}) error, onProgress func(ProgressEvent)) *Extractor {
	return &Extractor{
		config:     config,
		eval:       eval,
		evalAsync:  evalAsync,
		onProgress: onProgress,
		records:    make(map[string]*PhoneRecord),
		denied:     make(map[string]bool),
	}
}

// contextDenied reports whether the text surrounding a match names a price,
// date, document or order - contexts where digit runs are never phone numbers.
func contextDenied(context string) bool {
	if context == "" {
		return false
	}
	lower := strings.ToLower(context)
	for _, term := range contextDenylist {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return denyDatePattern.MatchString(lower) || denyTimePattern.MatchString(lower)
}

// Observe feeds one candidate into the running record set. Safe for the
// network listener goroutine to call during a pass.
func (e *Extractor) Observe(c Candidate) {
	digits := sanitizePhone(c.Raw)
	if len(digits) < 8 || len(digits) > 15 {
		return
	}
	key := normalizePhone(digits)
	if key == "" {
		key = digits
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.denied[key] {
		return
	}
	if contextDenied(c.Context) {
		// Rejected outright regardless of score: drop anything already
		// accumulated and bar the number from re-entering this pass.
		e.denied[key] = true
		delete(e.records, key)
		return
	}

	rec, ok := e.records[key]
	if !ok {
		rec = &PhoneRecord{
			Number:  key,
			Sources: make(map[Origin]bool),
			Type:    TypeNormal,
		}
		if isValidBrazilPhone(key) {
			rec.Score += structureBonus
		}
		e.records[key] = rec
	}

	rec.Occurrences++
	if rec.Occurrences > 1 {
		rec.Score += occurrenceBonus
	}
	if !rec.Sources[c.Origin] {
		rec.Sources[c.Origin] = true
		rec.Score += originScores[c.Origin]
	}
	if c.Type == TypeArchived || c.Type == TypeBlocked {
		rec.Type = c.Type
	}
}

// scanTextForCandidates extracts candidates from arbitrary text using the
// shared identifier patterns. The context window around each match feeds the
// denylist check.
func scanTextForCandidates(text, contextLabel string, typ NumberType) []Candidate {
	var out []Candidate
	add := func(pattern *regexp.Regexp, origin Origin) {
		for _, loc := range pattern.FindAllStringSubmatchIndex(text, -1) {
			number := text[loc[2]:loc[3]]
			start := loc[0] - 60
			if start < 0 {
				start = 0
			}
			end := loc[1] + 60
			if end > len(text) {
				end = len(text)
			}
			out = append(out, Candidate{
				Raw:     number,
				Origin:  origin,
				Context: contextLabel + " " + text[start:end],
				Type:    typ,
			})
		}
	}
	add(chatIDPattern, OriginChatID)
	add(waLinkPattern, OriginWaLink)
	add(apiLinkPattern, OriginAPILink)
	add(barePhonePattern, OriginBareParam)
	return out
}

// Run executes one full extraction pass: DOM, storages, embedded database,
// archived/blocked surfaces, the scroll-driven sweep, then a settling re-sweep
// for asynchronously rendered content. Individual source failures are skipped,
// never fatal to the pass.
func (e *Extractor) Run(ctx context.Context) (*ExtractionResults, error) {
	e.mu.Lock()
	e.records = make(map[string]*PhoneRecord)
	e.denied = make(map[string]bool)
	e.mu.Unlock()
	e.cancelled.Store(false)
	e.lastProgress.Store(0)

	Log("info", "Extraction pass started")

	phases := []struct {
		name     string
		progress int
		run      func() error
	}{
		{"rendered DOM", 10, e.harvestDOM},
		{"local storage", 20, func() error { return e.harvestStorage("localStorage") }},
		{"session storage", 25, func() error { return e.harvestStorage("sessionStorage") }},
		{"record database", 35, e.harvestDatabase},
		{"archived and blocked surfaces", 40, e.harvestArchivedBlocked},
	}
	for _, phase := range phases {
		if e.cancelled.Load() {
			Log("info", "Extraction cancelled, returning partial results")
			return e.Results(), nil
		}
		if err := phase.run(); err != nil {
			Logf("warn", "Extraction source %s failed, skipping: %v", phase.name, err)
		}
		e.emitProgress(phase.progress, false)
	}

	if err := e.scrollSweep(ctx); err != nil {
		Logf("warn", "Scroll sweep ended early: %v", err)
	}

	if !e.cancelled.Load() {
		// Settle, then re-sweep the static sources to catch late renders.
		time.Sleep(time.Duration(e.config.SettleDelaySeconds) * time.Second)
		for _, phase := range phases {
			if err := phase.run(); err != nil {
				Logf("debug", "Re-sweep of %s failed: %v", phase.name, err)
			}
		}
	}

	e.emitProgress(100, false)
	results := e.Results()
	Logf("info", "Extraction pass complete: %d normal, %d archived, %d blocked (%d rejected)",
		len(results.Normal), len(results.Archived), len(results.Blocked), results.Rejected)
	return results, nil
}

// harvestDOM collects candidates from currently rendered nodes carrying
// high-confidence structural attributes.
func (e *Extractor) harvestDOM() error {
	var items []struct {
		Text    string `json:"text"`
		Context string `json:"context"`
		Kind    string `json:"kind"`
	}
	js := `(function(){
		var out = [];
		var push = function(text, context, kind) {
			if (text) out.push({text: String(text).slice(0, 500), context: String(context || '').slice(0, 200), kind: kind});
		};
		try {
			document.querySelectorAll('[data-id]').forEach(function(el){
				push(el.getAttribute('data-id'), el.textContent, 'chat_id');
			});
		} catch (e) {}
		try {
			document.querySelectorAll('a[href*="wa.me"], a[href*="api.whatsapp.com"]').forEach(function(a){
				push(a.href, a.textContent, 'link');
			});
		} catch (e) {}
		try {
			document.querySelectorAll('#pane-side [title]').forEach(function(el){
				var t = el.getAttribute('title') || '';
				if (/\+?[\d\s()-]{8,}/.test(t)) push(t, el.parentElement ? el.parentElement.textContent : '', 'dom_attr');
			});
		} catch (e) {}
		return out;
	})()`
	if err := e.eval(js, &items); err != nil {
		return err
	}

	for _, item := range items {
		switch item.Kind {
		case "chat_id":
			for _, c := range scanTextForCandidates(item.Text, item.Context, TypeNormal) {
				e.Observe(c)
			}
		case "link":
			for _, c := range scanTextForCandidates(item.Text, item.Context, TypeNormal) {
				e.Observe(c)
			}
		default:
			e.Observe(Candidate{Raw: item.Text, Origin: OriginDOMAttr, Context: item.Context, Type: TypeNormal})
		}
	}
	return nil
}

// harvestStorage scans a browser key/value storage. Unreadable keys are
// skipped silently per item.
func (e *Extractor) harvestStorage(storageName string) error {
	var items []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	js := fmt.Sprintf(`(function(){
		var out = [];
		try {
			var s = window.%s;
			for (var i = 0; i < s.length; i++) {
				try {
					var k = s.key(i);
					var v = s.getItem(k) || '';
					if (/\d{8,}/.test(v)) out.push({key: k, value: v.slice(0, 4000)});
				} catch (e) {}
			}
		} catch (e) {}
		return out;
	})()`, storageName)
	if err := e.eval(js, &items); err != nil {
		return err
	}

	for _, item := range items {
		for _, c := range scanTextForCandidates(item.Value, storageName+":"+item.Key, TypeNormal) {
			c.Origin = OriginStorage
			e.Observe(c)
		}
	}
	return nil
}

// harvestDatabase scans the embedded record database by table name heuristics.
// The whole scan is promise-wrapped on the page side and resolves to an empty
// list on any internal failure.
func (e *Extractor) harvestDatabase() error {
	if e.evalAsync == nil {
		return nil
	}
	var items []struct {
		Text    string `json:"text"`
		Context string `json:"context"`
	}
	js := `(function(){
		return new Promise(function(resolve){
			var out = [];
			var finish = function(){ resolve(out); };
			try {
				if (!indexedDB.databases) { finish(); return; }
				indexedDB.databases().then(function(dbs){
					var names = dbs.map(function(d){ return d.name; }).filter(function(n){
						return n && /model-storage|wawc|signal/i.test(n);
					});
					if (!names.length) { finish(); return; }
					var remaining = names.length;
					names.forEach(function(name){
						try {
							var req = indexedDB.open(name);
							req.onerror = function(){ if (--remaining === 0) finish(); };
							req.onsuccess = function(){
								var db = req.result;
								try {
									var stores = Array.prototype.filter.call(db.objectStoreNames, function(s){
										return /contact|chat|participant|group/i.test(s);
									});
									if (!stores.length) { db.close(); if (--remaining === 0) finish(); return; }
									var pending = stores.length;
									stores.forEach(function(storeName){
										try {
											var tx = db.transaction(storeName, 'readonly');
											var getAll = tx.objectStore(storeName).getAll(null, 2000);
											getAll.onsuccess = function(){
												try {
													(getAll.result || []).forEach(function(rec){
														out.push({text: JSON.stringify(rec).slice(0, 1000), context: name + '/' + storeName});
													});
												} catch (e) {}
												if (--pending === 0) { db.close(); if (--remaining === 0) finish(); }
											};
											getAll.onerror = function(){
												if (--pending === 0) { db.close(); if (--remaining === 0) finish(); }
											};
										} catch (e) {
											if (--pending === 0) { db.close(); if (--remaining === 0) finish(); }
										}
									});
								} catch (e) { db.close(); if (--remaining === 0) finish(); }
							};
						} catch (e) { if (--remaining === 0) finish(); }
					});
				}).catch(finish);
			} catch (e) { finish(); }
			setTimeout(finish, 10000);
		});
	})()`
	if err := e.evalAsync(js, &items); err != nil {
		return err
	}

	for _, item := range items {
		for _, c := range scanTextForCandidates(item.Text, item.Context, TypeNormal) {
			c.Origin = OriginDatabase
			e.Observe(c)
		}
	}
	return nil
}

// harvestArchivedBlocked tries the page's archived and blocked surfaces with
// several fallbacks: an in-memory collection when reachable, the DOM region,
// then storage keys matching the naming pattern.
func (e *Extractor) harvestArchivedBlocked() error {
	var items []struct {
		Text string `json:"text"`
		Kind string `json:"kind"`
	}
	js := `(function(){
		var out = [];
		var push = function(text, kind){ if (text) out.push({text: String(text).slice(0, 1000), kind: kind}); };
		try {
			var store = window.Store || (window.require && window.require('WAWebCollections'));
			if (store && store.Chat && store.Chat.getModelsArray) {
				store.Chat.getModelsArray().forEach(function(chat){
					try { if (chat.archive && chat.id) push(String(chat.id._serialized || chat.id), 'archived'); } catch (e) {}
				});
			}
			if (store && store.Blocklist && store.Blocklist.getModelsArray) {
				store.Blocklist.getModelsArray().forEach(function(b){
					try { push(String(b.id._serialized || b.id), 'blocked'); } catch (e) {}
				});
			}
		} catch (e) {}
		try {
			document.querySelectorAll('[aria-label*="rchive"] [data-id], [aria-label*="rquiv"] [data-id]').forEach(function(el){
				push(el.getAttribute('data-id'), 'archived');
			});
		} catch (e) {}
		try {
			for (var i = 0; i < localStorage.length; i++) {
				var k = localStorage.key(i);
				if (/archiv|block/i.test(k)) push(localStorage.getItem(k), /block/i.test(k) ? 'blocked' : 'archived');
			}
		} catch (e) {}
		return out;
	})()`
	if err := e.eval(js, &items); err != nil {
		return err
	}

	for _, item := range items {
		typ := TypeArchived
		origin := OriginArchiveSurface
		if item.Kind == "blocked" {
			typ = TypeBlocked
			origin = OriginBlockSurface
		}
		for _, c := range scanTextForCandidates(item.Text, "", typ) {
			c.Origin = origin
			e.Observe(c)
		}
	}
	return nil
}

// scrollSweep walks the virtualized chat list, re-harvesting rendered nodes on
// each step, until the scroll position stabilizes or the iteration cap is hit.
// Pause and cancel are cooperative, checked once per iteration.
func (e *Extractor) scrollSweep(ctx context.Context) error {
	lastTop := -1
	stable := 0
	maxIter := e.config.MaxScrollIterations

	for i := 0; i < maxIter; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.cancelled.Load() {
			return nil
		}
		for e.paused.Load() && !e.cancelled.Load() {
			time.Sleep(200 * time.Millisecond)
		}
		if e.cancelled.Load() {
			return nil
		}

		var top int
		js := fmt.Sprintf(`(function(){
			try {
				var pane = document.querySelector('#pane-side');
				if (!pane) return -1;
				pane.scrollTop = pane.scrollTop + %d;
				return Math.round(pane.scrollTop);
			} catch (e) { return -1; }
		})()`, e.config.ScrollStepPixels)
		if err := e.eval(js, &top); err != nil {
			return err
		}
		if top < 0 {
			return fmt.Errorf("chat list pane not found")
		}

		if err := e.harvestDOM(); err != nil {
			Logf("debug", "DOM re-harvest failed at iteration %d: %v", i, err)
		}

		if top == lastTop {
			stable++
			if stable >= e.config.StableIterations {
				Logf("debug", "Scroll position stable after %d iterations", i+1)
				break
			}
		} else {
			stable = 0
		}
		lastTop = top

		// Sweep progress occupies the 40-90 band of the overall pass.
		e.emitProgress(40+(i+1)*50/maxIter, false)
		time.Sleep(300 * time.Millisecond)
	}
	return nil
}

// PauseScroll stops the sweep from advancing but keeps the session alive.
func (e *Extractor) PauseScroll() {
	if e.paused.CompareAndSwap(false, true) {
		Log("info", "Extraction sweep paused")
		e.emitProgressCurrent(true)
	}
}

func (e *Extractor) ResumeScroll() {
	if e.paused.CompareAndSwap(true, false) {
		Log("info", "Extraction sweep resumed")
		e.emitProgressCurrent(false)
	}
}

// Cancel stops the pass; Run returns whatever was gathered so far.
func (e *Extractor) Cancel() {
	e.cancelled.Store(true)
	e.paused.Store(false)
}

// Results partitions the accumulated records into the three disjoint
// categories, deduplicated, threshold-gated and sorted ascending.
func (e *Extractor) Results() *ExtractionResults {
	e.mu.Lock()
	defer e.mu.Unlock()

	results := &ExtractionResults{
		Normal:   []string{},
		Archived: []string{},
		Blocked:  []string{},
		Scanned:  len(e.records),
		Rejected: len(e.denied),
	}
	for _, rec := range e.records {
		if rec.Score < e.config.MinScore {
			continue
		}
		switch rec.Type {
		case TypeArchived:
			results.Archived = append(results.Archived, rec.Number)
		case TypeBlocked:
			results.Blocked = append(results.Blocked, rec.Number)
		default:
			results.Normal = append(results.Normal, rec.Number)
		}
	}
	sort.Strings(results.Normal)
	sort.Strings(results.Archived)
	sort.Strings(results.Blocked)
	return results
}

// Clear discards the current record set.
func (e *Extractor) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = make(map[string]*PhoneRecord)
	e.denied = make(map[string]bool)
}

func (e *Extractor) validCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for _, rec := range e.records {
		if rec.Score >= e.config.MinScore {
			count++
		}
	}
	return count
}

func (e *Extractor) emitProgress(progress int, paused bool) {
	if progress > 100 {
		progress = 100
	}
	e.lastProgress.Store(int32(progress))
	if e.onProgress == nil {
		return
	}
	e.onProgress(ProgressEvent{Progress: progress, Count: e.validCount(), Paused: paused})
}

// emitProgressCurrent re-emits the last reported progress value, used when only
// the paused flag changed.
func (e *Extractor) emitProgressCurrent(paused bool) {
	if e.onProgress == nil {
		return
	}
	e.onProgress(ProgressEvent{Progress: int(e.lastProgress.Load()), Count: e.validCount(), Paused: paused})
}
