package main

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExtractionConfig() *ExtractionConfig {
	return &ExtractionConfig{
		MinScore:             25,
		MaxScrollIterations:  3,
		StableIterations:     1,
		ScrollStepPixels:     600,
		SettleDelaySeconds:   0,
		NetworkBodyLimitKB:   512,
		ProgressEveryPercent: 5,
	}
}

func newTestExtractor() *Extractor {
	noop := func(js string, out interface{}) error { return nil }
	return NewExtractor(testExtractionConfig(), noop, nil, nil)
}

// setEvalOut mimics chromedp's JSON unmarshalling of an Evaluate result.
func setEvalOut(t *testing.T, out interface{}, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func TestObserveScoresOncePerOrigin(t *testing.T) {
	e := newTestExtractor()

	// Valid mobile shape: structure bonus applies on first sight.
	e.Observe(Candidate{Raw: "5511999998888", Origin: OriginChatID})
	rec := e.records["5511999998888"]
	require.NotNil(t, rec)
	assert.Equal(t, structureBonus+originScores[OriginChatID], rec.Score)
	assert.Equal(t, 1, rec.Occurrences)

	// Repeat sighting from the same origin: occurrence bonus only.
	e.Observe(Candidate{Raw: "5511999998888", Origin: OriginChatID})
	assert.Equal(t, structureBonus+originScores[OriginChatID]+occurrenceBonus, rec.Score)

	// New origin: origin points plus occurrence bonus.
	e.Observe(Candidate{Raw: "5511999998888", Origin: OriginStorage})
	assert.Equal(t, structureBonus+originScores[OriginChatID]+originScores[OriginStorage]+2*occurrenceBonus, rec.Score)
	assert.Equal(t, 3, rec.Occurrences)
}

func TestObserveDeduplicatesFormatVariants(t *testing.T) {
	e := newTestExtractor()
	e.Observe(Candidate{Raw: "+55 (11) 99999-8888", Origin: OriginDOMAttr})
	e.Observe(Candidate{Raw: "5511999998888", Origin: OriginStorage})
	e.Observe(Candidate{Raw: "11999998888", Origin: OriginWaLink})

	require.Len(t, e.records, 1)
	rec := e.records["5511999998888"]
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.Occurrences)
	assert.Len(t, rec.Sources, 3)
}

func TestObserveIgnoresOutOfRangeLengths(t *testing.T) {
	e := newTestExtractor()
	e.Observe(Candidate{Raw: "1234567", Origin: OriginChatID})          // 7 digits
	e.Observe(Candidate{Raw: "1234567890123456", Origin: OriginChatID}) // 16 digits
	assert.Empty(t, e.records)
}

func TestObserveTypeUpgrade(t *testing.T) {
	e := newTestExtractor()
	e.Observe(Candidate{Raw: "5511999998888", Origin: OriginChatID, Type: TypeNormal})
	e.Observe(Candidate{Raw: "5511999998888", Origin: OriginBlockSurface, Type: TypeBlocked})

	rec := e.records["5511999998888"]
	require.NotNil(t, rec)
	assert.Equal(t, TypeBlocked, rec.Type)
}

func TestContextDenylistRejectsOutright(t *testing.T) {
	e := newTestExtractor()

	// A strong origin first: the number accumulates a high score.
	e.Observe(Candidate{Raw: "1234567890123", Origin: OriginChatID})
	require.Contains(t, e.records, "1234567890123")

	// Then the same digits show up next to an order number and a date. The
	// record is dropped entirely, not down-scored.
	e.Observe(Candidate{
		Raw:     "1234567890123",
		Origin:  OriginDOMAttr,
		Context: "mensagem enviada em 12/05/2024 as 14:30, pedido 1234567890123",
	})
	assert.NotContains(t, e.records, "1234567890123")

	// Re-observation with a clean context cannot resurrect it this pass.
	e.Observe(Candidate{Raw: "1234567890123", Origin: OriginChatID})
	assert.NotContains(t, e.records, "1234567890123")

	results := e.Results()
	assert.NotContains(t, results.Normal, "1234567890123")
	assert.NotContains(t, results.Archived, "1234567890123")
	assert.NotContains(t, results.Blocked, "1234567890123")
	assert.Equal(t, 1, results.Rejected)
}

func TestContextDenied(t *testing.T) {
	tests := []struct {
		context string
		want    bool
	}{
		{"", false},
		{"fale com 5511999998888", false},
		{"pedido 1234567890123", true},
		{"Valor R$ 1.234,56", true},
		{"enviada em 12/05/2024", true},
		{"as 14:30", true},
		{"CPF 12345678901", true},
		{"contato da Casas Bahia", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, contextDenied(tt.context), "context %q", tt.context)
	}
}

func TestScanTextForCandidates(t *testing.T) {
	text := `{"id":"5511999998888@c.us","link":"https://wa.me/5521988887777","api":"api.whatsapp.com/send?phone=5531977776666"}`
	candidates := scanTextForCandidates(text, "storage", TypeNormal)

	byOrigin := make(map[Origin][]string)
	for _, c := range candidates {
		byOrigin[c.Origin] = append(byOrigin[c.Origin], c.Raw)
	}
	assert.Equal(t, []string{"5511999998888"}, byOrigin[OriginChatID])
	assert.Equal(t, []string{"5521988887777"}, byOrigin[OriginWaLink])
	assert.Equal(t, []string{"5531977776666"}, byOrigin[OriginAPILink])
	// The api link also matches the weak bare-param pattern; dedup happens at
	// the record level, where the number simply gains both sources.
	assert.Equal(t, []string{"5531977776666"}, byOrigin[OriginBareParam])

	for _, c := range candidates {
		assert.Contains(t, c.Context, "storage")
	}
}

func TestResultsThresholdPartitionAndOrder(t *testing.T) {
	e := newTestExtractor()

	// Strong candidates across all three categories, out of order.
	e.Observe(Candidate{Raw: "5521988887777", Origin: OriginChatID})
	e.Observe(Candidate{Raw: "5511999998888", Origin: OriginChatID})
	e.Observe(Candidate{Raw: "5531977776666", Origin: OriginArchiveSurface, Type: TypeArchived})
	e.Observe(Candidate{Raw: "5541966665555", Origin: OriginBlockSurface, Type: TypeBlocked})

	// Weak candidate: bare param only, no valid Brazil structure. Stays below
	// the threshold and is reported in scanned but not in any category.
	e.Observe(Candidate{Raw: "919812345670", Origin: OriginBareParam})

	results := e.Results()
	assert.Equal(t, []string{"5511999998888", "5521988887777"}, results.Normal)
	assert.Equal(t, []string{"5531977776666"}, results.Archived)
	assert.Equal(t, []string{"5541966665555"}, results.Blocked)
	assert.Equal(t, 5, results.Scanned)
	assert.Equal(t, 0, results.Rejected)
}

func TestClearDiscardsRecords(t *testing.T) {
	e := newTestExtractor()
	e.Observe(Candidate{Raw: "5511999998888", Origin: OriginChatID})
	require.Len(t, e.records, 1)

	e.Clear()
	assert.Empty(t, e.records)
	assert.Empty(t, e.Results().Normal)
}

func TestRunHarvestsAllSurfaces(t *testing.T) {
	var evalCount int
	eval := func(js string, out interface{}) error {
		evalCount++
		switch {
		case strings.Contains(js, "Blocklist"):
			setEvalOut(t, out, []map[string]string{
				{"text": "5541966665555@c.us", "kind": "blocked"},
				{"text": "5531977776666@c.us", "kind": "archived"},
			})
		case strings.Contains(js, "pane.scrollTop"):
			setEvalOut(t, out, 100) // stable immediately
		case strings.Contains(js, "window.localStorage"):
			setEvalOut(t, out, []map[string]string{
				{"key": "wa-last-chat", "value": "chat 5521988887777@c.us open"},
			})
		case strings.Contains(js, "window.sessionStorage"):
			setEvalOut(t, out, []map[string]string{})
		default: // rendered DOM
			setEvalOut(t, out, []map[string]string{
				{"text": "5511999998888@c.us", "context": "Maria", "kind": "chat_id"},
			})
		}
		return nil
	}

	var mu sync.Mutex
	var events []ProgressEvent
	onProgress := func(ev ProgressEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}

	e := NewExtractor(testExtractionConfig(), eval, nil, onProgress)
	results, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"5511999998888", "5521988887777"}, results.Normal)
	assert.Equal(t, []string{"5531977776666"}, results.Archived)
	assert.Equal(t, []string{"5541966665555"}, results.Blocked)
	assert.GreaterOrEqual(t, results.Scanned, 4)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, 100, events[len(events)-1].Progress)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Progress, events[i-1].Progress, "progress must not move backwards")
	}
	assert.Positive(t, evalCount)
}

func TestRunReturnsPartialResultsOnCancel(t *testing.T) {
	eval := func(js string, out interface{}) error {
		switch {
		case strings.Contains(js, "Blocklist"):
			setEvalOut(t, out, []map[string]string{})
		case strings.Contains(js, "pane.scrollTop"):
			setEvalOut(t, out, 100)
		case strings.Contains(js, "window."):
			setEvalOut(t, out, []map[string]string{})
		default:
			setEvalOut(t, out, []map[string]string{
				{"text": "5511999998888@c.us", "context": "", "kind": "chat_id"},
			})
		}
		return nil
	}

	e := NewExtractor(testExtractionConfig(), eval, nil, nil)
	// Cancel right after the first phase delivers its candidates.
	wrapped := e.eval
	first := true
	e.eval = func(js string, out interface{}) error {
		err := wrapped(js, out)
		if first {
			first = false
			e.Cancel()
		}
		return err
	}

	results, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"5511999998888"}, results.Normal)
}

func TestScrollSweepStopsWhenCancelled(t *testing.T) {
	evalCalls := 0
	e := NewExtractor(testExtractionConfig(), func(js string, out interface{}) error {
		evalCalls++
		setEvalOut(t, out, 100)
		return nil
	}, nil, nil)

	e.Cancel()
	require.NoError(t, e.scrollSweep(context.Background()))
	assert.Zero(t, evalCalls)
}

func TestScrollSweepHonorsContext(t *testing.T) {
	e := newTestExtractor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, e.scrollSweep(ctx), context.Canceled)
}

func TestPauseResumeScroll(t *testing.T) {
	var mu sync.Mutex
	var events []ProgressEvent
	e := NewExtractor(testExtractionConfig(), func(js string, out interface{}) error { return nil }, nil, func(ev ProgressEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	e.emitProgress(40, false)

	e.PauseScroll()
	assert.True(t, e.paused.Load())
	e.PauseScroll() // second pause is a no-op, no duplicate event

	e.ResumeScroll()
	assert.False(t, e.paused.Load())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	assert.True(t, events[1].Paused)
	assert.False(t, events[2].Paused)
	// Pause and resume events carry the last reported progress, keeping every
	// event inside the 0-100 contract.
	assert.Equal(t, 40, events[1].Progress)
	assert.Equal(t, 40, events[2].Progress)
}

func TestHandleControl(t *testing.T) {
	e := newTestExtractor()
	e.Observe(Candidate{Raw: "5511999998888", Origin: OriginChatID})

	resp := HandleControl(e, ControlRequest{Action: ControlExportResults})
	require.True(t, resp.Success)
	results, ok := resp.Data.(*ExtractionResults)
	require.True(t, ok)
	assert.Equal(t, []string{"5511999998888"}, results.Normal)

	resp = HandleControl(e, ControlRequest{Action: ControlPauseExtract})
	assert.True(t, resp.Success)
	assert.True(t, e.paused.Load())

	resp = HandleControl(e, ControlRequest{Action: ControlResumeExtract})
	assert.True(t, resp.Success)
	assert.False(t, e.paused.Load())

	resp = HandleControl(e, ControlRequest{Action: ControlClearResults})
	assert.True(t, resp.Success)
	assert.Empty(t, e.Results().Normal)

	resp = HandleControl(e, ControlRequest{Action: "bogus"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "bogus")

	resp = HandleControl(nil, ControlRequest{Action: ControlExportResults})
	assert.False(t, resp.Success)
}
