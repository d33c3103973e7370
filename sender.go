package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// Ordered fallback locators for every UI interaction. The host markup changes
// without notice, so nothing below is treated as more than a best guess.
var (
	composerSelectors = []string{
		`//div[@contenteditable='true'][@data-tab='10']`,
		`//div[@contenteditable='true'][@role='textbox'][@title='Type a message']`,
		`//div[@contenteditable='true'][@data-lexical-editor='true']`,
		`//div[contains(@class, 'copyable-text')]//div[@contenteditable='true']`,
	}
	sendButtonSelectors = []string{
		`//span[@data-icon='send']`,
		`//button[@aria-label='Send']`,
		`//div[@aria-label='Send']`,
		`//span[@data-icon='send']/ancestor::button`,
		`//span[@data-icon='send']/parent::div[@role='button']`,
	}
	attachmentSelectors = []string{
		`//div[@title='Attach']`,
		`//button[@aria-label='Attach']`,
		`//div[@aria-label='Attach']`,
		`//span[@data-icon='plus']`,
		`//span[@data-icon='attach-menu-plus']`,
		`div[title='Attach']`,
		`button[aria-label='Attach']`,
	}
	fileInputSelectors = []string{
		`input[type="file"][accept*="image"]`,
		`input[type="file"][accept*="video"]`,
		`input[type="file"]`,
		`//input[@type='file' and contains(@accept, 'image')]`,
		`//input[@type='file']`,
	}
	captionSelectors = []string{
		`div[contenteditable='true'][data-tab='10']`,
		`div[contenteditable='true'][role='textbox']`,
		`div.copyable-text[contenteditable='true']`,
		`//div[@contenteditable='true'][@data-tab='10']`,
		`//div[@contenteditable='true'][@role='textbox']`,
	}
	sentCheckSelectors = []string{
		`(//span[@data-icon='msg-check'])[last()]`,
		`(//span[@data-icon='msg-dblcheck'])[last()]`,
		`(//span[@data-icon='msg-dblcheck-ack'])[last()]`,
	}
	dialogDismissSelectors = []string{
		`//div[@role='dialog']//button`,
		`//div[@role='dialog']//div[@role='button']`,
		`//div[@data-animate-modal-popup='true']//button`,
	}
)

// invalidNumberPhrases are the host's "number is not on WhatsApp" dialog texts
// in the languages the host ships. Matching is case-insensitive substring.
var invalidNumberPhrases = []string{
	"phone number shared via url is invalid",
	"o número de telefone compartilhado por url é inválido",
	"el número de teléfono compartido a través de la dirección url no es válido",
	"url is invalid",
	"é inválido",
	"no es válido",
}

func containsInvalidNumberPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range invalidNumberPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// buildSendURL constructs the navigation target. The message rides along as a
// query parameter only for text-only sends; image captions are typed in-page
// after the conversation opens.
func buildSendURL(phone, message string, hasImage bool) string {
	target := whatsappWebURL + "/send?phone=" + sanitizePhone(phone)
	if !hasImage && message != "" {
		target += "&text=" + url.QueryEscape(message)
	}
	return target
}

// ChromeSender is the URL-navigation send driver. BeginSend must assume its
// own execution context is about to be destroyed: everything CompleteSend
// needs is written to the store before the navigation fires.
type ChromeSender struct {
	client *Client
	store  *StateStore
	config *Config
}

func NewChromeSender(client *Client, store *StateStore, config *Config) *ChromeSender {
	return &ChromeSender{client: client, store: store, config: config}
}

func (s *ChromeSender) BeginSend(phone, message string, hasImage bool) error {
	canonical := normalizePhone(phone)
	if canonical == "" {
		return fmt.Errorf("cannot normalize phone number %q", phone)
	}

	// Checkpoint before anything that can reload the page. This record is the
	// only thing that survives.
	st := s.store.State()
	st.URLNavigationInProgress = true
	st.CurrentPhoneNumber = canonical
	st.CurrentMessage = message
	if err := s.store.Persist(); err != nil {
		st.URLNavigationInProgress = false
		st.CurrentPhoneNumber = ""
		st.CurrentMessage = ""
		return fmt.Errorf("refusing to navigate without checkpoint: %w", err)
	}

	target := buildSendURL(canonical, message, hasImage)
	Logf("debug", "Navigating to chat for %s", canonical)
	err := chromedp.Run(s.client.ctx,
		chromedp.Evaluate(`window.onbeforeunload = null;`, nil),
		chromedp.Navigate(target),
	)
	if err != nil {
		return fmt.Errorf("failed to trigger navigation: %w", err)
	}
	return nil
}

// CompleteSend is the continuation after the navigation: validate what opened,
// perform the in-page send and classify the outcome. A false result with a
// reason is a host/navigation failure; an error return is reserved for the
// browser session itself being unusable.
func (s *ChromeSender) CompleteSend(phone, message string, hasImage bool) (SendResult, error) {
	ctx := s.client.ctx
	if ctx == nil {
		return SendResult{}, fmt.Errorf("browser session not initialized")
	}

	// Full app load is slow and asynchronous; give it a fixed settle window.
	time.Sleep(time.Duration(s.config.Browser.NavigationSettleSeconds) * time.Second)

	if s.invalidNumberDialogShown() {
		Logf("warn", "Host reports %s is not a valid WhatsApp number", phone)
		s.dismissDialog(ctx)
		return SendResult{Sent: false, Reason: "number not found"}, nil
	}

	composerTimeout := time.Duration(s.config.Browser.ComposerTimeoutSeconds) * time.Second
	pollInterval := time.Duration(s.config.Browser.PollIntervalMs) * time.Millisecond
	composerSel, err := waitForAnyVisible(ctx, composerSelectors, composerTimeout, pollInterval)
	if err != nil {
		// A late dialog can be the reason the composer never showed.
		if s.invalidNumberDialogShown() {
			s.dismissDialog(ctx)
			return SendResult{Sent: false, Reason: "number not found"}, nil
		}
		return SendResult{Sent: false, Reason: "conversation did not open"}, nil
	}
	Logf("debug", "Composer located via %s", composerSel)

	s.verifyOpenChat(phone)

	if hasImage {
		if err := s.sendImageWithCaption(ctx, message); err != nil {
			return SendResult{Sent: false, Reason: err.Error()}, nil
		}
	} else {
		if err := s.sendText(ctx, composerSel); err != nil {
			return SendResult{Sent: false, Reason: err.Error()}, nil
		}
	}

	s.waitForSentConfirmation(ctx)
	return SendResult{Sent: true}, nil
}

// sendText activates the send control for a message already carried into the
// composer by the navigation target. Keyboard submit is the last resort.
func (s *ChromeSender) sendText(ctx context.Context, composerSel string) error {
	err := runOnSelector(ctx, composerSel, func(sel string, opts ...chromedp.QueryOption) chromedp.QueryAction {
		return chromedp.Click(sel, opts...)
	})
	if err != nil {
		return fmt.Errorf("failed to focus composer: %w", err)
	}
	time.Sleep(300 * time.Millisecond)

	if sel, err := clickAny(ctx, sendButtonSelectors, 2*time.Second); err == nil {
		Logf("debug", "Send control clicked via %s", sel)
		return nil
	}

	Log("debug", "No send control matched, falling back to keyboard submit")
	if err := chromedp.Run(ctx, chromedp.KeyEvent("\r")); err != nil {
		return fmt.Errorf("failed to submit message: %w", err)
	}
	return nil
}

// sendImageWithCaption drives the host's attach flow: decode the persisted
// image, upload it through the file input, type the caption and send.
func (s *ChromeSender) sendImageWithCaption(ctx context.Context, caption string) error {
	imagePath, cleanup, err := s.materializeImage()
	if err != nil {
		return err
	}
	defer cleanup()

	if sel, err := clickAny(ctx, attachmentSelectors, 2*time.Second); err == nil {
		Logf("debug", "Attachment menu opened via %s", sel)
		time.Sleep(1 * time.Second)
	} else {
		Log("warn", "Could not click attachment button, trying direct file input access...")
	}

	var uploaded bool
	for _, sel := range fileInputSelectors {
		tryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := runOnSelector(tryCtx, sel, func(s string, opts ...chromedp.QueryOption) chromedp.QueryAction {
			return chromedp.SetUploadFiles(s, []string{imagePath}, opts...)
		})
		cancel()
		if err == nil {
			uploaded = true
			Logf("debug", "Image uploaded via %s", sel)
			break
		}
	}
	if !uploaded {
		return fmt.Errorf("could not find file input for image upload")
	}

	// Wait for the preview modal to render before looking for the caption box.
	time.Sleep(4 * time.Second)

	if sel, err := waitForAnyVisible(ctx, captionSelectors, 5*time.Second, 2*time.Second); err == nil {
		if err := runOnSelector(ctx, sel, func(s string, opts ...chromedp.QueryOption) chromedp.QueryAction {
			return chromedp.Click(s, opts...)
		}); err != nil {
			Logf("warn", "Failed to focus caption input: %v", err)
		}
		time.Sleep(300 * time.Millisecond)
		if err := s.typeMessage(ctx, caption); err != nil {
			Logf("warn", "Failed to enter caption: %v", err)
		}
	} else {
		Log("warn", "Could not find caption input - sending image without caption")
	}

	if _, err := clickAny(ctx, sendButtonSelectors, 3*time.Second); err != nil {
		return fmt.Errorf("could not find send button for image")
	}

	// Give the upload time to complete before the next navigation tears it down.
	time.Sleep(8 * time.Second)
	return nil
}

// typeMessage enters text into the focused editable. With the typing effect
// enabled each character is keyed individually with a per-character delay to
// emulate human typing; otherwise the text is pasted via the clipboard.
// Multi-line text always takes the clipboard path, since a raw Enter would
// submit instead of inserting a line break.
func (s *ChromeSender) typeMessage(ctx context.Context, text string) error {
	st := s.store.State()
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	if st.TypingEffect && !strings.Contains(normalized, "\n") {
		delay := time.Duration(st.TypingDelayMs) * time.Millisecond
		for _, r := range normalized {
			if err := chromedp.Run(ctx, chromedp.KeyEvent(string(r))); err != nil {
				return fmt.Errorf("failed to type character: %w", err)
			}
			time.Sleep(delay)
		}
		return nil
	}

	jsCode := fmt.Sprintf(`navigator.clipboard.writeText(%s)`, escapeJSString(normalized))
	err := chromedp.Run(ctx,
		chromedp.Evaluate(jsCode, nil),
		chromedp.Sleep(200*time.Millisecond),
		chromedp.KeyEvent("v", chromedp.KeyModifiers(2)),
		chromedp.Sleep(500*time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("failed to paste text: %w", err)
	}
	return nil
}

// invalidNumberDialogShown checks for the host's invalid-number dialog by
// structure first, then by known error phrases.
func (s *ChromeSender) invalidNumberDialogShown() bool {
	var dialogText string
	js := `(function(){
		try {
			var d = document.querySelector('div[role="dialog"]') ||
				document.querySelector('div[data-animate-modal-popup="true"]');
			return d ? d.innerText : '';
		} catch (e) { return ''; }
	})()`
	if err := s.client.Eval(js, &dialogText); err != nil {
		return false
	}
	return dialogText != "" && containsInvalidNumberPhrase(dialogText)
}

func (s *ChromeSender) dismissDialog(ctx context.Context) {
	if _, err := clickAny(ctx, dialogDismissSelectors, 2*time.Second); err != nil {
		Logf("debug", "Could not dismiss dialog: %v", err)
	}
}

// verifyOpenChat confirms the opened conversation belongs to the requested
// number by suffix-matching its identifier. Best-effort guard only: a mismatch
// is logged but never blocks the send, and an undeterminable identity proceeds.
func (s *ChromeSender) verifyOpenChat(phone string) {
	var chatID string
	js := `(function(){
		try {
			var el = document.querySelector('#main [data-id]');
			if (el) {
				var m = el.getAttribute('data-id').match(/(\d{8,15})@c\.us/);
				if (m) return m[1];
			}
			var hdr = document.querySelector('#main header');
			return hdr ? hdr.innerText : '';
		} catch (e) { return ''; }
	})()`
	if err := s.client.Eval(js, &chatID); err != nil {
		Logf("debug", "Chat identity check unavailable: %v", err)
		return
	}
	digits := sanitizePhone(chatID)
	if digits == "" {
		Log("debug", "Could not determine open chat identity, proceeding")
		return
	}
	if !phoneSuffixMatch(digits, phone) {
		Logf("warn", "Open chat identity %s does not match requested %s, sending anyway", digits, phone)
	}
}

// waitForSentConfirmation polls for the host's checkmark on the last message.
// Missing confirmation is logged, not treated as a failure.
func (s *ChromeSender) waitForSentConfirmation(ctx context.Context) {
	confirmed := pollUntil(20*time.Second, 1*time.Second, func() bool {
		for _, sel := range sentCheckSelectors {
			checkCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
			err := chromedp.Run(checkCtx, chromedp.WaitVisible(sel, chromedp.BySearch))
			cancel()
			if err == nil {
				return true
			}
		}
		return false
	})
	if !confirmed {
		Log("warn", "Could not confirm delivery checkmark, waiting extra time before moving on")
		time.Sleep(5 * time.Second)
		return
	}
	time.Sleep(3 * time.Second)
}

// materializeImage decodes the persisted attachment into a temp file for the
// host's file input. The base64 record is what survives reloads; the temp file
// is recreated on demand.
func (s *ChromeSender) materializeImage() (string, func(), error) {
	st := s.store.State()
	if st.ImageData == "" {
		return "", nil, fmt.Errorf("no image attached to campaign")
	}
	data, err := base64.StdEncoding.DecodeString(st.ImageData)
	if err != nil {
		return "", nil, fmt.Errorf("attached image is not valid base64: %w", err)
	}
	name := st.ImageName
	if name == "" {
		name = "attachment.jpg"
	}
	path := filepath.Join(os.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", nil, fmt.Errorf("failed to write attachment temp file: %w", err)
	}
	return path, func() { os.Remove(path) }, nil
}
