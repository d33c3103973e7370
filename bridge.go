package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
)

// The bridge is the only component allowed to reference the host's internal
// module names. Everything else talks to it through the message contract
// below, so a host update means touching bridgeScript and nothing else.

const bridgeBindingName = "__wcBridgeEmit"

type BridgeRequestKind string

const (
	BridgeExtractContacts BridgeRequestKind = "extract_contacts"
	BridgeListGroups      BridgeRequestKind = "list_groups"
	BridgeGroupMembers    BridgeRequestKind = "extract_group_members"
)

type bridgeMessage struct {
	ID    string          `json:"id"`
	Kind  string          `json:"kind"`
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

type BridgeContact struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Number    string `json:"number"`
	IsBlocked bool   `json:"is_blocked,omitempty"`
	IsGroup   bool   `json:"is_group,omitempty"`
}

type BridgeGroup struct {
	ID           string `json:"id"`
	Subject      string `json:"subject"`
	Participants int    `json:"participants"`
}

// Bridge runs a script in the host page's own realm and relays structured
// results back over a protocol binding. Replies are correlated by request ID;
// progress events arrive out of band.
type Bridge struct {
	client     *Client
	onProgress func(ProgressEvent)

	mu      sync.Mutex
	pending map[string]chan bridgeMessage
}

func NewBridge(client *Client, onProgress func(ProgressEvent)) *Bridge {
	return &Bridge{
		client:     client,
		onProgress: onProgress,
		pending:    make(map[string]chan bridgeMessage),
	}
}

// Install registers the binding and arranges for the page-realm script to be
// present in the current document and re-injected into every future one -
// URL-navigation sends reload the page, taking the script with them.
func (b *Bridge) Install() error {
	ctx := b.client.ctx

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := runtime.AddBinding(bridgeBindingName).Do(ctx); err != nil {
			return err
		}
		_, err := page.AddScriptToEvaluateOnNewDocument(bridgeScript).Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("failed to install page bridge: %w", err)
	}

	if err := b.client.Eval(bridgeScript, nil); err != nil {
		return fmt.Errorf("failed to inject bridge into current document: %w", err)
	}

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if e, ok := ev.(*runtime.EventBindingCalled); ok && e.Name == bridgeBindingName {
			b.dispatch([]byte(e.Payload))
		}
	})

	Log("debug", "Page bridge installed")
	return nil
}

func (b *Bridge) dispatch(payload []byte) {
	var msg bridgeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		Logf("debug", "Discarding malformed bridge message: %v", err)
		return
	}

	if msg.Kind == "progress" || msg.Kind == "state_changed" {
		if b.onProgress != nil {
			var ev ProgressEvent
			if err := json.Unmarshal(msg.Data, &ev); err == nil {
				b.onProgress(ev)
			}
		}
		return
	}

	b.mu.Lock()
	ch, ok := b.pending[msg.ID]
	if ok {
		delete(b.pending, msg.ID)
	}
	b.mu.Unlock()
	if ok {
		ch <- msg
	}
}

// request sends one message into the page realm and waits for its paired
// reply. The page side never throws; a failure comes back as ok=false.
func (b *Bridge) request(kind BridgeRequestKind, params map[string]string, timeout time.Duration) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan bridgeMessage, 1)

	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	req, err := json.Marshal(map[string]interface{}{
		"id":     id,
		"kind":   string(kind),
		"params": params,
	})
	if err != nil {
		return nil, err
	}

	js := fmt.Sprintf(`window.__wcBridgeRequest && window.__wcBridgeRequest(%s)`, escapeJSString(string(req)))
	if err := b.client.Eval(js, nil); err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, fmt.Errorf("failed to post bridge request: %w", err)
	}

	select {
	case msg := <-ch:
		if !msg.OK {
			return nil, fmt.Errorf("bridge %s failed: %s", kind, msg.Error)
		}
		return msg.Data, nil
	case <-time.After(timeout):
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, fmt.Errorf("bridge request %s timed out after %v", kind, timeout)
	}
}

func (b *Bridge) ExtractContacts(timeout time.Duration) ([]BridgeContact, error) {
	data, err := b.request(BridgeExtractContacts, nil, timeout)
	if err != nil {
		return nil, err
	}
	var contacts []BridgeContact
	if err := json.Unmarshal(data, &contacts); err != nil {
		return nil, fmt.Errorf("malformed contact list from bridge: %w", err)
	}
	return contacts, nil
}

func (b *Bridge) ListGroups(timeout time.Duration) ([]BridgeGroup, error) {
	data, err := b.request(BridgeListGroups, nil, timeout)
	if err != nil {
		return nil, err
	}
	var groups []BridgeGroup
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("malformed group list from bridge: %w", err)
	}
	return groups, nil
}

func (b *Bridge) ExtractGroupMembers(groupID string, timeout time.Duration) ([]BridgeContact, error) {
	data, err := b.request(BridgeGroupMembers, map[string]string{"group_id": groupID}, timeout)
	if err != nil {
		return nil, err
	}
	var members []BridgeContact
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, fmt.Errorf("malformed member list from bridge: %w", err)
	}
	return members, nil
}

// bridgeScript is the page-realm half of the bridge. All access to host
// internals is wrapped; failures degrade to an empty or partial result plus an
// error field, never an exception across the boundary.
const bridgeScript = `(function(){
	if (window.__wcBridgeRequest) return;

	function emit(msg) {
		try {
			if (window.` + bridgeBindingName + `) window.` + bridgeBindingName + `(JSON.stringify(msg));
		} catch (e) {}
	}

	function collections() {
		try {
			if (window.Store && window.Store.Contact) return window.Store;
		} catch (e) {}
		try {
			if (window.require) {
				var c = window.require('WAWebCollections');
				if (c && c.Contact) return c;
			}
		} catch (e) {}
		return null;
	}

	function serializeId(id) {
		try { return String(id && id._serialized ? id._serialized : id || ''); } catch (e) { return ''; }
	}

	function numberFrom(id) {
		var m = serializeId(id).match(/^(\d{5,15})@/);
		return m ? m[1] : '';
	}

	function contactsFromDom() {
		var out = [];
		try {
			document.querySelectorAll('#pane-side [data-id]').forEach(function(el){
				var m = (el.getAttribute('data-id') || '').match(/(\d{5,15})@c\.us/);
				if (m) out.push({id: m[1] + '@c.us', name: '', number: m[1]});
			});
		} catch (e) {}
		return out;
	}

	function extractContacts() {
		var store = collections();
		if (!store) return contactsFromDom();
		var out = [];
		var blocked = {};
		try {
			if (store.Blocklist && store.Blocklist.getModelsArray) {
				store.Blocklist.getModelsArray().forEach(function(b){ blocked[serializeId(b.id)] = true; });
			}
		} catch (e) {}
		try {
			store.Contact.getModelsArray().forEach(function(c){
				try {
					var number = numberFrom(c.id);
					if (!number) return;
					out.push({
						id: serializeId(c.id),
						name: String(c.name || c.pushname || ''),
						number: number,
						is_blocked: !!blocked[serializeId(c.id)]
					});
				} catch (e) {}
			});
		} catch (e) {
			return out.length ? out : contactsFromDom();
		}
		return out;
	}

	function listGroups() {
		var store = collections();
		var out = [];
		if (!store || !store.Chat || !store.Chat.getModelsArray) return out;
		try {
			store.Chat.getModelsArray().forEach(function(chat){
				try {
					var id = serializeId(chat.id);
					if (id.indexOf('@g.us') === -1) return;
					var count = 0;
					try {
						count = chat.groupMetadata && chat.groupMetadata.participants ?
							chat.groupMetadata.participants.getModelsArray().length : 0;
					} catch (e) {}
					out.push({
						id: id,
						subject: String((chat.formattedTitle || chat.name) || ''),
						participants: count
					});
				} catch (e) {}
			});
		} catch (e) {}
		return out;
	}

	function extractGroupMembers(params, reqId) {
		var store = collections();
		var out = [];
		if (!store || !store.Chat || !store.Chat.get) return out;
		try {
			var chat = store.Chat.get(params.group_id);
			if (!chat || !chat.groupMetadata) return out;
			var members = chat.groupMetadata.participants.getModelsArray();
			for (var i = 0; i < members.length; i++) {
				try {
					var number = numberFrom(members[i].id);
					if (number) out.push({id: serializeId(members[i].id), name: '', number: number});
				} catch (e) {}
				if (i % 50 === 0) {
					emit({id: reqId, kind: 'progress', ok: true, data: {
						progress: Math.round(i * 100 / members.length), count: out.length
					}});
				}
			}
		} catch (e) {}
		return out;
	}

	window.__wcBridgeRequest = function(payload) {
		var req = {id: '', kind: ''};
		try {
			req = JSON.parse(payload);
			var data;
			switch (req.kind) {
			case 'extract_contacts':
				data = extractContacts();
				break;
			case 'list_groups':
				data = listGroups();
				break;
			case 'extract_group_members':
				data = extractGroupMembers(req.params || {}, req.id);
				break;
			default:
				emit({id: req.id, kind: req.kind, ok: false, error: 'unknown request kind'});
				return;
			}
			emit({id: req.id, kind: req.kind, ok: true, data: data});
		} catch (e) {
			emit({id: req.id, kind: req.kind, ok: false, error: String(e && e.message || e)});
		}
	};
})();`
