package main

import (
	"context"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// NetworkObserver feeds the extraction engine's network origin. It only ever
// listens: requests and responses pass through untouched, and anything
// unreadable or oversized is skipped silently.
type NetworkObserver struct {
	client    *Client
	extractor *Extractor
	bodyLimit int
}

func StartNetworkObserver(client *Client, extractor *Extractor, config *ExtractionConfig) (*NetworkObserver, error) {
	obs := &NetworkObserver{
		client:    client,
		extractor: extractor,
		bodyLimit: config.NetworkBodyLimitKB * 1024,
	}

	if err := chromedp.Run(client.ctx, network.Enable()); err != nil {
		return nil, err
	}

	chromedp.ListenTarget(client.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			obs.scan(e.Request.URL, "request url")
		case *network.EventWebSocketFrameReceived:
			if e.Response != nil {
				obs.scan(e.Response.PayloadData, "socket frame")
			}
		case *network.EventWebSocketFrameSent:
			if e.Response != nil {
				obs.scan(e.Response.PayloadData, "socket frame")
			}
		case *network.EventResponseReceived:
			if !interestingResponse(e) {
				return
			}
			// Body fetches go through the protocol and must not run inside
			// the event callback.
			go obs.scanResponseBody(e.RequestID)
		}
	})

	Log("debug", "Network observer attached")
	return obs, nil
}

func interestingResponse(e *network.EventResponseReceived) bool {
	if e.Response == nil {
		return false
	}
	mime := strings.ToLower(e.Response.MimeType)
	if !strings.Contains(mime, "json") && !strings.Contains(mime, "text") {
		return false
	}
	return strings.Contains(e.Response.URL, "whatsapp")
}

func (o *NetworkObserver) scanResponseBody(id network.RequestID) {
	var body []byte
	err := chromedp.Run(o.client.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(id).Do(ctx)
		return err
	}))
	if err != nil {
		// Bodies are frequently evicted before we get to them; not an error
		// worth surfacing.
		return
	}
	if len(body) == 0 || len(body) > o.bodyLimit {
		return
	}
	o.scan(string(body), "response body")
}

func (o *NetworkObserver) scan(text, label string) {
	if text == "" || len(text) > o.bodyLimit {
		return
	}
	for _, c := range scanTextForCandidates(text, label, TypeNormal) {
		c.Origin = OriginNetwork
		o.extractor.Observe(c)
	}
}
