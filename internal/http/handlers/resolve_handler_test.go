package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/tbourn/go-deeplink-backend/internal/services"
)

func TestResolve_Success(t *testing.T) {
	resolve := &stubResolveService{res: &services.Resolution{
		ContentID:    "c-1",
		Title:        "Autumn lookbook",
		AuxiliaryID:  "img-7",
		SessionToken: "sess.tok",
	}}
	r, _ := newTestRouter(t, &stubIssueService{}, resolve, newHandlerDB(t))

	w := doJSON(t, r, http.MethodPost, "/install/resolve", ResolveRequest{Identifier: "A7K2M9QX"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeJSON[ResolveResponse](t, w)
	if resp.ContentID != "c-1" || resp.SessionToken != "sess.tok" || resp.AuxiliaryID != "img-7" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

// All terminal resolution misses answer with an identical envelope. A caller
// probing references must not be able to tell "never existed" from "someone
// claimed it first" from "expired".
func TestResolve_MissesAreIndistinguishable(t *testing.T) {
	var bodies []string
	for _, svcErr := range []error{
		services.ErrAttributionNotFound,
		services.ErrAlreadyConsumed,
		fmt.Errorf("record x expired at t: %w", services.ErrAttributionNotFound),
	} {
		resolve := &stubResolveService{err: svcErr}
		r, _ := newTestRouter(t, &stubIssueService{}, resolve, newHandlerDB(t))

		w := doJSON(t, r, http.MethodPost, "/install/resolve", ResolveRequest{Identifier: "whatever"}, nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%v: status = %d; want 404", svcErr, w.Code)
		}
		resp := decodeJSON[ErrorResponse](t, w)
		if resp.Code != ErrCodeAttributionNotFound {
			t.Fatalf("%v: code = %q", svcErr, resp.Code)
		}
		bodies = append(bodies, resp.Code+"|"+resp.Message)
	}
	for i := 1; i < len(bodies); i++ {
		if bodies[i] != bodies[0] {
			t.Fatalf("miss envelopes differ: %q vs %q", bodies[0], bodies[i])
		}
	}
}

func TestResolve_StoreUnavailable(t *testing.T) {
	resolve := &stubResolveService{err: services.ErrStoreUnavailable}
	r, _ := newTestRouter(t, &stubIssueService{}, resolve, newHandlerDB(t))

	w := doJSON(t, r, http.MethodPost, "/install/resolve", ResolveRequest{Identifier: "x"}, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d; want 503", w.Code)
	}
	resp := decodeJSON[ErrorResponse](t, w)
	if resp.Code != ErrCodeUnavailable {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestResolve_EmptyIdentifierIsLegal(t *testing.T) {
	resolve := &stubResolveService{err: services.ErrAttributionNotFound}
	r, _ := newTestRouter(t, &stubIssueService{}, resolve, newHandlerDB(t))

	// An empty identifier binds fine; the miss comes from the service.
	w := doJSON(t, r, http.MethodPost, "/install/resolve", ResolveRequest{}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d; want 404", w.Code)
	}
}

func TestResolveByIP_BodyOptional(t *testing.T) {
	resolve := &stubResolveService{res: &services.Resolution{ContentID: "c-1", SessionToken: "s"}}
	r, _ := newTestRouter(t, &stubIssueService{}, resolve, newHandlerDB(t))

	// Explicit body address.
	w := doJSON(t, r, http.MethodPost, "/install/resolve-ip", ResolveByIPRequest{IP: "203.0.113.5"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("with body: status = %d, body %s", w.Code, w.Body.String())
	}

	// No body at all: falls back to the observed client address.
	w = doJSON(t, r, http.MethodPost, "/install/resolve-ip", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("without body: status = %d, body %s", w.Code, w.Body.String())
	}
}
