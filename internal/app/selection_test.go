package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"opsdesk/api/internal/auth"
	"opsdesk/api/internal/store"
)

func TestSetPackageKeepsExactlyOneSelected(t *testing.T) {
	env := newTestEnv()
	seedQuote(env)
	ctx := context.Background()

	if _, err := env.svc.PublicSelection(ctx, quoteToken, SelectionChange{PackageSet: true, PackageID: strPtr("pkg-good")}); err != nil {
		t.Fatalf("select good: %v", err)
	}
	result, err := env.svc.PublicSelection(ctx, quoteToken, SelectionChange{PackageSet: true, PackageID: strPtr("pkg-better")})
	if err != nil {
		t.Fatalf("select better: %v", err)
	}
	if result["updated"] != true {
		t.Fatalf("unexpected result %v", result)
	}

	if selected := env.store.selectedPackages("q-1"); len(selected) != 1 || selected[0] != "pkg-better" {
		t.Fatalf("selected packages = %v, want [pkg-better]", selected)
	}
	if q := env.store.quote("q-1"); q.SelectedPackageID == nil || *q.SelectedPackageID != "pkg-better" {
		t.Fatalf("selected_package_id = %v", q.SelectedPackageID)
	}
}

func TestSetPackageNullClearsSelection(t *testing.T) {
	env := newTestEnv()
	seedQuote(env)

	rr := env.serve(httptest.NewRequest(http.MethodPost, "/api/public/quote/selection",
		strings.NewReader(`{"token":"`+quoteToken+`","package_id":"pkg-best"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("select: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// An explicit null wins over item_id and clears the selection.
	rr = env.serve(httptest.NewRequest(http.MethodPost, "/api/public/quote/selection",
		strings.NewReader(`{"token":"`+quoteToken+`","package_id":null,"item_id":"li-2","is_selected":true}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("clear: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v, ok := body["package_id"]; !ok || v != nil {
		t.Fatalf("expected package_id null in response, got %v", body)
	}
	if selected := env.store.selectedPackages("q-1"); len(selected) != 0 {
		t.Fatalf("expected no selected packages, got %v", selected)
	}
	if item, _ := env.store.GetQuoteLineItem(context.Background(), "q-1", "li-2"); item.IsSelected {
		t.Fatal("item toggle must be ignored when package_id is present")
	}
}

func TestSetPackageFromAnotherQuoteIsNotFound(t *testing.T) {
	env := newTestEnv()
	seedQuote(env)

	_, err := env.svc.PublicSelection(context.Background(), quoteToken, SelectionChange{PackageSet: true, PackageID: strPtr("pkg-other")})
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND", "Package not found")
}

func TestConcurrentPackageSelectionsLeaveOneSelected(t *testing.T) {
	env := newTestEnv()
	seedQuote(env)

	ids := []string{"pkg-good", "pkg-better", "pkg-best"}
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = env.svc.PublicSelection(context.Background(), quoteToken, SelectionChange{PackageSet: true, PackageID: strPtr(id)})
		}(ids[i%len(ids)])
	}
	wg.Wait()

	selected := env.store.selectedPackages("q-1")
	if len(selected) != 1 {
		t.Fatalf("expected exactly one selected package, got %v", selected)
	}
	if q := env.store.quote("q-1"); q.SelectedPackageID == nil || *q.SelectedPackageID != selected[0] {
		t.Fatalf("selected_package_id %v does not match %v", q.SelectedPackageID, selected)
	}
}

func TestItemSelectionRules(t *testing.T) {
	cases := []struct {
		name    string
		itemID  string
		status  string
		wantErr bool
		code    string
		message string
	}{
		{name: "optional item on open quote", itemID: "li-2", status: "viewed"},
		{name: "required item", itemID: "li-1", status: "sent", wantErr: true, code: "INVALID_STATE", message: "Only optional items can be toggled"},
		{name: "required item on closed quote", itemID: "li-1", status: "accepted", wantErr: true, code: "INVALID_STATE", message: "Only optional items can be toggled"},
		{name: "item from another quote", itemID: "li-9", status: "sent", wantErr: true, code: "NOT_FOUND", message: "Line item not found"},
		{name: "closed quote", itemID: "li-2", status: "declined", wantErr: true, code: "INVALID_STATE", message: "Quote cannot be modified"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			seedQuote(env)
			env.store.mu.Lock()
			env.store.quotes["q-1"].Status = tc.status
			env.store.mu.Unlock()

			_, err := env.svc.PublicSelection(context.Background(), quoteToken, SelectionChange{ItemID: tc.itemID, Selected: true})
			if !tc.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				item, _ := env.store.GetQuoteLineItem(context.Background(), "q-1", tc.itemID)
				if !item.IsSelected {
					t.Fatal("expected item to be selected")
				}
				return
			}
			status := http.StatusBadRequest
			if tc.code == "NOT_FOUND" {
				status = http.StatusNotFound
			}
			requireDomainError(t, err, status, tc.code, tc.message)
		})
	}
}

func TestSelectionOnClosedQuoteRejectsPackages(t *testing.T) {
	env := newTestEnv()
	seedQuote(env)
	env.store.mu.Lock()
	env.store.quotes["q-1"].Status = "accepted"
	env.store.mu.Unlock()

	_, err := env.svc.PublicSelection(context.Background(), quoteToken, SelectionChange{PackageSet: true, PackageID: strPtr("pkg-good")})
	requireDomainError(t, err, http.StatusBadRequest, "INVALID_STATE", "Quote cannot be modified")
	if selected := env.store.selectedPackages("q-1"); len(selected) != 0 {
		t.Fatalf("closed quote changed: %v", selected)
	}
}

func TestSelectionExpiredBeforeStateCheck(t *testing.T) {
	env := newTestEnv()
	seedQuote(env)
	env.store.mu.Lock()
	env.store.quotes["q-1"].Status = "accepted"
	env.store.quotes["q-1"].ExpiresAt = timePtr(testNow.Add(-time.Hour))
	env.store.mu.Unlock()

	_, err := env.svc.PublicSelection(context.Background(), quoteToken, SelectionChange{ItemID: "li-1"})
	requireDomainError(t, err, http.StatusGone, "EXPIRED", "")
}

func TestSelectionRequiresItemOrPackage(t *testing.T) {
	env := newTestEnv()
	seedQuote(env)

	_, err := env.svc.PublicSelection(context.Background(), quoteToken, SelectionChange{})
	requireDomainError(t, err, http.StatusBadRequest, "VALIDATION_ERROR", "Missing item_id or package_id")
}

func TestSelectionUnknownTokenIsNotFound(t *testing.T) {
	env := newTestEnv()
	seedQuote(env)

	_, err := env.svc.PublicSelection(context.Background(), strings.Repeat("a", 64), SelectionChange{ItemID: "li-2"})
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND", "Invalid access token")
}

func openPortalSession(t *testing.T, env *testEnv, token string) string {
	t.Helper()
	rr := env.serve(httptest.NewRequest(http.MethodPost, "/api/portal/sessions", strings.NewReader(`{"token":"`+token+`"}`)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("open session: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body["session_token"].(string)
}

func TestPortalSelectionForOwnQuote(t *testing.T) {
	env := newTestEnv()
	seedQuote(env)
	session := openPortalSession(t, env, quoteToken)

	req := httptest.NewRequest(http.MethodPost, "/api/portal/quote/selection", strings.NewReader(`{"quote_id":"q-1","package_id":"pkg-good"}`))
	req.Header.Set("Authorization", "Bearer "+session)
	rr := env.serve(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["success"] != true || body["package_id"] != "pkg-good" {
		t.Fatalf("unexpected body %v", body)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/portal/quote/selection", strings.NewReader(`{"quote_id":"q-1","item_id":"li-2","selected":true}`))
	req.Header.Set("Authorization", "Bearer "+session)
	if rr := env.serve(req); rr.Code != http.StatusOK {
		t.Fatalf("item toggle: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if item, _ := env.store.GetQuoteLineItem(context.Background(), "q-1", "li-2"); !item.IsSelected {
		t.Fatal("expected optional item to be selected")
	}
}

func TestPortalSelectionHidesOtherCustomersQuotes(t *testing.T) {
	env := newTestEnv()
	seedQuote(env)
	session := openPortalSession(t, env, quoteToken)

	portal, err := env.svc.PortalSession(context.Background(), session)
	if err != nil {
		t.Fatalf("PortalSession: %v", err)
	}
	_, err = env.svc.PortalSelection(context.Background(), portal, "q-2", SelectionChange{ItemID: "li-9", Selected: true})
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND", "Quote not found")

	_, err = env.svc.PortalSelection(context.Background(), portal, "", SelectionChange{ItemID: "li-2"})
	requireDomainError(t, err, http.StatusBadRequest, "VALIDATION_ERROR", "Missing quote_id")
}

func TestPortalSessionOnlyReachesItsOwnQuote(t *testing.T) {
	env := newTestEnv()
	seedQuote(env)
	env.store.addQuote(store.Quote{
		ID:          "q-3",
		QuoteNumber: "Q-1003",
		CustomerID:  "cust-1",
		Status:      "sent",
		AccessToken: strings.Repeat("c", 64),
	})
	env.store.mu.Lock()
	env.store.lineItems = append(env.store.lineItems, &store.LineItem{ID: "li-30", QuoteID: "q-3", Description: "Garage door", IsOptional: true})
	env.store.packages = append(env.store.packages, &store.Package{ID: "pkg-q3", QuoteID: "q-3", Name: "Garage"})
	env.store.mu.Unlock()

	session := openPortalSession(t, env, quoteToken)
	portal, err := env.svc.PortalSession(context.Background(), session)
	if err != nil {
		t.Fatalf("PortalSession: %v", err)
	}
	if portal.QuoteID != "q-1" || portal.CustomerID != "cust-1" {
		t.Fatalf("unexpected session %+v", portal)
	}

	for _, body := range []string{
		`{"quote_id":"q-3","item_id":"li-30","selected":true}`,
		`{"quote_id":"q-3","package_id":"pkg-q3"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/portal/quote/selection", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+session)
		rr := env.serve(req)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d: %s", body, rr.Code, rr.Body.String())
		}
	}
	if item, _ := env.store.GetQuoteLineItem(context.Background(), "q-3", "li-30"); item.IsSelected {
		t.Fatal("item on a sibling quote must not change")
	}
	if got := env.store.quote("q-3").SelectedPackageID; got != nil {
		t.Fatalf("sibling quote package must stay unset, got %v", *got)
	}
}

func TestPortalSessionLifecycle(t *testing.T) {
	env := newTestEnv()
	seedQuote(env)
	session := openPortalSession(t, env, quoteToken)

	if _, ok := env.store.sessions[auth.HashToken(session)]; !ok {
		t.Fatal("session must be stored under its hash")
	}
	if _, ok := env.store.sessions[session]; ok {
		t.Fatal("raw session token must never be stored")
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/portal/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+session)
	if rr := env.serve(req); rr.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/portal/quote/selection", strings.NewReader(`{"quote_id":"q-1","item_id":"li-2"}`))
	req.Header.Set("Authorization", "Bearer "+session)
	if rr := env.serve(req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("revoked session: expected 401, got %d", rr.Code)
	}
}

func TestPortalSessionExpires(t *testing.T) {
	env := newTestEnv()
	seedQuote(env)
	session := openPortalSession(t, env, quoteToken)

	env.svc.now = func() time.Time { return testNow.Add(25 * time.Hour) }
	_, err := env.svc.PortalSession(context.Background(), session)
	requireDomainError(t, err, http.StatusUnauthorized, "UNAUTHORIZED", "")
}

func TestPortalSessionRequiresValidQuoteToken(t *testing.T) {
	env := newTestEnv()
	seedQuote(env)

	rr := env.serve(httptest.NewRequest(http.MethodPost, "/api/portal/sessions", strings.NewReader(`{"token":"nope"}`)))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if len(env.store.sessions) != 0 {
		t.Fatal("no session may be created for an unknown token")
	}
}
