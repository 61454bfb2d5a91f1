package domain

import "testing"

func TestResourceType_IsNavigation(t *testing.T) {
	for _, rt := range []ResourceType{ResourceMainFrame, ResourceSubFrame} {
		if !rt.IsNavigation() {
			t.Errorf("%s should be a navigation", rt)
		}
	}
	for _, rt := range []ResourceType{"image", "script", "xmlhttprequest", ""} {
		if rt.IsNavigation() {
			t.Errorf("%q should not be a navigation", rt)
		}
	}
}

func TestNavigationRequest_Origin(t *testing.T) {
	firefox := NavigationRequest{URL: "https://a.com", Method: "GET", OriginURL: "https://example.com/page?x=1", Initiator: "https://other.com"}
	o, err := firefox.Origin()
	if err != nil || o.Value != "https://example.com" {
		t.Fatalf("originUrl should win: %+v %v", o, err)
	}

	chromium := NavigationRequest{URL: "https://a.com", Method: "get", Initiator: "https://other.com"}
	o, err = chromium.Origin()
	if err != nil || o.Value != "https://other.com" {
		t.Fatalf("initiator fallback: %+v %v", o, err)
	}
	if !chromium.IsGet() {
		t.Error("method comparison is case-insensitive")
	}

	typed := NavigationRequest{URL: "https://a.com", Method: "GET"}
	o, err = typed.Origin()
	if err != nil || o.Present {
		t.Fatalf("no referrer should give NoOrigin: %+v %v", o, err)
	}

	opaque := NavigationRequest{URL: "https://a.com", Method: "GET", Initiator: "null"}
	if _, err := opaque.Origin(); err == nil {
		t.Fatal("opaque origin should fail to parse")
	}
}

func TestAllowListPayload_IsEmpty(t *testing.T) {
	if !(AllowListPayload{}).IsEmpty() {
		t.Error("zero payload is empty")
	}
	if (AllowListPayload{Hosts: []string{"okta.com"}}).IsEmpty() {
		t.Error("payload with hosts is not empty")
	}
}
