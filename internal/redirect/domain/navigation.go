package domain

import (
	"fmt"
	"strings"
)

// ResourceType classifies what a browser request is loading.
type ResourceType string

const (
	// ResourceMainFrame is a top-level document navigation.
	ResourceMainFrame ResourceType = "main_frame"
	// ResourceSubFrame is a nested frame (iframe) navigation.
	ResourceSubFrame ResourceType = "sub_frame"
)

// IsNavigation reports whether the resource type is a frame navigation.
func (t ResourceType) IsNavigation() bool {
	return t == ResourceMainFrame || t == ResourceSubFrame
}

// NavigationRequest is the request descriptor delivered by a browser-level
// interception hook. OriginURL (Firefox) and Initiator (Chromium) both name the
// page that triggered the request; DocumentURL is set for sub-resource loads.
type NavigationRequest struct {
	URL          string       `json:"url" validate:"required"`
	Method       string       `json:"method" validate:"required"`
	ResourceType ResourceType `json:"type" validate:"required"`
	OriginURL    string       `json:"originUrl,omitempty"`
	Initiator    string       `json:"initiator,omitempty"`
	DocumentURL  string       `json:"documentUrl,omitempty"`
}

// IsGet reports whether the request is a GET (case-insensitive).
func (r NavigationRequest) IsGet() bool {
	return strings.EqualFold(r.Method, "GET")
}

// Referrer returns the originating page, preferring OriginURL over Initiator.
func (r NavigationRequest) Referrer() string {
	if r.OriginURL != "" {
		return r.OriginURL
	}
	return r.Initiator
}

// Origin resolves the referring origin. No referrer yields NoOrigin with a nil error.
func (r NavigationRequest) Origin() (OriginContext, error) {
	ref := r.Referrer()
	if ref == "" {
		return NoOrigin(), nil
	}
	o, err := ParseOrigin(ref)
	if err != nil {
		return NoOrigin(), fmt.Errorf("request origin: %w", err)
	}
	return o, nil
}
