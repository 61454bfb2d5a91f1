package domain

// RewriteResult is the outcome of the rewrite policy for one URL.
// Pure value type, computed fresh per call and never cached.
type RewriteResult struct {
	rewritten bool
	newURL    string
}

// Unchanged returns the "leave the URL alone" result.
func Unchanged() RewriteResult { return RewriteResult{} }

// Rewritten returns a result that replaces the URL with newURL.
func Rewritten(newURL string) RewriteResult {
	return RewriteResult{rewritten: true, newURL: newURL}
}

// IsRewritten is a convenience accessor.
func (r RewriteResult) IsRewritten() bool { return r.rewritten }

// URL returns the effective URL: the rewritten one, or original when unchanged.
func (r RewriteResult) URL(original string) string {
	if r.rewritten {
		return r.newURL
	}
	return original
}

// String is used in log fields.
func (r RewriteResult) String() string {
	if r.rewritten {
		return "rewritten(" + r.newURL + ")"
	}
	return "unchanged"
}

// NavigationDecision is the response handed back to a navigation source.
// An empty RedirectURL means "allow the original request".
type NavigationDecision struct {
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// AllowNavigation returns the empty decision.
func AllowNavigation() NavigationDecision { return NavigationDecision{} }

// RedirectTo returns a decision redirecting to u.
func RedirectTo(u string) NavigationDecision { return NavigationDecision{RedirectURL: u} }

// IsRedirect reports whether the decision redirects.
func (d NavigationDecision) IsRedirect() bool { return d.RedirectURL != "" }
