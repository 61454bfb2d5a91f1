package domain

// AllowListPayload is the content of one allow-list fetch.
//
// Hosts are hostname substrings for sites known to break without a referrer.
// InternalRedirects are regular-expression sources; a same-origin URL with a
// query string matching any of them is still rewritten.
type AllowListPayload struct {
	Hosts             []string
	InternalRedirects []string
}

// IsEmpty reports whether the payload carries no entries at all.
func (p AllowListPayload) IsEmpty() bool {
	return len(p.Hosts) == 0 && len(p.InternalRedirects) == 0
}
