// Package storage attaches a remote durable volume inside the sandbox and
// mirrors gateway state onto it. Storage is an optional feature: every
// failure here degrades to a logged boolean, never an error on the request
// path.
package storage

// Credentials are the three secrets gating all storage features. They are
// all-or-nothing: partial presence behaves exactly like absence.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	AccountID       string
}

// Missing returns the names of absent credential fields, for diagnostics.
func (c Credentials) Missing() []string {
	var missing []string
	if c.AccessKeyID == "" {
		missing = append(missing, "access_key_id")
	}
	if c.SecretAccessKey == "" {
		missing = append(missing, "secret_access_key")
	}
	if c.AccountID == "" {
		missing = append(missing, "account_id")
	}
	return missing
}

// Present reports whether all credential fields are set.
func (c Credentials) Present() bool {
	return len(c.Missing()) == 0
}
