package loginid

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get for missing keys.
var ErrNotFound = errors.New("loginid: not found")

// Store is the key-value persistence capability backing the login-id state.
// Implementations must be safe for concurrent use by independent flow
// sessions; last-write-wins is acceptable.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// DefaultEnrollmentTimeout is how long a passkey enrollment result is
// considered fresh before the user may be prompted again.
const DefaultEnrollmentTimeout = 7 * 24 * time.Hour

// Data is the per-identifier metadata record.
type Data struct {
	AuthMethod           string `json:"authMethod,omitempty"`
	LastEnrollmentMillis int64  `json:"lastEnrollmentTimestamp"`
}

// EnrollmentTimeoutPassed reports whether the last enrollment attempt is
// older than timeout (zero means DefaultEnrollmentTimeout).
func (d Data) EnrollmentTimeoutPassed(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultEnrollmentTimeout
	}
	last := time.UnixMilli(d.LastEnrollmentMillis)
	return time.Since(last) > timeout
}

const lastLoginIDKey = "lastLoginId"

// Keeper exposes the typed login-id operations over a Store.
type Keeper struct {
	store Store
}

// NewKeeper wraps a Store.
func NewKeeper(store Store) *Keeper {
	return &Keeper{store: store}
}

// LastLoginID returns the last identifier a flow completed with, or the
// empty string when none was recorded.
func (k *Keeper) LastLoginID(ctx context.Context) string {
	if k == nil || k.store == nil {
		return ""
	}
	value, err := k.store.Get(ctx, lastLoginIDKey)
	if err != nil {
		return ""
	}
	return value
}

// SetLastLoginID records the identifier the current flow completed with.
func (k *Keeper) SetLastLoginID(ctx context.Context, loginID string) error {
	if k == nil || k.store == nil {
		return nil
	}
	return k.store.Set(ctx, lastLoginIDKey, loginID)
}

// Data loads the metadata record for an identifier. A missing record
// yields the zero Data.
func (k *Keeper) Data(ctx context.Context, loginID string) Data {
	if k == nil || k.store == nil || loginID == "" {
		return Data{}
	}
	raw, err := k.store.Get(ctx, dataKey(loginID))
	if err != nil {
		return Data{}
	}
	var d Data
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Data{}
	}
	return d
}

// SetData stores the metadata record for an identifier.
func (k *Keeper) SetData(ctx context.Context, loginID string, d Data) error {
	if k == nil || k.store == nil || loginID == "" {
		return nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return k.store.Set(ctx, dataKey(loginID), string(raw))
}

// dataKey namespaces per-identifier records. The raw identifier is hashed
// upstream for metrics only; storage is local to the installation, so the
// plain value keyed with a prefix is sufficient here.
func dataKey(loginID string) string {
	return "loginid:" + loginID
}
