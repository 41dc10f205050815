// Package fetcher retrieves remote artifacts to local paths.
//
// Fetch is idempotent: a destination that already exists is never downloaded
// again. When the aria2c download accelerator is on the session PATH it is
// used with segmented, multi-connection transfers; otherwise (or when it
// fails) the fetcher falls back to a plain HTTPS transfer it performs
// itself, retrying transient network failures within a bounded budget.
package fetcher
