// Package fsutil contains filesystem operations hardened against an
// environment the session only partially controls.
//
// Removing a directory on a live system is not atomic with respect to other
// processes: a lingering interpreter or version-control process can hold a
// handle inside the tree and fail the removal transiently. RemoveAllWithRetry
// therefore retries with a fixed delay before giving up, and on exhaustion
// names the running processes most likely to be holding the tree.
package fsutil
