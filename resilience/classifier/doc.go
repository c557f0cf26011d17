// Package classifier maps failures onto the TRANSIENT / PERMANENT / CRITICAL
// taxonomy that drives retry and escalation decisions.
//
// Classification walks an ordered table of (pattern, type) rules. The default
// table checks CRITICAL patterns first, then PERMANENT, then TRANSIENT; the
// first matching rule wins and unmatched errors are PERMANENT, so an
// unrecognised failure is reported instead of retried forever.
package classifier
