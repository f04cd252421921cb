// Package backend runs one retrieval attempt per document key against the
// portal.
//
// The attempt sequence (type key, captcha, continue, download, popup,
// detect, then new query or recovery) is the same for every backend and
// lives in Sequence. What differs is how a step is addressed, which is
// the Operator interface:
//
//   - Coordinate clicks recorded screen positions (package cdp drives the
//     browser). It assumes a stable layout and cannot solve captchas.
//   - Locator finds page elements by selector with a bounded wait (package
//     pw for Playwright, package rodsess for go-rod). It checks that the
//     browser session is alive and treats a dead session as fatal.
//
// Timing, detection and recovery are backend-agnostic and injected into
// Sequence.
package backend
