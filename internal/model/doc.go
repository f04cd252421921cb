// Package model holds the domain vocabulary shared by every other package:
// document keys, the replay steps and their recorded positions, and the
// per-key outcomes a run produces.
//
// The types here carry no behaviour beyond validation and naming. Anything
// that touches a browser, the filesystem or the settings database lives in
// its own package and depends on model, never the reverse.
package model
