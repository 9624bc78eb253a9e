// Package testutil provides testing utilities for the bridge: a controllable
// clock, PKCE helpers, and an in-process fake of the legacy task API.
//
// This package is internal and should only be used by tests within this module.
package testutil
