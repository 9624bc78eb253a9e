// Package legacy talks to the desktop-flow task API that the bridge sits in
// front of.
//
// The legacy API authenticates applications with a shared secret and signs
// every request with an MD5 digest of the sorted request parameters. Users
// authorize an application by visiting the legacy authorization page with a
// one-time "frob"; the application then exchanges that frob for a permanent
// auth token. There is no server-to-server callback, which is why the bridge
// needs an explicit user completion step.
//
// The package provides:
//   - Sign: the deterministic request-signing primitive
//   - Client: signed calls for rtm.auth.getFrob, rtm.auth.getToken and rtm.auth.checkToken
//   - APIError: the typed error object returned by the legacy API
package legacy
