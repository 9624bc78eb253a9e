// Package server implements the bridge between the legacy desktop ("frob")
// authentication flow and OAuth 2.0 authorization codes.
//
// The authorization state machine runs across two user-visible steps:
//
//	START                -> StartAuthorization: validate, getFrob, persist the handoff
//	AWAITING_USER_ACTION -> the user authorizes the frob on the legacy site
//	CODE_ISSUED          -> CompleteAuthorization: getToken, mint a code, redirect
//	REDEEMED             -> ExchangeAuthorizationCode: consume the code, issue the token
//
// EXPIRED and ERROR are terminal failure states of a completion attempt. The
// legacy site has no callback, so the move out of AWAITING_USER_ACTION is
// always triggered by the user, never by a timer.
//
// Server holds no flow state itself. Handoffs, codes and issued token
// records live in a storage.SessionStore so any replica can serve any step.
// The bearer token handed to clients is the legacy token itself; Introspect,
// ValidateToken and UserInfo resolve it through the issued token record.
package server
