// Package identity provides identity verification and stateless
// authentication primitives (JWT issuance, verification codes and
// links, HTTP helpers) for account signup, login, and recovery flows.
//
// Verification lifecycle:
//   - VerificationToken rows carry a recipient, a purpose, and a
//     plaintext secret. Every purpose has a fixed TTL and requesting a
//     new code deletes the previous row for the same recipient and
//     purpose, so at most one code is live at a time.
//   - VerificationStateMachine centralizes the transition graph:
//     requested to used for email codes, requested to verified to used
//     for SMS codes. used is terminal.
//   - The Verifier orchestrates issuance, delivery, and confirmation.
//     Delivery runs inside the issuing transaction, so a failed send
//     rolls the row back.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by Auther, the
//     Verifier, and the state machine to describe login, impersonation,
//     password reset, and verification events. Sinks run best-effort
//     (errors are logged) so you can forward to a database or queue
//     without blocking authentication.
//
// Tokens:
//   - TokenService signs HS256 JWTs with the username as subject, the
//     user id in uid, and the role claim. Expiry is enforced with zero
//     leeway and logout never revokes a token server side.
package identity
