// Package core provides the foundational domain types shared by fundusmesh
// components:
//
//   - Message / Part (role-tagged transcript entries with text, image,
//     refusal, function call and function response segments)
//   - Error / Kind (the inspectable error taxonomy returned by sessions,
//     tools, agents and the concierge router)
//   - RoundLimiter (caps on tool-call and forwarding loops)
//
// The package keeps implementation concerns (model providers, persistence,
// orchestration) out of scope so every other package can depend on it.
package core
