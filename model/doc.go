// Package model defines the provider-agnostic abstractions for chat models
// used by the conversational loop.
//
// Core goals:
//   - One blocking ChatComplete call per loop round
//   - Normalize tool / function call representation (ToolDefinition, core.FunctionCall)
//   - Resolve allowed model names to provider adapters (Catalog)
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI and OpenAI-compatible Gemini, Anthropic) implement the
// Model interface in sub packages so higher layers stay decoupled from vendor
// SDKs.
package model
