// Package agent implements the conversational tool-call loop.
//
// An Assistant owns one transcript. Each SendUserMessage call appends the
// user's message, then alternates between a blocking model call and the
// sequential execution of the tool calls the model requested, until the model
// replies with plain text:
//
//	Idle -> AwaitingModel -> (ToolCallDetected -> ExecutingTools -> AwaitingModel)* -> Done
//
// Tool failures become tool-role messages the model can react to. Model
// failures, unknown tools, cancellation and the round bound abort the turn and
// leave the transcript as it was before the call.
package agent
