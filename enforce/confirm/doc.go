// Bounded-time interactive confirmation over an external reply channel.
//
// An Asker posts a yes/no or numbered-choice prompt, waits for a single reply from the original requester, and settles the session exactly once: answered, timed out, or cancelled. It has no knowledge of what the question is about.
//
// Only one session may be outstanding per scope (eg, a chat channel) at a time.
package confirm
