// Package secrets detects and redacts credentials using the gitleaks rule set.
//
// Lifecycle records are scrubbed before they are written to the identity log
// or to memory, so a key pasted into a conversation is never persisted. The
// in-flight record handed back to callers is left untouched.
package secrets
