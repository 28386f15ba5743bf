// Package handover decides when a lead leaves automated outreach and is
// escalated to a human, and delivers that decision to the rule's
// recipients.
//
// Evaluate is pure: no I/O, no logging, no clock. Callers log the warnings
// returned by Validate and DecodeRule and drive the Notifier themselves.
package handover
