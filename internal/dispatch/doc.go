// Package dispatch delivers a rendered campaign step to a lead over email,
// SMS or chat.
//
// Each channel has one ChannelSender. The Adapter routes a step to the
// sender for its channel and always returns a DispatchResult: provider
// errors become a failed result, and a chat lead without a live connection
// becomes no_connection. Send never returns an error.
//
// Provider integrations (SES, Twilio-style REST) live next to the senders
// that use them and are reached only through the EmailProvider and
// SMSProvider interfaces.
package dispatch
