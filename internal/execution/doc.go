// Package execution advances one lead through one campaign.
//
// Machine owns every transition of an Execution: it renders the current
// step, asks the handover evaluator whether to stop, dispatches through the
// channel adapter with bounded retry, and schedules the next step. Each
// call persists the result through the registry before returning.
//
// Lead and campaign data are read through the LeadStore and CampaignStore
// interfaces defined here; implementations live in repository/postgres and
// repository/memory.
package execution
