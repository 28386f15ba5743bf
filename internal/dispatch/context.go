package dispatch

import "context"

type ctxKey int

const campaignIDKey ctxKey = iota

// WithCampaignID tags outgoing messages with the campaign they belong to.
func WithCampaignID(ctx context.Context, campaignID string) context.Context {
	return context.WithValue(ctx, campaignIDKey, campaignID)
}

func CampaignIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(campaignIDKey).(string)
	return id, ok && id != ""
}
