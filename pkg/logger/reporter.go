package logx

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
)

var _ contractx.Reporter = (*Reporter)(nil)

// Reporter logs recoverable failures as warnings with their negotiation scope.
type Reporter struct {
	logger *zerolog.Logger
}

// NewReporter logs to l, or to the global logger when l is nil.
func NewReporter(l *zerolog.Logger) *Reporter {
	return &Reporter{logger: l}
}

func (r *Reporter) Report(ctx context.Context, scope contractx.Scope, err error) {
	if err == nil {
		return
	}
	l := r.logger
	if l == nil {
		l = &log.Logger
	}

	ev := l.Warn().Err(err).Str("operation", scope.Operation)
	if scope.NegotiationID != "" {
		ev = ev.Str("negotiation_id", scope.NegotiationID)
	}
	if scope.GroupID != "" {
		ev = ev.Str("group_id", scope.GroupID)
	}
	if scope.VendorID != "" {
		ev = ev.Str("vendor_id", scope.VendorID)
	}
	ev.Msg("recoverable failure")
}
