package moderation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/xrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultReasonType is sent when a report carries no atproto reason type
const DefaultReasonType = "com.atproto.moderation.defs#reasonOther"

// Destination delivers a report to one external service
type Destination interface {
	Name() string
	Send(ctx context.Context, report Report) error
}

// NoopDestination accepts every report without calling anything. It stands
// in for services whose takedown queue has no API yet.
type NoopDestination string

// Name returns the service value
func (n NoopDestination) Name() string { return string(n) }

// Send always succeeds
func (n NoopDestination) Send(ctx context.Context, report Report) error { return nil }

// OzoneDestination files reports with an ozone instance through
// com.atproto.moderation.createReport
type OzoneDestination struct {
	name string
	xrpc *xrpc.Client
}

// NewOzoneDestination creates the "ozone" destination. token is sent as the
// bearer credential on every call.
func NewOzoneDestination(host, token string, timeout time.Duration) *OzoneDestination {
	c := &xrpc.Client{
		Host: strings.TrimSuffix(host, "/"),
		Client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	if token != "" {
		c.Auth = &xrpc.AuthInfo{AccessJwt: token}
	}
	return &OzoneDestination{name: "ozone", xrpc: c}
}

// Name returns the service value
func (o *OzoneDestination) Name() string { return o.name }

// Send creates one report. A post with a CID is reported as a strong ref,
// anything else as the target account.
func (o *OzoneDestination) Send(ctx context.Context, report Report) error {
	input, err := createReportInput(report)
	if err != nil {
		return Permanent(err)
	}

	if _, err := comatproto.ModerationCreateReport(ctx, o.xrpc, input); err != nil {
		return classify(err)
	}
	return nil
}

func createReportInput(report Report) (*comatproto.ModerationCreateReport_Input, error) {
	reasonType := report.Reason
	if reasonType == "" {
		reasonType = DefaultReasonType
	}

	input := &comatproto.ModerationCreateReport_Input{
		ReasonType: &reasonType,
		Subject:    &comatproto.ModerationCreateReport_Input_Subject{},
	}
	if report.AdditionalInfo != "" {
		info := report.AdditionalInfo
		input.Reason = &info
	}

	switch {
	case report.TargetedPostURI != "" && report.TargetedPostCID != "":
		input.Subject.RepoStrongRef = &comatproto.RepoStrongRef{
			Uri: report.TargetedPostURI,
			Cid: report.TargetedPostCID,
		}
	case report.TargetedUserDID != "":
		input.Subject.AdminDefs_RepoRef = &comatproto.AdminDefs_RepoRef{Did: report.TargetedUserDID}
	default:
		return nil, errors.New("report has no subject: need a post cid or a user did")
	}
	return input, nil
}

// classify marks client errors other than rate limiting as permanent
func classify(err error) error {
	var xe *xrpc.Error
	if errors.As(err, &xe) && xe.StatusCode >= 400 && xe.StatusCode < 500 && xe.StatusCode != http.StatusTooManyRequests {
		return Permanent(fmt.Errorf("ozone rejected report: %w", err))
	}
	return fmt.Errorf("ozone request failed: %w", err)
}
