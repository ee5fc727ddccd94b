// Package coa terminates live NAS sessions through RADIUS Disconnect-Request
// messages (RFC 5176) and reconciles the local accounting table with the
// outcome.
package coa

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"

	"github.com/codelaboratoryltd/radbill/pkg/nas"
)

// Result is the outcome of a single Disconnect-Request exchange.
type Result int

const (
	// ResultACK: the NAS acknowledged and tore the session down.
	ResultACK Result = iota
	// ResultNAK: the NAS has no memory of the session (ghost).
	ResultNAK
	// ResultTimeout: no reply within the deadline.
	ResultTimeout
)

func (r Result) String() string {
	switch r {
	case ResultACK:
		return "ack"
	case ResultNAK:
		return "nak"
	default:
		return "timeout"
	}
}

// Transport sends a disconnect for one session to one NAS. Implementations
// are keyed off the site record, not provider-name string matching, so a
// vendor-specific transport can be substituted per site type.
type Transport interface {
	SendDisconnect(ctx context.Context, site *nas.Site, sessionID, username, framedIP string) (Result, error)
}

// UDPTransport speaks the RFC 5176 UDP exchange directly.
type UDPTransport struct {
	// Timeout bounds each exchange. CoA calls block; the per-call deadline
	// is the only cancellation mechanism.
	Timeout time.Duration

	logger *zap.Logger
}

var _ Transport = (*UDPTransport)(nil)

func NewUDPTransport(timeout time.Duration, logger *zap.Logger) *UDPTransport {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &UDPTransport{Timeout: timeout, logger: logger}
}

func (t *UDPTransport) SendDisconnect(ctx context.Context, site *nas.Site, sessionID, username, framedIP string) (Result, error) {
	packet := radius.New(radius.CodeDisconnectRequest, []byte(site.Secret))
	rfc2865.UserName_SetString(packet, username)
	rfc2866.AcctSessionID_SetString(packet, sessionID)
	if ip := net.ParseIP(framedIP); ip != nil && ip.To4() != nil {
		rfc2865.FramedIPAddress_Set(packet, ip.To4())
	}

	addr := fmt.Sprintf("%s:%d", site.IPAddress, site.CoAPort)

	sendCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	response, err := radius.Exchange(sendCtx, packet, addr)
	if err != nil {
		if isTimeout(err) {
			t.logger.Warn("disconnect request timed out",
				zap.String("nas", addr),
				zap.String("session_id", sessionID),
			)
			return ResultTimeout, nil
		}
		return ResultTimeout, fmt.Errorf("disconnect exchange with %s: %w", addr, err)
	}

	switch response.Code {
	case radius.CodeDisconnectACK:
		return ResultACK, nil
	case radius.CodeDisconnectNAK:
		return ResultNAK, nil
	default:
		return ResultTimeout, fmt.Errorf("unexpected response code %d from %s", response.Code, addr)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
