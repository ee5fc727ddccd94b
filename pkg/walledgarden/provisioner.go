// Package walledgarden provisions the redirect groups that carry expired and
// suspended subscribers into the captive portal instead of the open internet.
// The NAS enforces the garden; this package only makes sure the group-level
// reply attributes it acts on exist and carry the configured values.
package walledgarden

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/codelaboratoryltd/radbill/pkg/aaa"
	"github.com/codelaboratoryltd/radbill/pkg/radsync"
)

// Config describes what the garden groups hand back to the NAS.
type Config struct {
	// AddressList is the firewall address list the NAS redirects to the
	// portal. Every garden member is tagged into it on Access-Accept.
	AddressList string

	// RateLimit caps garden traffic so a redirect loop cannot eat uplink.
	RateLimit string

	// RedirectURL is the captive portal URL, for NAS models that honor
	// WISPr redirection directly. Empty skips the attribute.
	RedirectURL string
}

// DefaultConfig returns the conventional garden setup.
func DefaultConfig() Config {
	return Config{
		AddressList: "walled-garden",
		RateLimit:   "512k/512k",
	}
}

// Provisioner seeds the garden groups in the AAA database.
type Provisioner struct {
	aaa    aaa.Store
	config Config
	logger *zap.Logger
}

func NewProvisioner(store aaa.Store, config Config, logger *zap.Logger) *Provisioner {
	return &Provisioner{aaa: store, config: config, logger: logger}
}

// EnsureGroups upserts the reply attributes for both garden groups. It is
// idempotent and runs at startup, so a fresh AAA database is usable before
// the first subscriber ever expires.
func (p *Provisioner) EnsureGroups(ctx context.Context) error {
	for _, group := range []string{radsync.GroupExpired, radsync.GroupSuspended} {
		if err := p.ensureGroup(ctx, group); err != nil {
			return fmt.Errorf("provision garden group %q: %w", group, err)
		}
	}
	p.logger.Info("walled garden groups provisioned",
		zap.String("address_list", p.config.AddressList),
		zap.String("rate_limit", p.config.RateLimit),
	)
	return nil
}

func (p *Provisioner) ensureGroup(ctx context.Context, group string) error {
	if err := p.aaa.UpsertGroupReply(ctx, group, aaa.AttrAddressList, aaa.OpSet, p.config.AddressList); err != nil {
		return err
	}
	if err := p.aaa.UpsertGroupReply(ctx, group, aaa.AttrRateLimit, aaa.OpSet, p.config.RateLimit); err != nil {
		return err
	}
	if p.config.RedirectURL != "" {
		if err := p.aaa.UpsertGroupReply(ctx, group, aaa.AttrRedirectURL, aaa.OpSet, p.config.RedirectURL); err != nil {
			return err
		}
	}
	return nil
}
