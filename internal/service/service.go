// Package service hosts the signing coordinator, the use-case layer driving
// an envelope from creation through signing to completion.
//
// The coordinator owns no state of its own. Every operation loads fresh
// aggregate state, asks the domain to validate the command, and commits the
// result through storage in a single transaction together with its audit
// event and outbox record. Collaborators (storage, blob store, signing
// oracle, grant keys) are injected as narrow interfaces.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/velladore/inkseal/internal/audit"
	"github.com/velladore/inkseal/internal/blob"
	"github.com/velladore/inkseal/internal/envelope"
	apperrors "github.com/velladore/inkseal/internal/errors"
	"github.com/velladore/inkseal/internal/invite"
	"github.com/velladore/inkseal/internal/platform/id"
	"github.com/velladore/inkseal/internal/platform/requestctx"
	"github.com/velladore/inkseal/internal/signing"
	"github.com/velladore/inkseal/internal/storage"
)

const (
	defaultSignTokenTTL        = 14 * 24 * time.Hour
	defaultViewTokenTTL        = 30 * 24 * time.Hour
	defaultMaxReminders        = 3
	defaultReminderMinInterval = 24 * time.Hour
)

// Config carries the workflow policy values injected at construction.
type Config struct {
	// SigningKeyID selects the oracle key used for new signatures.
	SigningKeyID string
	// SignTokenTTL bounds the validity of signing invitation tokens.
	SignTokenTTL time.Duration
	// ViewTokenTTL bounds the validity of view-access tokens.
	ViewTokenTTL time.Duration
	// MaxReminders caps how many reminders one signer may receive.
	MaxReminders int
	// ReminderMinInterval is the minimum gap between reminders to one signer.
	ReminderMinInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SignTokenTTL <= 0 {
		c.SignTokenTTL = defaultSignTokenTTL
	}
	if c.ViewTokenTTL <= 0 {
		c.ViewTokenTTL = defaultViewTokenTTL
	}
	if c.MaxReminders <= 0 {
		c.MaxReminders = defaultMaxReminders
	}
	if c.ReminderMinInterval <= 0 {
		c.ReminderMinInterval = defaultReminderMinInterval
	}
	return c
}

// Coordinator executes the public workflow operations.
type Coordinator struct {
	store  storage.Store
	blobs  blob.Store
	oracle signing.Oracle
	grants invite.GrantConfig
	cfg    Config
	clock  func() time.Time
	newID  func() (string, error)
	tracer trace.Tracer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the coordinator clock.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithIDGenerator overrides the coordinator identifier generator.
func WithIDGenerator(generator func() (string, error)) Option {
	return func(c *Coordinator) {
		if generator != nil {
			c.newID = generator
		}
	}
}

// New creates a coordinator over its collaborators.
func New(store storage.Store, blobs blob.Store, oracle signing.Oracle, grants invite.GrantConfig, cfg Config, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if oracle == nil {
		return nil, fmt.Errorf("signing oracle is required")
	}
	if strings.TrimSpace(cfg.SigningKeyID) == "" {
		return nil, fmt.Errorf("signing key id is required")
	}
	coordinator := &Coordinator{
		store:  store,
		blobs:  blobs,
		oracle: oracle,
		grants: grants,
		cfg:    cfg.withDefaults(),
		clock:  time.Now,
		newID:  id.NewID,
		tracer: otel.Tracer("inkseal/service"),
	}
	for _, opt := range opts {
		opt(coordinator)
	}
	return coordinator, nil
}

func (c *Coordinator) now() time.Time {
	if c.clock == nil {
		return time.Now().UTC()
	}
	return c.clock().UTC()
}

// startSpan opens a tracing span named after the operation.
func (c *Coordinator) startSpan(ctx context.Context, operation, envelopeID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{}
	if envelopeID != "" {
		attrs = append(attrs, attribute.String("envelope.id", envelopeID))
	}
	return c.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
}

// actorFromContext captures the acting principal and network metadata for
// audit records. SignerID is filled by operations acting on one signer.
func actorFromContext(ctx context.Context) storage.Actor {
	network := requestctx.NetworkFromContext(ctx)
	actor := storage.Actor{
		Type: audit.ActorTypeSystem,
		Network: envelope.NetworkContext{
			IPAddress: network.IPAddress,
			UserAgent: network.UserAgent,
			Country:   network.Country,
		},
	}
	if userID := requestctx.UserIDFromContext(ctx); userID != "" {
		actor.Type = audit.ActorTypeUser
		actor.ID = userID
	}
	return actor
}

// requireOwner loads an envelope and checks the context user owns it.
func (c *Coordinator) requireOwner(ctx context.Context, envelopeID string) (envelope.Envelope, error) {
	envelopeID = strings.TrimSpace(envelopeID)
	if envelopeID == "" {
		return envelope.Envelope{}, fmt.Errorf("envelope id is required")
	}
	userID := requestctx.UserIDFromContext(ctx)
	if userID == "" {
		return envelope.Envelope{}, apperrors.New(apperrors.CodeAccessDenied, "authenticated user required")
	}
	env, err := c.store.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if env.OwnerUserID != userID {
		return envelope.Envelope{}, apperrors.New(apperrors.CodeAccessDenied, "envelope belongs to another user")
	}
	return env, nil
}

// resolveGrant validates a presented grant against its stored token and the
// target envelope. The returned token carries lifecycle state for later
// consumption.
func (c *Coordinator) resolveGrant(ctx context.Context, grant, envelopeID string, purpose invite.Purpose) (invite.Token, error) {
	claims, err := invite.ValidateGrant(grant, c.grants)
	if err != nil {
		return invite.Token{}, err
	}
	if claims.EnvelopeID != envelopeID {
		return invite.Token{}, apperrors.New(apperrors.CodeTokenGrantMismatch, "grant was issued for another envelope")
	}
	token, err := c.store.GetToken(ctx, claims.TokenID)
	if err != nil {
		return invite.Token{}, err
	}
	if token.EnvelopeID != envelopeID || token.SignerID != claims.SignerID {
		return invite.Token{}, apperrors.New(apperrors.CodeTokenGrantMismatch, "grant does not match its stored token")
	}
	switch purpose {
	case invite.PurposeSign:
		if err := token.ValidateForSigning(c.now()); err != nil {
			return invite.Token{}, err
		}
	case invite.PurposeView:
		if err := token.ValidateForViewing(c.now()); err != nil {
			return invite.Token{}, err
		}
	default:
		return invite.Token{}, apperrors.New(apperrors.CodeTokenPurposeDisallowed, "unsupported grant purpose")
	}
	return token, nil
}

// upstream wraps a collaborator failure with the step and envelope that hit
// it. Domain conditions pass through unchanged so callers keep their codes.
func upstream(step, envelopeID string, err error) error {
	if apperrors.CodeOf(err) != apperrors.CodeUnknown {
		return err
	}
	message := step
	if envelopeID != "" {
		message = fmt.Sprintf("%s for envelope %s", step, envelopeID)
	}
	return apperrors.Wrap(apperrors.CodeUpstreamFailure, message, err)
}
