// Package envelope parses demo command flags and runs a full signing
// lifecycle against local storage.
package envelope

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/velladore/inkseal/internal/blob"
	envdomain "github.com/velladore/inkseal/internal/envelope"
	"github.com/velladore/inkseal/internal/invite"
	entrypoint "github.com/velladore/inkseal/internal/platform/cmd"
	"github.com/velladore/inkseal/internal/platform/requestctx"
	"github.com/velladore/inkseal/internal/service"
	"github.com/velladore/inkseal/internal/signing"
	"github.com/velladore/inkseal/internal/storage/sqlite"
)

// Config holds demo command configuration.
type Config struct {
	DBPath              string        `env:"INKSEAL_DB_PATH" envDefault:"data/inkseal.db"`
	BlobDir             string        `env:"INKSEAL_BLOB_DIR" envDefault:"data/blobs"`
	OwnerUserID         string        `env:"INKSEAL_DEMO_OWNER" envDefault:"demo-owner"`
	SignerEmail         string        `env:"INKSEAL_DEMO_SIGNER_EMAIL" envDefault:"signer@example.com"`
	SignTokenTTL        time.Duration `env:"INKSEAL_SIGN_TOKEN_TTL" envDefault:"336h"`
	ViewTokenTTL        time.Duration `env:"INKSEAL_VIEW_TOKEN_TTL" envDefault:"720h"`
	MaxReminders        int           `env:"INKSEAL_MAX_REMINDERS" envDefault:"3"`
	ReminderMinInterval time.Duration `env:"INKSEAL_REMINDER_MIN_INTERVAL" envDefault:"24h"`
	DocumentPath        string        `env:"INKSEAL_DEMO_DOCUMENT"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The SQLite database path")
	fs.StringVar(&cfg.BlobDir, "blob-dir", cfg.BlobDir, "The document blob directory")
	fs.StringVar(&cfg.OwnerUserID, "owner", cfg.OwnerUserID, "The demo owner user id")
	fs.StringVar(&cfg.SignerEmail, "signer-email", cfg.SignerEmail, "The demo external signer email")
	fs.StringVar(&cfg.DocumentPath, "document", cfg.DocumentPath, "Path to a document to route; a sample is generated when empty")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run walks one envelope through create, send, external sign, and audit
// verification, logging every step.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceDemo, func(ctx context.Context) error {
		coordinator, blobs, err := buildCoordinator(cfg)
		if err != nil {
			return err
		}

		document, err := loadDocument(cfg.DocumentPath)
		if err != nil {
			return err
		}
		ownerCtx := requestctx.WithUserID(ctx, cfg.OwnerUserID)

		flattenedRef := fmt.Sprintf("demo/%d/flattened.pdf", time.Now().UnixMilli())
		if err := blobs.Put(ownerCtx, flattenedRef, document); err != nil {
			return fmt.Errorf("store document: %w", err)
		}

		env, err := coordinator.CreateEnvelope(ownerCtx, service.CreateEnvelopeInput{
			Title:         "Demo agreement",
			Description:   "Generated by the envelope demo command",
			OrderPolicy:   envdomain.OrderPolicyNone,
			FlattenedRef:  flattenedRef,
			FlattenedHash: blob.Digest(document),
		})
		if err != nil {
			return fmt.Errorf("create envelope: %w", err)
		}
		log.Printf("created envelope %s", env.ID)

		env, err = coordinator.UpdateEnvelope(ownerCtx, service.UpdateEnvelopeInput{
			EnvelopeID: env.ID,
			AddSigners: []service.AddSignerInput{
				{Email: cfg.SignerEmail, Name: "Demo Signer", Role: envdomain.RoleSigner, Order: 1},
			},
		})
		if err != nil {
			return fmt.Errorf("add signer: %w", err)
		}

		sent, err := coordinator.SendEnvelope(ownerCtx, service.SendEnvelopeInput{
			EnvelopeID: env.ID,
			Message:    "Please review and sign.",
		})
		if err != nil {
			return fmt.Errorf("send envelope: %w", err)
		}
		if len(sent.Invitations) != 1 {
			return fmt.Errorf("expected one invitation, got %d", len(sent.Invitations))
		}
		invitation := sent.Invitations[0]
		log.Printf("sent envelope %s, invitation token %s expires %s",
			env.ID, invitation.TokenID, invitation.ExpiresAt.Format(time.RFC3339))

		// The external signer acts with the grant alone, no session.
		result, err := coordinator.SignDocument(ctx, service.SignDocumentInput{
			EnvelopeID:  env.ID,
			SignerID:    invitation.SignerID,
			Grant:       invitation.Grant,
			ConsentText: "I agree to sign this document electronically.",
		})
		if err != nil {
			return fmt.Errorf("sign document: %w", err)
		}
		log.Printf("signer %s signed with key %s (%s), completed=%t",
			invitation.SignerID, result.Signer.SigningKeyID, result.Signer.Algorithm, result.Completed)

		if err := coordinator.VerifyAuditTrail(ownerCtx, env.ID); err != nil {
			return fmt.Errorf("verify audit trail: %w", err)
		}
		trail, err := coordinator.GetAuditTrail(ownerCtx, service.GetAuditTrailInput{EnvelopeID: env.ID})
		if err != nil {
			return fmt.Errorf("get audit trail: %w", err)
		}
		for _, event := range trail.Events {
			log.Printf("audit %03d %-20s %s", event.Seq, event.Type, event.ContentHash[:16])
		}
		log.Printf("envelope %s finished in status %s", env.ID, envdomain.StatusLabel(result.Envelope.Status))
		return nil
	})
}

func buildCoordinator(cfg Config) (*service.Coordinator, blob.Store, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite store: %w", err)
	}
	blobs, err := blob.NewFSStore(cfg.BlobDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open blob store: %w", err)
	}
	keyring, err := signing.KeyringFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("load signing keyring: %w", err)
	}
	grants, err := invite.LoadGrantConfigFromEnv(time.Now)
	if err != nil {
		return nil, nil, fmt.Errorf("load grant config: %w", err)
	}
	coordinator, err := service.New(store, blobs, keyring, grants, service.Config{
		SigningKeyID:        keyring.ActiveKeyID(),
		SignTokenTTL:        cfg.SignTokenTTL,
		ViewTokenTTL:        cfg.ViewTokenTTL,
		MaxReminders:        cfg.MaxReminders,
		ReminderMinInterval: cfg.ReminderMinInterval,
	})
	if err != nil {
		return nil, nil, err
	}
	return coordinator, blobs, nil
}

func loadDocument(path string) ([]byte, error) {
	if path == "" {
		return []byte("%PDF-1.7 inkseal demo agreement\n"), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}
