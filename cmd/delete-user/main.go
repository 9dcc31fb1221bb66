// Command delete-user removes one user from every system the portal
// provisions: mailing lists, the object store, the directory, and the
// auxiliary records database. It is the operator-driven counterpart of the
// server's deletion endpoint, useful when the HTTP service is down or when
// a teardown needs a dry run first.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"portal-conductor/internal/config"
	"portal-conductor/internal/datastore"
	"portal-conductor/internal/directory"
	"portal-conductor/internal/domain"
	"portal-conductor/internal/maillist"
	"portal-conductor/internal/records"
)

// Exit codes: 0 clean, 1 configuration problem, 3 a deletion phase failed.
const (
	exitOK     = 0
	exitConfig = 1
	exitDelete = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		dryRun     bool
	)

	code := exitOK
	cmd := &cobra.Command{
		Use:          "delete-user <username>",
		Short:        "Remove a user from every system the portal provisions",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				if err := config.LoadDotEnv(configPath); err != nil {
					code = exitConfig
					return fmt.Errorf("load config %s: %w", configPath, err)
				}
			}
			cfg, err := config.Load()
			if err != nil {
				code = exitConfig
				return fmt.Errorf("load config: %w", err)
			}

			d := newDeleter(cfg, dryRun)
			if err := d.deleteUser(cmd.Context(), args[0]); err != nil {
				code = exitDelete
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to an env-format config file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be deleted without deleting anything")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "delete-user: %v\n", err)
		if code == exitOK {
			code = exitDelete
		}
	}
	return code
}

// deleter runs the deletion phases in order: records lookup, mailing
// lists, object store, directory, records removal. Mailing-list failures
// are logged and skipped; everything else aborts.
type deleter struct {
	cfg    *config.Config
	dryRun bool
	logger *slog.Logger

	dir   *directory.Client
	store *datastore.Client
	lists domain.MailingLists
	recs  *records.Store
}

func newDeleter(cfg *config.Config, dryRun bool) *deleter {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	d := &deleter{cfg: cfg, dryRun: dryRun, logger: logger}
	d.dir = directory.NewClient(directory.Config{
		URL:      cfg.Directory.URL,
		BindDN:   cfg.Directory.BindDN,
		Password: cfg.Directory.Password,
		BaseDN:   cfg.Directory.BaseDN,
	}, logger)
	d.store = datastore.NewClient(datastore.Config{
		URL:     cfg.Store.URL,
		Timeout: cfg.Store.Timeout,
	}, logger)
	if cfg.Mail.Enabled {
		d.lists = maillist.NewClient(maillist.Config{
			URL:           cfg.Mail.URL,
			AdminPassword: cfg.Mail.Password,
			Timeout:       30 * time.Second,
		}, logger)
	}
	return d
}

func (d *deleter) deleteUser(ctx context.Context, username string) error {
	defer d.dir.Close()
	log := d.logger.With("username", username, "dry_run", d.dryRun)

	// Phase 1: portal records, for the addresses and list subscriptions.
	var emails, subscribed []string
	if d.cfg.RecordsDBPath != "" {
		db, err := records.OpenSQLite(d.cfg.RecordsDBPath)
		if err != nil {
			return fmt.Errorf("open records db: %w", err)
		}
		defer db.Close()
		d.recs = records.NewStore(db)

		rec, err := d.recs.GetUser(ctx, username)
		switch {
		case err == nil:
			emails, subscribed = rec.Emails, rec.MailingLists
			log.Info("portal records found", "emails", len(emails), "lists", len(subscribed))
		case isNotFound(err):
			log.Info("no portal records")
		default:
			return fmt.Errorf("look up records: %w", err)
		}
	}

	// Phase 2: mailing lists. Best effort; a dead list manager must not
	// block account teardown.
	if d.lists != nil {
		for _, list := range subscribed {
			for _, email := range emails {
				log.Info("unsubscribing", "list", list, "email", email)
				if d.dryRun {
					continue
				}
				if err := d.lists.RemoveMember(ctx, list, email); err != nil {
					log.Warn("unsubscribe failed", "list", list, "email", email, "error", err)
				}
			}
		}
	}

	// Phase 3: object store, home collection before the account.
	storeExists, err := d.store.UserExists(ctx, username)
	if err != nil {
		return fmt.Errorf("check object store: %w", err)
	}
	if storeExists {
		log.Info("deleting object-store home and account")
		if !d.dryRun {
			if err := d.store.DeleteHome(ctx, username); err != nil {
				return fmt.Errorf("delete home: %w", err)
			}
			if err := d.store.DeleteUser(ctx, username); err != nil {
				return fmt.Errorf("delete store account: %w", err)
			}
		}
	} else {
		log.Info("no object-store account")
	}

	// Phase 4: directory, group memberships before the entry.
	dirExists, err := d.dir.UserExists(ctx, username)
	if err != nil {
		return fmt.Errorf("check directory: %w", err)
	}
	if dirExists {
		groups, err := d.dir.UserGroups(ctx, username)
		if err != nil {
			return fmt.Errorf("list groups: %w", err)
		}
		log.Info("deleting directory account", "groups", len(groups))
		if !d.dryRun {
			for _, group := range groups {
				if err := d.dir.RemoveFromGroup(ctx, username, group); err != nil {
					return fmt.Errorf("leave group %s: %w", group, err)
				}
			}
			if err := d.dir.DeleteUser(ctx, username); err != nil {
				return fmt.Errorf("delete directory entry: %w", err)
			}
		}
	} else {
		log.Info("no directory account")
	}

	// Phase 5: drop the portal records last so a failed run can be
	// retried with the lookups intact.
	if d.recs != nil && !d.dryRun {
		if err := d.recs.DeleteUser(ctx, username); err != nil {
			return fmt.Errorf("delete records: %w", err)
		}
	}

	log.Info("user deleted")
	return nil
}

func isNotFound(err error) bool {
	var notFound *domain.NotFoundError
	return errors.As(err, &notFound)
}
