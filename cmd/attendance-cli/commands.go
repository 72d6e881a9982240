package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"ms-attendance/internal/app"
	"ms-attendance/internal/database/migrations"
	attkafka "ms-attendance/internal/kafka"
	"ms-attendance/internal/models"
)

func newImportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import a ticket export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			a, err := app.New(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.Close()

			return runImport(cmd.Context(), a.Importer, f, filepath.Base(args[0]), cmd.OutOrStdout())
		},
	}
}

type ticketImporter interface {
	Import(ctx context.Context, r io.Reader, source string) (models.ImportResult, error)
}

// runImport prints the import summary. Import errors are returned untouched
// so row errors keep their line, field and offending value.
func runImport(ctx context.Context, imp ticketImporter, r io.Reader, source string, out io.Writer) error {
	result, err := imp.Import(ctx, r, source)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d rows: %d created, %d updated, %d deleted, %d skipped\n",
		result.Total(), result.Created, result.Updated, result.Deleted, result.Skipped)
	return nil
}

func newAutolinkCmd(c *cli) *cobra.Command {
	var eventID int64

	cmd := &cobra.Command{
		Use:   "autolink",
		Short: "Link participants without a ticket to matching unclaimed tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.ParticipantService.AutolinkAll(cmd.Context(), eventID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d linked, %d skipped, %d without match\n",
				report.Linked, report.Skipped, report.Unmatched)
			return nil
		},
	}
	cmd.Flags().Int64Var(&eventID, "event", 0, "Only link participants of this event id")
	return cmd
}

func newMigrateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate up|down|version",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			bunDB, err := app.ConnectDB(cmd.Context(), c.cfg.Database, c.log)
			if err != nil {
				return err
			}
			defer bunDB.Close()

			runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{MigrationsDir: c.cfg.Database.MigrationsDir}, c.log)
			defer runner.Close()

			switch args[0] {
			case "up":
				return runner.Up()
			case "down":
				return runner.Down()
			case "version":
				version, dirty, err := runner.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
				return nil
			}
			return fmt.Errorf("unknown migrate action %q", args[0])
		},
	}
	return cmd
}

// newTailCmd prints the events the service publishes, one JSON document per line.
func newTailCmd(c *cli) *cobra.Command {
	var (
		topic string
		group string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print published attendance events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if topic == "" {
				topic = c.cfg.Kafka.Topics.TicketsImported
			}
			consumer := attkafka.NewConsumer(c.cfg.Kafka.Brokers, topic, group, c.log)
			defer consumer.Close()

			out := cmd.OutOrStdout()
			return consumer.Run(cmd.Context(), func(msg kafka.Message) error {
				_, err := fmt.Fprintf(out, "%s\t%s\n", msg.Key, msg.Value)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "Topic to read (default: the tickets-imported topic)")
	cmd.Flags().StringVar(&group, "group", "attendance-cli", "Consumer group id")
	return cmd
}
