package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/supportlens/supportlens/internal/model"
	"github.com/supportlens/supportlens/internal/store"
)

var importFilePath string

// slugSeedFile is the YAML shape the ingestion collaborator exports.
type slugSeedFile struct {
	Slugs []slugSeed `yaml:"slugs"`
}

type slugSeed struct {
	Slug        string     `yaml:"slug"`
	TicketCount int        `yaml:"ticket_count"`
	FirstSeen   *time.Time `yaml:"first_seen"`
	LastSeen    *time.Time `yaml:"last_seen"`
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import slug seeds from a YAML file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		count, err := importSlugSeeds(ctx, st, importFilePath)
		if err != nil {
			return eris.Wrap(err, "import slugs")
		}

		zap.L().Info("import complete",
			zap.Int("slugs", count),
			zap.String("file", importFilePath),
		)
		return nil
	},
}

// importSlugSeeds parses a seed file and upserts every slug in it.
func importSlugSeeds(ctx context.Context, st store.Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, eris.Wrap(err, "read seed file")
	}

	var file slugSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, eris.Wrap(err, "parse seed file")
	}

	now := time.Now().UTC()
	for i, seed := range file.Slugs {
		key := model.NormalizeSlug(seed.Slug)
		if key == "" {
			return 0, eris.Errorf("seed %d: empty slug", i)
		}

		slug := model.Slug{
			Slug:        key,
			TicketCount: seed.TicketCount,
			FirstSeen:   now,
			LastSeen:    now,
		}
		if seed.FirstSeen != nil {
			slug.FirstSeen = *seed.FirstSeen
		}
		if seed.LastSeen != nil {
			slug.LastSeen = *seed.LastSeen
		}
		if err := slug.Validate(); err != nil {
			return 0, eris.Wrapf(err, "seed %d", i)
		}

		if _, err := st.UpsertSlug(ctx, slug); err != nil {
			return 0, eris.Wrapf(err, "upsert %s", key)
		}
	}
	return len(file.Slugs), nil
}

func init() {
	importCmd.Flags().StringVar(&importFilePath, "file", "", "path to YAML seed file (required)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
