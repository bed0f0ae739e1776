package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/schema"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load content from a YAML file",
	Long: `Load content from a YAML file mapping collection names to rows:

  hero_content:
    - name: Jane Doe
      title_line1: Building
  stats:
    - value: "20+"
      label: Years

Singleton rows update the stored row. List rows are inserted; rows that
collide with a unique field are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(seedFile)
		if err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}
		var content map[string][]repository.Row
		if err := yaml.Unmarshal(raw, &content); err != nil {
			return fmt.Errorf("parse seed file: %w", err)
		}

		ctx := cmd.Context()
		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		reg := schema.Default()
		if err := migrate(ctx, db, reg); err != nil {
			return err
		}
		return seed(ctx, reg, openRepository(db, reg, nil), content)
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "content.yaml", "YAML file to load")
}

func seed(ctx context.Context, reg *schema.Registry, repo repository.Repository, content map[string][]repository.Row) error {
	names := make([]string, 0, len(content))
	for name := range content {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c := reg.Get(name)
		if c == nil {
			return fmt.Errorf("seed: %w: %s", repository.ErrUnknownCollection, name)
		}
		rows := content[name]
		if c.Shape == schema.Singleton && len(rows) > 1 {
			return fmt.Errorf("seed: %s is a singleton but has %d rows", name, len(rows))
		}

		inserted, skipped := 0, 0
		for i, raw := range rows {
			row, err := c.Coerce(raw)
			if err != nil {
				return fmt.Errorf("seed %s[%d]: %w", name, i, err)
			}
			c.ApplyDefaults(row)
			if err := c.Validate(row); err != nil {
				return fmt.Errorf("seed %s[%d]: %w", name, i, err)
			}

			if c.Shape == schema.Singleton {
				err = replaceSingleton(ctx, repo, name, row)
			} else {
				_, err = repo.Insert(ctx, name, row)
			}
			switch {
			case repository.IsConstraint(err):
				skipped++
			case err != nil:
				return fmt.Errorf("seed %s[%d]: %w", name, i, err)
			default:
				inserted++
			}
		}
		logger.Info().Str("collection", name).Int("written", inserted).Int("skipped", skipped).Msg("seeded")
	}
	return nil
}

func replaceSingleton(ctx context.Context, repo repository.Repository, collection string, row repository.Row) error {
	existing, err := repo.FetchOne(ctx, collection)
	if errors.Is(err, repository.ErrNotFound) {
		_, err = repo.Insert(ctx, collection, row)
		return err
	}
	if err != nil {
		return err
	}
	row["id"] = existing["id"]
	_, err = repo.Upsert(ctx, collection, row)
	return err
}
