package store

import (
	"context"
	"fmt"
	"strings"

	"portfolio-cms/internal/schema"
)

type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// MigrateAll runs Migrate for every collection in the registry.
func (m *Migrator) MigrateAll(ctx context.Context, reg *schema.Registry) error {
	for _, c := range reg.All() {
		if err := m.Migrate(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Migrate ensures the table matches the collection schema.
// Creates the table if it doesn't exist, or adds missing columns.
func (m *Migrator) Migrate(ctx context.Context, c *schema.Collection) error {
	if !ValidIdentifier(c.Name) {
		return fmt.Errorf("invalid table name %q", c.Name)
	}
	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, c.Name)
	if err != nil {
		return fmt.Errorf("check table exists: %w", err)
	}

	if !exists {
		return m.createTable(ctx, c)
	}
	return m.alterTable(ctx, c)
}

func (m *Migrator) createTable(ctx context.Context, c *schema.Collection) error {
	cols := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		cols = append(cols, m.buildColumnDef(f))
	}

	ddl := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", c.Name, strings.Join(cols, ",\n  "))
	if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", c.Name, err)
	}

	if err := m.createIndexes(ctx, c); err != nil {
		return fmt.Errorf("create indexes for %s: %w", c.Name, err)
	}
	return nil
}

func (m *Migrator) alterTable(ctx context.Context, c *schema.Collection) error {
	existing, err := m.store.Dialect.GetColumns(ctx, m.store.DB, c.Name)
	if err != nil {
		return fmt.Errorf("get columns for %s: %w", c.Name, err)
	}

	for _, f := range c.Fields {
		if _, ok := existing[f.Name]; ok {
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", c.Name, m.buildColumnDef(f))
		if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("add column %s.%s: %w", c.Name, f.Name, err)
		}
	}

	if err := m.createIndexes(ctx, c); err != nil {
		return fmt.Errorf("create indexes for %s: %w", c.Name, err)
	}
	return nil
}

// buildColumnDef never emits NOT NULL for content columns so that added
// columns stay valid for existing rows. Required fields are enforced by the
// editor before any write.
func (m *Migrator) buildColumnDef(f schema.Field) string {
	col := f.Name + " " + m.store.Dialect.ColumnType(f.Type)
	if f.Name == "id" {
		return col + " PRIMARY KEY"
	}
	switch f.Type {
	case schema.TypeBool:
		if m.store.Dialect.NeedsBoolFix() {
			col += " DEFAULT 0"
		} else {
			col += " DEFAULT false"
		}
	case schema.TypeInt:
		col += " DEFAULT 0"
	}
	return col
}

func (m *Migrator) createIndexes(ctx context.Context, c *schema.Collection) error {
	for _, f := range c.Fields {
		var ddl string
		switch {
		case f.Unique:
			ddl = fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)",
				c.Name, f.Name, c.Name, f.Name)
		case f.UniqueWhenTrue:
			ddl = m.store.Dialect.PartialUniqueIndexSQL(c.Name, f.Name)
		case f.Name == "order_index":
			ddl = fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_order ON %s (order_index, created_at)",
				c.Name, c.Name)
		default:
			continue
		}
		if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create index on %s.%s: %w", c.Name, f.Name, err)
		}
	}
	return nil
}

// ValidIdentifier reports whether name is safe to interpolate as a table or
// column name.
func ValidIdentifier(name string) bool {
	if len(name) == 0 || len(name) > 63 {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
