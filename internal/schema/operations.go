package schema

import (
	"fmt"
	"strings"
)

// Operation is one schema or data change rendered to a single statement.
type Operation interface {
	SQL() (string, error)
}

// Column describes a table column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	// Identity adds GENERATED BY DEFAULT AS IDENTITY.
	Identity bool
	Default  string
}

func (c Column) definition() string {
	var b strings.Builder
	b.WriteString(QuoteIdentifier(c.Name))
	b.WriteString(" ")
	b.WriteString(c.Type)
	if c.Identity {
		b.WriteString(" GENERATED BY DEFAULT AS IDENTITY")
	}
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	return b.String()
}

// PrimaryKey names a primary key constraint.
type PrimaryKey struct {
	Name    string
	Columns []string
}

// ReferentialAction is the ON DELETE behaviour of a foreign key.
type ReferentialAction string

const (
	Restrict ReferentialAction = "RESTRICT"
	Cascade  ReferentialAction = "CASCADE"
	SetNull  ReferentialAction = "SET NULL"
	NoAction ReferentialAction = "NO ACTION"
)

type CreateTable struct {
	Name       string
	Columns    []Column
	PrimaryKey *PrimaryKey
}

func (o CreateTable) SQL() (string, error) {
	if len(o.Columns) == 0 {
		return "", fmt.Errorf("create table %s: no columns", o.Name)
	}
	defs := make([]string, 0, len(o.Columns)+1)
	for _, c := range o.Columns {
		defs = append(defs, "    "+c.definition())
	}
	if o.PrimaryKey != nil {
		defs = append(defs, fmt.Sprintf("    CONSTRAINT %s PRIMARY KEY (%s)",
			QuoteIdentifier(o.PrimaryKey.Name), quoteList(o.PrimaryKey.Columns)))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", QuoteIdentifier(o.Name), strings.Join(defs, ",\n")), nil
}

type DropTable struct {
	Name string
}

func (o DropTable) SQL() (string, error) {
	return "DROP TABLE " + QuoteIdentifier(o.Name), nil
}

type AddColumn struct {
	Table  string
	Column Column
}

func (o AddColumn) SQL() (string, error) {
	return fmt.Sprintf("ALTER TABLE %s ADD %s", QuoteIdentifier(o.Table), o.Column.definition()), nil
}

type DropColumn struct {
	Table string
	Name  string
}

func (o DropColumn) SQL() (string, error) {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", QuoteIdentifier(o.Table), QuoteIdentifier(o.Name)), nil
}

type RenameColumn struct {
	Table   string
	Name    string
	NewName string
}

func (o RenameColumn) SQL() (string, error) {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		QuoteIdentifier(o.Table), QuoteIdentifier(o.Name), QuoteIdentifier(o.NewName)), nil
}

// AlterColumn changes a column's type and/or nullability. Empty Type keeps
// the type; nil Nullable keeps the nullability.
type AlterColumn struct {
	Table    string
	Name     string
	Type     string
	Using    string
	Nullable *bool
}

func (o AlterColumn) SQL() (string, error) {
	col := QuoteIdentifier(o.Name)
	var actions []string
	if o.Type != "" {
		action := fmt.Sprintf("ALTER COLUMN %s TYPE %s", col, o.Type)
		if o.Using != "" {
			action += " USING " + o.Using
		}
		actions = append(actions, action)
	}
	if o.Nullable != nil {
		if *o.Nullable {
			actions = append(actions, fmt.Sprintf("ALTER COLUMN %s DROP NOT NULL", col))
		} else {
			actions = append(actions, fmt.Sprintf("ALTER COLUMN %s SET NOT NULL", col))
		}
	}
	if len(actions) == 0 {
		return "", fmt.Errorf("alter column %s.%s: nothing to change", o.Table, o.Name)
	}
	return fmt.Sprintf("ALTER TABLE %s %s", QuoteIdentifier(o.Table), strings.Join(actions, ", ")), nil
}

type AddPrimaryKey struct {
	Table string
	PrimaryKey
}

func (o AddPrimaryKey) SQL() (string, error) {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY (%s)",
		QuoteIdentifier(o.Table), QuoteIdentifier(o.Name), quoteList(o.Columns)), nil
}

type DropPrimaryKey struct {
	Table string
	Name  string
}

func (o DropPrimaryKey) SQL() (string, error) {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", QuoteIdentifier(o.Table), QuoteIdentifier(o.Name)), nil
}

type CreateIndex struct {
	Table   string
	Name    string
	Columns []string
	Unique  bool
}

func (o CreateIndex) SQL() (string, error) {
	kind := "INDEX"
	if o.Unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s %s ON %s (%s)",
		kind, QuoteIdentifier(o.Name), QuoteIdentifier(o.Table), quoteList(o.Columns)), nil
}

type DropIndex struct {
	Name string
}

func (o DropIndex) SQL() (string, error) {
	return "DROP INDEX " + QuoteIdentifier(o.Name), nil
}

type AddForeignKey struct {
	Table            string
	Name             string
	Columns          []string
	PrincipalTable   string
	PrincipalColumns []string
	OnDelete         ReferentialAction
}

func (o AddForeignKey) SQL() (string, error) {
	if len(o.Columns) != len(o.PrincipalColumns) {
		return "", fmt.Errorf("foreign key %s: %w", o.Name, ErrArity)
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		QuoteIdentifier(o.Table), QuoteIdentifier(o.Name), quoteList(o.Columns),
		QuoteIdentifier(o.PrincipalTable), quoteList(o.PrincipalColumns))
	if o.OnDelete != "" {
		stmt += " ON DELETE " + string(o.OnDelete)
	}
	return stmt, nil
}

type DropForeignKey struct {
	Table string
	Name  string
}

func (o DropForeignKey) SQL() (string, error) {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", QuoteIdentifier(o.Table), QuoteIdentifier(o.Name)), nil
}

// InsertData inserts literal rows; each row must match Columns.
type InsertData struct {
	Table   string
	Columns []string
	Rows    [][]any
}

func (o InsertData) SQL() (string, error) {
	if len(o.Rows) == 0 {
		return "", fmt.Errorf("insert into %s: no rows", o.Table)
	}
	rows := make([]string, len(o.Rows))
	for i, row := range o.Rows {
		if len(row) != len(o.Columns) {
			return "", fmt.Errorf("insert into %s row %d: %w", o.Table, i, ErrArity)
		}
		values, err := literalList(row)
		if err != nil {
			return "", fmt.Errorf("insert into %s row %d: %w", o.Table, i, err)
		}
		rows[i] = "(" + values + ")"
	}
	return fmt.Sprintf("INSERT INTO %s (%s)\nVALUES %s",
		QuoteIdentifier(o.Table), quoteList(o.Columns), strings.Join(rows, ",\n       ")), nil
}

// UpdateData sets Columns to Values on the rows matching the key.
type UpdateData struct {
	Table      string
	KeyColumns []string
	KeyValues  []any
	Columns    []string
	Values     []any
}

func (o UpdateData) SQL() (string, error) {
	if len(o.Columns) == 0 || len(o.Columns) != len(o.Values) {
		return "", fmt.Errorf("update %s: %w", o.Table, ErrArity)
	}
	sets := make([]string, len(o.Columns))
	for i, c := range o.Columns {
		lit, err := Literal(o.Values[i])
		if err != nil {
			return "", fmt.Errorf("update %s: %w", o.Table, err)
		}
		sets[i] = QuoteIdentifier(c) + " = " + lit
	}
	where, err := whereClause(o.KeyColumns, o.KeyValues)
	if err != nil {
		return "", fmt.Errorf("update %s: %w", o.Table, err)
	}
	return fmt.Sprintf("UPDATE %s SET %s\nWHERE %s", QuoteIdentifier(o.Table), strings.Join(sets, ", "), where), nil
}

// DeleteData deletes every row whose single key column is in KeyValues.
type DeleteData struct {
	Table     string
	KeyColumn string
	KeyValues []any
}

func (o DeleteData) SQL() (string, error) {
	if len(o.KeyValues) == 0 {
		return "", fmt.Errorf("delete from %s: no keys", o.Table)
	}
	values, err := literalList(o.KeyValues)
	if err != nil {
		return "", fmt.Errorf("delete from %s: %w", o.Table, err)
	}
	return fmt.Sprintf("DELETE FROM %s\nWHERE %s IN (%s)",
		QuoteIdentifier(o.Table), QuoteIdentifier(o.KeyColumn), values), nil
}

// Sql is a raw statement.
type Sql struct {
	Statement string
}

func (o Sql) SQL() (string, error) {
	stmt := strings.TrimSpace(o.Statement)
	stmt = strings.TrimSuffix(stmt, ";")
	if stmt == "" {
		return "", fmt.Errorf("empty statement")
	}
	return stmt, nil
}
