// Package schema builds ordered schema and data changes and renders them as
// PostgreSQL statements.
package schema

import (
	"fmt"
	"strings"
)

// Builder collects operations in the order they must run.
type Builder struct {
	ops []Operation
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends operations.
func (b *Builder) Add(ops ...Operation) *Builder {
	b.ops = append(b.ops, ops...)
	return b
}

// Operations returns the collected operations.
func (b *Builder) Operations() []Operation {
	return b.ops
}

func (b *Builder) CreateTable(name string, pk *PrimaryKey, columns ...Column) *Builder {
	return b.Add(CreateTable{Name: name, Columns: columns, PrimaryKey: pk})
}

func (b *Builder) DropTable(name string) *Builder {
	return b.Add(DropTable{Name: name})
}

func (b *Builder) AddColumn(table string, column Column) *Builder {
	return b.Add(AddColumn{Table: table, Column: column})
}

func (b *Builder) DropColumn(table, name string) *Builder {
	return b.Add(DropColumn{Table: table, Name: name})
}

func (b *Builder) RenameColumn(table, name, newName string) *Builder {
	return b.Add(RenameColumn{Table: table, Name: name, NewName: newName})
}

// AlterColumnType changes a column type, converting values with using when set.
func (b *Builder) AlterColumnType(table, name, typ, using string) *Builder {
	return b.Add(AlterColumn{Table: table, Name: name, Type: typ, Using: using})
}

// SetNullable toggles NOT NULL on a column.
func (b *Builder) SetNullable(table, name string, nullable bool) *Builder {
	return b.Add(AlterColumn{Table: table, Name: name, Nullable: &nullable})
}

func (b *Builder) AddPrimaryKey(table, name string, columns ...string) *Builder {
	return b.Add(AddPrimaryKey{Table: table, PrimaryKey: PrimaryKey{Name: name, Columns: columns}})
}

func (b *Builder) DropPrimaryKey(table, name string) *Builder {
	return b.Add(DropPrimaryKey{Table: table, Name: name})
}

func (b *Builder) CreateIndex(table, name string, unique bool, columns ...string) *Builder {
	return b.Add(CreateIndex{Table: table, Name: name, Unique: unique, Columns: columns})
}

func (b *Builder) DropIndex(name string) *Builder {
	return b.Add(DropIndex{Name: name})
}

func (b *Builder) AddForeignKey(fk AddForeignKey) *Builder {
	return b.Add(fk)
}

func (b *Builder) DropForeignKey(table, name string) *Builder {
	return b.Add(DropForeignKey{Table: table, Name: name})
}

func (b *Builder) InsertData(table string, columns []string, rows ...[]any) *Builder {
	return b.Add(InsertData{Table: table, Columns: columns, Rows: rows})
}

func (b *Builder) UpdateData(op UpdateData) *Builder {
	return b.Add(op)
}

func (b *Builder) DeleteData(table, keyColumn string, keys ...any) *Builder {
	return b.Add(DeleteData{Table: table, KeyColumn: keyColumn, KeyValues: keys})
}

// Sql appends a raw statement.
func (b *Builder) Sql(statement string) *Builder {
	return b.Add(Sql{Statement: statement})
}

// Statements renders every operation.
func (b *Builder) Statements() ([]string, error) {
	stmts := make([]string, 0, len(b.ops))
	for i, op := range b.ops {
		stmt, err := op.SQL()
		if err != nil {
			return nil, fmt.Errorf("operation %d (%T): %w", i, op, err)
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

// SQL renders the whole script, one statement per ";"-terminated block.
func (b *Builder) SQL() (string, error) {
	stmts, err := b.Statements()
	if err != nil {
		return "", err
	}
	if len(stmts) == 0 {
		return "", nil
	}
	return strings.Join(stmts, ";\n\n") + ";\n", nil
}

// MustSQL is SQL for scripts assembled from constants at init time.
func (b *Builder) MustSQL() string {
	sql, err := b.SQL()
	if err != nil {
		panic(err)
	}
	return sql
}
