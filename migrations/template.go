package migrations

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// GoFileTemplate is the skeleton written by psm scaffold.
const GoFileTemplate = `package {{.PackageName}}

import (
	"github.com/demoulas/profitsharing-migrator/internal/schema"
	"github.com/demoulas/profitsharing-migrator/migrations"
)

func init() {
	up := schema.NewBuilder()
	// up.AddColumn("TABLE", schema.Column{Name: "COLUMN", Type: "integer", Nullable: true})

	down := schema.NewBuilder()
	// down.DropColumn("TABLE", "COLUMN")

	migrations.MustRegister(&migrations.MigrationScript{
		Version:      "{{.Version}}",
		Name:         "{{.Name}}",
		Connection:   "{{.Connection}}",
		Backend:      "{{.Backend}}",
		UpSQL:        up.MustSQL(),
		DownSQL:      down.MustSQL(),
		Dependencies: []string{ {{- .Dependencies -}} },
	})
}
`

var (
	scaffoldTmpl = template.Must(template.New("migration").Parse(GoFileTemplate))
	namePattern  = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// ScaffoldData fills GoFileTemplate.
type ScaffoldData struct {
	PackageName  string
	Version      string
	Name         string
	Connection   string
	Backend      string
	Dependencies []string
}

// FileName returns {version}_{name}.go.
func (d ScaffoldData) FileName() string {
	return fmt.Sprintf("%s_%s.go", d.Version, d.Name)
}

// NewVersion formats t as a migration version (YYYYMMDDHHMMSS, UTC).
func NewVersion(t time.Time) string {
	return t.UTC().Format("20060102150405")
}

// Scaffold renders a new migration file to w.
func Scaffold(w io.Writer, d ScaffoldData) error {
	if !namePattern.MatchString(d.Name) {
		return fmt.Errorf("migration name %q must be snake_case", d.Name)
	}
	if len(d.Version) != 14 {
		return fmt.Errorf("migration version %q must be YYYYMMDDHHMMSS", d.Version)
	}
	if d.PackageName == "" {
		d.PackageName = "profitsharing"
	}
	if d.Backend == "" {
		d.Backend = "postgresql"
	}
	quoted := make([]string, len(d.Dependencies))
	for i, dep := range d.Dependencies {
		quoted[i] = strconv.Quote(dep)
	}
	return scaffoldTmpl.Execute(w, struct {
		ScaffoldData
		Dependencies string
	}{d, strings.Join(quoted, ", ")})
}
