// Package migrations embeds the schema applied by the migrate command.
package migrations

import (
	"embed"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.sql
var files embed.FS

// MySQL returns the MySQL scripts in apply order.
func MySQL() ([]Script, error) { return load("mysql_") }

// ClickHouse returns the ClickHouse scripts in apply order.
func ClickHouse() ([]Script, error) { return load("clickhouse_") }

type Script struct {
	Name string
	SQL  string
}

// Statements splits a script on ';' line ends. ClickHouse accepts one statement per Exec.
func (s Script) Statements() []string {
	var out []string
	for _, part := range strings.Split(s.SQL, ";\n") {
		if stmt := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), ";")); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func load(prefix string) ([]Script, error) {
	names, err := fs.Glob(files, prefix+"*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]Script, 0, len(names))
	for _, n := range names {
		b, err := files.ReadFile(n)
		if err != nil {
			return nil, err
		}
		out = append(out, Script{Name: n, SQL: string(b)})
	}
	return out, nil
}
