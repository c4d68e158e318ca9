// Command report runs one of the analytical queries under sql/ against the
// warehouse and prints the result as an aligned table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/pawnstats/pawnstats/internal/config"
	"github.com/pawnstats/pawnstats/internal/logx"
	"github.com/pawnstats/pawnstats/internal/warehouse"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		queryDir   = flag.String("dir", "sql", "directory holding query files")
		queryName  = flag.String("query", "", "query name (file sql/<name>.sql) or a path to a .sql file")
	)
	flag.Parse()

	if *queryName == "" {
		fmt.Fprintln(os.Stderr, "Usage: report -query <name> [options]")
		listQueries(*queryDir)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logx.NewLogger(cfg.Logging.Level)

	path := *queryName
	if !strings.HasSuffix(path, ".sql") {
		path = filepath.Join(*queryDir, *queryName+".sql")
	}
	sqlText, err := os.ReadFile(path)
	if err != nil {
		logger.Fatal().Err(err).Msg("read query")
	}

	ctx := context.Background()
	store, err := warehouse.New(ctx, cfg.Postgres.ConnString(), cfg.Postgres.MaxConns, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect warehouse")
	}
	defer store.Close()

	rows, err := store.Pool().Query(ctx, string(sqlText))
	if err != nil {
		logger.Fatal().Err(err).Msg("run query")
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)

	var header []string
	for _, fd := range rows.FieldDescriptions() {
		header = append(header, fd.Name)
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))

	count := 0
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			logger.Fatal().Err(err).Msg("scan row")
		}
		cells := make([]string, len(vals))
		for i, v := range vals {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprint(v)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
		count++
	}
	if err := rows.Err(); err != nil {
		logger.Fatal().Err(err).Msg("read rows")
	}
	w.Flush()
	fmt.Printf("(%d rows)\n", count)
}

func listQueries(dir string) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil || len(files) == 0 {
		return
	}
	fmt.Fprintln(os.Stderr, "Available queries:")
	for _, f := range files {
		fmt.Fprintf(os.Stderr, "  %s\n", strings.TrimSuffix(filepath.Base(f), ".sql"))
	}
}
