// Command qindb is the engine's CLI entry point: it wires
// internal/config, internal/dbmanager and internal/scheduler together
// and offers a line-based SQL shell over the embedded engine, grounded
// on cmd/tinysql/main.go's flag parsing and REPL shape. The
// --server/--client/--connect flags spec.md §"CLI surface" documents
// are accepted for compatibility with its connection-string grammar,
// but the network transport loop they would drive is the explicit
// external collaborator this engine leaves unimplemented — this binary
// only ever runs the embedded, single-process path.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/qindb/qindb/internal/config"
	"github.com/qindb/qindb/internal/dbmanager"
	"github.com/qindb/qindb/internal/diag"
	"github.com/qindb/qindb/internal/scheduler"
	"github.com/qindb/qindb/internal/sql/parser"
	"github.com/qindb/qindb/internal/types"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "qindb: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("qindb", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: qindb [OPTIONS]")
		fs.PrintDefaults()
	}

	var (
		dataDir    = fs.String("data", "", "data directory (overrides -config's data_dir)")
		configPath = fs.String("config", "qindb.yaml", "path to a YAML config file")
		cmdSQL     = fs.String("cmd", "", "run one SQL statement and exit")
		server     = fs.Bool("server", false, "listen for network clients (unimplemented transport)")
		client     = fs.Bool("client", false, "connect to a remote qindb server (unimplemented transport)")
		connect    = fs.String("connect", "", "qindb://host[:port][?usr=...&pswd=...&ssl=(true|false)]")
		help       = fs.Bool("?", false, "show usage")
	)
	fs.BoolVar(server, "s", false, "shorthand for -server")
	fs.BoolVar(client, "c", false, "shorthand for -client")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *help {
		fs.Usage()
		return nil
	}
	if *server || *client {
		return fmt.Errorf("-server/-client require a network transport, which this build does not implement; run without them for the embedded shell")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	diag.SetBase(logger)

	m, err := dbmanager.New(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	sched := scheduler.New(m.Targets, cfg.CheckpointInterval, logger)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	sess, err := session(m, *connect)
	if err != nil {
		return err
	}

	if *cmdSQL != "" {
		return execBatch(m, sess, *cmdSQL, os.Stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return repl(ctx, m, sess, os.Stdin, os.Stdout)
}

// session builds the session the shell runs under: an anonymous admin
// session for local embedded use (the "no identity" case
// internal/executor's privilege check always lets through), or one
// authenticated against usr/pswd if -connect supplies them.
func session(m *dbmanager.Manager, connect string) (*dbmanager.Session, error) {
	if connect == "" {
		return dbmanager.NewSession("", true, dbmanager.SystemDatabase), nil
	}
	u, err := url.Parse(connect)
	if err != nil {
		return nil, fmt.Errorf("parse -connect: %w", err)
	}
	if u.Scheme != "qindb" {
		return nil, fmt.Errorf("-connect must use the qindb:// scheme")
	}
	q := u.Query()
	usr, pswd := q.Get("usr"), q.Get("pswd")
	if usr == "" {
		return dbmanager.NewSession("", true, dbmanager.SystemDatabase), nil
	}
	return m.Authenticate(usr, pswd, dbmanager.SystemDatabase)
}

func execBatch(m *dbmanager.Manager, sess *dbmanager.Session, sql string, out *os.File) error {
	for _, stmtSQL := range splitStatements(sql) {
		if err := execOne(m, sess, stmtSQL, out); err != nil {
			return err
		}
	}
	return nil
}

func repl(ctx context.Context, m *dbmanager.Manager, sess *dbmanager.Session, in *os.File, out *os.File) error {
	fmt.Fprintln(out, "qindb shell. Statements end with ';'; .exit quits.")
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var buf strings.Builder
	prompt := func() {
		if buf.Len() == 0 {
			fmt.Fprintf(out, "%s> ", sess.CurrentDatabase())
		} else {
			fmt.Fprint(out, "   -> ")
		}
	}

	prompt()
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if buf.Len() == 0 && (trimmed == ".exit" || trimmed == ".quit") {
			return nil
		}

		buf.WriteString(line)
		buf.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			stmtSQL := buf.String()
			buf.Reset()
			for _, s := range splitStatements(stmtSQL) {
				if err := execOne(m, sess, s, out); err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
				}
			}
		}
		prompt()
	}
	return scanner.Err()
}

func execOne(m *dbmanager.Manager, sess *dbmanager.Session, sql string, out *os.File) error {
	if strings.TrimSpace(sql) == "" {
		return nil
	}
	stmt, err := parser.New(sql).ParseStatement()
	if err != nil {
		return err
	}
	res, err := m.Execute(context.Background(), sess, stmt)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	if len(res.Columns) == 0 {
		if res.Message != "" {
			fmt.Fprintln(out, res.Message)
		}
		return nil
	}
	return printTable(out, res.Columns, res.Rows)
}

// printTable renders a result set column-aligned, grounded on the
// teacher's tabwriter-based ColumnPrinter.
func printTable(out *os.File, cols []string, rows [][]types.Value) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v.IsNull() {
				cells[i] = "NULL"
			} else {
				cells[i] = v.String()
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	return w.Flush()
}

// splitStatements is a state-machine splitter identical in spirit to the
// teacher's: track quote nesting and split on top-level ';'.
func splitStatements(sql string) []string {
	var stmts []string
	var buf strings.Builder
	inSingle, inDouble := false, false

	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch ch {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case ';':
			if !inSingle && !inDouble {
				if s := strings.TrimSpace(buf.String()); s != "" {
					stmts = append(stmts, s)
				}
				buf.Reset()
				continue
			}
		}
		buf.WriteByte(ch)
	}
	if s := strings.TrimSpace(buf.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}
