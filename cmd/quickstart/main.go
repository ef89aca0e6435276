// Package main is a small demonstration of leanmap.
//
// It maps an author/book/tag library onto one of the supported backends,
// optionally seeds it, and prints every author with their books and tags.
// Relationships are resolved lazily and batched across the loaded rows, which
// is visible with -log-level debug.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/jacentio/leanmap/dynamo"
	"github.com/jacentio/leanmap/entity"
	"github.com/jacentio/leanmap/repository"
	"github.com/jacentio/leanmap/sqlstore"
	"github.com/jacentio/leanmap/store"
)

// DDL per SQL driver. DynamoDB tables are created out of band.
var ddl = map[string][]string{
	"sqlite3": {
		`CREATE TABLE IF NOT EXISTS author (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS book (id INTEGER PRIMARY KEY, author_id INTEGER NOT NULL, title TEXT NOT NULL, pages INTEGER)`,
		`CREATE TABLE IF NOT EXISTS tag (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS book_tag (id INTEGER PRIMARY KEY, book_id INTEGER NOT NULL, tag_id INTEGER NOT NULL)`,
	},
	"mysql": {
		`CREATE TABLE IF NOT EXISTS author (id BIGINT AUTO_INCREMENT PRIMARY KEY, name VARCHAR(255) NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS book (id BIGINT AUTO_INCREMENT PRIMARY KEY, author_id BIGINT NOT NULL, title VARCHAR(255) NOT NULL, pages INT)`,
		`CREATE TABLE IF NOT EXISTS tag (id BIGINT AUTO_INCREMENT PRIMARY KEY, name VARCHAR(255) NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS book_tag (id BIGINT AUTO_INCREMENT PRIMARY KEY, book_id BIGINT NOT NULL, tag_id BIGINT NOT NULL)`,
	},
	"postgres": {
		`CREATE TABLE IF NOT EXISTS author (id BIGSERIAL PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS book (id BIGSERIAL PRIMARY KEY, author_id BIGINT NOT NULL, title TEXT NOT NULL, pages INTEGER)`,
		`CREATE TABLE IF NOT EXISTS tag (id BIGSERIAL PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS book_tag (id BIGSERIAL PRIMARY KEY, book_id BIGINT NOT NULL, tag_id BIGINT NOT NULL)`,
	},
}

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "quickstart: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	driver       string
	dsn          string
	counterTable string
	logLevel     string
	seed         bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	o := &options{}
	fs.StringVar(&o.driver, "driver", "sqlite3", "Backend (sqlite3, mysql, postgres, dynamodb)")
	fs.StringVar(&o.dsn, "dsn", ":memory:", "Data source name of SQL backends")
	fs.StringVar(&o.counterTable, "counter-table", dynamo.DefaultConfig().CounterTable, "DynamoDB table holding id counters")
	fs.StringVar(&o.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.BoolVar(&o.seed, "seed", true, "Create and populate the library tables")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if len(fs.Args()) > 0 {
		return nil, fmt.Errorf("unknown arguments: %v", fs.Args())
	}
	return o, nil
}

func mainImpl() error {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ll := &slog.LevelVar{}
	switch opts.logLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", opts.logLevel)
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	conn, closeConn, err := connect(ctx, opts.driver, opts.dsn, opts.counterTable, logger)
	if err != nil {
		return err
	}
	defer closeConn()

	if err := registerSchemas(); err != nil {
		return err
	}
	authors := repository.New(conn, entity.Default.MustLookup("author"), repository.WithLogger(logger))
	books := repository.New(conn, entity.Default.MustLookup("book"), repository.WithLogger(logger))
	tags := repository.New(conn, entity.Default.MustLookup("tag"), repository.WithLogger(logger))

	if opts.seed {
		if statements, ok := ddl[opts.driver]; ok {
			if err := conn.(*sqlstore.Conn).Exec(ctx, statements...); err != nil {
				return fmt.Errorf("create tables: %w", err)
			}
		}
		if err := seedLibrary(ctx, conn, authors, books, tags); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	return printLibrary(ctx, authors)
}

// connect opens the backend named by driver and returns a function releasing it.
func connect(ctx context.Context, driver, dsn, counterTable string, logger *slog.Logger) (store.Connection, func(), error) {
	switch driver {
	case "sqlite3", "mysql", "postgres":
		conn, err := sqlstore.Open(driver, dsn, sqlstore.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return conn, func() { _ = conn.Close() }, nil
	case "dynamodb":
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load AWS config: %w", err)
		}
		conn := dynamo.New(dynamodb.NewFromConfig(cfg), dynamo.Config{CounterTable: counterTable})
		return conn, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown driver: %q", driver)
	}
}

func registerSchemas() error {
	return errors.Join(
		entity.Register(entity.NewSchema("author", "author").
			Int("id").ReadOnly().
			String("name").
			BelongsToMany("books", "book")),
		entity.Register(entity.NewSchema("book", "book").
			Int("id").ReadOnly().
			String("title").
			Int("pages").Nullable().
			HasOne("author", "author").
			HasMany("tags", "tag", "book_tag")),
		entity.Register(entity.NewSchema("tag", "tag").
			Int("id").ReadOnly().
			String("name")),
	)
}

type title struct {
	name  string
	pages int
	tags  []string
}

type shelf struct {
	author string
	books  []title
}

func seedLibrary(ctx context.Context, conn store.Connection, authors, books, tags *repository.Repository) error {
	tagIDs := make(map[string]int64)
	for _, name := range []string{"go", "c", "unix"} {
		tag := entity.New(tags.Schema())
		if err := tag.Set("name", name); err != nil {
			return err
		}
		id, err := tags.Persist(ctx, tag)
		if err != nil {
			return err
		}
		tagIDs[name] = id
	}

	library := []shelf{
		{"Alan Donovan", []title{
			{"The Go Programming Language", 380, []string{"go"}},
		}},
		{"Brian Kernighan", []title{
			{"The C Programming Language", 272, []string{"c", "unix"}},
			{"The Unix Programming Environment", 357, []string{"unix"}},
		}},
	}

	for _, entry := range library {
		author := entity.New(authors.Schema())
		if err := author.Set("name", entry.author); err != nil {
			return err
		}
		if _, err := authors.Persist(ctx, author); err != nil {
			return err
		}
		for _, b := range entry.books {
			book := entity.New(books.Schema())
			if err := book.Assign(map[string]any{
				"title":  b.name,
				"pages":  b.pages,
				"author": author,
			}, nil); err != nil {
				return err
			}
			bookID, err := books.Persist(ctx, book)
			if err != nil {
				return err
			}
			for _, name := range b.tags {
				if _, err := conn.Insert(ctx, "book_tag", store.Record{"book_id": bookID, "tag_id": tagIDs[name]}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func printLibrary(ctx context.Context, authors *repository.Repository) error {
	all, err := authors.FindAll(ctx, func(q *store.Query) { q.OrderBy("name") })
	if err != nil {
		return err
	}
	for _, author := range all {
		name, err := author.String("name")
		if err != nil {
			return err
		}
		fmt.Println(name)

		written, err := author.Many(ctx, "books")
		if err != nil {
			return err
		}
		for _, book := range written {
			title, err := book.String("title")
			if err != nil {
				return err
			}
			pages, err := book.Int("pages")
			if err != nil {
				return err
			}
			bookTags, err := book.Many(ctx, "tags")
			if err != nil {
				return err
			}
			names := make([]string, 0, len(bookTags))
			for _, tag := range bookTags {
				n, err := tag.String("name")
				if err != nil {
					return err
				}
				names = append(names, n)
			}
			fmt.Printf("  %s (%d pages) [%s]\n", title, pages, strings.Join(names, ", "))
		}
	}
	return nil
}
