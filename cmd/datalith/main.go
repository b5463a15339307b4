package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/algebra"
	"github.com/jmallove/datalith/datalog/engine"
	"github.com/jmallove/datalith/datalog/schema"
	"github.com/jmallove/datalith/datalog/storage"
)

var (
	errColor    = color.New(color.FgRed)
	promptColor = color.New(color.FgCyan)
	infoColor   = color.New(color.FgGreen)
)

func main() {
	var dbPath string
	var interactive bool
	var help bool
	var queryStr string
	var pullDepth int

	flag.StringVar(&dbPath, "db", "", "database path (':memory:' for a transient store)")
	flag.BoolVar(&interactive, "i", false, "interactive mode")
	flag.BoolVar(&help, "h", false, "show help")
	flag.StringVar(&queryStr, "query", "", "run a single query and exit")
	flag.IntVar(&pullDepth, "pull-depth", 0, "component pull recursion bound (0 = default)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [database_path]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "An embeddable Datalog store over SQLite.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                    # Run demo with default database\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s mydata.db          # Run demo with specific database\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i                 # Interactive mode\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -query '{:find [?n] :where [[?e :person/name ?n]]}'\n", os.Args[0])
	}
	flag.Parse()

	if help {
		flag.Usage()
		os.Exit(0)
	}

	if dbPath == "" && flag.NArg() > 0 {
		dbPath = flag.Arg(0)
	}
	if dbPath == "" {
		dbPath = "datalith.db"
	}

	var store *storage.Store
	var err error
	if dbPath == ":memory:" {
		store, err = storage.OpenMemory()
	} else {
		store, err = storage.Open(dbPath)
	}
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	eng := engine.New(store, engine.Options{PullDepth: pullDepth})

	switch {
	case queryStr != "":
		runSingleQuery(eng, queryStr)
	case interactive:
		runInteractive(store, eng)
	default:
		if isStoreEmpty(eng) {
			fmt.Println("Database is empty, loading demo data...")
			runDemo(store, eng)
		} else {
			fmt.Println("Database contains data. Use -i for interactive mode or -query to run a query.")
		}
	}
}

func demoSchema() []storage.AttributeSpec {
	return []storage.AttributeSpec{
		{Ident: datalog.NewKeyword(":person/name"), ValueType: datalog.TypeString},
		{Ident: datalog.NewKeyword(":person/age"), ValueType: datalog.TypeLong},
		{Ident: datalog.NewKeyword(":person/city"), ValueType: datalog.TypeString},
		{Ident: datalog.NewKeyword(":person/email"), ValueType: datalog.TypeString, Unique: schema.UniqueIdentity},
		{Ident: datalog.NewKeyword(":person/friend"), ValueType: datalog.TypeRef, Cardinality: schema.CardinalityMany},
	}
}

func runDemo(store *storage.Store, eng *engine.Engine) {
	fmt.Println("=== Datalith Demo ===")
	ctx := context.Background()

	if _, err := store.InstallAttributes(demoSchema()...); err != nil {
		log.Fatalf("Failed to install schema: %v", err)
	}

	fmt.Println("\nAdding test data...")

	addPerson := func(name string, age int64, city string) datalog.EntityID {
		e, err := store.NewEntityID(ctx)
		if err != nil {
			log.Fatalf("Failed to allocate entity: %v", err)
		}
		_, err = store.Transact(ctx, []storage.Op{
			storage.Assert(e, datalog.NewKeyword(":person/name"), datalog.String(name)),
			storage.Assert(e, datalog.NewKeyword(":person/age"), datalog.Long(age)),
			storage.Assert(e, datalog.NewKeyword(":person/city"), datalog.String(city)),
		})
		if err != nil {
			log.Fatalf("Failed to transact: %v", err)
		}
		return e
	}

	alice := addPerson("Alice", 30, "New York")
	bob := addPerson("Bob", 25, "Boston")
	charlie := addPerson("Charlie", 35, "New York")

	friend := datalog.NewKeyword(":person/friend")
	report, err := store.Transact(ctx, []storage.Op{
		storage.Assert(alice, friend, datalog.Ref(bob)),
		storage.Assert(alice, friend, datalog.Ref(charlie)),
		storage.Assert(bob, friend, datalog.Ref(charlie)),
	})
	if err != nil {
		log.Fatalf("Failed to transact: %v", err)
	}
	fmt.Printf("Committed transaction %d\n", int64(report.TxID))

	fmt.Println("\n=== Running Queries ===")

	queries := []string{
		// Find all people
		`{:find [?name ?age]
		  :where [[?p :person/name ?name]
		          [?p :person/age ?age]]}`,

		// Find people in New York
		`{:find [?name]
		  :where [[?p :person/name ?name]
		          [?p :person/city "New York"]]}`,

		// Find Alice's friends
		`{:find [?friend-name]
		  :where [[?alice :person/name "Alice"]
		          [?alice :person/friend ?friend]
		          [?friend :person/name ?friend-name]]}`,

		// Find people over 25
		`{:find [?name ?age]
		  :where [[?p :person/name ?name]
		          [?p :person/age ?age]
		          [(> ?age 25)]]}`,

		// Count friends per person
		`{:find [?name (count ?f)]
		  :where [[?p :person/name ?name]
		          [?p :person/friend ?f]]}`,

		// Calculate age in 5 years
		`{:find [?name ?age ?future-age]
		  :where [[?p :person/name ?name]
		          [?p :person/age ?age]
		          [(+ ?age 5) ?future-age]]}`,
	}

	for _, queryStr := range queries {
		fmt.Printf("\nQuery: %s\n", queryStr)
		result, err := eng.Query(ctx, queryStr, algebra.NewInputs())
		if err != nil {
			errColor.Printf("Error: %v\n", err)
			continue
		}
		fmt.Println(engine.RenderTable(result))
	}
}

func runInteractive(store *storage.Store, eng *engine.Engine) {
	fmt.Println("=== Datalith Interactive Mode ===")
	fmt.Println("Commands:")
	fmt.Println("  .help      - Show help")
	fmt.Println("  .exit      - Exit")
	fmt.Println("  .schema    - List installed attributes")
	fmt.Println("  .add       - Start adding data")
	fmt.Println("  {:find ...} or [:find ...] - Run a query")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()

	for {
		promptColor.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":

		case line == ".exit":
			return

		case line == ".help":
			fmt.Println("Enter a query as an EDN map or vector, or a dot command.")
			fmt.Println("Multi-line queries are read until brackets balance.")

		case line == ".schema":
			printSchema(store)

		case line == ".add":
			addInteractiveData(store, scanner, ctx)

		case strings.HasPrefix(line, "{") || strings.HasPrefix(line, "["):
			queryStr := collectQuery(scanner, line)
			result, err := eng.Query(ctx, queryStr, algebra.NewInputs())
			if err != nil {
				errColor.Printf("Error: %v\n", err)
				continue
			}
			fmt.Println(engine.RenderTable(result))

		default:
			fmt.Println("Unknown command. Use .help for help.")
		}
	}
}

// collectQuery reads continuation lines until the brackets opened on
// the first line are balanced.
func collectQuery(scanner *bufio.Scanner, first string) string {
	query := first
	for bracketDepth(query) > 0 {
		fmt.Print("  ")
		if !scanner.Scan() {
			break
		}
		query += "\n" + scanner.Text()
	}
	return query
}

func bracketDepth(s string) int {
	depth := 0
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{', '(':
			depth++
		case ']', '}', ')':
			depth--
		}
	}
	return depth
}

func printSchema(store *storage.Store) {
	attrs := store.Catalog().Attributes()
	if len(attrs) == 0 {
		fmt.Println("No attributes installed.")
		return
	}
	for _, a := range attrs {
		line := fmt.Sprintf("  %s  %s  %s", a.Ident, a.ValueType, a.Cardinality)
		if a.IsUnique() {
			line += "  unique/" + a.Unique.String()
		}
		if a.Component {
			line += "  component"
		}
		fmt.Println(line)
	}
}

func addInteractiveData(store *storage.Store, scanner *bufio.Scanner, ctx context.Context) {
	fmt.Println("Adding data (empty line to finish):")
	fmt.Println("Use 'new' as the entity to allocate a fresh id.")

	var ops []storage.Op
	var lastNew datalog.EntityID

	for {
		fmt.Print("  entity attribute value> ")
		if !scanner.Scan() {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}

		parts := strings.Fields(line)
		if len(parts) != 3 {
			fmt.Println("Expected: <entity|new> <attribute> <value>")
			continue
		}

		var e datalog.EntityID
		switch {
		case parts[0] == "new":
			id, err := store.NewEntityID(ctx)
			if err != nil {
				errColor.Printf("Error: %v\n", err)
				continue
			}
			e = id
			lastNew = id
			fmt.Printf("  (entity %d)\n", int64(id))
		case parts[0] == "." && lastNew != 0:
			e = lastNew
		default:
			id, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				fmt.Println("Entity must be an integer id, 'new', or '.' for the last new entity.")
				continue
			}
			e = datalog.EntityID(id)
		}

		ops = append(ops, storage.Assert(e, datalog.NewKeyword(parts[1]), parseValue(parts[2])))
	}

	if len(ops) == 0 {
		fmt.Println("No data added")
		return
	}

	report, err := store.Transact(ctx, ops)
	if err != nil {
		errColor.Printf("Commit failed: %v\n", err)
		return
	}
	infoColor.Printf("Committed %d datoms in transaction %d\n", report.Asserted, int64(report.TxID))
}

func parseValue(s string) datalog.TypedValue {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return datalog.Long(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return datalog.Double(f)
	}
	if s == "true" || s == "false" {
		return datalog.Boolean(s == "true")
	}
	if strings.HasPrefix(s, ":") {
		return datalog.KeywordValue(datalog.NewKeyword(s))
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return datalog.String(s[1 : len(s)-1])
	}
	return datalog.String(s)
}

// isStoreEmpty reports whether any datom is present.
func isStoreEmpty(eng *engine.Engine) bool {
	result, err := eng.Query(context.Background(),
		`{:find [[?e ...]] :where [[?e ?a ?v]] :limit 1}`, algebra.NewInputs())
	if err != nil {
		return true
	}
	return result.Len() == 0
}

// runSingleQuery executes one query with timing and exits.
func runSingleQuery(eng *engine.Engine, queryStr string) {
	start := time.Now()
	result, err := eng.Query(context.Background(), queryStr, algebra.NewInputs())
	elapsed := time.Since(start)
	if err != nil {
		errColor.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	table := engine.RenderTable(result)
	lines := strings.Split(table, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "_") && strings.HasSuffix(lines[i], "rows_") {
			lines[i] = strings.TrimSuffix(lines[i], "_") +
				fmt.Sprintf(" (%.3fms)_", float64(elapsed.Microseconds())/1000.0)
			break
		}
	}
	fmt.Print(strings.Join(lines, "\n"))
}
