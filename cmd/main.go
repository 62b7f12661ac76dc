package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strconv"
	"strings"

	"github.com/ergochat/readline"

	"github.com/arcstep/voidring"
	"github.com/arcstep/voidring/ikey"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("open"),
	readline.PcItem("collection"),
	readline.PcItem("index"),
	readline.PcItem("indexes"),
	readline.PcItem("put"),
	readline.PcItem("get"),
	readline.PcItem("del"),
	readline.PcItem("lookup"),
	readline.PcItem("range"),
	readline.PcItem("page"),
	readline.PcItem("scan"),
	readline.PcItem("rebuild"),
	readline.PcItem("verify"),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

const usage = `open <dir>
collection <name> [format]
index <collection> <field> <string|int64|float64|bool>
indexes <collection>
put <collection> <pk> <json>
get <collection> <pk>
del <collection> <pk>
lookup <collection> <field> <value>
range <collection> <field> [start|-] [end|-] [rev]
page <collection> <field> <size> [cursor]
scan <collection>
rebuild <collection>
verify <collection>
exit`

func parseKind(s string) (ikey.Kind, error) {
	switch s {
	case "string":
		return ikey.StringKind, nil
	case "int64", "int":
		return ikey.IntKind, nil
	case "float64", "float":
		return ikey.FloatKind, nil
	case "bool":
		return ikey.BoolKind, nil
	}
	return 0, fmt.Errorf("unknown kind %q", s)
}

func parseValue(k ikey.Kind, s string) (any, error) {
	switch k {
	case ikey.IntKind:
		return strconv.ParseInt(s, 10, 64)
	case ikey.FloatKind:
		return strconv.ParseFloat(s, 64)
	case ikey.BoolKind:
		return strconv.ParseBool(s)
	default:
		return s, nil
	}
}

func queryValue(db *voidring.DB, collection, fieldPath, s string) (any, error) {
	def, ok := db.Index(collection, fieldPath)
	if !ok {
		return nil, fmt.Errorf("no index on %s.%s", collection, fieldPath)
	}
	return parseValue(def.Kind, s)
}

func printItems(seq iter.Seq2[voidring.Item, error]) error {
	n := 0
	for item, err := range seq {
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", item.Key, item.Value)
		n++
	}
	fmt.Printf("(%d)\n", n)
	return nil
}

func main() {
	l, err := readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     "/tmp/voidring.history",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	var db *voidring.DB
	open := func(dir string) error {
		if db != nil {
			return errors.New("database already open")
		}
		var oerr error
		db, oerr = voidring.Open(dir, voidring.Options{})
		return oerr
	}

	if len(os.Args) > 1 {
		if err := open(os.Args[1]); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(-1)
		}
	}

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			} else {
				continue
			}
		} else if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		args := strings.Split(line, " ")
		cmd := args[0]
		args = args[1:]
		err = nil

		if db == nil && cmd != "help" && cmd != "open" && cmd != "exit" && cmd != "quit" {
			_, _ = fmt.Fprintln(os.Stderr, "open a database first")
			continue
		}

		switch cmd {
		case "help":
			fmt.Println(usage)
		case "open":
			if len(args) != 1 {
				err = errors.New("usage: open <dir>")
				break
			}
			err = open(args[0])
		case "collection":
			if len(args) < 1 {
				err = errors.New("usage: collection <name> [format]")
				break
			}
			def := voidring.CollectionDef{}
			if len(args) > 1 {
				def.Format = args[1]
			}
			err = db.RegisterCollection(args[0], def)
		case "index":
			if len(args) != 3 {
				err = errors.New("usage: index <collection> <field> <kind>")
				break
			}
			var kind ikey.Kind
			kind, err = parseKind(args[2])
			if err == nil {
				err = db.RegisterIndex(args[0], args[1], kind)
			}
		case "indexes":
			if len(args) != 1 {
				err = errors.New("usage: indexes <collection>")
				break
			}
			for _, def := range db.Indexes(args[0]) {
				fmt.Printf("%s.%s\t%s\n", def.Collection, def.FieldPath, def.Kind)
			}
		case "put":
			if len(args) < 3 {
				err = errors.New("usage: put <collection> <pk> <json>")
				break
			}
			var res voidring.UpsertResult
			res, err = db.Upsert(args[0], []byte(args[1]), []byte(strings.Join(args[2:], " ")))
			for _, w := range res.Warnings {
				_, _ = fmt.Fprintf(os.Stderr, "warning: %s: %s\n", w.FieldPath, w.Err)
			}
		case "get":
			if len(args) != 2 {
				err = errors.New("usage: get <collection> <pk>")
				break
			}
			var val []byte
			val, err = db.Get(args[0], []byte(args[1]))
			if err == nil {
				fmt.Printf("%s\n", val)
			}
		case "del":
			if len(args) != 2 {
				err = errors.New("usage: del <collection> <pk>")
				break
			}
			err = db.Delete(args[0], []byte(args[1]))
		case "lookup":
			if len(args) != 3 {
				err = errors.New("usage: lookup <collection> <field> <value>")
				break
			}
			var val any
			val, err = queryValue(db, args[0], args[1], args[2])
			if err == nil {
				err = printItems(db.Lookup(args[0], args[1], val))
			}
		case "range":
			if len(args) < 2 {
				err = errors.New("usage: range <collection> <field> [start|-] [end|-] [rev]")
				break
			}
			q := voidring.Query{}
			if len(args) > 2 && args[2] != "-" {
				q.Start, err = queryValue(db, args[0], args[1], args[2])
			}
			if err == nil && len(args) > 3 && args[3] != "-" {
				q.End, err = queryValue(db, args[0], args[1], args[3])
			}
			if err == nil {
				q.Reverse = len(args) > 4 && args[4] == "rev"
				err = printItems(db.Range(args[0], args[1], q))
			}
		case "page":
			if len(args) < 3 {
				err = errors.New("usage: page <collection> <field> <size> [cursor]")
				break
			}
			var size int
			size, err = strconv.Atoi(args[2])
			if err != nil {
				break
			}
			cursor := ""
			if len(args) > 3 {
				cursor = args[3]
			}
			var page *voidring.Page
			page, err = db.Paginate(args[0], args[1], voidring.Query{}, size, cursor)
			if err != nil {
				break
			}
			for _, item := range page.Items {
				fmt.Printf("%s\t%s\n", item.Key, item.Value)
			}
			if page.HasMore {
				fmt.Printf("next: %s\n", page.NextCursor)
			} else {
				fmt.Println("(end)")
			}
		case "scan":
			if len(args) != 1 {
				err = errors.New("usage: scan <collection>")
				break
			}
			err = printItems(db.IterCollection(args[0]))
		case "rebuild":
			if len(args) != 1 {
				err = errors.New("usage: rebuild <collection>")
				break
			}
			var res voidring.RebuildResult
			res, err = db.RebuildIndexes(context.Background(), args[0])
			if err == nil {
				fmt.Printf("%d entries, %d skipped\n", res.Entries, res.Skipped)
			}
		case "verify":
			if len(args) != 1 {
				err = errors.New("usage: verify <collection>")
				break
			}
			n := 0
			for v, verr := range db.VerifyIndexes(context.Background(), args[0]) {
				if verr != nil {
					err = verr
					break
				}
				fmt.Printf("%s\t%s.%s\t%q\n", v.Kind, v.Collection, v.FieldPath, v.RecordKey)
				n++
			}
			if err == nil {
				fmt.Printf("(%d violations)\n", n)
			}
		case "exit", "quit":
			ex := 0
			if db != nil {
				err = db.Close()
				if err != nil {
					_, _ = fmt.Fprintln(os.Stderr, err.Error())
					ex = -1
				}
			}
			os.Exit(ex)
		default:
			_, _ = fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
		}

		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error executing %s: %s\n", cmd, err.Error())
		}
	}
}
