package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/andreyvit/ejdb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "0.1.0"

type app struct {
	v    *viper.Viper
	conf config
	db   *ejdb.DB
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	root := &cobra.Command{
		Use:   "ejdb",
		Short: "embedded document collections",
		Long: fmt.Sprintf(`ejdb (v%s)

Stores BSON documents in named collections keyed by ObjectID.
Documents are read and written as extended JSON.`, version),
		SilenceUsage: true,
	}
	setupFlags(root)
	initConfig(a.v)

	withDB := func(c *cobra.Command) *cobra.Command {
		run := c.RunE
		c.RunE = func(cmd *cobra.Command, args []string) error {
			if err := a.open(cmd); err != nil {
				return err
			}
			err := run(cmd, args)
			return errors.Join(err, a.close(cmd))
		}
		return c
	}

	ensure := &cobra.Command{
		Use:   "ensure [collection]",
		Short: "Creates a collection unless it exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts ejdb.CollectionOptions
			opts.Compressed, _ = cmd.Flags().GetBool("compressed")
			opts.RecordSizeHint, _ = cmd.Flags().GetInt("size-hint")
			if _, err := a.db.Collection(args[0]).EnsureExists(&opts); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ensured", args[0])
			return nil
		},
	}
	ensure.Flags().Bool("compressed", false, wrapString("store documents zstd-compressed"))
	ensure.Flags().Int("size-hint", 0, wrapString("expected encoded document size in bytes"))

	drop := &cobra.Command{
		Use:   "drop [collection]",
		Short: "Drops a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prune, _ := cmd.Flags().GetBool("prune")
			if _, err := a.db.Collection(args[0]).Drop(prune); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "dropped", args[0])
			return nil
		},
	}
	drop.Flags().Bool("prune", false, wrapString("reclaim storage immediately instead of leaving it to vacuum"))

	save := &cobra.Command{
		Use:   "save [collection] [json...]",
		Short: "Saves documents and prints their ids",
		Long: `Saves each JSON argument as a document. Without JSON arguments,
reads one document per line from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var docs []ejdb.Doc
			if len(args) > 1 {
				for _, arg := range args[1:] {
					doc, err := ejdb.ParseJSON([]byte(arg))
					if err != nil {
						return err
					}
					docs = append(docs, doc)
				}
			} else {
				var err error
				docs, err = readDocs(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}
			ids, err := a.db.Collection(args[0]).SaveMany(docs)
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id.Hex())
			}
			return err
		},
	}

	load := &cobra.Command{
		Use:   "load [collection] [id]",
		Short: "Prints a document as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ejdb.ObjectIDFromHex(args[1])
			if err != nil {
				return err
			}
			doc, err := a.db.Collection(args[0]).Load(id)
			if err != nil {
				return err
			}
			if doc == nil {
				return fmt.Errorf("%s/%s: not found", args[0], id.Hex())
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}

	remove := &cobra.Command{
		Use:   "remove [collection] [id]",
		Short: "Deletes a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ejdb.ObjectIDFromHex(args[1])
			if err != nil {
				return err
			}
			removed, err := a.db.Collection(args[0]).Remove(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed=%v\n", removed)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Lists collections and their options",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := a.db.CollectionNames()
			if err != nil {
				return err
			}
			for _, name := range names {
				opts, _, err := a.db.Collection(name).Options()
				if err != nil && !errors.Is(err, ejdb.ErrNotSupported) {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tcompressed=%v\tsize_hint=%d\n", name, opts.Compressed, opts.RecordSizeHint)
			}
			return nil
		},
	}

	vacuum := &cobra.Command{
		Use:   "vacuum",
		Short: "Reclaims storage of collections dropped without --prune",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.db.Vacuum()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d\n", n)
			return nil
		},
	}

	sync := &cobra.Command{
		Use:   "sync",
		Short: "Flushes the database to stable storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.db.Sync()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Prints the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ejdb v%s\n", version)
		},
	}

	for _, c := range []*cobra.Command{ensure, drop, save, load, remove, list, vacuum, sync} {
		root.AddCommand(withDB(c))
	}
	root.AddCommand(versionCmd)
	return root
}

func (a *app) open(cmd *cobra.Command) error {
	conf, err := loadConfig(a.v, cmd)
	if err != nil {
		return err
	}
	a.conf = conf
	a.db, err = openDB(conf)
	return err
}

func (a *app) close(cmd *cobra.Command) error {
	if a.db == nil {
		return nil
	}
	if a.conf.Metrics {
		a.db.WritePrometheus(cmd.ErrOrStderr())
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func readDocs(r io.Reader) ([]ejdb.Doc, error) {
	var docs []ejdb.Doc
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		doc, err := ejdb.ParseJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		docs = append(docs, doc)
	}
	return docs, sc.Err()
}

func printJSON(w io.Writer, doc ejdb.Doc) error {
	raw, err := doc.MarshalJSON()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = w.Write(buf.Bytes())
	return err
}
