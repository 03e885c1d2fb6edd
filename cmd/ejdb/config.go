package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/andreyvit/ejdb"
	"github.com/andreyvit/ejdb/badgerengine"
	"github.com/andreyvit/ejdb/sqliteengine"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// wrap is the column the flag help text is wrapped at.
const wrap = 50

func wrapString(text string) string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

func setupFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("engine", "bolt", wrapString("storage engine (bolt, badger, sqlite, memory)"))
	cmd.PersistentFlags().String("path", "ejdb.db", wrapString("database file, or directory for badger"))
	cmd.PersistentFlags().Bool("read-only", false, wrapString("open an existing database without write access"))
	cmd.PersistentFlags().Bool("verbose", false, wrapString("log every operation to stderr"))
	cmd.PersistentFlags().Bool("metrics", false, wrapString("print operation metrics in Prometheus text format to stderr on exit"))
}

// initConfig loads .env files and makes every flag settable as EJDB_<FLAG>.
func initConfig(v *viper.Viper) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v.SetEnvPrefix("ejdb")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

type config struct {
	Engine   string
	Path     string
	ReadOnly bool
	Verbose  bool
	Metrics  bool
}

func loadConfig(v *viper.Viper, cmd *cobra.Command) (config, error) {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return config{}, err
	}
	return config{
		Engine:   v.GetString("engine"),
		Path:     v.GetString("path"),
		ReadOnly: v.GetBool("read-only"),
		Verbose:  v.GetBool("verbose"),
		Metrics:  v.GetBool("metrics"),
	}, nil
}

// openEngine creates an engine based on the backend name.
func openEngine(backend, path string, readOnly bool) (ejdb.Engine, error) {
	switch backend {
	case "bolt", "":
		if !readOnly {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, err
			}
		}
		return ejdb.OpenBolt(path, ejdb.BoltOptions{ReadOnly: readOnly})
	case "badger":
		return badgerengine.Open(path, badgerengine.Options{ReadOnly: readOnly})
	case "sqlite":
		return sqliteengine.Open(path, sqliteengine.Options{ReadOnly: readOnly})
	case "memory":
		if readOnly {
			return nil, fmt.Errorf("engine %q cannot be opened read-only", backend)
		}
		return ejdb.NewMemEngine(), nil
	default:
		return nil, fmt.Errorf("unknown engine: %q (supported: bolt, badger, sqlite, memory)", backend)
	}
}

func openDB(conf config) (*ejdb.DB, error) {
	level := slog.LevelInfo
	if conf.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	eng, err := openEngine(conf.Engine, conf.Path, conf.ReadOnly)
	if err != nil {
		return nil, err
	}
	logger.Debug("db: opened", "path", conf.Path, "engine", conf.Engine, "read_only", conf.ReadOnly)
	return ejdb.New(eng, ejdb.Options{Logger: logger, Verbose: conf.Verbose}), nil
}
