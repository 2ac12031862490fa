package command

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/shardkv/internal/cli/connection"
	"github.com/yndnr/shardkv/internal/cli/output"
	"github.com/yndnr/shardkv/internal/infra/buildinfo"
	"github.com/yndnr/shardkv/internal/infra/tlsroots"
	"github.com/yndnr/shardkv/internal/server/config"
	"github.com/yndnr/shardkv/internal/storage"
	"github.com/yndnr/shardkv/internal/telemetry/logger"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "shardkv-cli",
		Usage:   "inspect shardkv data files and manage a running server",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			WALCommand(),
			SnapshotCommand(),
			AdminCommand(),
			VersionCommand(),
		},
		Before: func(c *cli.Context) error {
			_, err := output.ParseFormat(c.String("output"))
			return err
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "data-dir",
			Aliases: []string{"d"},
			Usage:   "server data directory (offline commands)",
			EnvVars: []string{"SHARDKV_STORAGE_DATA_DIR"},
			Value:   config.DefaultDataDir,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format: table, json, yaml",
			Value:   string(output.FormatTable),
		},
		&cli.StringFlag{
			Name:    "admin-addr",
			Aliases: []string{"a"},
			Usage:   "admin endpoint address or URL",
			EnvVars: []string{"SHARDKV_ADMIN_ADDR"},
			Value:   config.DefaultAdminAddr,
		},
		&cli.StringFlag{
			Name:  "ca-file",
			Usage: "CA bundle used to verify the admin endpoint (enables TLS)",
		},
		&cli.StringFlag{
			Name:  "cert",
			Usage: "client certificate for mutual TLS",
		},
		&cli.StringFlag{
			Name:  "key",
			Usage: "client private key for mutual TLS",
		},
		&cli.BoolFlag{
			Name:  "show-values",
			Usage: "print value bytes instead of redacting them",
		},
	}
}

// GlobalFlags holds the parsed global flags.
type GlobalFlags struct {
	DataDir    string
	Output     output.Format
	AdminAddr  string
	CAFile     string
	CertFile   string
	KeyFile    string
	ShowValues bool
}

// ParseGlobalFlags extracts global flags from c.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		format = output.FormatTable
	}
	return &GlobalFlags{
		DataDir:    c.String("data-dir"),
		Output:     format,
		AdminAddr:  c.String("admin-addr"),
		CAFile:     c.String("ca-file"),
		CertFile:   c.String("cert"),
		KeyFile:    c.String("key"),
		ShowValues: c.Bool("show-values"),
	}
}

// WALDir is the WAL directory under the data dir.
func (f *GlobalFlags) WALDir() string {
	return filepath.Join(f.DataDir, storage.DefaultWALDir)
}

// SnapshotDir is the default snapshot directory under the data dir.
func (f *GlobalFlags) SnapshotDir() string {
	return filepath.Join(f.DataDir, storage.DefaultSnapshotDir)
}

// TLSConfig builds the admin client TLS configuration, or nil when no TLS
// flag is set.
func (f *GlobalFlags) TLSConfig() (*tls.Config, error) {
	if f.CAFile == "" && f.CertFile == "" && f.KeyFile == "" {
		return nil, nil
	}
	if (f.CertFile == "") != (f.KeyFile == "") {
		return nil, fmt.Errorf("--cert and --key must be given together")
	}

	var paths []string
	if f.CAFile != "" {
		paths = append(paths, f.CAFile)
	}
	roots, err := tlsroots.LoadPool(paths...)
	if err != nil {
		return nil, err
	}

	var kp *tlsroots.Keypair
	if f.CertFile != "" {
		kp, err = tlsroots.LoadKeypair(f.CertFile, f.KeyFile, logger.Discard())
		if err != nil {
			return nil, err
		}
	}
	return tlsroots.ClientConfig(roots, kp), nil
}

// adminClient creates a client for the admin endpoint.
func adminClient(c *cli.Context) (*connection.HTTPClient, error) {
	flags := ParseGlobalFlags(c)
	tlsConfig, err := flags.TLSConfig()
	if err != nil {
		return nil, err
	}
	return connection.NewHTTPClient(flags.AdminAddr, tlsConfig), nil
}

// requestContext bounds an admin call.
func requestContext(c *cli.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	parent := c.Context
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, timeout)
}

// stdout is where command results go.
func stdout(c *cli.Context) io.Writer {
	if c.App != nil && c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

func stderr(c *cli.Context) io.Writer {
	if c.App != nil && c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

// render renders data in the selected format. In table format view supplies
// the table.
func render(c *cli.Context, data any, view func() *output.Table) error {
	return output.Print(stdout(c), ParseGlobalFlags(c).Output, data, view)
}

// VersionCommand prints build information.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "show build information",
		Action: func(c *cli.Context) error {
			info := buildinfo.Get()
			return render(c, info, func() *output.Table {
				return output.KeyValues(map[string]any{
					"version":    info.Version,
					"commit":     info.Commit,
					"built":      info.BuildTime,
					"go_version": info.GoVersion,
					"modified":   info.Modified,
				})
			})
		},
	}
}
