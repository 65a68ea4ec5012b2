// Command mcporch is the command-line front end for the MCP orchestrator.
//
// It browses the server registry, inspects live tools, invokes them,
// generates typed client modules, runs sandboxed scripts, and queries
// the audit log.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	orchestrator "github.com/secondsky/mcp-orchestrator"
	"github.com/secondsky/mcp-orchestrator/internal/config"
)

var version = "dev"

func main() {
	app := &cli.Command{
		Name:    "mcporch",
		Usage:   "registry-driven orchestration for MCP servers",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a JSON config file",
				Sources: cli.EnvVars("MCPORCH_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "registry",
				Aliases: []string{"r"},
				Usage:   "path to the server registry (overrides config)",
				Sources: cli.EnvVars("MCPORCH_REGISTRY"),
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log orchestrator internals to stderr",
			},
		},
		Commands: []*cli.Command{
			listCommand(),
			describeCommand(),
			toolsCommand(),
			callCommand(),
			genCommand(),
			runCommand(),
			probeCommand(),
			auditCommand(),
			registryCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "mcporch: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration for a command.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)

	if path := cmd.String("config"); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
	} else {
		cfg = config.Default()
		config.ApplyEnvOverrides(&cfg)
	}

	if path := cmd.String("registry"); path != "" {
		cfg.RegistryPath = path
	}

	return cfg, nil
}

// open builds an orchestrator for one command invocation.
func open(cmd *cli.Command) (*orchestrator.Orchestrator, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger := orchestrator.NopLogger()
	if cmd.Bool("verbose") {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithRegistryPath(cfg.RegistryPath),
		orchestrator.WithMaxSensitivity(orchestrator.Sensitivity(cfg.MaxSensitivity)),
		orchestrator.WithCallTimeout(time.Duration(cfg.CallTimeout)),
		orchestrator.WithToolCacheTTL(time.Duration(cfg.ToolCacheTTL)),
		orchestrator.WithSandboxSettings(cfg.SandboxSettings()),
		orchestrator.WithClientInfo("mcporch", version),
	}

	if cfg.AuditDB != "" {
		opts = append(opts, orchestrator.WithAuditPath(cfg.AuditDB))
	}

	return orchestrator.New(opts...)
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list servers from the registry",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "domain", Usage: "filter by domain"},
			&cli.StringFlag{Name: "tag", Usage: "filter by tag"},
			&cli.StringFlag{Name: "search", Usage: "match against id, title, summary, domains, tags"},
			&cli.BoolFlag{Name: "json", Usage: "emit JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			orch, err := open(cmd)
			if err != nil {
				return err
			}
			defer orch.Close()

			var entries []orchestrator.ServerEntry

			switch {
			case cmd.String("domain") != "":
				entries = orch.ByDomain(cmd.String("domain"))
			case cmd.String("tag") != "":
				entries = orch.ByTag(cmd.String("tag"))
			case cmd.String("search") != "":
				entries = orch.Search(cmd.String("search"), orchestrator.QueryOptions{})
			default:
				for _, s := range orch.Summaries() {
					fullEntry, err := orch.Describe(s.ID)
					if err != nil {
						return err
					}

					entries = append(entries, fullEntry)
				}
			}

			if cmd.Bool("json") {
				return printJSON(entries)
			}

			for _, e := range entries {
				fmt.Printf("%-20s %-10s %s\n", e.ID, e.Sensitivity, e.Summary)
			}

			return nil
		},
	}
}

func describeCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Usage:     "print a server's full registry descriptor",
		ArgsUsage: "<server-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("server id required")
			}

			orch, err := open(cmd)
			if err != nil {
				return err
			}
			defer orch.Close()

			entry, err := orch.Describe(id)
			if err != nil {
				return err
			}

			return printJSON(entry)
		},
	}
}

func toolsCommand() *cli.Command {
	return &cli.Command{
		Name:      "tools",
		Usage:     "list a server's live tools",
		ArgsUsage: "<server-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "emit JSON with full schemas"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("server id required")
			}

			orch, err := open(cmd)
			if err != nil {
				return err
			}
			defer orch.Close()

			tools, err := orch.Tools(ctx, id)
			if err != nil {
				return err
			}

			if cmd.Bool("json") {
				return printJSON(tools)
			}

			for _, tool := range tools {
				fmt.Printf("%-30s %s\n", tool.Name, firstLine(tool.Description))
			}

			return nil
		},
	}
}

func callCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "invoke a tool on a server",
		ArgsUsage: "<server-id> <tool>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "args",
				Aliases: []string{"a"},
				Usage:   "tool arguments as a JSON object",
				Value:   "{}",
			},
			&cli.BoolFlag{
				Name:  "approve-sensitive",
				Usage: "approve a call to a high-sensitivity server",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "per-call timeout override",
			},
			&cli.BoolFlag{Name: "json", Usage: "emit the full result as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			server := cmd.Args().Get(0)
			tool := cmd.Args().Get(1)

			if server == "" || tool == "" {
				return fmt.Errorf("usage: mcporch call <server-id> <tool>")
			}

			var args map[string]any
			if err := json.Unmarshal([]byte(cmd.String("args")), &args); err != nil {
				return fmt.Errorf("parse --args: %w", err)
			}

			orch, err := open(cmd)
			if err != nil {
				return err
			}
			defer orch.Close()

			result, err := orch.Invoke(ctx, orchestrator.InvokeRequest{
				Server:           server,
				Tool:             tool,
				Arguments:        args,
				Timeout:          cmd.Duration("timeout"),
				ApproveSensitive: cmd.Bool("approve-sensitive"),
			})
			if err != nil {
				return err
			}

			if cmd.Bool("json") {
				return printJSON(result)
			}

			fmt.Println(result.Text())

			return nil
		},
	}
}

func genCommand() *cli.Command {
	return &cli.Command{
		Name:      "gen",
		Usage:     "generate a typed client module from a server's tools",
		ArgsUsage: "<server-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "write output to a file instead of stdout",
			},
			&cli.BoolFlag{
				Name:  "manifest",
				Usage: "emit the JSON manifest instead of TypeScript",
			},
			&cli.StringFlag{
				Name:  "invoke-import",
				Usage: "module the generated code imports its invoke helper from",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("server id required")
			}

			orch, err := open(cmd)
			if err != nil {
				return err
			}
			defer orch.Close()

			var output []byte

			if cmd.Bool("manifest") {
				output, err = orch.GenerateManifest(ctx, id)
			} else {
				var module string

				module, err = orch.Generate(ctx, id, orchestrator.GenerateOptions{
					InvokeImport: cmd.String("invoke-import"),
				})
				output = []byte(module)
			}

			if err != nil {
				return err
			}

			if path := cmd.String("out"); path != "" {
				return os.WriteFile(path, output, 0o644)
			}

			_, err = os.Stdout.Write(output)

			return err
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "execute a script in the sandbox ('-' reads stdin)",
		ArgsUsage: "<script-file>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return fmt.Errorf("script file required")
			}

			var (
				script []byte
				err    error
			)

			if path == "-" {
				script, err = io.ReadAll(os.Stdin)
			} else {
				script, err = os.ReadFile(path)
			}

			if err != nil {
				return err
			}

			orch, err := open(cmd)
			if err != nil {
				return err
			}
			defer orch.Close()

			result, err := orch.RunScript(ctx, string(script))
			if err != nil {
				return err
			}

			if result.Stdout != "" {
				fmt.Print(result.Stdout)
			}

			if result.Stderr != "" {
				fmt.Fprint(os.Stderr, result.Stderr)
			}

			if result.TimedOut {
				return fmt.Errorf("script timed out after %s", result.Duration)
			}

			if result.ExitCode != 0 {
				return fmt.Errorf("script exited with code %d", result.ExitCode)
			}

			return nil
		},
	}
}

func probeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "ping every visible server and report health",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "emit JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			orch, err := open(cmd)
			if err != nil {
				return err
			}
			defer orch.Close()

			results, err := orch.ProbeAll(ctx)
			if err != nil {
				return err
			}

			if cmd.Bool("json") {
				return printJSON(results)
			}

			for _, r := range results {
				if r.OK {
					fmt.Printf("%-20s ok    %d tools  %s\n", r.ID, r.ToolCount, r.Latency.Round(time.Millisecond))
				} else {
					fmt.Printf("%-20s FAIL  %v\n", r.ID, r.Err)
				}
			}

			return nil
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "list audit records, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Usage: "filter by server id"},
			&cli.StringFlag{Name: "outcome", Usage: "filter by outcome"},
			&cli.IntFlag{Name: "limit", Usage: "maximum records", Value: 50},
			&cli.BoolFlag{Name: "json", Usage: "emit JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			orch, err := open(cmd)
			if err != nil {
				return err
			}
			defer orch.Close()

			entries, err := orch.AuditLog(ctx, orchestrator.AuditFilter{
				Server:  cmd.String("server"),
				Outcome: orchestrator.Outcome(cmd.String("outcome")),
				Limit:   int(cmd.Int("limit")),
			})
			if err != nil {
				return err
			}

			if cmd.Bool("json") {
				return printJSON(entries)
			}

			for _, e := range entries {
				fmt.Printf("%s  %-19s %-12s %-10s %s\n",
					e.CreatedAt.Format(time.RFC3339), e.Server, e.Tool, e.Outcome, e.Detail)
			}

			return nil
		},
	}
}

func registryCommand() *cli.Command {
	return &cli.Command{
		Name:  "registry",
		Usage: "mutate the running registry",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "add or replace a server entry from a JSON file",
				ArgsUsage: "<entry-file>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					path := cmd.Args().First()
					if path == "" {
						return fmt.Errorf("entry file required")
					}

					raw, err := os.ReadFile(path)
					if err != nil {
						return err
					}

					var entry orchestrator.ServerEntry
					if err := json.Unmarshal(raw, &entry); err != nil {
						return fmt.Errorf("parse entry: %w", err)
					}

					orch, err := open(cmd)
					if err != nil {
						return err
					}
					defer orch.Close()

					if err := orch.UpsertServer(entry); err != nil {
						return err
					}

					fmt.Printf("upserted %q (revision %d)\n", entry.ID, orch.RegistryRevision())

					return nil
				},
			},
			{
				Name:      "rm",
				Usage:     "remove a server entry",
				ArgsUsage: "<server-id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id := cmd.Args().First()
					if id == "" {
						return fmt.Errorf("server id required")
					}

					orch, err := open(cmd)
					if err != nil {
						return err
					}
					defer orch.Close()

					if err := orch.RemoveServer(id); err != nil {
						return err
					}

					fmt.Printf("removed %q\n", id)

					return nil
				},
			},
			{
				Name:  "reload",
				Usage: "re-read the registry file",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					orch, err := open(cmd)
					if err != nil {
						return err
					}
					defer orch.Close()

					if err := orch.ReloadRegistry(); err != nil {
						return err
					}

					fmt.Printf("reloaded (revision %d)\n", orch.RegistryRevision())

					return nil
				},
			},
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}

	return s
}
