package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/omrylcn/gbot/internal/config"
	"github.com/omrylcn/gbot/internal/store/migrations"
	"github.com/omrylcn/gbot/internal/store/sqlstore"
	"github.com/omrylcn/gbot/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("gbot doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Store:")
	checkStore(cfg)

	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("Anthropic", cfg.Providers.Anthropic.APIKey)
	checkProvider("OpenAI", cfg.Providers.OpenAI.APIKey)
	checkProvider("OpenRouter", cfg.Providers.OpenRouter.APIKey)
	checkProvider("DeepSeek", cfg.Providers.DeepSeek.APIKey)
	checkProvider("Groq", cfg.Providers.Groq.APIKey)

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")
	checkChannel("WhatsApp", cfg.Channels.WhatsApp.Enabled, cfg.Channels.WhatsApp.BridgeURL != "")
	wsStatus := "disabled"
	if cfg.Channels.WS.Enabled {
		wsStatus = "enabled (auth off)"
		if cfg.AuthEnabled() {
			wsStatus = "enabled (auth on)"
		}
	}
	fmt.Printf("    %-12s %s\n", "WebSocket:", wsStatus)

	if len(cfg.MCPServers) > 0 {
		fmt.Println()
		fmt.Println("  MCP Servers:")
		for name, sc := range cfg.MCPServers {
			target := sc.Command
			if target == "" {
				target = sc.URL
			}
			fmt.Printf("    %-12s %s (%s)\n", name+":", target, sc.Transport)
		}
	}

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("curl")
	checkBinary("git")

	fmt.Println()
	ws := cfg.WorkspacePath()
	fmt.Printf("  Workspace: %s", ws)
	if _, err := os.Stat(ws); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	roles := cfg.RolesFilePath()
	if roles == "" {
		fmt.Println("  Roles:     (open policy)")
	} else {
		fmt.Printf("  Roles:     %s", roles)
		if _, err := os.Stat(roles); err != nil {
			fmt.Println(" (NOT FOUND, open policy applies)")
		} else {
			fmt.Println(" (OK)")
		}
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkStore(cfg *config.Config) {
	driver, dsn, err := storeDSN(cfg)
	if err != nil {
		fmt.Printf("    %-12s %s\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s %s\n", "Driver:", driver)

	switch driver {
	case sqlstore.DriverSQLite:
		fmt.Printf("    %-12s %s", "Path:", dsn)
		if _, err := os.Stat(dsn); err != nil {
			fmt.Println(" (not created yet)")
			return
		}
		fmt.Println(" (OK)")
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", err)
			return
		}
		defer db.Close()
		checkSchema(db, driver)
	case sqlstore.DriverPostgres:
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
			return
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
			return
		}
		fmt.Printf("    %-12s connected\n", "Status:")
		checkSchema(db, driver)
	}
}

func checkSchema(db *sql.DB, driver string) {
	m, err := migrations.New(db, driver)
	if err != nil {
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
		return
	}
	defer m.Close()

	v, dirty, err := m.Version()
	if err == migrate.ErrNilVersion {
		fmt.Printf("    %-12s none (run: gbot migrate up)\n", "Schema:")
		return
	}
	if err != nil {
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
		return
	}
	if dirty {
		fmt.Printf("    %-12s v%d (DIRTY, run: gbot migrate force %d)\n", "Schema:", v, v-1)
		return
	}
	fmt.Printf("    %-12s v%d\n", "Schema:", v)
}

func checkProvider(name, apiKey string) {
	if apiKey == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	masked := "****"
	if len(apiKey) >= 8 {
		masked = apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
