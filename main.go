package main

import (
	"flag"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Antony-Jia/codex-terminal-manage/src/api"
	"github.com/Antony-Jia/codex-terminal-manage/src/config"
	"github.com/Antony-Jia/codex-terminal-manage/src/handler/session"
	"github.com/Antony-Jia/codex-terminal-manage/src/store"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Debug(".env file not found")
	}

	settings := config.Get()
	port := flag.Int("port", settings.Port, "Port to listen on")
	flag.Parse()

	dbPath, err := settings.ResolvedDatabasePath()
	if err != nil {
		logrus.Fatalf("Failed to prepare data directory: %v", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		logrus.Fatalf("Failed to open database: %v", err)
	}
	if err := st.Migrate(); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}
	if err := st.EnsureSessionColumns(); err != nil {
		logrus.Fatalf("Failed to upgrade sessions table: %v", err)
	}
	if err := st.MarkOrphanSessions(); err != nil {
		logrus.Fatalf("Failed to recover orphaned sessions: %v", err)
	}
	if err := st.SeedDefaultProfile(settings.DefaultProfileName, settings.DefaultProfileCommand, settings.DefaultCwd); err != nil {
		logrus.Fatalf("Failed to seed default profile: %v", err)
	}

	backend := selectBackend(settings)
	manager := session.NewManager(backend, st, settings)

	router := api.SetupRouter(manager, st, false)
	addr := fmt.Sprintf(":%d", *port)
	logrus.Infof("Starting %s on %s", settings.AppName, addr)
	if err := router.Run(addr); err != nil {
		logrus.Fatalf("Failed to start server: %v", err)
	}
}

// selectBackend honors the configured back-end, falling back to pipes when
// a PTY is unavailable on the platform.
func selectBackend(settings *config.Settings) session.Backend {
	if settings.Backend == "pipe" {
		logrus.Info("Using pipe process backend")
		return session.NewPipeBackend()
	}
	backend, err := session.NewPTYBackend()
	if err != nil {
		logrus.Warnf("PTY backend unavailable (%v), falling back to pipes", err)
		return session.NewPipeBackend()
	}
	logrus.Info("Using pty process backend")
	return backend
}
