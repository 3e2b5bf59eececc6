package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"prompt-master/internal/config"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	log "github.com/sirupsen/logrus"
)

var migrationFile = regexp.MustCompile(`^(\d+)_.+\.(up|down)\.sql$`)

func main() {
	dir := flag.String("dir", "db/migrations", "migrations directory")
	down := flag.Bool("down", false, "roll back the most recent migration")
	create := flag.String("create", "", "write an empty up/down pair with this name and exit")
	flag.Parse()

	if *create != "" {
		up, down, err := createMigration(*dir, *create)
		if err != nil {
			log.Fatalf("create migration: %v", err)
		}
		log.Infof("created %s and %s", up, down)
		return
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Warnf("failed to load .env: %v", err)
	}
	cfg := config.Load()
	config.SetupLogging(cfg)
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	m, err := migrate.New("file://"+*dir, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("migration setup failed: %v", err)
	}
	defer m.Close()

	if *down {
		err = m.Steps(-1)
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("database migration failed: %v", err)
	}
	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		log.Warnf("could not read migration version: %v", verr)
	}
	log.Infof("database migrations applied version=%d dirty=%t", version, dirty)
}

// createMigration numbers the new pair one past the highest existing version.
func createMigration(dir, name string) (string, string, error) {
	if strings.ContainsAny(name, " /\\") {
		return "", "", errors.New("migration name must not contain spaces or slashes")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", err
	}
	next := 1
	for _, entry := range entries {
		match := migrationFile.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		if v, err := strconv.Atoi(match[1]); err == nil && v >= next {
			next = v + 1
		}
	}
	base := fmt.Sprintf("%06d_%s", next, name)
	upPath := filepath.Join(dir, base+".up.sql")
	downPath := filepath.Join(dir, base+".down.sql")
	if err := writeFile(upPath, "-- up migration\n"); err != nil {
		return "", "", err
	}
	if err := writeFile(downPath, "-- down migration\n"); err != nil {
		return "", "", err
	}
	return upPath, downPath, nil
}

func writeFile(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("file already exists: %s", path)
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
