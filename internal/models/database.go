package models

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/huangang/aiusage/internal/config"
	"github.com/huangang/aiusage/pkg/logger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var DB *gorm.DB

// InitDB opens the configured database and stores it in DB.
func InitDB(cfg *config.DatabaseConfig) error {
	db, err := Open(cfg)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open connects without touching the package-level DB.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dsn, err := sqliteDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		Logger: logger.NewGormLogger(),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// One writer at a time; a configuration replacement holds the only
		// connection until it commits, so readers never see it half applied.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
	}

	return db, nil
}

// sqliteDSN creates the parent directory of a file database and enables
// foreign keys and a busy timeout.
func sqliteDSN(dsn string) (string, error) {
	path := dsn
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimPrefix(path, "file:")
	if path != "" && !strings.Contains(path, ":memory:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return "", fmt.Errorf("failed to create database dir: %w", err)
			}
		}
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "_foreign_keys") {
		dsn += sep + "_foreign_keys=on"
		sep = "&"
	}
	if !strings.Contains(dsn, "_busy_timeout") {
		dsn += sep + "_busy_timeout=5000"
	}
	return dsn, nil
}

func AutoMigrate() error {
	return Migrate(DB)
}

// Migrate creates or updates every table on db.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Function{},
		&Team{},
		&Tool{},
		&Capability{},
		&ConfigVersion{},
		&Response{},
		&ImpactEntry{},
		&ToolRef{},
		&SystemLog{},
		&SchedulerLock{},
	)
}

func GetDB() *gorm.DB {
	return DB
}

var defaultFunctions = []string{"Sales", "Marketing", "Engineering", "Customer Success", "Support", "Product", "Finance", "HR"}

var defaultTeams = map[string][]string{
	"Sales":            {"NA", "EMEA", "APAC", "Enterprise", "SMB"},
	"Marketing":        {"Brand", "Demand Gen", "Content", "Product Marketing"},
	"Engineering":      {"Backend", "Frontend", "DevOps", "QA"},
	"Customer Success": {"Enterprise CS", "SMB CS", "Onboarding"},
	"Support":          {"Tier 1", "Tier 2", "Technical Support"},
	"Product":          {"Core Product", "Analytics", "Growth"},
	"Finance":          {"FP&A", "Accounting"},
	"HR":               {"Recruiting", "People Ops"},
}

var defaultTools = []string{"ChatGPT", "Claude", "Gemini", "Gong", "Copilot"}

var defaultCapabilities = []string{"Drafting", "Summarizing", "Analyzing", "Q&A", "Coding", "Automation", "Classifying", "Vibe Coding", OtherCapabilityName}

// SeedDefaultData creates the default lookups when no function exists yet.
func SeedDefaultData() error {
	return Seed(DB)
}

func Seed(db *gorm.DB) error {
	var count int64
	if err := db.Model(&Function{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		for _, name := range defaultFunctions {
			fn := Function{Name: name, Active: true}
			if err := tx.Create(&fn).Error; err != nil {
				return err
			}
			for _, teamName := range defaultTeams[name] {
				if err := tx.Create(&Team{FunctionID: fn.ID, Name: teamName, Active: true}).Error; err != nil {
					return err
				}
			}
		}
		for _, name := range defaultTools {
			if err := tx.Create(&Tool{Name: name, Active: true}).Error; err != nil {
				return err
			}
		}
		for _, name := range defaultCapabilities {
			if err := tx.Create(&Capability{Name: name, Active: true}).Error; err != nil {
				return err
			}
		}
		logger.Info().Int("functions", len(defaultFunctions)).Msg("seeded default configuration")
		return nil
	})
}
