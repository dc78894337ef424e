package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "simulate":
		handleSimulate()
	case "apply":
		handleApply()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("permit-config - Configuration tool for permit")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  permit-config convert <input> <output>                      - Convert between yaml and json")
	fmt.Println("  permit-config validate <file>                               - Validate configuration")
	fmt.Println("  permit-config stats <file>                                  - Show configuration statistics")
	fmt.Println("  permit-config simulate <file> <subject> <resource> <action> - Dry-run an authorization")
	fmt.Println("  permit-config apply <file> <sqlite-db>                      - Load policies into a sqlite store")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: permit-config convert <input> <output>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := saveConfig(cfg, os.Args[3]); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Converted %s -> %s\n", os.Args[2], os.Args[3])
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permit-config validate <file>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Configuration is valid")
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: permit-config stats <file>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	rules, allows, denies := 0, 0, 0
	subjects := map[string]bool{}
	for _, p := range cfg.Policies {
		rules += len(p.Rules)
		for _, r := range p.Rules {
			subjects[r.Subject] = true
			if r.Effect == permit.EffectDeny {
				denies++
			} else {
				allows++
			}
		}
	}
	fmt.Printf("Policies:       %d\n", len(cfg.Policies))
	fmt.Printf("Rules:          %d (%d allow, %d deny)\n", rules, allows, denies)
	fmt.Printf("Subjects:       %d\n", len(subjects))
	fmt.Printf("Delegations:    %d\n", len(cfg.Delegations))
	fmt.Printf("Matcher:        %s\n", matcherName(cfg))
}

func matcherName(cfg *permit.Config) string {
	if cfg.Engine.Matcher == "" {
		return "multi"
	}
	return cfg.Engine.Matcher
}

func handleSimulate() {
	if len(os.Args) < 6 {
		fmt.Println("Usage: permit-config simulate <file> <subject> <resource> <action>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	matcher, err := permit.MatcherByName(cfg.Engine.Matcher, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	merged := &permit.Policy{}
	for _, p := range cfg.Policies {
		merged.Add(p.Rules...)
	}
	subject := &permit.Subject{ID: os.Args[3]}
	resource := &permit.Resource{ID: os.Args[4], Type: resourceType(os.Args[4])}
	sim := permit.NewSimulator(matcher).Simulate(merged, subject, resource, permit.Action(os.Args[5]))

	fmt.Printf("Effect:    %s\n", sim.Effect)
	fmt.Printf("Matched:   %d rule(s)\n", len(sim.Matched))
	for _, r := range sim.Matched {
		fmt.Printf("  [%s] subject=%q resource=%q action=%q\n", r.Effect, r.Subject, r.Resource, r.Action)
	}
	fmt.Printf("Took:      %s\n", sim.ExecutionTime)
}

func resourceType(id string) string {
	if i := strings.Index(id, ":"); i >= 0 {
		return id[:i]
	}
	return ""
}

func handleApply() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: permit-config apply <file> <sqlite-db>")
		os.Exit(1)
	}
	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid: %v\n", err)
		os.Exit(1)
	}

	sqlDB, err := sql.Open("sqlite", os.Args[3])
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer sqlDB.Close()
	db := squealx.NewDb(sqlDB, "sqlite", "permit")
	if err := stores.Migrate(db); err != nil {
		fmt.Printf("Error migrating: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	policyStore, _ := stores.NewSQLPolicyStore(db)
	if err := policyStore.SavePolicies(ctx, cfg.Policies); err != nil {
		fmt.Printf("Error saving policies: %v\n", err)
		os.Exit(1)
	}
	delegationStore, _ := stores.NewSQLDelegationStore(db)
	for _, d := range cfg.Delegations {
		if err := delegationStore.Create(ctx, d); err != nil {
			fmt.Printf("Error saving delegation %s: %v\n", d.ID, err)
			os.Exit(1)
		}
	}
	fmt.Printf("Applied %d policies and %d delegations to %s\n", len(cfg.Policies), len(cfg.Delegations), os.Args[3])
}

func loadConfig(filename string) (*permit.Config, error) {
	loader := permit.NewConfigLoader()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return loader.LoadYAML(filename)
	case ".json":
		return loader.LoadJSON(filename)
	}
	return nil, fmt.Errorf("unsupported format: %s", filepath.Ext(filename))
}

func saveConfig(cfg *permit.Config, filename string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported format: %s", filepath.Ext(filename))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}
