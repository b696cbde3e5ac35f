// cmd/tools/template-loader/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"portal-mailer/internal/common/config"
	"portal-mailer/internal/common/database"
	"portal-mailer/internal/common/logger"
	"portal-mailer/internal/email"
	"portal-mailer/pkg/registry"
)

func main() {
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	syncCmd := flag.NewFlagSet("sync", flag.ExitOnError)
	renderCmd := flag.NewFlagSet("render", flag.ExitOnError)

	validatePath := validateCmd.String("path", "configs/email-templates.json", "Path to template registry file")

	syncPath := syncCmd.String("path", "configs/email-templates.json", "Path to template registry file")
	syncConfig := syncCmd.String("config", "", "Config file (defaults to configs/config.yaml lookup)")
	prune := syncCmd.Bool("prune", false, "Deactivate stored templates missing from the file")

	renderPath := renderCmd.String("path", "configs/email-templates.json", "Path to template registry file")
	renderName := renderCmd.String("name", "", "Template name")
	var renderVars varFlags
	renderCmd.Var(&renderVars, "var", "Variable as key=value (repeatable)")

	if len(os.Args) < 2 {
		help(os.Stdout)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		reg, err := loadAndValidate(*validatePath)
		if err != nil {
			fmt.Printf("Registry validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Registry validation passed. Found %d templates.\n", len(reg.Templates))

	case "sync":
		syncCmd.Parse(os.Args[2:])
		if err := runSync(*syncPath, *syncConfig, *prune); err != nil {
			fmt.Printf("Sync failed: %v\n", err)
			os.Exit(1)
		}

	case "render":
		renderCmd.Parse(os.Args[2:])
		if *renderName == "" {
			fmt.Println("Error: name is required for render.")
			renderCmd.Usage()
			os.Exit(1)
		}
		subject, body, err := renderFromFile(*renderPath, *renderName, renderVars.values())
		if err != nil {
			fmt.Printf("Render failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Subject: %s\n\n%s\n", subject, body)

	case "help":
		fallthrough
	default:
		help(os.Stdout)
	}
}

func loadAndValidate(path string) (*registry.TemplateRegistry, error) {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	if err := registry.Validate(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func runSync(path, configPath string, prune bool) error {
	reg, err := loadAndValidate(path)
	if err != nil {
		return err
	}

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	log := logger.NewStructured(cfg.Logging.Level, "console")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Ping(ctx); err != nil {
		return err
	}

	var cache cacheInvalidator
	if cfg.Database.Redis.Enabled {
		rc := database.NewRedis(cfg.Database.Redis)
		defer rc.Close()
		cache = email.NewCachedTemplateStore(nil, rc.Client, 0, log)
	}

	report, err := syncTemplates(ctx, email.NewPostgresTemplateStore(pg.GetDB()), cache, reg, prune)
	if err != nil {
		return err
	}

	log.Info("Templates synced", map[string]interface{}{
		"upserted":    len(report.Upserted),
		"deactivated": report.Deactivated,
		"prune":       prune,
	})
	return nil
}

func renderFromFile(path, name string, vars map[string]string) (string, string, error) {
	reg, err := loadAndValidate(path)
	if err != nil {
		return "", "", err
	}
	for _, t := range reg.ToTemplates() {
		if t.Name == name {
			subject, body := email.Render(&t, vars)
			return subject, body, nil
		}
	}
	return "", "", fmt.Errorf("template %s not found in %s", name, path)
}

// varFlags collects repeated -var key=value flags.
type varFlags []string

func (v *varFlags) String() string { return strings.Join(*v, ",") }

func (v *varFlags) Set(s string) error {
	if !strings.Contains(s, "=") {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	*v = append(*v, s)
	return nil
}

func (v varFlags) values() map[string]string {
	out := make(map[string]string, len(v))
	for _, kv := range v {
		key, value, _ := strings.Cut(kv, "=")
		out[key] = value
	}
	return out
}

func help(w io.Writer) {
	fmt.Fprint(w, `
Usage: template-loader <command> [flags]

Commands:
  validate  Validate the template registry file
  sync      Upsert every template into the database
  render    Render a template from the registry file with sample variables
  help      Show this help message

Examples:
  template-loader validate -path configs/email-templates.json
  template-loader sync -path configs/email-templates.json -prune
  template-loader render -name welcome -var first_name=Ana

Use 'template-loader <command> -h' for more information about a command.
`)
}
